package library

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accessionPattern = regexp.MustCompile(`^\d{7}$`)

func TestValidateFormat(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"0000001", true},
		{"9999999", true},
		{"1234567", true},
		{"123456", false},
		{"12345678", false},
		{"12a4567", false},
		{" 123456", false},
		{"-123456", false},
		{"", false},
		{"１２３４５６７", false}, // full-width digits
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ValidateFormat(tc.in), "ValidateFormat(%q)", tc.in)
	}
}

func TestValidateUniqueness(t *testing.T) {
	existing := NewAccessionSet("0000042", "0000043")

	t.Run("bad format", func(t *testing.T) {
		var fe *FormatError
		require.ErrorAs(t, ValidateUniqueness("42", existing, ""), &fe)
		assert.Equal(t, "accessionNumber", fe.Field)
	})

	t.Run("taken by another copy", func(t *testing.T) {
		var dup *DuplicateError
		require.ErrorAs(t, ValidateUniqueness("0000042", existing, ""), &dup)
		assert.Equal(t, "0000042", dup.AccessionNumber)
	})

	t.Run("own number is not a collision", func(t *testing.T) {
		assert.NoError(t, ValidateUniqueness("0000042", existing, "0000042"))
	})

	t.Run("free", func(t *testing.T) {
		assert.NoError(t, ValidateUniqueness("0000044", existing, ""))
	})
}

func TestNextAccessionNumber(t *testing.T) {
	t.Run("follows the highest issued number", func(t *testing.T) {
		got, err := NextAccessionNumber(41+1, NewAccessionSet())
		require.NoError(t, err)
		assert.Equal(t, "0000042", got)
	})

	t.Run("skips numbers already in use", func(t *testing.T) {
		got, err := NextAccessionNumber(42, NewAccessionSet("0000042", "0000043"))
		require.NoError(t, err)
		assert.Equal(t, "0000044", got)
	})

	t.Run("starts at one on an empty system", func(t *testing.T) {
		got, err := NextAccessionNumber(0, nil)
		require.NoError(t, err)
		assert.Equal(t, "0000001", got)
	})

	t.Run("wraps around past the ceiling", func(t *testing.T) {
		got, err := NextAccessionNumber(MaxAccessionNumber, NewAccessionSet("9999999", "0000001"))
		require.NoError(t, err)
		assert.Equal(t, "0000002", got)

		got, err = NextAccessionNumber(MaxAccessionNumber+1, NewAccessionSet())
		require.NoError(t, err)
		assert.Equal(t, "0000001", got)
	})

	t.Run("exhausted", func(t *testing.T) {
		_, err := nextFree(2, 3, NewAccessionSet("0000001", "0000002", "0000003"))
		var ce *CapacityError
		assert.ErrorAs(t, err, &ce)
	})
}

func TestAllocateBatch(t *testing.T) {
	t.Run("distinct ascending and well formed", func(t *testing.T) {
		existing := NewAccessionSet("0000011", "0000013")

		got, err := AllocateBatch(4, 10, existing)

		require.NoError(t, err)
		assert.Equal(t, []string{"0000010", "0000012", "0000014", "0000015"}, got)
		for _, n := range got {
			assert.Regexp(t, accessionPattern, n)
		}
		assert.Len(t, existing, 2, "input set must not be modified")
	})

	t.Run("chained calls never repeat a number", func(t *testing.T) {
		existing := NewAccessionSet("0000003", "0000007")
		seen := map[string]bool{}
		start := 1

		for i := 0; i < 10; i++ {
			batch, err := AllocateBatch(i%4+1, start, existing)
			require.NoError(t, err)
			for _, n := range batch {
				require.False(t, seen[n], "duplicate %s", n)
				seen[n] = true
				existing.Add(n)
			}
			start = 1 // worst case: the counter hint never moves
		}
	})

	t.Run("invalid count", func(t *testing.T) {
		_, err := AllocateBatch(0, 1, nil)
		var fe *FormatError
		assert.ErrorAs(t, err, &fe)
	})

	t.Run("wraps around when the hint sits at the ceiling", func(t *testing.T) {
		got, err := AllocateBatch(3, MaxAccessionNumber, NewAccessionSet("0000001"))

		require.NoError(t, err)
		assert.Equal(t, []string{"9999999", "0000002", "0000003"}, got)
	})

	t.Run("capacity failure returns nothing", func(t *testing.T) {
		got, err := allocateBelow(3, 4, 5, NewAccessionSet("0000001", "0000002", "0000003"))

		var ce *CapacityError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 3, ce.Requested)
		assert.Nil(t, got)
	})

	t.Run("more than the ceiling fails fast", func(t *testing.T) {
		got, err := AllocateBatch(MaxAccessionNumber+1, 1, nil)

		var ce *CapacityError
		require.ErrorAs(t, err, &ce)
		assert.Nil(t, got)
	})
}
