package library

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func TestParseCopyStatus(t *testing.T) {
	tests := map[string]CopyStatus{
		"Available":    StatusAvailable,
		"borrowed":     StatusBorrowed,
		"RESERVED":     StatusReserved,
		"Under Repair": StatusUnderRepair,
		"UnderRepair":  StatusUnderRepair,
		"under_repair": StatusUnderRepair,
		" paid ":       StatusPaid,
	}
	for in, want := range tests {
		got, err := ParseCopyStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseCopyStatus("Missing")
	var fe *FormatError
	assert.ErrorAs(t, err, &fe)
}

func TestTransitionReservedRequiresMember(t *testing.T) {
	c := &Copy{ID: 1, Status: StatusAvailable}

	err := Transition(c, StatusReserved, nil)

	var tr *TransitionRejectedError
	require.ErrorAs(t, err, &tr)
	assert.Equal(t, "reservedByMemberId", tr.Field)
	assert.Equal(t, StatusAvailable, c.Status, "copy must be untouched on error")

	require.NoError(t, Transition(c, StatusReserved, int64Ptr(7)))
	assert.Equal(t, StatusReserved, c.Status)
	require.NotNil(t, c.ReservedByMemberID)
	assert.Equal(t, int64(7), *c.ReservedByMemberID)
}

func TestTransitionLeavingReservedClearsMember(t *testing.T) {
	for _, to := range AllCopyStatuses() {
		if to == StatusReserved {
			continue
		}
		c := &Copy{Status: StatusReserved, ReservedByMemberID: int64Ptr(3)}

		require.NoError(t, Transition(c, to, int64Ptr(3)), to)
		assert.Equal(t, to, c.Status)
		assert.Nil(t, c.ReservedByMemberID, "leaving Reserved for %s", to)
	}
}

func TestTransitionPaidIsTerminal(t *testing.T) {
	for _, to := range AllCopyStatuses() {
		c := &Copy{ID: 9, Status: StatusPaid}

		err := Transition(c, to, int64Ptr(1))

		var tr *TransitionRejectedError
		assert.ErrorAs(t, err, &tr, "Paid -> %s", to)
		assert.Equal(t, StatusPaid, c.Status)
	}
}

func TestTransitionUnknownStatus(t *testing.T) {
	c := &Copy{Status: StatusAvailable}
	var fe *FormatError
	assert.ErrorAs(t, Transition(c, CopyStatus("Missing"), nil), &fe)
}

func TestInitialStatus(t *testing.T) {
	status, reservedBy, err := InitialStatus("", nil)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, status)
	assert.Nil(t, reservedBy)

	_, _, err = InitialStatus(StatusReserved, nil)
	var tr *TransitionRejectedError
	assert.ErrorAs(t, err, &tr)

	status, reservedBy, err = InitialStatus(StatusReserved, int64Ptr(5))
	require.NoError(t, err)
	assert.Equal(t, StatusReserved, status)
	assert.Equal(t, int64(5), *reservedBy)
}
