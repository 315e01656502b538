package library

import "fmt"

const (
	// AccessionDigits is the fixed width of an accession number.
	AccessionDigits = 7
	// MaxAccessionNumber is the largest number that fits in AccessionDigits.
	MaxAccessionNumber = 9_999_999
)

// AccessionSet holds accession numbers already taken.
type AccessionSet map[string]struct{}

// NewAccessionSet builds a set from the given numbers.
func NewAccessionSet(numbers ...string) AccessionSet {
	s := make(AccessionSet, len(numbers))
	for _, n := range numbers {
		s.Add(n)
	}
	return s
}

func (s AccessionSet) Has(n string) bool {
	_, ok := s[n]
	return ok
}

func (s AccessionSet) Add(n string) { s[n] = struct{}{} }

// Clone returns an independent copy, never nil.
func (s AccessionSet) Clone() AccessionSet {
	c := make(AccessionSet, len(s))
	for n := range s {
		c[n] = struct{}{}
	}
	return c
}

// FormatAccessionNumber left-pads n with zeros to AccessionDigits.
func FormatAccessionNumber(n int) string {
	return fmt.Sprintf("%0*d", AccessionDigits, n)
}

// ValidateFormat reports whether candidate is exactly seven ASCII digits.
func ValidateFormat(candidate string) bool {
	return len(candidate) == AccessionDigits && isDigits(candidate)
}

// ValidateUniqueness checks a manually entered number against existing ones.
// excludingSelf is the current number of the copy being edited, or "" on create.
func ValidateUniqueness(candidate string, existing AccessionSet, excludingSelf string) error {
	if !ValidateFormat(candidate) {
		return &FormatError{Field: "accessionNumber", Value: candidate, Want: "exactly 7 digits"}
	}
	if candidate == excludingSelf {
		return nil
	}
	if existing.Has(candidate) {
		return &DuplicateError{AccessionNumber: candidate}
	}
	return nil
}

// NextAccessionNumber returns the smallest free number at or above start,
// wrapping around to 1 when the search reaches MaxAccessionNumber. start is a
// hint derived from the highest number ever issued, so collisions with
// existing are skipped rather than reported.
func NextAccessionNumber(start int, existing AccessionSet) (string, error) {
	n, err := nextFree(start, MaxAccessionNumber, existing)
	if err != nil {
		return "", err
	}
	return FormatAccessionNumber(n), nil
}

// AllocateBatch returns count distinct free numbers, ascending from start
// until the search wraps past MaxAccessionNumber. Either all numbers are
// returned or none are.
func AllocateBatch(count, start int, existing AccessionSet) ([]string, error) {
	return allocateBelow(count, start, MaxAccessionNumber, existing)
}

func allocateBelow(count, start, ceiling int, existing AccessionSet) ([]string, error) {
	if count < 1 {
		return nil, &FormatError{Field: "count", Value: fmt.Sprint(count), Want: "at least 1"}
	}
	if count > ceiling {
		return nil, &CapacityError{Requested: count, Next: start}
	}

	taken := existing.Clone()
	out := make([]string, 0, count)
	next := start
	for i := 0; i < count; i++ {
		n, err := nextFree(next, ceiling, taken)
		if err != nil {
			return nil, &CapacityError{Requested: count, Next: start}
		}
		num := FormatAccessionNumber(n)
		taken.Add(num)
		out = append(out, num)
		next = n + 1
	}
	return out, nil
}

// nextFree scans [start, ceiling] and then [1, start).
func nextFree(start, ceiling int, existing AccessionSet) (int, error) {
	if start < 1 || start > ceiling {
		start = 1
	}
	for n := start; n <= ceiling; n++ {
		if !existing.Has(FormatAccessionNumber(n)) {
			return n, nil
		}
	}
	for n := 1; n < start; n++ {
		if !existing.Has(FormatAccessionNumber(n)) {
			return n, nil
		}
	}
	return 0, &CapacityError{Requested: 1, Next: start}
}
