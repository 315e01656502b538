package library

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// BorrowerCategory decides how long a member may keep a copy.
type BorrowerCategory string

const (
	CategoryStudent BorrowerCategory = "Student"
	CategoryFaculty BorrowerCategory = "Faculty"
)

const (
	facultyLoanDays = 5
	studentLoanDays = 2

	// FixedWindowDays bounds the self-service return date, which is chosen
	// before the borrower's category is known.
	FixedWindowDays = 7

	dateLayout = "2006-01-02"
)

// ParseBorrowerCategory normalises a category name. Anything unrecognised is
// treated as Student.
func ParseBorrowerCategory(raw string) BorrowerCategory {
	if strings.EqualFold(strings.TrimSpace(raw), string(CategoryFaculty)) {
		return CategoryFaculty
	}
	return CategoryStudent
}

// MaxLoanDays returns the longest loan allowed for the category.
func MaxLoanDays(c BorrowerCategory) int {
	if c == CategoryFaculty {
		return facultyLoanDays
	}
	return studentLoanDays
}

// ComputeDefaultReturnDate is today's local midnight plus the category's loan length.
func ComputeDefaultReturnDate(c BorrowerCategory, today time.Time) time.Time {
	return startOfDay(today).AddDate(0, 0, MaxLoanDays(c))
}

// ReturnDatePolicy bounds how far ahead a return date may be.
type ReturnDatePolicy interface {
	Name() string
	MaxDays() int
}

// CategoryPolicy applies when the borrower is known at validation time.
type CategoryPolicy struct {
	Category BorrowerCategory
}

func (p CategoryPolicy) Name() string {
	return fmt.Sprintf("%s loan policy", ParseBorrowerCategory(string(p.Category)))
}

func (p CategoryPolicy) MaxDays() int { return MaxLoanDays(p.Category) }

// FixedWindowPolicy applies in the self-service request flow.
type FixedWindowPolicy struct {
	Days int
}

// SelfServicePolicy is the fixed 7-day window.
var SelfServicePolicy = FixedWindowPolicy{Days: FixedWindowDays}

func (p FixedWindowPolicy) Name() string { return fmt.Sprintf("fixed %d-day policy", p.Days) }

func (p FixedWindowPolicy) MaxDays() int { return p.Days }

// ValidateReturnDate checks today <= candidate <= today + policy.MaxDays(),
// comparing calendar days only.
func ValidateReturnDate(candidate, today time.Time, policy ReturnDatePolicy) error {
	day := startOfDay(candidate)
	base := startOfDay(today)
	if day.Before(base) {
		return &PastDateError{Date: day, Today: base}
	}
	latest := base.AddDate(0, 0, policy.MaxDays())
	if day.After(latest) {
		return &ExceedsMaxDurationError{Date: day, Latest: latest, MaxDays: policy.MaxDays(), Policy: policy.Name()}
	}
	return nil
}

// DaysRemaining is ceil((returnDate - now) / 24h). Negative means overdue.
func DaysRemaining(returnDate, now time.Time) int {
	days := math.Ceil(float64(returnDate.Sub(now)) / float64(24*time.Hour))
	if days == 0 {
		return 0 // avoid -0
	}
	return int(days)
}

// DueMessage renders DaysRemaining for people.
func DueMessage(days int) string {
	switch {
	case days < 0:
		return fmt.Sprintf("overdue by %d day(s)", -days)
	case days == 0:
		return "due today"
	default:
		return fmt.Sprintf("%d day(s) remaining", days)
	}
}

// ParseDate reads a YYYY-MM-DD date at local midnight.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw), time.Local)
	if err != nil {
		return time.Time{}, &FormatError{Field: "returnDate", Value: raw, Want: "a YYYY-MM-DD date"}
	}
	return t, nil
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string { return t.Format(dateLayout) }

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ClockTime is a time of day in minutes since midnight.
type ClockTime int

// DefaultApprovedReturnTime is stamped on borrows added by a librarian.
// Those borrows skip the return window check.
const DefaultApprovedReturnTime ClockTime = 13 * 60

type timeWindow struct{ from, to ClockTime }

var returnWindows = []timeWindow{
	{from: 7 * 60, to: 11 * 60},
	{from: 13 * 60, to: 16 * 60},
}

// ParseClockTime reads a 24-hour HH:MM time.
func ParseClockTime(raw string) (ClockTime, error) {
	s := strings.TrimSpace(raw)
	bad := &FormatError{Field: "returnTime", Value: raw, Want: "a 24-hour HH:MM time"}
	if len(s) != 5 || s[2] != ':' || !isDigits(s[:2]) || !isDigits(s[3:]) {
		return 0, bad
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil || h < 0 || h > 23 {
		return 0, bad
	}
	m, err := strconv.Atoi(s[3:])
	if err != nil || m < 0 || m > 59 {
		return 0, bad
	}
	return ClockTime(h*60 + m), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (t ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// ValidateReturnTime accepts times inside [07:00,11:00] or [13:00,16:00], bounds inclusive.
func ValidateReturnTime(t ClockTime) error {
	for _, w := range returnWindows {
		if t >= w.from && t <= w.to {
			return nil
		}
	}
	return &OutsideAllowedWindowError{Time: t}
}

func describeWindows() string {
	parts := make([]string, len(returnWindows))
	for i, w := range returnWindows {
		parts[i] = fmt.Sprintf("%s-%s", w.from, w.to)
	}
	return strings.Join(parts, " or ")
}
