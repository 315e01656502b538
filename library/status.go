package library

import (
	"strings"
)

// CopyStatus is the circulation state of a physical copy.
type CopyStatus string

const (
	StatusAvailable   CopyStatus = "Available"
	StatusBorrowed    CopyStatus = "Borrowed"
	StatusReserved    CopyStatus = "Reserved"
	StatusLost        CopyStatus = "Lost"
	StatusUnderRepair CopyStatus = "Under Repair"
	StatusPaid        CopyStatus = "Paid"
	StatusPending     CopyStatus = "Pending"
)

var allStatuses = []CopyStatus{
	StatusAvailable,
	StatusBorrowed,
	StatusReserved,
	StatusLost,
	StatusUnderRepair,
	StatusPaid,
	StatusPending,
}

// AllCopyStatuses lists every valid status in display order.
func AllCopyStatuses() []CopyStatus {
	return append([]CopyStatus(nil), allStatuses...)
}

// Valid reports whether s is one of the enumerated statuses.
func (s CopyStatus) Valid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// ParseCopyStatus accepts the wire value in any case, plus the
// "UnderRepair" and "under_repair" spellings.
func ParseCopyStatus(raw string) (CopyStatus, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	for _, v := range allStatuses {
		if key == strings.ReplaceAll(strings.ToLower(string(v)), " ", "") {
			return v, nil
		}
	}
	return "", &FormatError{Field: "status", Value: raw, Want: "one of " + statusList()}
}

func statusList() string {
	names := make([]string, len(allStatuses))
	for i, s := range allStatuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

// Transition moves c to the target status, keeping the reservation
// reference consistent with it. c is left untouched on error.
func Transition(c *Copy, to CopyStatus, reservedBy *int64) error {
	if !to.Valid() {
		return &FormatError{Field: "status", Value: string(to), Want: "one of " + statusList()}
	}
	if c.Status == StatusPaid {
		return &TransitionRejectedError{
			CopyID: c.ID, From: c.Status, To: to,
			Reason: "status locked: a paid copy cannot change status",
		}
	}
	if to == StatusReserved && reservedBy == nil {
		return &TransitionRejectedError{
			CopyID: c.ID, From: c.Status, To: to,
			Field:  "reservedByMemberId",
			Reason: "a reserved copy must name the reserving member",
		}
	}

	c.Status = to
	if to == StatusReserved {
		id := *reservedBy
		c.ReservedByMemberID = &id
	} else {
		c.ReservedByMemberID = nil
	}
	return nil
}

// InitialStatus resolves the status of a new copy. An empty request means Available.
func InitialStatus(requested CopyStatus, reservedBy *int64) (CopyStatus, *int64, error) {
	if requested == "" {
		requested = StatusAvailable
	}
	c := &Copy{Status: StatusAvailable}
	if err := Transition(c, requested, reservedBy); err != nil {
		return "", nil, err
	}
	return c.Status, c.ReservedByMemberID, nil
}
