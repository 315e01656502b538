package library

import "time"

// CatalogItem is the bibliographic record copies belong to. Catalog metadata
// is maintained elsewhere; only what circulation needs is kept here.
type CatalogItem struct {
	ID             int64  `json:"id" db:"id"`
	Title          string `json:"title" db:"title"`
	Author         string `json:"author" db:"author"`
	LastCopyNumber int    `json:"-" db:"last_copy_number"`
}

// Copy is one physical instance of a CatalogItem.
type Copy struct {
	ID                 int64      `json:"id" db:"id"`
	CatalogItemID      int64      `json:"catalogItemId" db:"catalog_item_id"`
	CopyNumber         int        `json:"copyNumber" db:"copy_number"`
	AccessionNumber    string     `json:"accessionNumber" db:"accession_number"`
	Branch             string     `json:"branch,omitempty" db:"branch"`
	Location           string     `json:"location,omitempty" db:"location"`
	Status             CopyStatus `json:"status" db:"status"`
	ReservedByMemberID *int64     `json:"reservedByMemberId" db:"reserved_by_member_id"`
	Version            int        `json:"version" db:"version"`
}

// NewCopy carries the fields of a copy that is about to be inserted.
type NewCopy struct {
	AccessionNumber    string
	Branch             string
	Location           string
	Status             CopyStatus
	ReservedByMemberID *int64
}

// Member represents a registered library member.
type Member struct {
	ID       int64            `json:"id" db:"id"`
	Name     string           `json:"name" db:"name"`
	Email    string           `json:"email,omitempty" db:"email"`
	Phone    string           `json:"phone,omitempty" db:"phone"`
	Category BorrowerCategory `json:"borrowerCategory" db:"borrower_category"`
	PINHash  string           `json:"-" db:"pin_hash"` // Don't serialize the PIN hash
}

// BorrowState tracks a borrow record through approval and return.
type BorrowState string

const (
	BorrowPending  BorrowState = "pending"
	BorrowApproved BorrowState = "approved"
	BorrowRejected BorrowState = "rejected"
	BorrowReturned BorrowState = "returned"
)

// BorrowRequest is the input of both borrow flows.
type BorrowRequest struct {
	MemberID      int64  `json:"memberId" validate:"required,gt=0"`
	CatalogItemID int64  `json:"catalogItemId" validate:"required,gt=0"`
	CopyID        int64  `json:"copyId" validate:"required,gt=0"`
	ReturnDate    string `json:"returnDate"`
	ReturnTime    string `json:"returnTime,omitempty"`
	Notes         string `json:"notes,omitempty" validate:"max=500"`
}

// BorrowRecord is the persisted borrow transaction.
type BorrowRecord struct {
	ID            string      `json:"id" db:"id"`
	MemberID      int64       `json:"memberId" db:"member_id"`
	CatalogItemID int64       `json:"catalogItemId" db:"catalog_item_id"`
	CopyID        int64       `json:"copyId" db:"copy_id"`
	ReturnDate    string      `json:"returnDate" db:"return_date"`
	ReturnTime    string      `json:"returnTime" db:"return_time"`
	Notes         string      `json:"notes,omitempty" db:"notes"`
	State         BorrowState `json:"state" db:"state"`
	CreatedAt     time.Time   `json:"createdAt" db:"created_at"`
	ReturnedAt    *time.Time  `json:"returnedAt,omitempty" db:"returned_at"`
}

// CopyEvent is one entry of a copy's audit trail.
type CopyEvent struct {
	ID                 string    `json:"id" db:"id"`
	CopyID             int64     `json:"copyId" db:"copy_id"`
	Type               string    `json:"type" db:"event_type"`
	FromStatus         string    `json:"fromStatus,omitempty" db:"from_status"`
	ToStatus           string    `json:"toStatus" db:"to_status"`
	ReservedByMemberID *int64    `json:"reservedByMemberId,omitempty" db:"reserved_by_member_id"`
	FromAccession      string    `json:"fromAccession,omitempty" db:"from_accession"`
	ToAccession        string    `json:"toAccession,omitempty" db:"to_accession"`
	OccurredAt         time.Time `json:"occurredAt" db:"occurred_at"`
}

const (
	copyCreatedEvent       = "CopyCreated"
	copyStatusChangedEvent = "CopyStatusChanged"
	copyDeletedEvent       = "CopyDeleted"

	copyAccessionChangedEvent = "CopyAccessionChanged"
)
