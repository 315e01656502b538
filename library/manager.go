package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LibraryManager is the circulation façade over a Store, keeping CLI and
// HTTP code simple.
type LibraryManager struct {
	store Store
	log   Logger
	retry RetryConfig
}

// Option configures a LibraryManager.
type Option func(*LibraryManager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l Logger) Option {
	return func(lm *LibraryManager) { lm.log = l }
}

// WithRetryConfig sets the backoff used when a write loses a race.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(lm *LibraryManager) { lm.retry = cfg }
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, opts ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	return NewManager(db, opts...), nil
}

// NewManager wraps an already opened store.
func NewManager(store Store, opts ...Option) *LibraryManager {
	lm := &LibraryManager{
		store: store,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		retry: DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(lm)
	}
	return lm
}

// Close closes the underlying store.
func (lm *LibraryManager) Close() error { return lm.store.Close() }

// ------------------ Catalog helpers ------------------

func (lm *LibraryManager) AddCatalogItem(ctx context.Context, title, author string) (int64, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return 0, &FormatError{Field: "title", Value: title, Want: "non-empty"}
	}
	return lm.store.AddCatalogItem(ctx, title, strings.TrimSpace(author))
}

func (lm *LibraryManager) GetCatalogItem(ctx context.Context, id int64) (*CatalogItem, error) {
	return lm.store.GetCatalogItem(ctx, id)
}

func (lm *LibraryManager) GetAllCatalogItems(ctx context.Context) ([]*CatalogItem, error) {
	return lm.store.GetAllCatalogItems(ctx)
}

// AvailableCopies counts copies of an item whose status is exactly Available.
func (lm *LibraryManager) AvailableCopies(ctx context.Context, itemID int64) (int, error) {
	return lm.store.CountAvailableCopies(ctx, itemID)
}

// ------------------ Member helpers ------------------

// AddMember registers a member. An empty pin leaves the member without
// self-service access until SetMemberPIN is called.
func (lm *LibraryManager) AddMember(ctx context.Context, m Member, pin string) (int64, error) {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return 0, &FormatError{Field: "name", Value: m.Name, Want: "non-empty"}
	}
	m.Category = ParseBorrowerCategory(string(m.Category))
	if pin != "" {
		hash, err := hashPIN(pin)
		if err != nil {
			return 0, err
		}
		m.PINHash = hash
	}
	return lm.store.AddMember(ctx, &m)
}

func (lm *LibraryManager) GetMember(ctx context.Context, id int64) (*Member, error) {
	return lm.store.GetMember(ctx, id)
}

func (lm *LibraryManager) GetAllMembers(ctx context.Context) ([]*Member, error) {
	return lm.store.GetAllMembers(ctx)
}

// SetMemberPIN replaces the member's self-service PIN.
func (lm *LibraryManager) SetMemberPIN(ctx context.Context, id int64, pin string) error {
	if strings.TrimSpace(pin) == "" {
		return &FormatError{Field: "pin", Value: "", Want: "non-empty"}
	}
	hash, err := hashPIN(pin)
	if err != nil {
		return err
	}
	return lm.store.SetMemberPIN(ctx, id, hash)
}

// AuthenticateMember checks a member's PIN.
func (lm *LibraryManager) AuthenticateMember(ctx context.Context, id int64, pin string) error {
	m, err := lm.store.GetMember(ctx, id)
	if err != nil {
		return err
	}
	if m.PINHash == "" {
		return fmt.Errorf("member %d has no PIN set", id)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PINHash), []byte(pin)); err != nil {
		return errors.New("invalid PIN")
	}
	return nil
}

func hashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash PIN: %w", err)
	}
	return string(hash), nil
}

// ------------------ Copy inventory ------------------

// CopyRequest describes copies to add to a catalog item.
type CopyRequest struct {
	Count              int
	AccessionNumber    string // manual override, single copy only
	Branch             string
	Location           string
	Status             CopyStatus
	ReservedByMemberID *int64
}

// AddCopies creates one or more copies. Auto-allocated numbers that lose a
// race to another request are re-allocated; a manual number is not.
func (lm *LibraryManager) AddCopies(ctx context.Context, itemID int64, req CopyRequest) ([]*Copy, error) {
	if req.Count == 0 {
		req.Count = 1
	}
	if req.Count < 0 {
		return nil, &FormatError{Field: "count", Value: fmt.Sprint(req.Count), Want: "at least 1"}
	}
	status, reservedBy, err := InitialStatus(req.Status, req.ReservedByMemberID)
	if err != nil {
		return nil, err
	}
	if reservedBy != nil {
		if _, err := lm.store.GetMember(ctx, *reservedBy); err != nil {
			return nil, err
		}
	}

	build := func(numbers []string) []NewCopy {
		out := make([]NewCopy, len(numbers))
		for i, n := range numbers {
			out[i] = NewCopy{
				AccessionNumber:    n,
				Branch:             strings.TrimSpace(req.Branch),
				Location:           strings.TrimSpace(req.Location),
				Status:             status,
				ReservedByMemberID: reservedBy,
			}
		}
		return out
	}

	if req.AccessionNumber != "" {
		if req.Count != 1 {
			return nil, &FormatError{Field: "count", Value: fmt.Sprint(req.Count), Want: "1 when an accession number is given"}
		}
		existing, err := lm.store.ListAccessionNumbers(ctx, nil)
		if err != nil {
			return nil, err
		}
		if err := ValidateUniqueness(req.AccessionNumber, existing, ""); err != nil {
			return nil, err
		}
		copies, err := lm.store.CreateCopies(ctx, itemID, build([]string{req.AccessionNumber}))
		if err != nil {
			return nil, err
		}
		lm.log.Info("copy created with manual accession number", "catalog_item_id", itemID, "accession", req.AccessionNumber)
		return copies, nil
	}

	var copies []*Copy
	attempts, err := retryWithBackoff(ctx, lm.retry, isDuplicate, func(ctx context.Context) error {
		existing, err := lm.store.ListAccessionNumbers(ctx, nil)
		if err != nil {
			return err
		}
		highest, err := lm.store.HighestIssuedAccessionNumber(ctx)
		if err != nil {
			return err
		}
		numbers, err := AllocateBatch(req.Count, highest+1, existing)
		if err != nil {
			return err
		}
		copies, err = lm.store.CreateCopies(ctx, itemID, build(numbers))
		return err
	})
	if err != nil {
		if isDuplicate(err) {
			lm.log.Warn("accession allocation kept colliding", "catalog_item_id", itemID, "attempts", attempts)
		}
		return nil, err
	}

	lm.log.Info("copies created",
		"catalog_item_id", itemID,
		"count", len(copies),
		"first_accession", copies[0].AccessionNumber,
		"last_accession", copies[len(copies)-1].AccessionNumber,
		"attempts", attempts,
	)
	return copies, nil
}

// EditAccessionNumber overrides a copy's number. The copy's own current
// number does not count as a collision. The replaced number is retired.
func (lm *LibraryManager) EditAccessionNumber(ctx context.Context, copyID int64, number string) error {
	c, err := lm.store.GetCopy(ctx, copyID)
	if err != nil {
		return err
	}
	existing, err := lm.store.ListAccessionNumbers(ctx, nil)
	if err != nil {
		return err
	}
	if err := ValidateUniqueness(number, existing, c.AccessionNumber); err != nil {
		return err
	}
	if number == c.AccessionNumber {
		return nil
	}
	if err := lm.store.UpdateAccessionNumber(ctx, copyID, number); err != nil {
		return err
	}
	lm.log.Info("accession number changed", "copy_id", copyID, "from", c.AccessionNumber, "to", number)
	return nil
}

// DeleteCopy removes a copy. Its accession number is retired, never reissued.
func (lm *LibraryManager) DeleteCopy(ctx context.Context, copyID int64) error {
	if err := lm.store.DeleteCopy(ctx, copyID); err != nil {
		return err
	}
	lm.log.Info("copy deleted", "copy_id", copyID)
	return nil
}

func (lm *LibraryManager) GetCopy(ctx context.Context, id int64) (*Copy, error) {
	return lm.store.GetCopy(ctx, id)
}

func (lm *LibraryManager) ListCopies(ctx context.Context, f CopyFilter) ([]*Copy, error) {
	return lm.store.ListCopies(ctx, f)
}

func (lm *LibraryManager) CopyEvents(ctx context.Context, copyID int64) ([]*CopyEvent, error) {
	return lm.store.ListCopyEvents(ctx, copyID)
}

// UpdateCopyStatus is the administrative status change (report lost, send
// for repair, mark paid, ...). Reserved requires reservedBy.
func (lm *LibraryManager) UpdateCopyStatus(ctx context.Context, copyID int64, to CopyStatus, reservedBy *int64) (*Copy, error) {
	if to == StatusReserved && reservedBy != nil {
		if _, err := lm.store.GetMember(ctx, *reservedBy); err != nil {
			return nil, err
		}
	}
	return lm.transitionCopy(ctx, copyID, to, func(c *Copy) (StatusChange, error) {
		return StatusChange{}, Transition(c, to, reservedBy)
	})
}

// transitionCopy reloads the copy on every attempt, so a lost race is
// decided again on fresh state. A race that keeps being lost is reported
// as a rejected transition.
func (lm *LibraryManager) transitionCopy(ctx context.Context, copyID int64, to CopyStatus, decide func(c *Copy) (StatusChange, error)) (*Copy, error) {
	var (
		result *Copy
		from   CopyStatus
	)
	_, err := retryWithBackoff(ctx, lm.retry, isStale, func(ctx context.Context) error {
		c, err := lm.store.GetCopy(ctx, copyID)
		if err != nil {
			return err
		}
		from = c.Status
		version := c.Version

		ch, err := decide(c)
		if err != nil {
			return err
		}
		ch.Copy, ch.From, ch.ExpectedVersion = c, from, version
		if err := lm.store.ApplyStatusChange(ctx, ch); err != nil {
			return err
		}
		result = c
		return nil
	})
	if isStale(err) {
		lm.log.Warn("copy status change lost to concurrent updates", "copy_id", copyID, "to", to)
		return nil, &TransitionRejectedError{
			CopyID: copyID, From: from, To: to,
			Reason: "the copy was changed by another request",
		}
	}
	if err != nil {
		return nil, err
	}
	lm.log.Info("copy status changed", "copy_id", copyID, "from", from, "to", result.Status)
	return result, nil
}

// ------------------ Circulation ------------------

// RequestBorrow is the self-service flow: the return date is bounded by the
// fixed 7-day window, the return time must fall in a return window, and the
// copy is held as Reserved until a librarian approves.
func (lm *LibraryManager) RequestBorrow(ctx context.Context, req BorrowRequest, now time.Time) (*BorrowRecord, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.ReturnDate == "" {
		return nil, &FormatError{Field: "returnDate", Value: "", Want: "a YYYY-MM-DD date"}
	}
	date, err := ParseDate(req.ReturnDate)
	if err != nil {
		return nil, err
	}
	if err := ValidateReturnDate(date, now, SelfServicePolicy); err != nil {
		return nil, err
	}
	at, err := ParseClockTime(req.ReturnTime)
	if err != nil {
		return nil, err
	}
	if err := ValidateReturnTime(at); err != nil {
		return nil, err
	}
	if _, err := lm.store.GetMember(ctx, req.MemberID); err != nil {
		return nil, err
	}

	record := &BorrowRecord{
		MemberID:      req.MemberID,
		CatalogItemID: req.CatalogItemID,
		CopyID:        req.CopyID,
		ReturnDate:    FormatDate(date),
		ReturnTime:    at.String(),
		Notes:         strings.TrimSpace(req.Notes),
		State:         BorrowPending,
	}
	memberID := req.MemberID
	_, err = lm.transitionCopy(ctx, req.CopyID, StatusReserved, func(c *Copy) (StatusChange, error) {
		if err := checkBorrowable(c, req.CatalogItemID, StatusReserved); err != nil {
			return StatusChange{}, err
		}
		if err := Transition(c, StatusReserved, &memberID); err != nil {
			return StatusChange{}, err
		}
		record.ID = ""
		return StatusChange{NewBorrow: record}, nil
	})
	if err != nil {
		return nil, err
	}
	lm.log.Info("borrow requested", "borrow_id", record.ID, "member_id", record.MemberID, "copy_id", record.CopyID,
		"return_date", record.ReturnDate, "return_time", record.ReturnTime)
	return record, nil
}

// AddApprovedBorrow is the librarian flow: the return date is bounded by the
// member's category, defaulting to the longest allowed loan, and the return
// time is always DefaultApprovedReturnTime.
func (lm *LibraryManager) AddApprovedBorrow(ctx context.Context, req BorrowRequest, now time.Time) (*BorrowRecord, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	member, err := lm.store.GetMember(ctx, req.MemberID)
	if err != nil {
		return nil, err
	}

	var date time.Time
	if req.ReturnDate == "" {
		date = ComputeDefaultReturnDate(member.Category, now)
	} else {
		if date, err = ParseDate(req.ReturnDate); err != nil {
			return nil, err
		}
		if err := ValidateReturnDate(date, now, CategoryPolicy{Category: member.Category}); err != nil {
			return nil, err
		}
	}
	if req.ReturnTime != "" && req.ReturnTime != DefaultApprovedReturnTime.String() {
		lm.log.Debug("ignoring requested return time on approved borrow", "requested", req.ReturnTime)
	}

	record := &BorrowRecord{
		MemberID:      req.MemberID,
		CatalogItemID: req.CatalogItemID,
		CopyID:        req.CopyID,
		ReturnDate:    FormatDate(date),
		ReturnTime:    DefaultApprovedReturnTime.String(),
		Notes:         strings.TrimSpace(req.Notes),
		State:         BorrowApproved,
	}
	_, err = lm.transitionCopy(ctx, req.CopyID, StatusBorrowed, func(c *Copy) (StatusChange, error) {
		if err := checkBorrowable(c, req.CatalogItemID, StatusBorrowed); err != nil {
			return StatusChange{}, err
		}
		if err := Transition(c, StatusBorrowed, nil); err != nil {
			return StatusChange{}, err
		}
		record.ID = ""
		return StatusChange{NewBorrow: record}, nil
	})
	if err != nil {
		return nil, err
	}
	lm.log.Info("borrow added", "borrow_id", record.ID, "member_id", record.MemberID, "copy_id", record.CopyID,
		"category", member.Category, "return_date", record.ReturnDate)
	return record, nil
}

func checkBorrowable(c *Copy, catalogItemID int64, to CopyStatus) error {
	if c.CatalogItemID != catalogItemID {
		return &NotFoundError{Entity: "copy", ID: fmt.Sprintf("%d of catalog item %d", c.ID, catalogItemID)}
	}
	if c.Status != StatusAvailable {
		return &TransitionRejectedError{
			CopyID: c.ID, From: c.Status, To: to,
			Reason: "only an Available copy can be borrowed",
		}
	}
	return nil
}

// ApproveBorrow turns a pending request into a loan.
func (lm *LibraryManager) ApproveBorrow(ctx context.Context, borrowID string) (*BorrowRecord, error) {
	return lm.decidePending(ctx, borrowID, BorrowApproved, StatusBorrowed)
}

// RejectBorrow declines a pending request and releases the copy.
func (lm *LibraryManager) RejectBorrow(ctx context.Context, borrowID string) (*BorrowRecord, error) {
	return lm.decidePending(ctx, borrowID, BorrowRejected, StatusAvailable)
}

func (lm *LibraryManager) decidePending(ctx context.Context, borrowID string, state BorrowState, to CopyStatus) (*BorrowRecord, error) {
	b, err := lm.store.GetBorrow(ctx, borrowID)
	if err != nil {
		return nil, err
	}
	if b.State != BorrowPending {
		return nil, &TransitionRejectedError{
			CopyID: b.CopyID, To: to,
			Reason: fmt.Sprintf("borrow %s is %s, only pending requests can be decided", b.ID, b.State),
		}
	}

	_, err = lm.transitionCopy(ctx, b.CopyID, to, func(c *Copy) (StatusChange, error) {
		if c.Status != StatusReserved || c.ReservedByMemberID == nil || *c.ReservedByMemberID != b.MemberID {
			return StatusChange{}, &TransitionRejectedError{
				CopyID: c.ID, From: c.Status, To: to,
				Reason: fmt.Sprintf("copy is no longer reserved for member %d", b.MemberID),
			}
		}
		if err := Transition(c, to, nil); err != nil {
			return StatusChange{}, err
		}
		updated := *b
		updated.State = state
		return StatusChange{UpdatedBorrow: &updated}, nil
	})
	if err != nil {
		return nil, err
	}
	b.State = state
	lm.log.Info("borrow request decided", "borrow_id", b.ID, "state", state)
	return b, nil
}

// ReturnCopy closes the copy's open loan and makes it Available again.
func (lm *LibraryManager) ReturnCopy(ctx context.Context, copyID int64, now time.Time) (*BorrowRecord, error) {
	open, err := lm.store.ListBorrows(ctx, BorrowFilter{CopyID: copyID, States: []BorrowState{BorrowApproved}})
	if err != nil {
		return nil, err
	}
	if len(open) == 0 {
		if _, err := lm.store.GetCopy(ctx, copyID); err != nil {
			return nil, err
		}
		return nil, &TransitionRejectedError{CopyID: copyID, To: StatusAvailable, Reason: "copy has no open loan"}
	}
	b := open[len(open)-1]
	returnedAt := now.UTC()

	_, err = lm.transitionCopy(ctx, copyID, StatusAvailable, func(c *Copy) (StatusChange, error) {
		if err := Transition(c, StatusAvailable, nil); err != nil {
			return StatusChange{}, err
		}
		updated := *b
		updated.State = BorrowReturned
		updated.ReturnedAt = &returnedAt
		return StatusChange{UpdatedBorrow: &updated}, nil
	})
	if err != nil {
		return nil, err
	}
	b.State = BorrowReturned
	b.ReturnedAt = &returnedAt
	lm.log.Info("copy returned", "copy_id", copyID, "borrow_id", b.ID, "member_id", b.MemberID)
	return b, nil
}

func (lm *LibraryManager) GetBorrow(ctx context.Context, id string) (*BorrowRecord, error) {
	return lm.store.GetBorrow(ctx, id)
}

func (lm *LibraryManager) ListBorrows(ctx context.Context, f BorrowFilter) ([]*BorrowRecord, error) {
	return lm.store.ListBorrows(ctx, f)
}

// DueStatus reports how many days are left on a borrow, negative when overdue.
func (lm *LibraryManager) DueStatus(ctx context.Context, borrowID string, now time.Time) (int, string, error) {
	b, err := lm.store.GetBorrow(ctx, borrowID)
	if err != nil {
		return 0, "", err
	}
	due, err := ParseDate(b.ReturnDate)
	if err != nil {
		return 0, "", err
	}
	days := DaysRemaining(due, now)
	return days, DueMessage(days), nil
}
