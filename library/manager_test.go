package library

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, opts ...Option) *LibraryManager {
	t.Helper()
	dir := t.TempDir()
	mgr, err := NewLibraryManager(filepath.Join(dir, "lib.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

type fixture struct {
	mgr     *LibraryManager
	itemID  int64
	student int64
	faculty int64
	copies  []*Copy
}

func newFixture(t *testing.T, copies int, opts ...Option) fixture {
	t.Helper()
	ctx := context.Background()
	mgr := newManager(t, opts...)

	itemID, err := mgr.AddCatalogItem(ctx, "The Name of the Rose", "Eco")
	require.NoError(t, err)
	student, err := mgr.AddMember(ctx, Member{Name: "Sam", Category: CategoryStudent}, "1234")
	require.NoError(t, err)
	faculty, err := mgr.AddMember(ctx, Member{Name: "Prof. Fay", Category: CategoryFaculty}, "")
	require.NoError(t, err)
	created, err := mgr.AddCopies(ctx, itemID, CopyRequest{Count: copies, Branch: "Main"})
	require.NoError(t, err)

	return fixture{mgr: mgr, itemID: itemID, student: student, faculty: faculty, copies: created}
}

func at(t *testing.T, date string, hour int) time.Time {
	return day(t, date).Add(time.Duration(hour) * time.Hour)
}

func TestAddCopiesAllocatesSequentially(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)

	nums := []string{f.copies[0].AccessionNumber, f.copies[1].AccessionNumber, f.copies[2].AccessionNumber}
	assert.Equal(t, []string{"0000001", "0000002", "0000003"}, nums)

	manual, err := f.mgr.AddCopies(ctx, f.itemID, CopyRequest{AccessionNumber: "0000041"})
	require.NoError(t, err)
	assert.Equal(t, 4, manual[0].CopyNumber)

	next, err := f.mgr.AddCopies(ctx, f.itemID, CopyRequest{Count: 1})
	require.NoError(t, err)
	assert.Equal(t, "0000042", next[0].AccessionNumber)

	n, err := f.mgr.AvailableCopies(ctx, f.itemID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestAddCopiesRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	var fe *FormatError
	_, err := f.mgr.AddCopies(ctx, f.itemID, CopyRequest{AccessionNumber: "12345"})
	assert.ErrorAs(t, err, &fe)
	_, err = f.mgr.AddCopies(ctx, f.itemID, CopyRequest{Count: 2, AccessionNumber: "0000100"})
	assert.ErrorAs(t, err, &fe)
	_, err = f.mgr.AddCopies(ctx, f.itemID, CopyRequest{Count: -1})
	assert.ErrorAs(t, err, &fe)

	var dup *DuplicateError
	_, err = f.mgr.AddCopies(ctx, f.itemID, CopyRequest{AccessionNumber: f.copies[0].AccessionNumber})
	assert.ErrorAs(t, err, &dup)

	var tr *TransitionRejectedError
	_, err = f.mgr.AddCopies(ctx, f.itemID, CopyRequest{Status: StatusReserved})
	assert.ErrorAs(t, err, &tr)

	reserved, err := f.mgr.AddCopies(ctx, f.itemID, CopyRequest{Status: StatusReserved, ReservedByMemberID: &f.student})
	require.NoError(t, err)
	assert.Equal(t, f.student, *reserved[0].ReservedByMemberID)
}

func TestConcurrentAddCopiesNeverCollide(t *testing.T) {
	ctx := context.Background()
	// every lost race means another writer committed, so eight writers
	// need at most eight attempts each
	retry := DefaultRetryConfig()
	retry.MaxAttempts = 10
	f := newFixture(t, 1, WithRetryConfig(retry))

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got []string
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			copies, err := f.mgr.AddCopies(ctx, f.itemID, CopyRequest{Count: 2})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, c := range copies {
				got = append(got, c.AccessionNumber)
			}
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, n := range got {
		assert.False(t, seen[n], "duplicate %s", n)
		seen[n] = true
	}
	assert.Len(t, got, 16)
}

func TestEditAccessionNumber(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	assert.NoError(t, f.mgr.EditAccessionNumber(ctx, f.copies[0].ID, f.copies[0].AccessionNumber))

	var dup *DuplicateError
	assert.ErrorAs(t, f.mgr.EditAccessionNumber(ctx, f.copies[0].ID, f.copies[1].AccessionNumber), &dup)

	old := f.copies[0].AccessionNumber
	require.NoError(t, f.mgr.EditAccessionNumber(ctx, f.copies[0].ID, "0500000"))
	c, _ := f.mgr.GetCopy(ctx, f.copies[0].ID)
	assert.Equal(t, "0500000", c.AccessionNumber)

	// the counter moved past the manual number
	next, err := f.mgr.AddCopies(ctx, f.itemID, CopyRequest{})
	require.NoError(t, err)
	assert.Equal(t, "0500001", next[0].AccessionNumber)

	// the replaced number is never handed out again
	_, err = f.mgr.AddCopies(ctx, f.itemID, CopyRequest{AccessionNumber: old})
	assert.ErrorAs(t, err, &dup)
	assert.ErrorAs(t, f.mgr.EditAccessionNumber(ctx, f.copies[1].ID, old), &dup)

	events, err := f.mgr.CopyEvents(ctx, f.copies[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, old, events[1].FromAccession)
}

func TestAutoAllocationAfterNumberAtCeiling(t *testing.T) {
	// arrange
	ctx := context.Background()
	f := newFixture(t, 1)
	_, err := f.mgr.AddCopies(ctx, f.itemID, CopyRequest{AccessionNumber: "9999999"})
	require.NoError(t, err)

	// act
	next, err := f.mgr.AddCopies(ctx, f.itemID, CopyRequest{Count: 2})

	// assert
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, "0000002", next[0].AccessionNumber)
	assert.Equal(t, "0000003", next[1].AccessionNumber)

	highest, err := f.mgr.store.HighestIssuedAccessionNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, MaxAccessionNumber, highest)
}

func TestDeleteCopyRetiresNumber(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	number := f.copies[0].AccessionNumber

	require.NoError(t, f.mgr.DeleteCopy(ctx, f.copies[0].ID))

	var dup *DuplicateError
	_, err := f.mgr.AddCopies(ctx, f.itemID, CopyRequest{AccessionNumber: number})
	assert.ErrorAs(t, err, &dup)

	events, err := f.mgr.CopyEvents(ctx, f.copies[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, copyDeletedEvent, events[1].Type)
}

func TestUpdateCopyStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	id := f.copies[0].ID

	var tr *TransitionRejectedError
	_, err := f.mgr.UpdateCopyStatus(ctx, id, StatusReserved, nil)
	require.ErrorAs(t, err, &tr)

	c, err := f.mgr.UpdateCopyStatus(ctx, id, StatusReserved, &f.student)
	require.NoError(t, err)
	assert.Equal(t, f.student, *c.ReservedByMemberID)
	stored, _ := f.mgr.GetCopy(ctx, id)
	assert.Equal(t, f.student, *stored.ReservedByMemberID)

	_, err = f.mgr.UpdateCopyStatus(ctx, id, StatusPaid, nil)
	require.NoError(t, err)
	stored, _ = f.mgr.GetCopy(ctx, id)
	assert.Nil(t, stored.ReservedByMemberID)

	for _, to := range AllCopyStatuses() {
		_, err := f.mgr.UpdateCopyStatus(ctx, id, to, &f.student)
		assert.ErrorAs(t, err, &tr, "Paid -> %s", to)
	}

	var nf *NotFoundError
	_, err = f.mgr.UpdateCopyStatus(ctx, 999, StatusLost, nil)
	assert.ErrorAs(t, err, &nf)
	_, err = f.mgr.UpdateCopyStatus(ctx, id, StatusReserved, int64Ptr(999))
	assert.ErrorAs(t, err, &nf)
}

func TestConcurrentStatusUpdatesAllApply(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	id := f.copies[0].ID

	var wg sync.WaitGroup
	targets := []CopyStatus{StatusLost, StatusUnderRepair, StatusPending, StatusAvailable}
	for _, to := range targets {
		wg.Add(1)
		go func(to CopyStatus) {
			defer wg.Done()
			_, err := f.mgr.UpdateCopyStatus(ctx, id, to, nil)
			assert.NoError(t, err)
		}(to)
	}
	wg.Wait()

	c, err := f.mgr.GetCopy(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1+len(targets), c.Version)
}

func TestRequestBorrowStudentScenario(t *testing.T) {
	// arrange
	ctx := context.Background()
	f := newFixture(t, 1)
	c := f.copies[0]
	now := at(t, "2024-03-10", 10)

	// act
	rec, err := f.mgr.RequestBorrow(ctx, BorrowRequest{
		MemberID: f.student, CatalogItemID: f.itemID, CopyID: c.ID,
		ReturnDate: "2024-03-12", ReturnTime: "14:00",
	}, now)

	// assert
	require.NoError(t, err)
	assert.Equal(t, BorrowPending, rec.State)
	assert.NotEmpty(t, rec.ID)

	stored, err := f.mgr.GetCopy(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReserved, stored.Status)
	require.NotNil(t, stored.ReservedByMemberID)
	assert.Equal(t, f.student, *stored.ReservedByMemberID)

	days, msg, err := f.mgr.DueStatus(ctx, rec.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 2, days)
	assert.Equal(t, "2 day(s) remaining", msg)
}

func TestRequestBorrowValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	now := at(t, "2024-03-10", 10)
	base := BorrowRequest{MemberID: f.student, CatalogItemID: f.itemID, CopyID: f.copies[0].ID,
		ReturnDate: "2024-03-17", ReturnTime: "09:00"}

	with := func(mod func(r *BorrowRequest)) BorrowRequest {
		r := base
		mod(&r)
		return r
	}

	var (
		fe *FormatError
		ex *ExceedsMaxDurationError
		pd *PastDateError
		ow *OutsideAllowedWindowError
		nf *NotFoundError
	)
	_, err := f.mgr.RequestBorrow(ctx, with(func(r *BorrowRequest) { r.MemberID = 0 }), now)
	assert.ErrorAs(t, err, &fe)
	_, err = f.mgr.RequestBorrow(ctx, with(func(r *BorrowRequest) { r.ReturnDate = "" }), now)
	assert.ErrorAs(t, err, &fe)
	_, err = f.mgr.RequestBorrow(ctx, with(func(r *BorrowRequest) { r.ReturnDate = "2024-03-18" }), now)
	assert.ErrorAs(t, err, &ex)
	_, err = f.mgr.RequestBorrow(ctx, with(func(r *BorrowRequest) { r.ReturnDate = "2024-03-09" }), now)
	assert.ErrorAs(t, err, &pd)
	_, err = f.mgr.RequestBorrow(ctx, with(func(r *BorrowRequest) { r.ReturnTime = "12:00" }), now)
	assert.ErrorAs(t, err, &ow)
	_, err = f.mgr.RequestBorrow(ctx, with(func(r *BorrowRequest) { r.MemberID = 999 }), now)
	assert.ErrorAs(t, err, &nf)
	_, err = f.mgr.RequestBorrow(ctx, with(func(r *BorrowRequest) { r.CatalogItemID = 999 }), now)
	assert.ErrorAs(t, err, &nf)

	// the self-service window is fixed at 7 days even for a Student
	_, err = f.mgr.RequestBorrow(ctx, base, now)
	require.NoError(t, err)

	var tr *TransitionRejectedError
	_, err = f.mgr.RequestBorrow(ctx, with(func(r *BorrowRequest) { r.MemberID = f.faculty }), now)
	assert.ErrorAs(t, err, &tr, "a reserved copy cannot be requested again")
}

func TestAddApprovedBorrow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	now := at(t, "2024-01-01", 18) // outside any return window

	rec, err := f.mgr.AddApprovedBorrow(ctx, BorrowRequest{
		MemberID: f.faculty, CatalogItemID: f.itemID, CopyID: f.copies[0].ID, ReturnTime: "18:30",
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-06", rec.ReturnDate)
	assert.Equal(t, "13:00", rec.ReturnTime)
	assert.Equal(t, BorrowApproved, rec.State)

	c, _ := f.mgr.GetCopy(ctx, f.copies[0].ID)
	assert.Equal(t, StatusBorrowed, c.Status)
	assert.Nil(t, c.ReservedByMemberID)

	rec, err = f.mgr.AddApprovedBorrow(ctx, BorrowRequest{
		MemberID: f.student, CatalogItemID: f.itemID, CopyID: f.copies[1].ID, ReturnDate: "2024-01-03",
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-03", rec.ReturnDate)

	var ex *ExceedsMaxDurationError
	_, err = f.mgr.AddApprovedBorrow(ctx, BorrowRequest{
		MemberID: f.student, CatalogItemID: f.itemID, CopyID: f.copies[2].ID, ReturnDate: "2024-01-04",
	}, now)
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 2, ex.MaxDays)

	n, _ := f.mgr.AvailableCopies(ctx, f.itemID)
	assert.Equal(t, 1, n)
}

func TestApproveRejectReturn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	now := at(t, "2024-03-10", 9)
	req := func(copyID int64) *BorrowRecord {
		rec, err := f.mgr.RequestBorrow(ctx, BorrowRequest{
			MemberID: f.student, CatalogItemID: f.itemID, CopyID: copyID,
			ReturnDate: "2024-03-12", ReturnTime: "07:00",
		}, now)
		require.NoError(t, err)
		return rec
	}

	approved, err := f.mgr.ApproveBorrow(ctx, req(f.copies[0].ID).ID)
	require.NoError(t, err)
	assert.Equal(t, BorrowApproved, approved.State)
	c, _ := f.mgr.GetCopy(ctx, f.copies[0].ID)
	assert.Equal(t, StatusBorrowed, c.Status)
	assert.Nil(t, c.ReservedByMemberID)

	var tr *TransitionRejectedError
	_, err = f.mgr.ApproveBorrow(ctx, approved.ID)
	assert.ErrorAs(t, err, &tr, "only pending requests can be decided")

	rejected, err := f.mgr.RejectBorrow(ctx, req(f.copies[1].ID).ID)
	require.NoError(t, err)
	assert.Equal(t, BorrowRejected, rejected.State)
	c, _ = f.mgr.GetCopy(ctx, f.copies[1].ID)
	assert.Equal(t, StatusAvailable, c.Status)

	_, err = f.mgr.ReturnCopy(ctx, f.copies[1].ID, now)
	assert.ErrorAs(t, err, &tr, "no open loan")

	returned, err := f.mgr.ReturnCopy(ctx, f.copies[0].ID, at(t, "2024-03-13", 9))
	require.NoError(t, err)
	assert.Equal(t, BorrowReturned, returned.State)
	require.NotNil(t, returned.ReturnedAt)
	c, _ = f.mgr.GetCopy(ctx, f.copies[0].ID)
	assert.Equal(t, StatusAvailable, c.Status)

	stored, err := f.mgr.GetBorrow(ctx, returned.ID)
	require.NoError(t, err)
	assert.Equal(t, BorrowReturned, stored.State)
	assert.NotNil(t, stored.ReturnedAt)

	days, msg, err := f.mgr.DueStatus(ctx, returned.ID, at(t, "2024-03-13", 9))
	require.NoError(t, err)
	assert.Equal(t, -1, days)
	assert.Equal(t, "overdue by 1 day(s)", msg)

	mine, err := f.mgr.ListBorrows(ctx, BorrowFilter{MemberID: f.student})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	var nf *NotFoundError
	_, err = f.mgr.ApproveBorrow(ctx, "missing")
	assert.ErrorAs(t, err, &nf)
}

func TestApproveAfterCopyWasMarkedLost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)
	rec, err := f.mgr.RequestBorrow(ctx, BorrowRequest{
		MemberID: f.student, CatalogItemID: f.itemID, CopyID: f.copies[0].ID,
		ReturnDate: "2024-03-12", ReturnTime: "15:00",
	}, at(t, "2024-03-10", 9))
	require.NoError(t, err)

	_, err = f.mgr.UpdateCopyStatus(ctx, f.copies[0].ID, StatusLost, nil)
	require.NoError(t, err)

	var tr *TransitionRejectedError
	_, err = f.mgr.ApproveBorrow(ctx, rec.ID)
	assert.ErrorAs(t, err, &tr)
}

func TestMemberPIN(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	assert.NoError(t, f.mgr.AuthenticateMember(ctx, f.student, "1234"))
	assert.Error(t, f.mgr.AuthenticateMember(ctx, f.student, "0000"))
	assert.Error(t, f.mgr.AuthenticateMember(ctx, f.faculty, ""), "no PIN set")

	require.NoError(t, f.mgr.SetMemberPIN(ctx, f.faculty, "9876"))
	assert.NoError(t, f.mgr.AuthenticateMember(ctx, f.faculty, "9876"))

	m, err := f.mgr.GetMember(ctx, f.student)
	require.NoError(t, err)
	assert.NotEqual(t, "1234", m.PINHash)
}
