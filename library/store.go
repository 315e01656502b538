package library

import "context"

// Store is the persistence boundary the circulation core relies on.
// Database implements it for SQLite and Postgres.
type Store interface {
	AddCatalogItem(ctx context.Context, title, author string) (int64, error)
	GetCatalogItem(ctx context.Context, id int64) (*CatalogItem, error)
	GetAllCatalogItems(ctx context.Context) ([]*CatalogItem, error)

	AddMember(ctx context.Context, m *Member) (int64, error)
	GetMember(ctx context.Context, id int64) (*Member, error)
	GetAllMembers(ctx context.Context) ([]*Member, error)
	SetMemberPIN(ctx context.Context, id int64, hash string) error

	ListAccessionNumbers(ctx context.Context, catalogItemID *int64) (AccessionSet, error)
	HighestIssuedAccessionNumber(ctx context.Context) (int, error)

	CreateCopies(ctx context.Context, catalogItemID int64, copies []NewCopy) ([]*Copy, error)
	GetCopy(ctx context.Context, id int64) (*Copy, error)
	ListCopies(ctx context.Context, f CopyFilter) ([]*Copy, error)
	CountAvailableCopies(ctx context.Context, catalogItemID int64) (int, error)
	UpdateAccessionNumber(ctx context.Context, copyID int64, number string) error
	DeleteCopy(ctx context.Context, copyID int64) error
	ApplyStatusChange(ctx context.Context, ch StatusChange) error

	GetBorrow(ctx context.Context, id string) (*BorrowRecord, error)
	ListBorrows(ctx context.Context, f BorrowFilter) ([]*BorrowRecord, error)

	ListCopyEvents(ctx context.Context, copyID int64) ([]*CopyEvent, error)

	Close() error
}

var _ Store = (*Database)(nil)
