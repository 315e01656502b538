package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"

	metaHighestAccession = "highest_accession"
)

// Database provides high-level helpers around a SQLite or Postgres connection.
type Database struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
}

// NewDatabase opens (or creates) the SQLite database at dbPath and applies
// schema migrations.
func NewDatabase(dbPath string) (*Database, error) {
	return Open(DriverSQLite, dbPath)
}

// Open connects with the given driver. For SQLite dsn is a file path; for
// Postgres it is a connection URL.
func Open(driver, dsn string) (*Database, error) {
	var (
		db          *sqlx.DB
		err         error
		dialectName string
	)
	switch driver {
	case DriverSQLite, "":
		driver, dialectName = DriverSQLite, "sqlite3"
		// Ensure directory exists so first-run succeeds.
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		// Enable busy_timeout and foreign keys.
		db, err = sqlx.Open(DriverSQLite, fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dsn))
	case DriverPostgres, "postgres":
		driver, dialectName = DriverPostgres, "postgres"
		db, err = sqlx.Open(DriverPostgres, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if err := applyMigrations(db, driver); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db, dialect: goqu.Dialect(dialectName)}, nil
}

// Close closes the DB.
func (d *Database) Close() error { return d.db.Close() }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 4

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS catalog_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		last_copy_number INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		borrower_category TEXT NOT NULL DEFAULT 'Student',
		pin_hash TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS copies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		catalog_item_id INTEGER NOT NULL REFERENCES catalog_items(id),
		copy_number INTEGER NOT NULL,
		accession_number TEXT NOT NULL UNIQUE,
		branch TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		reserved_by_member_id INTEGER REFERENCES members(id),
		version INTEGER NOT NULL DEFAULT 1,
		UNIQUE(catalog_item_id, copy_number),
		CHECK ((status = 'Reserved') = (reserved_by_member_id IS NOT NULL))
	);`,
	`CREATE TABLE IF NOT EXISTS retired_accessions (
		accession_number TEXT PRIMARY KEY,
		retired_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS borrows (
		id TEXT PRIMARY KEY,
		member_id INTEGER NOT NULL REFERENCES members(id),
		catalog_item_id INTEGER NOT NULL,
		copy_id INTEGER NOT NULL,
		return_date TEXT NOT NULL,
		return_time TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		returned_at TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS idx_borrows_copy ON borrows(copy_id, state);`,
	`CREATE TABLE IF NOT EXISTS copy_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		copy_id INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		from_status TEXT NOT NULL DEFAULT '',
		to_status TEXT NOT NULL,
		reserved_by_member_id INTEGER,
		from_accession TEXT NOT NULL DEFAULT '',
		to_accession TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMP NOT NULL
	);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS catalog_items (
		id BIGSERIAL PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		last_copy_number INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE TABLE IF NOT EXISTS members (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		borrower_category TEXT NOT NULL DEFAULT 'Student',
		pin_hash TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS copies (
		id BIGSERIAL PRIMARY KEY,
		catalog_item_id BIGINT NOT NULL REFERENCES catalog_items(id),
		copy_number INTEGER NOT NULL,
		accession_number CHAR(7) NOT NULL UNIQUE,
		branch TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		reserved_by_member_id BIGINT REFERENCES members(id),
		version INTEGER NOT NULL DEFAULT 1,
		UNIQUE(catalog_item_id, copy_number),
		CHECK ((status = 'Reserved') = (reserved_by_member_id IS NOT NULL))
	);`,
	`CREATE TABLE IF NOT EXISTS retired_accessions (
		accession_number CHAR(7) PRIMARY KEY,
		retired_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS borrows (
		id TEXT PRIMARY KEY,
		member_id BIGINT NOT NULL REFERENCES members(id),
		catalog_item_id BIGINT NOT NULL,
		copy_id BIGINT NOT NULL,
		return_date TEXT NOT NULL,
		return_time TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		returned_at TIMESTAMPTZ
	);`,
	`CREATE INDEX IF NOT EXISTS idx_borrows_copy ON borrows(copy_id, state);`,
	`CREATE TABLE IF NOT EXISTS copy_events (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		copy_id BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		from_status TEXT NOT NULL DEFAULT '',
		to_status TEXT NOT NULL,
		reserved_by_member_id BIGINT,
		from_accession TEXT NOT NULL DEFAULT '',
		to_accession TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL
	);`,
}

// upgrades bring a database created at an older schema version up to the
// given version. Fresh databases get these columns from the CREATE statements.
var upgrades = map[int][]string{
	4: {
		`ALTER TABLE copy_events ADD COLUMN from_accession TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE copy_events ADD COLUMN to_accession TEXT NOT NULL DEFAULT ''`,
	},
}

func applyMigrations(db *sqlx.DB, driver string) error {
	schema := postgresSchema
	if driver == DriverSQLite {
		// WAL improves write concurrency.
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
		schema = sqliteSchema
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current string
	_ = db.Get(&current, db.Rebind(`SELECT value FROM meta WHERE key='schema_version'`))
	from, _ := strconv.Atoi(current)
	if from >= schemaVersion {
		return nil
	}

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	for v := from + 1; from > 0 && v <= schemaVersion; v++ {
		for _, stmt := range upgrades[v] {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("upgrade schema to %d: %w", v, err)
			}
		}
	}
	if err := setMeta(context.Background(), tx, "schema_version", strconv.Itoa(schemaVersion)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}

	return tx.Commit()
}

func setMeta(ctx context.Context, tx *sqlx.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO meta(key,value) VALUES(?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`), key, value)
	return err
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func getMetaInt(ctx context.Context, q queryer, key string) (int, error) {
	var value string
	err := sqlx.GetContext(ctx, q, &value, q.Rebind(`SELECT value FROM meta WHERE key=?`), key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(value)
}

// ---------------------------------------------------------------------------
// Catalog items
// ---------------------------------------------------------------------------

// AddCatalogItem registers the bibliographic record copies hang off.
func (d *Database) AddCatalogItem(ctx context.Context, title, author string) (int64, error) {
	var id int64
	err := d.db.QueryRowxContext(ctx,
		d.db.Rebind(`INSERT INTO catalog_items(title,author) VALUES(?,?) RETURNING id`),
		title, author).Scan(&id)
	return id, err
}

func (d *Database) GetCatalogItem(ctx context.Context, id int64) (*CatalogItem, error) {
	var item CatalogItem
	err := d.db.GetContext(ctx, &item,
		d.db.Rebind(`SELECT id,title,author,last_copy_number FROM catalog_items WHERE id=?`), id)
	if err != nil {
		return nil, remapNoRows(err, "catalog item", id)
	}
	return &item, nil
}

// GetAllCatalogItems returns every catalog item ordered by id.
func (d *Database) GetAllCatalogItems(ctx context.Context) ([]*CatalogItem, error) {
	var items []*CatalogItem
	err := d.db.SelectContext(ctx, &items,
		`SELECT id,title,author,last_copy_number FROM catalog_items ORDER BY id`)
	return items, err
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

func (d *Database) AddMember(ctx context.Context, m *Member) (int64, error) {
	if m.Category == "" {
		m.Category = CategoryStudent
	}
	err := d.db.QueryRowxContext(ctx,
		d.db.Rebind(`INSERT INTO members(name,email,phone,borrower_category,pin_hash) VALUES(?,?,?,?,?) RETURNING id`),
		m.Name, m.Email, m.Phone, string(m.Category), m.PINHash).Scan(&m.ID)
	return m.ID, err
}

// GetMember fetches a single member.
func (d *Database) GetMember(ctx context.Context, id int64) (*Member, error) {
	var m Member
	err := d.db.GetContext(ctx, &m,
		d.db.Rebind(`SELECT id,name,email,phone,borrower_category,pin_hash FROM members WHERE id=?`), id)
	if err != nil {
		return nil, remapNoRows(err, "member", id)
	}
	return &m, nil
}

// GetAllMembers returns all members.
func (d *Database) GetAllMembers(ctx context.Context) ([]*Member, error) {
	var members []*Member
	err := d.db.SelectContext(ctx, &members,
		`SELECT id,name,email,phone,borrower_category,pin_hash FROM members ORDER BY id`)
	return members, err
}

// SetMemberPIN stores a new PIN hash.
func (d *Database) SetMemberPIN(ctx context.Context, id int64, hash string) error {
	res, err := d.db.ExecContext(ctx, d.db.Rebind(`UPDATE members SET pin_hash=? WHERE id=?`), hash, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound("member", id)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Accession numbers
// ---------------------------------------------------------------------------

// ListAccessionNumbers returns the numbers in use. Without an item filter the
// retired numbers of deleted copies are included, since those are never reissued.
func (d *Database) ListAccessionNumbers(ctx context.Context, catalogItemID *int64) (AccessionSet, error) {
	var (
		numbers []string
		err     error
	)
	if catalogItemID != nil {
		err = d.db.SelectContext(ctx, &numbers,
			d.db.Rebind(`SELECT accession_number FROM copies WHERE catalog_item_id=?`), *catalogItemID)
	} else {
		err = d.db.SelectContext(ctx, &numbers,
			`SELECT accession_number FROM copies UNION SELECT accession_number FROM retired_accessions`)
	}
	if err != nil {
		return nil, err
	}
	return NewAccessionSet(numbers...), nil
}

// HighestIssuedAccessionNumber reads the monotonic issue counter.
func (d *Database) HighestIssuedAccessionNumber(ctx context.Context) (int, error) {
	return getMetaInt(ctx, d.db, metaHighestAccession)
}

// raiseHighestIssued moves the counter up to n; it never goes down. The
// comparison happens inside the upsert so concurrent writers cannot lower it.
func raiseHighestIssued(ctx context.Context, tx *sqlx.Tx, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO meta(key,value) VALUES(?,?)
		ON CONFLICT(key) DO UPDATE SET value = CASE
			WHEN CAST(excluded.value AS INTEGER) > CAST(meta.value AS INTEGER) THEN excluded.value
			ELSE meta.value END`),
		metaHighestAccession, strconv.Itoa(n))
	return err
}

func isRetired(ctx context.Context, tx *sqlx.Tx, number string) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists,
		tx.Rebind(`SELECT EXISTS(SELECT 1 FROM retired_accessions WHERE accession_number=?)`), number)
	return exists, err
}

// ---------------------------------------------------------------------------
// Copies
// ---------------------------------------------------------------------------

const copyColumns = `id,catalog_item_id,copy_number,accession_number,branch,location,status,reserved_by_member_id,version`

// CreateCopies inserts all copies in one transaction. Copy numbers continue
// from the item's last issued number. Either every copy is created or none.
func (d *Database) CreateCopies(ctx context.Context, catalogItemID int64, copies []NewCopy) ([]*Copy, error) {
	if len(copies) == 0 {
		return nil, nil
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Reserving the copy numbers first takes the write lock up front.
	var last int
	err = tx.QueryRowxContext(ctx,
		tx.Rebind(`UPDATE catalog_items SET last_copy_number = last_copy_number + ? WHERE id=? RETURNING last_copy_number`),
		len(copies), catalogItemID).Scan(&last)
	if err != nil {
		return nil, remapNoRows(err, "catalog item", catalogItemID)
	}
	first := last - len(copies) + 1

	now := time.Now().UTC()
	highest := 0
	created := make([]*Copy, 0, len(copies))
	for i, nc := range copies {
		retired, err := isRetired(ctx, tx, nc.AccessionNumber)
		if err != nil {
			return nil, err
		}
		if retired {
			return nil, &DuplicateError{AccessionNumber: nc.AccessionNumber}
		}

		c := &Copy{
			CatalogItemID:      catalogItemID,
			CopyNumber:         first + i,
			AccessionNumber:    nc.AccessionNumber,
			Branch:             nc.Branch,
			Location:           nc.Location,
			Status:             nc.Status,
			ReservedByMemberID: nc.ReservedByMemberID,
			Version:            1,
		}
		err = tx.QueryRowxContext(ctx,
			tx.Rebind(`INSERT INTO copies(catalog_item_id,copy_number,accession_number,branch,location,status,reserved_by_member_id,version)
				VALUES(?,?,?,?,?,?,?,?) RETURNING id`),
			c.CatalogItemID, c.CopyNumber, c.AccessionNumber, c.Branch, c.Location,
			string(c.Status), c.ReservedByMemberID, c.Version).Scan(&c.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, &DuplicateError{AccessionNumber: nc.AccessionNumber}
			}
			return nil, err
		}

		if err := insertCopyEvent(ctx, tx, &CopyEvent{
			CopyID: c.ID, Type: copyCreatedEvent, ToStatus: string(c.Status),
			ReservedByMemberID: c.ReservedByMemberID, ToAccession: c.AccessionNumber, OccurredAt: now,
		}); err != nil {
			return nil, err
		}
		if n, err := strconv.Atoi(c.AccessionNumber); err == nil && n > highest {
			highest = n
		}
		created = append(created, c)
	}

	if err := raiseHighestIssued(ctx, tx, highest); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, &DuplicateError{AccessionNumber: copies[0].AccessionNumber}
		}
		return nil, err
	}
	return created, nil
}

func (d *Database) GetCopy(ctx context.Context, id int64) (*Copy, error) {
	var c Copy
	err := d.db.GetContext(ctx, &c, d.db.Rebind(`SELECT `+copyColumns+` FROM copies WHERE id=?`), id)
	if err != nil {
		return nil, remapNoRows(err, "copy", id)
	}
	return &c, nil
}

// CopyFilter narrows ListCopies. Zero values match everything.
type CopyFilter struct {
	CatalogItemID int64
	Status        CopyStatus
	Branch        string
}

// ListCopies returns copies ordered by item and copy number.
func (d *Database) ListCopies(ctx context.Context, f CopyFilter) ([]*Copy, error) {
	ds := d.dialect.From("copies").
		Select(goqu.L(copyColumns)).
		Order(goqu.I("catalog_item_id").Asc(), goqu.I("copy_number").Asc())
	if f.CatalogItemID != 0 {
		ds = ds.Where(goqu.C("catalog_item_id").Eq(f.CatalogItemID))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(f.Status)))
	}
	if f.Branch != "" {
		ds = ds.Where(goqu.C("branch").Eq(f.Branch))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build copy query: %w", err)
	}
	var copies []*Copy
	if err := d.db.SelectContext(ctx, &copies, query, args...); err != nil {
		return nil, err
	}
	return copies, nil
}

// CountAvailableCopies counts copies of the item whose status is exactly Available.
func (d *Database) CountAvailableCopies(ctx context.Context, catalogItemID int64) (int, error) {
	var n int
	err := d.db.GetContext(ctx, &n,
		d.db.Rebind(`SELECT COUNT(*) FROM copies WHERE catalog_item_id=? AND status=?`),
		catalogItemID, string(StatusAvailable))
	return n, err
}

// UpdateAccessionNumber replaces a copy's number and retires the old one, so
// it is never issued again. The database unique constraint has the last word
// on collisions.
func (d *Database) UpdateAccessionNumber(ctx context.Context, copyID int64, number string) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Bumping the version first takes the write lock and reads the old number.
	var c Copy
	err = tx.GetContext(ctx, &c,
		tx.Rebind(`UPDATE copies SET version=version+1 WHERE id=? RETURNING `+copyColumns), copyID)
	if err != nil {
		return remapNoRows(err, "copy", copyID)
	}
	if c.AccessionNumber == number {
		return nil
	}

	retired, err := isRetired(ctx, tx, number)
	if err != nil {
		return err
	}
	if retired {
		return &DuplicateError{AccessionNumber: number}
	}

	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`UPDATE copies SET accession_number=? WHERE id=?`), number, copyID); err != nil {
		if isUniqueViolation(err) {
			return &DuplicateError{AccessionNumber: number}
		}
		return err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`INSERT INTO retired_accessions(accession_number,retired_at) VALUES(?,?)`),
		c.AccessionNumber, now); err != nil {
		return err
	}
	if n, err := strconv.Atoi(number); err == nil {
		if err := raiseHighestIssued(ctx, tx, n); err != nil {
			return err
		}
	}
	if err := insertCopyEvent(ctx, tx, &CopyEvent{
		CopyID: copyID, Type: copyAccessionChangedEvent, FromStatus: string(c.Status), ToStatus: string(c.Status),
		ReservedByMemberID: c.ReservedByMemberID, FromAccession: c.AccessionNumber, ToAccession: number, OccurredAt: now,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteCopy removes a copy and retires its accession number for good.
func (d *Database) DeleteCopy(ctx context.Context, copyID int64) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var c Copy
	if err := tx.GetContext(ctx, &c, tx.Rebind(`SELECT `+copyColumns+` FROM copies WHERE id=?`), copyID); err != nil {
		return remapNoRows(err, "copy", copyID)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM copies WHERE id=?`), copyID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		tx.Rebind(`INSERT INTO retired_accessions(accession_number,retired_at) VALUES(?,?)`),
		c.AccessionNumber, now); err != nil {
		return err
	}
	if err := insertCopyEvent(ctx, tx, &CopyEvent{
		CopyID: copyID, Type: copyDeletedEvent, FromStatus: string(c.Status),
		FromAccession: c.AccessionNumber, OccurredAt: now,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// StatusChange is one copy status update together with the borrow record
// bookkeeping that must commit with it.
type StatusChange struct {
	Copy            *Copy
	From            CopyStatus
	ExpectedVersion int
	NewBorrow       *BorrowRecord
	UpdatedBorrow   *BorrowRecord
}

// ApplyStatusChange persists a transition with an optimistic version check.
// ErrStaleCopy means the row changed since it was read.
func (d *Database) ApplyStatusChange(ctx context.Context, ch StatusChange) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	c := ch.Copy
	res, err := tx.ExecContext(ctx,
		tx.Rebind(`UPDATE copies SET status=?, reserved_by_member_id=?, version=version+1 WHERE id=? AND version=?`),
		string(c.Status), c.ReservedByMemberID, c.ID, ch.ExpectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT EXISTS(SELECT 1 FROM copies WHERE id=?)`), c.ID); err != nil {
			return err
		}
		if !exists {
			return notFound("copy", c.ID)
		}
		return ErrStaleCopy
	}

	now := time.Now().UTC()
	if b := ch.NewBorrow; b != nil {
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`INSERT INTO borrows(id,member_id,catalog_item_id,copy_id,return_date,return_time,notes,state,created_at)
				VALUES(?,?,?,?,?,?,?,?,?)`),
			b.ID, b.MemberID, b.CatalogItemID, b.CopyID, b.ReturnDate, b.ReturnTime, b.Notes, string(b.State), b.CreatedAt); err != nil {
			return err
		}
	}
	if b := ch.UpdatedBorrow; b != nil {
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE borrows SET state=?, returned_at=? WHERE id=?`),
			string(b.State), b.ReturnedAt, b.ID); err != nil {
			return err
		}
	}

	if err := insertCopyEvent(ctx, tx, &CopyEvent{
		CopyID: c.ID, Type: copyStatusChangedEvent, FromStatus: string(ch.From), ToStatus: string(c.Status),
		ReservedByMemberID: c.ReservedByMemberID, OccurredAt: now,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.Version = ch.ExpectedVersion + 1
	return nil
}

// ---------------------------------------------------------------------------
// Borrow records
// ---------------------------------------------------------------------------

const borrowColumns = `id,member_id,catalog_item_id,copy_id,return_date,return_time,notes,state,created_at,returned_at`

func (d *Database) GetBorrow(ctx context.Context, id string) (*BorrowRecord, error) {
	var b BorrowRecord
	err := d.db.GetContext(ctx, &b, d.db.Rebind(`SELECT `+borrowColumns+` FROM borrows WHERE id=?`), id)
	if err != nil {
		return nil, remapNoRows(err, "borrow", id)
	}
	return &b, nil
}

// BorrowFilter narrows ListBorrows. Zero values match everything.
type BorrowFilter struct {
	MemberID int64
	CopyID   int64
	States   []BorrowState
}

// ListBorrows returns matching borrow records, oldest first.
func (d *Database) ListBorrows(ctx context.Context, f BorrowFilter) ([]*BorrowRecord, error) {
	ds := d.dialect.From("borrows").
		Select(goqu.L(borrowColumns)).
		Order(goqu.I("created_at").Asc())
	if f.MemberID != 0 {
		ds = ds.Where(goqu.C("member_id").Eq(f.MemberID))
	}
	if f.CopyID != 0 {
		ds = ds.Where(goqu.C("copy_id").Eq(f.CopyID))
	}
	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, s := range f.States {
			states[i] = string(s)
		}
		ds = ds.Where(goqu.C("state").In(states))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build borrow query: %w", err)
	}
	var borrows []*BorrowRecord
	if err := d.db.SelectContext(ctx, &borrows, query, args...); err != nil {
		return nil, err
	}
	return borrows, nil
}

// ---------------------------------------------------------------------------
// Copy events
// ---------------------------------------------------------------------------

func insertCopyEvent(ctx context.Context, tx *sqlx.Tx, e *CopyEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := tx.NamedExecContext(ctx,
		`INSERT INTO copy_events(id,copy_id,event_type,from_status,to_status,reserved_by_member_id,from_accession,to_accession,occurred_at)
			VALUES(:id,:copy_id,:event_type,:from_status,:to_status,:reserved_by_member_id,:from_accession,:to_accession,:occurred_at)`, e)
	return err
}

// ListCopyEvents returns a copy's audit trail, oldest first.
func (d *Database) ListCopyEvents(ctx context.Context, copyID int64) ([]*CopyEvent, error) {
	var events []*CopyEvent
	err := d.db.SelectContext(ctx, &events,
		d.db.Rebind(`SELECT id,copy_id,event_type,from_status,to_status,reserved_by_member_id,from_accession,to_accession,occurred_at
			FROM copy_events WHERE copy_id=? ORDER BY seq`), copyID)
	return events, err
}
