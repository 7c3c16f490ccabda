package lending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"toolshare/internal/identity"
)

// UserRecord is the row shape served by the record API.
type UserRecord struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ErrEmailExists is returned when a user row with the same email is present.
var ErrEmailExists = errors.New("email already registered")

// Database provides high-level helpers around a SQLite connection.
type Database struct {
	db *sql.DB

	insertUserStmt *sql.Stmt
	insertToolStmt *sql.Stmt
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Enable busy_timeout and foreign keys.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	database := &Database{db: db}
	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.insertUserStmt != nil {
		d.insertUserStmt.Close()
	}
	if d.insertToolStmt != nil {
		d.insertToolStmt.Close()
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            email TEXT NOT NULL UNIQUE,
            neighborhood TEXT NOT NULL DEFAULT '',
            area_code TEXT NOT NULL DEFAULT '',
            avatar_url TEXT NOT NULL DEFAULT '',
            password_hash BLOB,
            tools_borrowed INTEGER NOT NULL DEFAULT 0,
            member_since DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS categories (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            icon TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE TABLE IF NOT EXISTS tools (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            category_id TEXT NOT NULL REFERENCES categories(id),
            description TEXT NOT NULL,
            image_url TEXT NOT NULL DEFAULT '',
            condition TEXT NOT NULL,
            available BOOLEAN NOT NULL DEFAULT 1,
            owner TEXT NOT NULL,
            owner_id TEXT REFERENCES users(id),
            added_date DATETIME NOT NULL,
            last_borrowed DATETIME,
            times_loaned INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS reservations (
            id TEXT PRIMARY KEY,
            tool_id TEXT NOT NULL REFERENCES tools(id),
            user_id TEXT NOT NULL REFERENCES users(id),
            start_date DATETIME NOT NULL,
            end_date DATETIME NOT NULL,
            status TEXT NOT NULL,
            created DATETIME NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_tool ON reservations(tool_id, status);`,
		`CREATE TABLE IF NOT EXISTS tool_requests (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL REFERENCES users(id),
            title TEXT NOT NULL,
            description TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'open',
            created_at DATETIME NOT NULL
        );`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.insertUserStmt, err = d.db.Prepare(`INSERT INTO users(id,name,email,neighborhood,area_code,avatar_url,password_hash,tools_borrowed,member_since) VALUES(?,?,?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	if d.insertToolStmt, err = d.db.Prepare(`INSERT INTO tools(id,name,category_id,description,image_url,condition,available,owner,owner_id,added_date,last_borrowed,times_loaned) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

// LoadSnapshot reads every collection. Derived counters are left at zero; the
// Store reconciles them on Load.
func (d *Database) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var err error
	if snap.Categories, err = d.categories(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("load categories: %w", err)
	}
	if snap.Users, err = d.users(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("load users: %w", err)
	}
	if snap.Tools, err = d.tools(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("load tools: %w", err)
	}
	if snap.Reservations, err = d.reservations(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("load reservations: %w", err)
	}
	if snap.Requests, err = d.toolRequests(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("load tool requests: %w", err)
	}
	return snap, nil
}

func (d *Database) categories(ctx context.Context) ([]Category, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id,name,icon FROM categories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Icon); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (d *Database) users(ctx context.Context) ([]User, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id,name,email,neighborhood,avatar_url,tools_borrowed,member_since FROM users ORDER BY member_since, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Neighborhood, &u.AvatarURL, &u.ToolsBorrowed, &u.MemberSince); err != nil {
			return nil, err
		}
		u.MemberSince = u.MemberSince.UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

func (d *Database) tools(ctx context.Context) ([]Tool, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id,name,category_id,description,image_url,condition,available,owner,COALESCE(owner_id,''),added_date,last_borrowed,times_loaned FROM tools ORDER BY added_date, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tool
	for rows.Next() {
		var t Tool
		var last sql.NullTime
		if err := rows.Scan(&t.ID, &t.Name, &t.CategoryID, &t.Description, &t.ImageURL, &t.Condition,
			&t.Available, &t.Owner, &t.OwnerID, &t.AddedDate, &last, &t.TimesLoaned); err != nil {
			return nil, err
		}
		t.AddedDate = t.AddedDate.UTC()
		if last.Valid {
			lb := last.Time.UTC()
			t.LastBorrowed = &lb
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (d *Database) reservations(ctx context.Context) ([]Reservation, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id,tool_id,user_id,start_date,end_date,status,created FROM reservations ORDER BY created, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.ToolID, &r.UserID, &r.StartDate, &r.EndDate, &r.Status, &r.Created); err != nil {
			return nil, err
		}
		r.StartDate, r.EndDate, r.Created = r.StartDate.UTC(), r.EndDate.UTC(), r.Created.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *Database) toolRequests(ctx context.Context) ([]ToolRequest, error) {
	rows, err := d.db.QueryContext(ctx, `
        SELECT r.id, r.user_id, u.name, u.neighborhood, r.title, r.description, r.status, r.created_at
        FROM tool_requests r
        JOIN users u ON u.id = r.user_id
        ORDER BY r.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ToolRequest
	for rows.Next() {
		var r ToolRequest
		if err := rows.Scan(&r.ID, &r.UserID, &r.RequesterName, &r.RequesterNeighborhood,
			&r.Title, &r.Description, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Persister
// ---------------------------------------------------------------------------

func (d *Database) InsertTool(ctx context.Context, t Tool) error {
	_, err := d.insertToolStmt.ExecContext(ctx, t.ID, t.Name, t.CategoryID, t.Description, t.ImageURL,
		string(t.Condition), t.Available, t.Owner, nullString(t.OwnerID), t.AddedDate, nullTime(t.LastBorrowed), t.TimesLoaned)
	if err != nil {
		return fmt.Errorf("insert tool: %w", err)
	}
	return nil
}

func (d *Database) DeleteTool(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM tools WHERE id=?`, id)
	return err
}

func (d *Database) InsertReservation(ctx context.Context, r Reservation) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO reservations(id,tool_id,user_id,start_date,end_date,status,created) VALUES(?,?,?,?,?,?,?)`,
		r.ID, r.ToolID, r.UserID, r.StartDate, r.EndDate, string(r.Status), r.Created)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (d *Database) DeleteReservation(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM reservations WHERE id=?`, id)
	return err
}

// UpdateReservation writes a status change together with the tool and
// borrower fields it affects, in one transaction.
func (d *Database) UpdateReservation(ctx context.Context, r Reservation, t Tool, borrower *User) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE reservations SET status=? WHERE id=?`, string(r.Status), r.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("reservation %s does not exist", r.ID)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tools SET available=?, times_loaned=?, last_borrowed=? WHERE id=?`,
		t.Available, t.TimesLoaned, nullTime(t.LastBorrowed), t.ID); err != nil {
		return err
	}
	if borrower != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET tools_borrowed=? WHERE id=?`, borrower.ToolsBorrowed, borrower.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (d *Database) InsertToolRequest(ctx context.Context, req ToolRequest) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO tool_requests(id,user_id,title,description,status,created_at) VALUES(?,?,?,?,?,?)`,
		req.ID, req.UserID, req.Title, req.Description, string(req.Status), req.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert tool request: %w", err)
	}
	return nil
}

func (d *Database) DeleteToolRequest(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM tool_requests WHERE id=?`, id)
	return err
}

// ---------------------------------------------------------------------------
// Seeding helpers
// ---------------------------------------------------------------------------

func (d *Database) InsertCategory(ctx context.Context, c Category) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO categories(id,name,icon) VALUES(?,?,?)`, c.ID, c.Name, c.Icon)
	return err
}

// InsertUser stores a full user row. passwordHash may be nil for accounts
// that cannot sign in.
func (d *Database) InsertUser(ctx context.Context, u User, areaCode string, passwordHash []byte) error {
	_, err := d.insertUserStmt.ExecContext(ctx, u.ID, u.Name, strings.ToLower(u.Email), u.Neighborhood, areaCode,
		u.AvatarURL, passwordHash, u.ToolsBorrowed, u.MemberSince)
	if isUniqueViolation(err) {
		return ErrEmailExists
	}
	return err
}

// ---------------------------------------------------------------------------
// Record API
// ---------------------------------------------------------------------------

// ListUsers returns every user row.
func (d *Database) ListUsers(ctx context.Context) ([]UserRecord, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id,name,email FROM users ORDER BY member_since, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []UserRecord{}
	for rows.Next() {
		var u UserRecord
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CreateUser inserts a bare user row with no credentials.
func (d *Database) CreateUser(ctx context.Context, name, email string) (UserRecord, error) {
	u := User{ID: uuid.NewString(), Name: name, Email: email, MemberSince: time.Now().UTC()}
	if err := d.InsertUser(ctx, u, "", nil); err != nil {
		return UserRecord{}, err
	}
	return UserRecord{ID: u.ID, Name: u.Name, Email: strings.ToLower(u.Email)}, nil
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

func (d *Database) CreateAccount(ctx context.Context, a identity.Account) error {
	u := User{ID: a.ID, Name: a.Name, Email: a.Email, Neighborhood: a.Neighborhood, AvatarURL: a.AvatarURL, MemberSince: a.CreatedAt}
	if err := d.InsertUser(ctx, u, a.AreaCode, a.PasswordHash); err != nil {
		if errors.Is(err, ErrEmailExists) {
			return identity.ErrEmailTaken
		}
		return err
	}
	return nil
}

func (d *Database) AccountByEmail(ctx context.Context, email string) (identity.Account, error) {
	return d.account(ctx, `email=?`, strings.ToLower(email))
}

func (d *Database) AccountByID(ctx context.Context, id string) (identity.Account, error) {
	return d.account(ctx, `id=?`, id)
}

func (d *Database) account(ctx context.Context, where string, arg any) (identity.Account, error) {
	var a identity.Account
	err := d.db.QueryRowContext(ctx, `SELECT id,name,email,neighborhood,area_code,avatar_url,password_hash,member_since FROM users WHERE `+where, arg).
		Scan(&a.ID, &a.Name, &a.Email, &a.Neighborhood, &a.AreaCode, &a.AvatarURL, &a.PasswordHash, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return identity.Account{}, identity.ErrAccountNotFound
	}
	if err != nil {
		return identity.Account{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Handle database constraint violations with user-friendly errors.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
