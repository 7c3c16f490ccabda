package lending

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"toolshare/internal/identity"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedDB(t *testing.T, db *Database) {
	t.Helper()
	ctx := context.Background()
	snap := testSnapshot()
	for _, c := range snap.Categories {
		if err := db.InsertCategory(ctx, c); err != nil {
			t.Fatalf("category: %v", err)
		}
	}
	for _, u := range snap.Users {
		u.MemberSince = mustDate(t, "2024-01-01")
		if err := db.InsertUser(ctx, u, "12345", nil); err != nil {
			t.Fatalf("user: %v", err)
		}
	}
	for _, tl := range snap.Tools {
		tl.AddedDate = mustDate(t, "2024-05-01")
		if err := db.InsertTool(ctx, tl); err != nil {
			t.Fatalf("tool: %v", err)
		}
	}
}

func TestDatabasePersistsStoreMutations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "toolshare.db")
	db, err := NewDatabase(path)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	seedDB(t, db)
	ctx := context.Background()

	snap, err := db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s := NewStore(WithPersister(db), WithSnapshot(snap),
		WithClock(func() time.Time { return testNow }), WithIDGenerator(seqIDs()))
	signInAs(t, s, "u1")

	r, err := s.ReserveTool(ctx, "T2", mustDate(t, "2024-06-10"), mustDate(t, "2024-06-12"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := s.ActivateReservation(ctx, r.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	added, err := s.AddTool(ctx, ToolDraft{Name: "Shop Vac", CategoryID: "1", Description: "Wet and dry shop vacuum.", Condition: ConditionGood})
	if err != nil {
		t.Fatalf("add tool: %v", err)
	}
	if _, err := s.AddToolRequest(ctx, "Tile saw", "Redoing the bathroom floor."); err != nil {
		t.Fatalf("add request: %v", err)
	}
	db.Close()

	// Reopening must not re-run the migration or lose rows.
	db, err = NewDatabase(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	snap, err = db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}

	if len(snap.Tools) != 3 || len(snap.Reservations) != 1 || len(snap.Requests) != 1 {
		t.Fatalf("unexpected snapshot sizes: tools=%d reservations=%d requests=%d",
			len(snap.Tools), len(snap.Reservations), len(snap.Requests))
	}
	got := snap.Reservations[0]
	if got.ID != r.ID || got.Status != StatusActive || !got.StartDate.Equal(r.StartDate) || !got.Created.Equal(testNow) {
		t.Fatalf("reservation round trip: %+v", got)
	}
	reloaded := NewStore(WithSnapshot(snap))
	hoe, _ := reloaded.GetToolByID("T2")
	if hoe.Available || hoe.TimesLoaned != 1 || hoe.LastBorrowed == nil {
		t.Fatalf("tool pickup fields not persisted: %+v", hoe)
	}
	vac, ok := reloaded.GetToolByID(added.ID)
	if !ok || vac.OwnerID != "u1" || !vac.AddedDate.Equal(DateOf(testNow)) {
		t.Fatalf("added tool not persisted: %+v", vac)
	}
	req := snap.Requests[0]
	if req.RequesterName != "Jane Smith" || req.RequesterNeighborhood != "Greenfield" || req.Status != RequestOpen {
		t.Fatalf("request round trip: %+v", req)
	}
	for _, u := range reloaded.Users() {
		if u.ID == "u1" && (u.ToolsBorrowed != 1 || u.ToolsContributed != 2) {
			t.Fatalf("user counters: %+v", u)
		}
	}
}

func TestUpdateReservationMissingRow(t *testing.T) {
	db := tempDB(t)
	seedDB(t, db)
	err := db.UpdateReservation(context.Background(), Reservation{ID: "nope", Status: StatusActive}, Tool{ID: "T1"}, nil)
	if err == nil {
		t.Fatalf("expected error for unknown reservation")
	}
}

func TestCompensationRemovesRows(t *testing.T) {
	db := tempDB(t)
	seedDB(t, db)
	ctx := context.Background()

	r := Reservation{ID: "r1", ToolID: "T1", UserID: "u2", StartDate: testNow, EndDate: testNow, Status: StatusPending, Created: testNow}
	if err := db.InsertReservation(ctx, r); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.DeleteReservation(ctx, r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	snap, err := db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Reservations) != 0 {
		t.Fatalf("reservation survived delete")
	}
}

func TestRecordUsers(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	users, err := db.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if users == nil || len(users) != 0 {
		t.Fatalf("want empty non-nil slice, got %#v", users)
	}

	created, err := db.CreateUser(ctx, "Ada Lovelace", "Ada@Example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Email != "ada@example.com" {
		t.Fatalf("unexpected record %+v", created)
	}
	if _, err := db.CreateUser(ctx, "Someone Else", "ada@example.com"); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("want ErrEmailExists, got %v", err)
	}

	users, err = db.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 || users[0] != created {
		t.Fatalf("want [%+v], got %+v", created, users)
	}
}

func TestAccounts(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	acct := identity.Account{
		Profile: identity.Profile{
			ID: "a1", Name: "Priya Patel", Email: "priya@example.com",
			Neighborhood: "Oak Hills", AreaCode: "54321", CreatedAt: testNow,
		},
		PasswordHash: []byte("hash"),
	}
	if err := db.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("create account: %v", err)
	}
	dup := acct
	dup.ID = "a2"
	if err := db.CreateAccount(ctx, dup); !errors.Is(err, identity.ErrEmailTaken) {
		t.Fatalf("want ErrEmailTaken, got %v", err)
	}

	got, err := db.AccountByEmail(ctx, "PRIYA@example.com")
	if err != nil {
		t.Fatalf("by email: %v", err)
	}
	if got.ID != "a1" || got.AreaCode != "54321" || string(got.PasswordHash) != "hash" || !got.CreatedAt.Equal(testNow) {
		t.Fatalf("unexpected account %+v", got)
	}
	if _, err := db.AccountByID(ctx, "missing"); !errors.Is(err, identity.ErrAccountNotFound) {
		t.Fatalf("want ErrAccountNotFound, got %v", err)
	}
}
