package lending

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Persister durably records Store mutations. Every call receives fully built
// entities; the Store only applies a mutation in memory after the matching
// call returns nil. The Delete* calls undo an insert whose in-memory apply
// was rejected.
type Persister interface {
	InsertTool(ctx context.Context, t Tool) error
	DeleteTool(ctx context.Context, id string) error
	InsertReservation(ctx context.Context, r Reservation) error
	DeleteReservation(ctx context.Context, id string) error
	UpdateReservation(ctx context.Context, r Reservation, t Tool, borrower *User) error
	InsertToolRequest(ctx context.Context, req ToolRequest) error
	DeleteToolRequest(ctx context.Context, id string) error
}

// SessionInvalidator ends the external session backing the Store's current user.
type SessionInvalidator interface {
	SignOut(ctx context.Context) error
}

// Change tells subscribers which part of the Store moved.
type Change int

const (
	ChangeFilter Change = iota + 1
	ChangeCatalog
	ChangeReservations
	ChangeSession
	ChangeRequests
)

// Store owns the tool, category, user, reservation and request collections
// and is their only writer. All methods are safe for concurrent use; mutations
// are serialized and no partially applied state is ever observable.
type Store struct {
	mu sync.Mutex

	now         func() time.Time
	newID       func() string
	persist     Persister
	invalidator SessionInvalidator
	log         *slog.Logger

	loaded       bool
	tools        []Tool
	categories   []Category
	users        []User
	reservations []Reservation
	requests     []ToolRequest

	// session
	sessionID   string
	sessionUser User
	epoch       uint64

	searchTerm       string
	selectedCategory string
	filtered         []Tool

	// in-flight mutations, keyed by tool or reservation ID
	toolHolds map[string]struct{}
	resHolds  map[string]struct{}

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for policy checks and timestamps.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithPersister makes every mutation durable before it is applied.
func WithPersister(p Persister) Option { return func(s *Store) { s.persist = p } }

// WithSessionInvalidator wires the external sign-out called by SignOut.
func WithSessionInvalidator(inv SessionInvalidator) Option {
	return func(s *Store) { s.invalidator = inv }
}

// WithIDGenerator overrides entity ID generation.
func WithIDGenerator(gen func() string) Option { return func(s *Store) { s.newID = gen } }

// WithLogger sets the logger for persist failures and compensations.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.log = l } }

// WithSnapshot loads initial state at construction.
func WithSnapshot(snap Snapshot) Option {
	return func(s *Store) { s.loadLocked(snap) }
}

// NewStore builds an empty Store and applies opts in order.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:       time.Now,
		newID:     uuid.NewString,
		log:       slog.Default(),
		toolHolds: make(map[string]struct{}),
		resHolds:  make(map[string]struct{}),
		subs:      make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.recomputeFilteredView()
	return s
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load replaces every collection with snap and reconciles derived fields.
// A session established before Load is kept and rebound to the loaded record.
func (s *Store) Load(snap Snapshot) {
	s.mu.Lock()
	s.loadLocked(snap)
	s.recomputeFilteredView()
	s.mu.Unlock()
	s.notify(ChangeCatalog)
}

// Loaded reports whether catalog data has been loaded.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *Store) loadLocked(snap Snapshot) {
	s.tools = append([]Tool(nil), snap.Tools...)
	s.categories = append([]Category(nil), snap.Categories...)
	s.users = append([]User(nil), snap.Users...)
	s.reservations = append([]Reservation(nil), snap.Reservations...)
	s.requests = append([]ToolRequest(nil), snap.Requests...)
	s.loaded = true

	if s.sessionID != "" && s.userIndex(s.sessionID) < 0 {
		s.users = append(s.users, s.sessionUser)
	}
	s.reconcile()
}

// reconcile recomputes availability, category counts and contributed counters
// from the primary collections.
func (s *Store) reconcile() {
	for i := range s.tools {
		s.tools[i].Available = ComputeAvailability(s.tools[i], s.reservations)
	}
	for i := range s.categories {
		n := 0
		for _, t := range s.tools {
			if t.CategoryID == s.categories[i].ID {
				n++
			}
		}
		s.categories[i].ToolCount = n
	}
	for i := range s.users {
		n := 0
		for _, t := range s.tools {
			if ownedBy(t, s.users[i]) {
				n++
			}
		}
		s.users[i].ToolsContributed = n
	}
}

func ownedBy(t Tool, u User) bool {
	if t.OwnerID != "" {
		return t.OwnerID == u.ID
	}
	return t.Owner == u.Name
}

// ---------------------------------------------------------------------------
// Filters
// ---------------------------------------------------------------------------

// SetSearchTerm filters the catalog by name or description; "" clears the filter.
func (s *Store) SetSearchTerm(term string) {
	s.mu.Lock()
	s.searchTerm = term
	s.recomputeFilteredView()
	s.mu.Unlock()
	s.notify(ChangeFilter)
}

// SetSelectedCategory filters the catalog to one category; "" clears the filter.
func (s *Store) SetSelectedCategory(categoryID string) {
	s.mu.Lock()
	s.selectedCategory = categoryID
	s.recomputeFilteredView()
	s.mu.Unlock()
	s.notify(ChangeFilter)
}

func (s *Store) SearchTerm() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searchTerm
}

func (s *Store) SelectedCategory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedCategory
}

// recomputeFilteredView rebuilds the filtered catalog. Caller holds s.mu.
func (s *Store) recomputeFilteredView() {
	term := strings.ToLower(s.searchTerm)
	out := make([]Tool, 0, len(s.tools))
	for _, t := range s.tools {
		if s.selectedCategory != "" && t.CategoryID != s.selectedCategory {
			continue
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(t.Name), term) &&
			!strings.Contains(strings.ToLower(t.Description), term) {
			continue
		}
		out = append(out, t)
	}
	s.filtered = out
}

// FilteredTools returns the catalog after search and category filters.
func (s *Store) FilteredTools() []Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Tool(nil), s.filtered...)
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Tools returns a copy of the full catalog.
func (s *Store) Tools() []Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Tool(nil), s.tools...)
}

func (s *Store) Categories() []Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Category(nil), s.categories...)
}

// Users returns a copy of every known user.
func (s *Store) Users() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]User(nil), s.users...)
}

func (s *Store) Reservations() []Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Reservation(nil), s.reservations...)
}

func (s *Store) GetToolByID(id string) (Tool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.toolIndex(id); i >= 0 {
		return s.tools[i], true
	}
	return Tool{}, false
}

// RecentTools returns up to n tools, most recently added first.
func (s *Store) RecentTools(n int) []Tool {
	return s.topTools(n, func(a, b Tool) bool { return a.AddedDate.After(b.AddedDate) })
}

// PopularTools returns up to n tools, most loaned first.
func (s *Store) PopularTools(n int) []Tool {
	return s.topTools(n, func(a, b Tool) bool { return a.TimesLoaned > b.TimesLoaned })
}

func (s *Store) topTools(n int, less func(a, b Tool) bool) []Tool {
	s.mu.Lock()
	out := append([]Tool(nil), s.tools...)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// GetUserReservations returns every reservation made by userID in insertion order.
func (s *Store) GetUserReservations(userID string) []Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Reservation
	for _, r := range s.reservations {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

// FilterUserReservations narrows a user's reservations by status ("" for all)
// and tool-name substring, then sorts them for display.
func (s *Store) FilterUserReservations(userID string, status Status, query string) []Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(query)
	var out []Reservation
	for _, r := range s.reservations {
		if r.UserID != userID || (status != "" && r.Status != status) {
			continue
		}
		if q != "" {
			i := s.toolIndex(r.ToolID)
			if i < 0 || !strings.Contains(strings.ToLower(s.tools[i].Name), q) {
				continue
			}
		}
		out = append(out, r)
	}
	SortReservations(out)
	return out
}

// CurrentUser returns the signed-in user with up-to-date counters.
func (s *Store) CurrentUser() (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentUser()
}

func (s *Store) currentUser() (User, bool) {
	if s.sessionID == "" {
		return User{}, false
	}
	if i := s.userIndex(s.sessionID); i >= 0 {
		return s.users[i], true
	}
	return s.sessionUser, true
}

func (s *Store) toolIndex(id string) int {
	for i := range s.tools {
		if s.tools[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) userIndex(id string) int {
	for i := range s.users {
		if s.users[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) reservationIndex(id string) int {
	for i := range s.reservations {
		if s.reservations[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) categoryIndex(id string) int {
	for i := range s.categories {
		if s.categories[i].ID == id {
			return i
		}
	}
	return -1
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// SignIn makes u the current user. A known user keeps the Store's record;
// an unknown one (fresh sign-up) joins the user collection. Signing in the
// user who already holds the session does not start a new session.
func (s *Store) SignIn(u User) {
	s.mu.Lock()
	if s.sessionID != u.ID {
		s.epoch++
	}
	s.sessionID = u.ID
	s.sessionUser = u
	if s.userIndex(u.ID) < 0 {
		s.users = append(s.users, u)
	}
	s.mu.Unlock()
	s.notify(ChangeSession)
}

// SignOut ends the external session first and clears local state only once
// that succeeds.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	signedIn := s.sessionID != ""
	s.mu.Unlock()
	if !signedIn {
		return nil
	}
	if s.invalidator != nil {
		if err := s.invalidator.SignOut(ctx); err != nil {
			return ExternalFailure(err)
		}
	}
	s.ExpireSession()
	return nil
}

// ExpireSession clears the current user without contacting the identity
// provider. It is the entry point for provider-initiated sign-outs.
func (s *Store) ExpireSession() {
	s.expireSession("")
}

// expireSession clears the session if userID holds it; "" matches any user.
func (s *Store) expireSession(userID string) bool {
	s.mu.Lock()
	if s.sessionID == "" || (userID != "" && s.sessionID != userID) {
		s.mu.Unlock()
		return false
	}
	s.sessionID = ""
	s.sessionUser = User{}
	s.epoch++
	s.mu.Unlock()
	s.notify(ChangeSession)
	return true
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// ReserveTool creates a pending reservation for the current user.
func (s *Store) ReserveTool(ctx context.Context, toolID string, start, end time.Time) (Reservation, error) {
	s.mu.Lock()
	user, ok := s.currentUser()
	if !ok {
		s.mu.Unlock()
		return Reservation{}, &Error{Kind: KindNotAuthenticated}
	}
	i := s.toolIndex(toolID)
	if i < 0 {
		s.mu.Unlock()
		return Reservation{}, &Error{Kind: KindToolNotFound}
	}
	if _, held := s.toolHolds[toolID]; held || !ComputeAvailability(s.tools[i], s.reservations) {
		s.mu.Unlock()
		return Reservation{}, &Error{Kind: KindToolUnavailable}
	}
	now := s.now()
	if err := ValidateReservationWindow(start, end, now); err != nil {
		s.mu.Unlock()
		return Reservation{}, err
	}
	r := Reservation{
		ID:        s.newID(),
		ToolID:    toolID,
		UserID:    user.ID,
		StartDate: DateOf(start),
		EndDate:   DateOf(end),
		Status:    StatusPending,
		Created:   now,
	}
	epoch := s.epoch
	s.toolHolds[toolID] = struct{}{}
	s.mu.Unlock()
	defer s.release(s.toolHolds, toolID)

	err := s.commit(ctx, "reserve tool", epoch,
		func(p Persister) error { return p.InsertReservation(ctx, r) },
		func(p Persister) error { return p.DeleteReservation(ctx, r.ID) },
		func() error {
			i := s.toolIndex(toolID)
			if i < 0 {
				return &Error{Kind: KindToolNotFound}
			}
			s.reservations = append(s.reservations, r)
			s.tools[i].Available = false
			return nil
		})
	if err != nil {
		return Reservation{}, err
	}
	s.notify(ChangeReservations)
	return r, nil
}

// AddTool lists a new tool owned by the current user.
func (s *Store) AddTool(ctx context.Context, draft ToolDraft) (Tool, error) {
	draft.Name = strings.TrimSpace(draft.Name)
	draft.Description = strings.TrimSpace(draft.Description)
	draft.ImageURL = strings.TrimSpace(draft.ImageURL)

	s.mu.Lock()
	user, ok := s.currentUser()
	if !ok {
		s.mu.Unlock()
		return Tool{}, &Error{Kind: KindNotAuthenticated}
	}
	if err := validateStruct(draft); err != nil {
		s.mu.Unlock()
		return Tool{}, err
	}
	if s.categoryIndex(draft.CategoryID) < 0 {
		s.mu.Unlock()
		return Tool{}, ValidationError("category", "unknown category")
	}
	t := Tool{
		ID:          s.newID(),
		Name:        draft.Name,
		CategoryID:  draft.CategoryID,
		Description: draft.Description,
		ImageURL:    draft.ImageURL,
		Condition:   draft.Condition,
		Available:   true,
		Owner:       user.Name,
		OwnerID:     user.ID,
		AddedDate:   DateOf(s.now()),
	}
	epoch := s.epoch
	s.mu.Unlock()

	err := s.commit(ctx, "add tool", epoch,
		func(p Persister) error { return p.InsertTool(ctx, t) },
		func(p Persister) error { return p.DeleteTool(ctx, t.ID) },
		func() error {
			c := s.categoryIndex(t.CategoryID)
			if c < 0 {
				return ValidationError("category", "unknown category")
			}
			s.tools = append(s.tools, t)
			s.categories[c].ToolCount++
			if u := s.userIndex(t.OwnerID); u >= 0 {
				s.users[u].ToolsContributed++
			}
			return nil
		})
	if err != nil {
		return Tool{}, err
	}
	s.notify(ChangeCatalog)
	return t, nil
}

// ActivateReservation records the pickup of a pending reservation.
func (s *Store) ActivateReservation(ctx context.Context, id string) (Reservation, error) {
	return s.transition(ctx, id, StatusActive, false)
}

// CompleteReservation records the return of an active reservation.
func (s *Store) CompleteReservation(ctx context.Context, id string) (Reservation, error) {
	return s.transition(ctx, id, StatusCompleted, false)
}

// CancelReservation withdraws one of the current user's pending reservations.
func (s *Store) CancelReservation(ctx context.Context, id string) (Reservation, error) {
	return s.transition(ctx, id, StatusCancelled, true)
}

func (s *Store) transition(ctx context.Context, id string, to Status, gated bool) (Reservation, error) {
	s.mu.Lock()
	ri := s.reservationIndex(id)
	if ri < 0 {
		s.mu.Unlock()
		return Reservation{}, &Error{Kind: KindReservationNotFound}
	}
	prev := s.reservations[ri]
	if gated {
		user, ok := s.currentUser()
		if !ok {
			s.mu.Unlock()
			return Reservation{}, &Error{Kind: KindNotAuthenticated}
		}
		if user.ID != prev.UserID {
			s.mu.Unlock()
			return Reservation{}, &Error{Kind: KindNotAuthenticated, Msg: "reservation belongs to another user"}
		}
	}
	if _, held := s.resHolds[id]; held || !CanTransition(prev.Status, to) {
		s.mu.Unlock()
		return Reservation{}, &Error{Kind: KindInvalidTransition, Msg: string(prev.Status) + " -> " + string(to)}
	}
	ti := s.toolIndex(prev.ToolID)
	if ti < 0 {
		s.mu.Unlock()
		return Reservation{}, &Error{Kind: KindToolNotFound}
	}
	prevTool := s.tools[ti]

	next := prev
	next.Status = to
	tool := prevTool
	var borrower, prevBorrower *User
	switch to {
	case StatusActive:
		when := DateOf(s.now())
		tool.TimesLoaned++
		tool.LastBorrowed = &when
		tool.Available = false
		if ui := s.userIndex(prev.UserID); ui >= 0 {
			before, after := s.users[ui], s.users[ui]
			after.ToolsBorrowed++
			prevBorrower, borrower = &before, &after
		}
	default:
		tool.Available = ComputeAvailability(tool, withReservation(s.reservations, ri, next))
	}
	epoch := s.epoch
	if !gated {
		epoch = 0
	}
	s.resHolds[id] = struct{}{}
	s.mu.Unlock()
	defer s.release(s.resHolds, id)

	err := s.commit(ctx, "reservation "+string(to), epoch,
		func(p Persister) error { return p.UpdateReservation(ctx, next, tool, borrower) },
		func(p Persister) error { return p.UpdateReservation(ctx, prev, prevTool, prevBorrower) },
		func() error {
			ri, ti := s.reservationIndex(id), s.toolIndex(prev.ToolID)
			if ri < 0 || ti < 0 {
				return &Error{Kind: KindReservationNotFound}
			}
			s.reservations[ri] = next
			s.tools[ti] = tool
			if borrower != nil {
				if ui := s.userIndex(borrower.ID); ui >= 0 {
					s.users[ui].ToolsBorrowed++
				}
			}
			return nil
		})
	if err != nil {
		return Reservation{}, err
	}
	s.notify(ChangeReservations)
	return next, nil
}

func withReservation(rs []Reservation, i int, r Reservation) []Reservation {
	out := append([]Reservation(nil), rs...)
	out[i] = r
	return out
}

// commit persists a staged mutation outside the lock and then applies it.
// A non-zero epoch gates the apply on the session being unchanged since
// staging; when the gate or apply fails after a successful persist, undo
// restores the durable state.
func (s *Store) commit(ctx context.Context, op string, epoch uint64, persist, undo func(Persister) error, apply func() error) error {
	if s.persist != nil {
		if err := persist(s.persist); err != nil {
			s.log.Warn("persist failed", "op", op, "error", err)
			return ExternalFailure(err)
		}
	}

	s.mu.Lock()
	var err error
	if epoch != 0 && (s.epoch != epoch || s.sessionID == "") {
		err = &Error{Kind: KindNotAuthenticated, Msg: "session ended before " + op + " completed"}
	} else {
		err = apply()
	}
	if err == nil {
		s.recomputeFilteredView()
	}
	s.mu.Unlock()

	if err != nil && s.persist != nil {
		if uerr := undo(s.persist); uerr != nil {
			s.log.Error("compensation failed", "op", op, "error", uerr)
		}
	}
	return err
}

func (s *Store) release(holds map[string]struct{}, id string) {
	s.mu.Lock()
	delete(holds, id)
	s.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

// Subscribe registers fn for change notifications and returns a cancel func.
// fn runs after the Store's lock is released and may read from the Store.
func (s *Store) Subscribe(fn func(Change)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
