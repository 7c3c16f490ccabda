package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"toolshare/internal/identity"
	"toolshare/lending"
)

// shell is the interactive front end. It reads from the Store and calls its
// operations; it never touches collections directly.
type shell struct {
	app *app
	in  io.Reader
	sc  *bufio.Scanner
	out io.Writer
}

func newShell(a *app, in io.Reader, out io.Writer) *shell {
	return &shell{app: a, in: in, sc: bufio.NewScanner(in), out: out}
}

func (s *shell) printf(format string, args ...any) { fmt.Fprintf(s.out, format, args...) }

func (s *shell) println(args ...any) { fmt.Fprintln(s.out, args...) }

func (s *shell) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.println("Welcome to ToolShare, the neighborhood tool library!")
	s.println("Available commands:")
	s.println("  Account: sign up, sign in, sign out, whoami")
	s.println("  Catalog: list tools, recent tools, popular tools, search, category, categories, tool, add tool")
	s.println("  Loans: reserve, my reservations, cancel reservation, pickup, return")
	s.println("  Requests: requests, new request")
	s.println("  System: exit")

	for {
		s.printf("\n> ")
		if !s.sc.Scan() {
			return s.sc.Err()
		}
		cmd := strings.TrimSpace(s.sc.Text())

		switch cmd {
		case "sign up":
			s.handleSignUp(ctx)
		case "sign in":
			s.handleSignIn(ctx)
		case "sign out":
			s.handleSignOut(ctx)
		case "whoami":
			s.handleWhoAmI()
		case "list tools":
			s.handleListTools()
		case "recent tools":
			s.printTools(s.app.store.RecentTools(homeListSize))
		case "popular tools":
			s.printTools(s.app.store.PopularTools(homeListSize))
		case "search":
			s.handleSearch()
		case "category":
			s.handleCategory()
		case "categories":
			s.handleCategories()
		case "tool":
			s.handleToolDetail()
		case "add tool":
			s.handleAddTool(ctx)
		case "reserve":
			s.handleReserve(ctx)
		case "my reservations":
			s.handleMyReservations()
		case "cancel reservation":
			s.handleTransition(ctx, "Reservation ID to cancel: ", s.app.store.CancelReservation)
		case "pickup":
			s.handleTransition(ctx, "Reservation ID picked up: ", s.app.store.ActivateReservation)
		case "return":
			s.handleTransition(ctx, "Reservation ID returned: ", s.app.store.CompleteReservation)
		case "requests":
			s.handleListRequests()
		case "new request":
			s.handleNewRequest(ctx)
		case "":
			continue
		case "exit":
			s.println("Goodbye!")
			return nil
		default:
			s.println("Unknown command. Type one of the available commands listed above.")
		}
	}
}

func (s *shell) prompt(label string) (string, bool) {
	s.printf("%s", label)
	if !s.sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(s.sc.Text()), true
}

// readPassword reads a masked password from a terminal, or a plain line otherwise.
func (s *shell) readPassword(label string) (string, bool) {
	if f, ok := s.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		s.printf("%s", label)
		b, err := term.ReadPassword(int(f.Fd()))
		s.println()
		if err != nil {
			s.printf("Error reading password: %v\n", err)
			return "", false
		}
		return strings.TrimSpace(string(b)), true
	}
	return s.prompt(label)
}

// ------------------ Account ------------------

func (s *shell) handleSignUp(ctx context.Context) {
	var req identity.SignUpRequest
	var ok bool
	if req.Name, ok = s.prompt("Name: "); !ok {
		return
	}
	if req.Email, ok = s.prompt("Email: "); !ok {
		return
	}
	if req.Neighborhood, ok = s.prompt("Neighborhood: "); !ok {
		return
	}
	if req.AreaCode, ok = s.prompt("Area code (5 digits): "); !ok {
		return
	}
	if req.Password, ok = s.readPassword("Password (min 6 characters): "); !ok {
		return
	}

	profile, err := s.app.identity.SignUp(ctx, req)
	if err != nil {
		s.printf("Sign up failed: %v\n", err)
		return
	}
	if _, err := s.app.session.ApplySignIn(ctx, profile.ID); err != nil {
		s.printf("Account created, but loading your profile failed: %v\n", err)
		return
	}
	s.printf("Welcome, %s! Your account is ready.\n", profile.Name)
}

func (s *shell) handleSignIn(ctx context.Context) {
	email, ok := s.prompt("Email: ")
	if !ok {
		return
	}
	password, ok := s.readPassword("Password: ")
	if !ok {
		return
	}
	profile, err := s.app.identity.SignIn(ctx, email, password)
	if err != nil {
		s.printf("Sign in failed: %v\n", err)
		return
	}
	if _, err := s.app.session.ApplySignIn(ctx, profile.ID); err != nil {
		s.printf("Signed in, but loading your profile failed: %v\n", err)
		return
	}
	s.printf("Signed in as %s\n", profile.Name)
}

func (s *shell) handleSignOut(ctx context.Context) {
	if err := s.app.store.SignOut(ctx); err != nil {
		s.printf("Sign out failed: %v\n", err)
		return
	}
	s.println("Signed out.")
}

func (s *shell) handleWhoAmI() {
	u, ok := s.app.store.CurrentUser()
	if !ok {
		s.println("Not signed in.")
		return
	}
	s.printf("%s <%s> from %s\n", u.Name, u.Email, u.Neighborhood)
	s.printf("Member since %s | Tools contributed: %d | Tools borrowed: %d\n",
		lending.FormatDate(u.MemberSince), u.ToolsContributed, u.ToolsBorrowed)
}

// ------------------ Catalog ------------------

func (s *shell) handleListTools() {
	tools := s.app.store.FilteredTools()
	if term, cat := s.app.store.SearchTerm(), s.app.store.SelectedCategory(); term != "" || cat != "" {
		s.printf("Filters: search=%q category=%q\n", term, cat)
	}
	s.printTools(tools)
}

// homeListSize is how many tools the recent and popular lists show.
const homeListSize = 4

func (s *shell) printTools(tools []lending.Tool) {
	if len(tools) == 0 {
		s.println("No tools match.")
		return
	}
	s.printf("%-38s %-25s %-14s %-10s %-20s\n", "ID", "Name", "Condition", "Available", "Owner")
	s.println(strings.Repeat("-", 110))
	for _, t := range tools {
		avail := "Yes"
		if !t.Available {
			avail = "No"
		}
		s.printf("%-38s %-25s %-14s %-10s %-20s\n", t.ID, truncateString(t.Name, 25), t.Condition, avail, truncateString(t.Owner, 20))
	}
}

func (s *shell) handleSearch() {
	q, ok := s.prompt("Search term (empty clears): ")
	if !ok {
		return
	}
	s.app.store.SetSearchTerm(q)
	s.handleListTools()
}

func (s *shell) handleCategory() {
	id, ok := s.prompt("Category ID (empty clears): ")
	if !ok {
		return
	}
	s.app.store.SetSelectedCategory(id)
	s.handleListTools()
}

func (s *shell) handleCategories() {
	cats := s.app.store.Categories()
	if len(cats) == 0 {
		s.println("No categories.")
		return
	}
	s.printf("%-38s %-25s %s\n", "ID", "Name", "Tools")
	s.println(strings.Repeat("-", 75))
	for _, c := range cats {
		s.printf("%-38s %-25s %d\n", c.ID, truncateString(c.Name, 25), c.ToolCount)
	}
}

func (s *shell) handleToolDetail() {
	id, ok := s.prompt("Tool ID: ")
	if !ok {
		return
	}
	t, found := s.app.store.GetToolByID(id)
	if !found {
		s.printf("Tool %s not found\n", id)
		return
	}
	s.printf("%s (%s)\n", t.Name, t.Condition)
	s.printf("%s\n", t.Description)
	s.printf("Owner: %s | Added: %s | Times loaned: %d\n", t.Owner, lending.FormatDate(t.AddedDate), t.TimesLoaned)
	if t.LastBorrowed != nil {
		s.printf("Last borrowed: %s\n", lending.FormatDate(*t.LastBorrowed))
	}
	if t.Available {
		s.println("Available to reserve.")
	} else {
		s.println("Currently reserved or on loan.")
	}
}

func (s *shell) handleAddTool(ctx context.Context) {
	var d lending.ToolDraft
	var ok bool
	if d.Name, ok = s.prompt("Tool name: "); !ok {
		return
	}
	if d.CategoryID, ok = s.prompt("Category ID: "); !ok {
		return
	}
	if d.Description, ok = s.prompt("Description: "); !ok {
		return
	}
	cond, ok := s.prompt("Condition (excellent, good, fair, needs repair): ")
	if !ok {
		return
	}
	d.Condition = lending.Condition(strings.ToLower(cond))
	if d.ImageURL, ok = s.prompt("Image URL (optional): "); !ok {
		return
	}

	t, err := s.app.store.AddTool(ctx, d)
	if err != nil {
		s.printf("Error adding tool: %v\n", err)
		return
	}
	s.printf("Added tool %s with ID %s\n", t.Name, t.ID)
}

// ------------------ Loans ------------------

func (s *shell) handleReserve(ctx context.Context) {
	toolID, ok := s.prompt("Tool ID: ")
	if !ok {
		return
	}
	startStr, ok := s.prompt("Pickup date (YYYY-MM-DD): ")
	if !ok {
		return
	}
	endStr, ok := s.prompt("Return date (YYYY-MM-DD): ")
	if !ok {
		return
	}
	if startStr == "" || endStr == "" {
		s.println("Please select both pickup and return dates")
		return
	}
	start, err := lending.ParseDate(startStr)
	if err != nil {
		s.printf("Invalid pickup date: %s\n", startStr)
		return
	}
	end, err := lending.ParseDate(endStr)
	if err != nil {
		s.printf("Invalid return date: %s\n", endStr)
		return
	}

	r, err := s.app.store.ReserveTool(ctx, toolID, start, end)
	if err != nil {
		s.printf("Error reserving tool: %v\n", err)
		return
	}
	t, _ := s.app.store.GetToolByID(r.ToolID)
	s.printf("Reservation %s for '%s' is pending (%s to %s)\n", r.ID, t.Name,
		lending.FormatDate(r.StartDate), lending.FormatDate(r.EndDate))
}

func (s *shell) handleMyReservations() {
	u, ok := s.app.store.CurrentUser()
	if !ok {
		s.println("Please sign in to view your reservations.")
		return
	}
	status, ok := s.prompt("Status filter (all, active, pending, completed, cancelled): ")
	if !ok {
		return
	}
	if status == "all" {
		status = ""
	}
	if status != "" && !lending.Status(status).Valid() {
		s.printf("Unknown status: %s\n", status)
		return
	}
	rs := s.app.store.FilterUserReservations(u.ID, lending.Status(status), "")
	if len(rs) == 0 {
		if status != "" {
			s.printf("You don't have any %s reservations.\n", status)
		} else {
			s.println("You don't have any reservations yet.")
		}
		return
	}

	now := time.Now()
	s.printf("%-38s %-25s %-11s %-11s %-10s %s\n", "ID", "Tool", "Pickup", "Return", "Status", "")
	s.println(strings.Repeat("-", 120))
	for _, r := range rs {
		t, _ := s.app.store.GetToolByID(r.ToolID)
		s.printf("%-38s %-25s %-11s %-11s %-10s %s\n", r.ID, truncateString(t.Name, 25),
			lending.FormatDate(r.StartDate), lending.FormatDate(r.EndDate), r.Status, dueText(r, now))
	}
}

func dueText(r lending.Reservation, now time.Time) string {
	days, ok := lending.DaysRemaining(r, now)
	switch {
	case !ok:
		return ""
	case days < 0:
		return fmt.Sprintf("Overdue by %d day(s)", -days)
	case days == 0:
		return "Due today"
	default:
		return fmt.Sprintf("%d day(s) remaining", days)
	}
}

func (s *shell) handleTransition(ctx context.Context, label string, op func(context.Context, string) (lending.Reservation, error)) {
	id, ok := s.prompt(label)
	if !ok {
		return
	}
	r, err := op(ctx, id)
	if err != nil {
		s.printf("Error: %v\n", err)
		return
	}
	s.printf("Reservation %s is now %s\n", r.ID, r.Status)
}

// ------------------ Requests ------------------

func (s *shell) handleListRequests() {
	q, ok := s.prompt("Search (optional): ")
	if !ok {
		return
	}
	status, ok := s.prompt("Status (all, open, fulfilled, closed): ")
	if !ok {
		return
	}
	if status == "all" {
		status = ""
	}
	reqs := s.app.store.ToolRequests(lending.RequestFilter{Search: q, Status: lending.RequestStatus(status)})
	if len(reqs) == 0 {
		s.println("No requests found.")
		return
	}
	for _, r := range reqs {
		s.printf("[%s] %s (%s)\n", r.Status, r.Title, r.CreatedAt.Format("2006-01-02"))
		s.printf("    %s\n", r.Description)
		s.printf("    by %s, %s\n", r.RequesterName, r.RequesterNeighborhood)
	}
}

func (s *shell) handleNewRequest(ctx context.Context) {
	title, ok := s.prompt("What are you looking for? ")
	if !ok {
		return
	}
	desc, ok := s.prompt("Description: ")
	if !ok {
		return
	}
	r, err := s.app.store.AddToolRequest(ctx, title, desc)
	if err != nil {
		var le *lending.Error
		if errors.As(err, &le) && le.Kind == lending.KindExternalServiceFailure {
			s.printf("Failed to create request, please try again: %v\n", err)
			return
		}
		s.printf("Error: %v\n", err)
		return
	}
	s.printf("Request %q posted.\n", r.Title)
}

func truncateString(s string, maxLength int) string {
	r := []rune(s)
	if len(r) <= maxLength {
		return s
	}
	return string(r[:maxLength-3]) + "..."
}
