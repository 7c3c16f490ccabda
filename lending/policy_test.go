package lending

import (
	"errors"
	"testing"
	"time"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func TestValidateReservationWindow(t *testing.T) {
	now := time.Date(2024, 6, 8, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		start string
		end   string
		want  error
	}{
		{"pickup today ignores time of day", "2024-06-08", "2024-06-09", nil},
		{"pickup yesterday", "2024-06-07", "2024-06-09", ErrPastPickupDate},
		{"same day return", "2024-06-10", "2024-06-10", ErrReturnBeforePickup},
		{"return before pickup", "2024-06-10", "2024-06-09", ErrReturnBeforePickup},
		{"exactly fourteen days", "2024-06-10", "2024-06-24", nil},
		{"fifteen days", "2024-06-10", "2024-06-25", ErrLoanTooLong},
		{"one day", "2024-06-10", "2024-06-11", nil},
		{"past pickup wins over bad return", "2024-06-01", "2024-06-01", ErrPastPickupDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateReservationWindow(mustDate(t, tt.start), mustDate(t, tt.end), now)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("want ok, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestComputeAvailability(t *testing.T) {
	tool := Tool{ID: "t1"}
	for _, st := range []Status{StatusPending, StatusActive, StatusCompleted, StatusCancelled} {
		rs := []Reservation{
			{ID: "other", ToolID: "t2", Status: StatusActive},
			{ID: "r1", ToolID: "t1", Status: st},
		}
		got := ComputeAvailability(tool, rs)
		want := !st.Holding()
		if got != want {
			t.Fatalf("status %s: want available=%v, got %v", st, want, got)
		}
	}
	if !ComputeAvailability(tool, nil) {
		t.Fatalf("tool with no reservations should be available")
	}
}

func TestDaysRemaining(t *testing.T) {
	now := time.Date(2024, 6, 8, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		end    string
		status Status
		want   int
		ok     bool
	}{
		{"2024-06-12", StatusActive, 4, true},
		{"2024-06-09", StatusActive, 1, true},
		{"2024-06-08", StatusActive, 0, true},
		{"2024-06-05", StatusActive, -3, true},
		{"2024-06-12", StatusPending, 0, false},
		{"2024-06-12", StatusCompleted, 0, false},
	}
	for _, tt := range tests {
		r := Reservation{EndDate: mustDate(t, tt.end), Status: tt.status}
		got, ok := DaysRemaining(r, now)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("end %s status %s: want (%d,%v), got (%d,%v)", tt.end, tt.status, tt.want, tt.ok, got, ok)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusActive}:    true,
		{StatusPending, StatusCancelled}: true,
		{StatusActive, StatusCompleted}:  true,
	}
	all := []Status{StatusPending, StatusActive, StatusCompleted, StatusCancelled}
	for _, from := range all {
		for _, to := range all {
			if got := CanTransition(from, to); got != allowed[[2]Status{from, to}] {
				t.Fatalf("%s -> %s: got %v", from, to, got)
			}
		}
	}
}

func TestSortReservations(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rs := []Reservation{
		{ID: "c", Status: StatusCompleted, Created: base},
		{ID: "p-old", Status: StatusPending, Created: base},
		{ID: "x", Status: StatusCancelled, Created: base},
		{ID: "p-new", Status: StatusPending, Created: base.Add(48 * time.Hour)},
		{ID: "a", Status: StatusActive, Created: base},
	}
	SortReservations(rs)
	want := []string{"a", "p-new", "p-old", "c", "x"}
	for i, id := range want {
		if rs[i].ID != id {
			t.Fatalf("position %d: want %s, got %s", i, id, rs[i].ID)
		}
	}
}

func TestParseDateRejectsGarbage(t *testing.T) {
	if _, err := ParseDate("06/10/2024"); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("want validation error, got %v", err)
	}
	d := mustDate(t, "2024-06-10")
	if d.Location() != time.UTC || d.Hour() != 0 {
		t.Fatalf("want UTC midnight, got %v", d)
	}
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("connection refused")
	err := ExternalFailure(cause)
	if KindOf(err) != KindExternalServiceFailure {
		t.Fatalf("want external failure, got %v", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("external failure should unwrap to its cause")
	}
	if ExternalFailure(ErrToolNotFound) != ErrToolNotFound {
		t.Fatalf("tagged errors should pass through unchanged")
	}
	v := ValidationError("name", "is required")
	if v.Error() != "name: is required" {
		t.Fatalf("unexpected message %q", v.Error())
	}
	if errors.Is(v, ErrLoanTooLong) {
		t.Fatalf("kinds should not cross-match")
	}
}
