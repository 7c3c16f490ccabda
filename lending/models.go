package lending

import "time"

// Condition describes the physical state of a tool as reported by its owner.
type Condition string

const (
	ConditionExcellent   Condition = "excellent"
	ConditionGood        Condition = "good"
	ConditionFair        Condition = "fair"
	ConditionNeedsRepair Condition = "needs repair"
)

// Valid reports whether c is one of the known conditions.
func (c Condition) Valid() bool {
	switch c {
	case ConditionExcellent, ConditionGood, ConditionFair, ConditionNeedsRepair:
		return true
	}
	return false
}

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Holding reports whether a reservation in this status keeps the tool out of circulation.
func (s Status) Holding() bool { return s == StatusPending || s == StatusActive }

// Tool is a lendable item in the neighborhood catalog.
type Tool struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	CategoryID   string     `json:"category"`
	Description  string     `json:"description"`
	ImageURL     string     `json:"image_url"`
	Condition    Condition  `json:"condition"`
	Available    bool       `json:"available"`
	Owner        string     `json:"owner"`
	OwnerID      string     `json:"owner_id"`
	AddedDate    time.Time  `json:"added_date"`
	LastBorrowed *time.Time `json:"last_borrowed,omitempty"`
	TimesLoaned  int        `json:"times_loaned"`
}

// Category groups tools. ToolCount is derived from the tool collection.
type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon"`
	ToolCount int    `json:"tool_count"`
}

// User is a registered neighbor.
type User struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Neighborhood     string    `json:"neighborhood"`
	AvatarURL        string    `json:"avatar,omitempty"`
	ToolsContributed int       `json:"tools_contributed"`
	ToolsBorrowed    int       `json:"tools_borrowed"`
	MemberSince      time.Time `json:"member_since"`
}

// Reservation is a time-boxed claim by a user on a tool.
// StartDate and EndDate are calendar dates at UTC midnight.
type Reservation struct {
	ID        string    `json:"id"`
	ToolID    string    `json:"tool_id"`
	UserID    string    `json:"user_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Status    Status    `json:"status"`
	Created   time.Time `json:"created"`
}

// ToolDraft carries the owner-supplied fields of a new tool.
type ToolDraft struct {
	Name        string    `json:"name" validate:"required"`
	CategoryID  string    `json:"category" validate:"required"`
	Description string    `json:"description" validate:"required,min=10"`
	ImageURL    string    `json:"image_url" validate:"omitempty,url"`
	Condition   Condition `json:"condition" validate:"condition"`
}

// RequestStatus is the state of a tool request listing.
type RequestStatus string

const (
	RequestOpen      RequestStatus = "open"
	RequestFulfilled RequestStatus = "fulfilled"
	RequestClosed    RequestStatus = "closed"
)

// ToolRequest is a "looking for" listing posted by a neighbor.
type ToolRequest struct {
	ID                    string        `json:"id"`
	UserID                string        `json:"user_id"`
	RequesterName         string        `json:"requester_name"`
	RequesterNeighborhood string        `json:"requester_neighborhood"`
	Title                 string        `json:"title" validate:"required,min=3"`
	Description           string        `json:"description" validate:"required"`
	Status                RequestStatus `json:"status"`
	CreatedAt             time.Time     `json:"created_at"`
}

// Snapshot is the complete state the Store is loaded from.
type Snapshot struct {
	Tools        []Tool
	Categories   []Category
	Users        []User
	Reservations []Reservation
	Requests     []ToolRequest
}
