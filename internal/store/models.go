package store

import (
	"time"

	"tasklane/api/internal/rbac"
)

type TaskStatus string

const (
	StatusTodo       TaskStatus = "TODO"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusInReview   TaskStatus = "IN_REVIEW"
	StatusDone       TaskStatus = "DONE"
)

// Valid reports whether s is one of the four board columns.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusInReview, StatusDone:
		return true
	default:
		return false
	}
}

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

type Workspace struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	InviteCode string    `json:"inviteCode"`
	UserID     string    `json:"userId"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Membership struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	UserID      string    `json:"userId"`
	Role        rbac.Role `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

// MemberProfile is a membership joined with its user for listings.
type MemberProfile struct {
	Membership
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	WorkspaceID string    `json:"workspaceId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	ProjectID   string     `json:"projectId"`
	WorkspaceID string     `json:"workspaceId"`
	AssigneeID  string     `json:"assigneeId"`
	Position    float64    `json:"position"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TaskView is a task populated with its project and assignee for listings.
type TaskView struct {
	Task
	Project  *Project       `json:"project,omitempty"`
	Assignee *MemberProfile `json:"assignee,omitempty"`
}

// WorkspacePatch and friends carry optional field updates. A nil pointer
// leaves the field untouched.
type WorkspacePatch struct {
	Name     *string
	ImageURL *string
}

type ProjectPatch struct {
	Name     *string
	ImageURL *string
}

type TaskPatch struct {
	Name        *string
	Description *string
	Status      *TaskStatus
	DueDate     *time.Time
	ClearDue    bool
	ProjectID   *string
	AssigneeID  *string
	Position    *float64
}

type TaskFilter struct {
	// WorkspaceID matches the workspace id copied onto each task at creation.
	// That copy goes stale when a project moves, so listings scope by
	// ProjectIDs instead.
	WorkspaceID string
	// ProjectIDs, when non-nil, restricts the result to tasks of these
	// projects and takes precedence over WorkspaceID. Empty matches nothing.
	ProjectIDs []string
	ProjectID  string
	AssigneeID  string
	Status      TaskStatus
	// DueDate matches tasks due on that exact instant, as the board's date
	// picker sends midnight values.
	DueDate *time.Time
	Search  string
	// IDs restricts the result to tasks already matched by the search index.
	IDs []string
}
