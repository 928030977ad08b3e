package search

import (
	"context"

	"tasklane/api/internal/store"
)

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	WorkspaceID string `json:"workspaceId"`
	ProjectID   string `json:"projectId"`
	Status      string `json:"status"`
	AssigneeID  string `json:"assigneeId"`
}

func RecordFromTask(task store.Task) TaskRecord {
	return TaskRecord{
		ID:          task.ID,
		Name:        task.Name,
		Description: task.Description,
		WorkspaceID: task.WorkspaceID,
		ProjectID:   task.ProjectID,
		Status:      string(task.Status),
		AssigneeID:  task.AssigneeID,
	}
}

// Query describes a task search. WorkspaceID is required unless ProjectIDs
// is set, in which case the project ids scope the search instead.
type Query struct {
	Text        string
	WorkspaceID string
	ProjectIDs  []string
	ProjectID   string
	AssigneeID  string
	Status      string
	Limit       int
}

// Searcher resolves a text query to matching task ids.
type Searcher interface {
	SearchTaskIDs(ctx context.Context, q Query) ([]string, error)
	Healthy() bool
}

// Indexer can push tasks into a search index.
type Indexer interface {
	IndexTask(task TaskRecord) error
	DeleteTask(id string) error
}
