package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tasklane/api/internal/access"
	"tasklane/api/internal/docstore"
	"tasklane/api/internal/logutils"
	"tasklane/api/internal/search"
	"tasklane/api/internal/store"
)

const maxBulkTasks = 500

type TaskInput struct {
	Name        string
	Description string
	Status      string
	// WorkspaceID is optional; when sent it must match the project's.
	WorkspaceID string
	ProjectID   string
	AssigneeID  string
	DueDate     *time.Time
}

type TaskUpdate struct {
	Name         *string
	Description  *string
	Status       *string
	ProjectID    *string
	AssigneeID   *string
	DueDate      *time.Time
	ClearDueDate bool
}

type TaskQuery struct {
	WorkspaceID string
	ProjectID   string
	AssigneeID  string
	Status      string
	DueDate     *time.Time
	Search      string
}

type BulkTaskUpdate struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Position float64 `json:"position"`
}

func parseStatus(value string) (store.TaskStatus, error) {
	status := store.TaskStatus(strings.ToUpper(strings.TrimSpace(value)))
	if !status.Valid() {
		return "", validationError("status must be one of TODO, IN_PROGRESS, IN_REVIEW, DONE", map[string]any{"status": value})
	}
	return status, nil
}

func (s *Service) CreateTask(ctx context.Context, callerID string, input TaskInput) (store.TaskView, error) {
	name, err := cleanName(input.Name)
	if err != nil {
		return store.TaskView{}, err
	}
	status, err := parseStatus(input.Status)
	if err != nil {
		return store.TaskView{}, err
	}
	projectID := strings.TrimSpace(input.ProjectID)
	if projectID == "" {
		return store.TaskView{}, validationError("projectId is required", nil)
	}
	assigneeID := strings.TrimSpace(input.AssigneeID)
	if assigneeID == "" {
		return store.TaskView{}, validationError("assigneeId is required", nil)
	}

	project, _, err := s.guard.Project(ctx, projectID, callerID)
	if err != nil {
		return store.TaskView{}, err
	}
	if ws := strings.TrimSpace(input.WorkspaceID); ws != "" && ws != project.WorkspaceID {
		return store.TaskView{}, validationError("project does not belong to workspace", nil)
	}
	assignee, err := s.assigneeIn(ctx, project.WorkspaceID, assigneeID)
	if err != nil {
		return store.TaskView{}, err
	}

	position, err := s.nextPosition(ctx, project.WorkspaceID, status)
	if err != nil {
		return store.TaskView{}, err
	}
	task, err := s.repo.CreateTask(ctx, store.Task{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Status:      status,
		DueDate:     utcPtr(input.DueDate),
		ProjectID:   project.ID,
		WorkspaceID: project.WorkspaceID,
		AssigneeID:  assignee.ID,
		Position:    position,
	})
	if err != nil {
		return store.TaskView{}, err
	}
	s.search.IndexTask(search.RecordFromTask(task))
	return store.TaskView{Task: task, Project: &project, Assignee: &assignee}, nil
}

// ListTasks returns the workspace's tasks newest first, populated with their
// project and assignee.
func (s *Service) ListTasks(ctx context.Context, callerID string, query TaskQuery) ([]store.TaskView, int, error) {
	workspaceID := strings.TrimSpace(query.WorkspaceID)
	if workspaceID == "" {
		return nil, 0, validationError("workspaceId is required", nil)
	}
	filter := store.TaskFilter{
		ProjectID:  strings.TrimSpace(query.ProjectID),
		AssigneeID: strings.TrimSpace(query.AssigneeID),
		DueDate:    utcPtr(query.DueDate),
	}
	if strings.TrimSpace(query.Status) != "" {
		status, err := parseStatus(query.Status)
		if err != nil {
			return nil, 0, err
		}
		filter.Status = status
	}

	if _, err := s.guard.Authorize(ctx, workspaceID, callerID); err != nil {
		return nil, 0, err
	}
	// Tasks belong to the workspace through their project's current owner.
	if filter.ProjectID != "" {
		project, _, err := s.guard.Project(ctx, filter.ProjectID, callerID)
		if err != nil {
			return nil, 0, err
		}
		if project.WorkspaceID != workspaceID {
			logutils.Log.WithFields(logutils.Fields{
				"projectId":   project.ID,
				"workspaceId": workspaceID,
			}).Debug("task listing names a project of another workspace")
			return nil, 0, &access.DeniedError{Reason: "project belongs to another workspace"}
		}
	} else {
		projectIDs, err := s.repo.ProjectIDs(ctx, workspaceID)
		if err != nil {
			return nil, 0, err
		}
		if len(projectIDs) == 0 {
			return []store.TaskView{}, 0, nil
		}
		filter.ProjectIDs = projectIDs
	}

	if text := strings.TrimSpace(query.Search); text != "" {
		scope := filter.ProjectIDs
		if filter.ProjectID != "" {
			scope = []string{filter.ProjectID}
		}
		ids, err := s.search.SearchTaskIDs(ctx, search.Query{
			Text:        text,
			WorkspaceID: workspaceID,
			ProjectIDs:  scope,
			AssigneeID:  filter.AssigneeID,
			Status:      string(filter.Status),
		})
		if err != nil {
			return nil, 0, fmt.Errorf("search tasks: %w", err)
		}
		filter.IDs = ids
	}

	tasks, total, err := s.repo.ListTasks(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	views, err := s.populate(ctx, tasks)
	if err != nil {
		return nil, 0, err
	}
	return views, total, nil
}

func (s *Service) GetTask(ctx context.Context, callerID, id string) (store.TaskView, error) {
	task, project, _, err := s.guard.Task(ctx, id, callerID)
	if err != nil {
		return store.TaskView{}, err
	}
	view := store.TaskView{Task: task, Project: &project}
	if assignee, err := s.repo.GetMemberProfile(ctx, task.AssigneeID); err == nil {
		view.Assignee = &assignee
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return store.TaskView{}, err
	}
	return view, nil
}

func (s *Service) UpdateTask(ctx context.Context, callerID, id string, input TaskUpdate) (store.TaskView, error) {
	task, project, _, err := s.guard.Task(ctx, id, callerID)
	if err != nil {
		return store.TaskView{}, err
	}

	patch := store.TaskPatch{Description: trimmedPtr(input.Description)}
	if input.Name != nil {
		name, err := cleanName(*input.Name)
		if err != nil {
			return store.TaskView{}, err
		}
		patch.Name = &name
	}
	if input.Status != nil {
		status, err := parseStatus(*input.Status)
		if err != nil {
			return store.TaskView{}, err
		}
		patch.Status = &status
	}
	if input.DueDate != nil {
		patch.DueDate = utcPtr(input.DueDate)
	} else if input.ClearDueDate {
		patch.ClearDue = true
	}

	if input.ProjectID != nil && strings.TrimSpace(*input.ProjectID) != project.ID {
		target, _, err := s.guard.Project(ctx, strings.TrimSpace(*input.ProjectID), callerID)
		if err != nil {
			return store.TaskView{}, err
		}
		if target.WorkspaceID != project.WorkspaceID {
			return store.TaskView{}, validationError("tasks cannot move between workspaces", nil)
		}
		project = target
		patch.ProjectID = &target.ID
	}
	if input.AssigneeID != nil {
		assignee, err := s.assigneeIn(ctx, project.WorkspaceID, strings.TrimSpace(*input.AssigneeID))
		if err != nil {
			return store.TaskView{}, err
		}
		patch.AssigneeID = &assignee.ID
	}

	updated, err := s.repo.UpdateTask(ctx, task.ID, patch)
	if err != nil {
		return store.TaskView{}, err
	}
	if updated.WorkspaceID != project.WorkspaceID {
		if updated, err = s.repo.SetTaskWorkspace(ctx, task.ID, project.WorkspaceID); err != nil {
			return store.TaskView{}, err
		}
	}
	s.search.IndexTask(search.RecordFromTask(updated))

	view := store.TaskView{Task: updated, Project: &project}
	if assignee, err := s.repo.GetMemberProfile(ctx, updated.AssigneeID); err == nil {
		view.Assignee = &assignee
	}
	return view, nil
}

func (s *Service) DeleteTask(ctx context.Context, callerID, id string) (store.Task, error) {
	task, _, _, err := s.guard.Task(ctx, id, callerID)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.repo.DeleteTask(ctx, task.ID); err != nil {
		return store.Task{}, err
	}
	s.search.DeleteTask(task.ID)
	return task, nil
}

// BulkUpdateTasks moves tasks on the board. Every task must resolve to the
// same workspace, and the caller must be a member of it; nothing is written
// otherwise.
func (s *Service) BulkUpdateTasks(ctx context.Context, callerID string, updates []BulkTaskUpdate) ([]store.Task, error) {
	if len(updates) == 0 {
		return []store.Task{}, nil
	}
	if len(updates) > maxBulkTasks {
		return nil, validationError("too many tasks in one update", map[string]any{"max": maxBulkTasks})
	}

	statuses := make([]store.TaskStatus, len(updates))
	for i, update := range updates {
		if strings.TrimSpace(update.ID) == "" {
			return nil, validationError("task id is required", nil)
		}
		status, err := parseStatus(update.Status)
		if err != nil {
			return nil, err
		}
		if update.Position < 0 {
			return nil, validationError("position must not be negative", nil)
		}
		statuses[i] = status
	}

	workspaceID := ""
	for _, update := range updates {
		_, project, _, err := s.guard.Task(ctx, update.ID, callerID)
		if err != nil {
			return nil, err
		}
		if workspaceID == "" {
			workspaceID = project.WorkspaceID
		} else if workspaceID != project.WorkspaceID {
			return nil, validationError("All tasks must belong to the same workspace", nil)
		}
	}

	updated := make([]store.Task, 0, len(updates))
	for i, update := range updates {
		status := statuses[i]
		position := update.Position
		task, err := s.repo.UpdateTask(ctx, update.ID, store.TaskPatch{Status: &status, Position: &position})
		if err != nil {
			return nil, err
		}
		s.search.IndexTask(search.RecordFromTask(task))
		updated = append(updated, task)
	}
	return updated, nil
}

// assigneeIn resolves a membership id and checks it belongs to workspaceID.
func (s *Service) assigneeIn(ctx context.Context, workspaceID, membershipID string) (store.MemberProfile, error) {
	if membershipID == "" {
		return store.MemberProfile{}, validationError("assigneeId is required", nil)
	}
	assignee, err := s.repo.GetMemberProfile(ctx, membershipID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return store.MemberProfile{}, notFoundError("Assignee not found")
		}
		return store.MemberProfile{}, err
	}
	if assignee.WorkspaceID != workspaceID {
		logutils.Log.WithFields(logutils.Fields{
			"workspace_id": workspaceID,
			"member_id":    membershipID,
		}).Debug("assignee belongs to another workspace")
		return store.MemberProfile{}, validationError("assignee is not a member of this workspace", nil)
	}
	return assignee, nil
}

func (s *Service) nextPosition(ctx context.Context, workspaceID string, status store.TaskStatus) (float64, error) {
	highest, found, err := s.repo.HighestPosition(ctx, workspaceID, status)
	if err != nil {
		return 0, err
	}
	if !found {
		return store.PositionStep, nil
	}
	return highest + store.PositionStep, nil
}

func (s *Service) populate(ctx context.Context, tasks []store.Task) ([]store.TaskView, error) {
	projects := map[string]*store.Project{}
	assignees := map[string]*store.MemberProfile{}
	views := make([]store.TaskView, 0, len(tasks))
	for _, task := range tasks {
		project, ok := projects[task.ProjectID]
		if !ok {
			loaded, err := s.repo.GetProject(ctx, task.ProjectID)
			switch {
			case err == nil:
				project = &loaded
			case !errors.Is(err, docstore.ErrNotFound):
				return nil, err
			}
			projects[task.ProjectID] = project
		}
		assignee, ok := assignees[task.AssigneeID]
		if !ok {
			loaded, err := s.repo.GetMemberProfile(ctx, task.AssigneeID)
			switch {
			case err == nil:
				assignee = &loaded
			case !errors.Is(err, docstore.ErrNotFound):
				return nil, err
			}
			assignees[task.AssigneeID] = assignee
		}
		views = append(views, store.TaskView{Task: task, Project: project, Assignee: assignee})
	}
	return views, nil
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}
