package app

import (
	"context"
	"strings"

	"tasklane/api/internal/analytics"
	"tasklane/api/internal/media"
	"tasklane/api/internal/store"
)

type ProjectInput struct {
	Name        string
	WorkspaceID string
	Image       *media.Upload
	ImageURL    string
}

type ProjectUpdate struct {
	Name     *string
	Image    *media.Upload
	ImageURL *string
}

func (s *Service) CreateProject(ctx context.Context, callerID string, input ProjectInput) (store.Project, error) {
	name, err := cleanName(input.Name)
	if err != nil {
		return store.Project{}, err
	}
	workspaceID := strings.TrimSpace(input.WorkspaceID)
	if workspaceID == "" {
		return store.Project{}, validationError("workspaceId is required", nil)
	}
	if _, err := s.guard.Authorize(ctx, workspaceID, callerID); err != nil {
		return store.Project{}, err
	}

	imageURL := strings.TrimSpace(input.ImageURL)
	if input.Image != nil {
		if imageURL, err = s.saveImage(ctx, "projects", input.Image); err != nil {
			return store.Project{}, err
		}
	}
	return s.repo.CreateProject(ctx, name, imageURL, workspaceID)
}

func (s *Service) ListProjects(ctx context.Context, callerID, workspaceID string) ([]store.Project, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, validationError("workspaceId is required", nil)
	}
	if _, err := s.guard.Authorize(ctx, workspaceID, callerID); err != nil {
		return nil, err
	}
	return s.repo.ListProjects(ctx, workspaceID)
}

func (s *Service) GetProject(ctx context.Context, callerID, id string) (store.Project, error) {
	project, _, err := s.guard.Project(ctx, id, callerID)
	return project, err
}

func (s *Service) UpdateProject(ctx context.Context, callerID, id string, input ProjectUpdate) (store.Project, error) {
	if _, _, err := s.guard.Project(ctx, id, callerID); err != nil {
		return store.Project{}, err
	}

	patch := store.ProjectPatch{}
	if input.Name != nil {
		name, err := cleanName(*input.Name)
		if err != nil {
			return store.Project{}, err
		}
		patch.Name = &name
	}
	if input.Image != nil {
		imageURL, err := s.saveImage(ctx, "projects", input.Image)
		if err != nil {
			return store.Project{}, err
		}
		patch.ImageURL = &imageURL
	} else if input.ImageURL != nil {
		imageURL := strings.TrimSpace(*input.ImageURL)
		patch.ImageURL = &imageURL
	}
	return s.repo.UpdateProject(ctx, id, patch)
}

func (s *Service) DeleteProject(ctx context.Context, callerID, id string) (store.Project, error) {
	project, _, err := s.guard.Project(ctx, id, callerID)
	if err != nil {
		return store.Project{}, err
	}
	taskIDs, err := s.taskIDs(ctx, store.TaskFilter{ProjectID: project.ID})
	if err != nil {
		return store.Project{}, err
	}
	if err := s.repo.DeleteProject(ctx, id); err != nil {
		return store.Project{}, err
	}
	s.search.DeleteTasks(taskIDs)
	return project, nil
}

// ProjectAnalytics authorizes the caller before any count query runs.
func (s *Service) ProjectAnalytics(ctx context.Context, callerID, id string) (analytics.Report, error) {
	project, member, err := s.guard.Project(ctx, id, callerID)
	if err != nil {
		return analytics.Report{}, err
	}
	return s.analytics.ProjectAnalytics(ctx, project.ID, member)
}
