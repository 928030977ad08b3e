package app

import (
	"context"
	"errors"
	"strings"

	"tasklane/api/internal/access"
	"tasklane/api/internal/analytics"
	"tasklane/api/internal/docstore"
	"tasklane/api/internal/media"
	"tasklane/api/internal/rbac"
	"tasklane/api/internal/store"
)

type WorkspaceInput struct {
	Name  string
	Image *media.Upload
	// ImageURL keeps an already stored image when no file is uploaded.
	ImageURL string
}

type WorkspaceUpdate struct {
	Name     *string
	Image    *media.Upload
	ImageURL *string
}

// WorkspaceInfo is what a prospective member sees before joining.
type WorkspaceInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl,omitempty"`
}

func (s *Service) CreateWorkspace(ctx context.Context, callerID string, input WorkspaceInput) (store.Workspace, error) {
	if strings.TrimSpace(callerID) == "" {
		return store.Workspace{}, access.ErrUnauthorized
	}
	name, err := cleanName(input.Name)
	if err != nil {
		return store.Workspace{}, err
	}
	imageURL := strings.TrimSpace(input.ImageURL)
	if input.Image != nil {
		if imageURL, err = s.saveImage(ctx, "workspaces", input.Image); err != nil {
			return store.Workspace{}, err
		}
	}

	workspace, _, err := s.repo.CreateWorkspace(ctx, name, imageURL, callerID)
	if err != nil {
		return store.Workspace{}, err
	}
	return workspace, nil
}

func (s *Service) ListWorkspaces(ctx context.Context, callerID string) ([]store.Workspace, error) {
	if strings.TrimSpace(callerID) == "" {
		return nil, access.ErrUnauthorized
	}
	return s.repo.ListWorkspacesForUser(ctx, callerID)
}

func (s *Service) GetWorkspace(ctx context.Context, callerID, id string) (store.Workspace, error) {
	workspace, _, err := s.guard.Workspace(ctx, id, callerID)
	return workspace, err
}

func (s *Service) UpdateWorkspace(ctx context.Context, callerID, id string, input WorkspaceUpdate) (store.Workspace, error) {
	_, member, err := s.guard.Workspace(ctx, id, callerID)
	if err != nil {
		return store.Workspace{}, err
	}
	if err := access.Require(member, rbac.ActionManageWorkspace); err != nil {
		return store.Workspace{}, err
	}

	patch := store.WorkspacePatch{}
	if input.Name != nil {
		name, err := cleanName(*input.Name)
		if err != nil {
			return store.Workspace{}, err
		}
		patch.Name = &name
	}
	if input.Image != nil {
		imageURL, err := s.saveImage(ctx, "workspaces", input.Image)
		if err != nil {
			return store.Workspace{}, err
		}
		patch.ImageURL = &imageURL
	} else if input.ImageURL != nil {
		imageURL := strings.TrimSpace(*input.ImageURL)
		patch.ImageURL = &imageURL
	}
	return s.repo.UpdateWorkspace(ctx, id, patch)
}

func (s *Service) DeleteWorkspace(ctx context.Context, callerID, id string) error {
	_, member, err := s.guard.Workspace(ctx, id, callerID)
	if err != nil {
		return err
	}
	if err := access.Require(member, rbac.ActionManageWorkspace); err != nil {
		return err
	}
	projectIDs, err := s.repo.ProjectIDs(ctx, id)
	if err != nil {
		return err
	}
	taskIDs, err := s.taskIDs(ctx, store.TaskFilter{ProjectIDs: projectIDs})
	if err != nil {
		return err
	}
	if err := s.repo.DeleteWorkspace(ctx, id); err != nil {
		return err
	}
	s.search.DeleteTasks(taskIDs)
	return nil
}

func (s *Service) ResetInviteCode(ctx context.Context, callerID, id string) (store.Workspace, error) {
	_, member, err := s.guard.Workspace(ctx, id, callerID)
	if err != nil {
		return store.Workspace{}, err
	}
	if err := access.Require(member, rbac.ActionManageWorkspace); err != nil {
		return store.Workspace{}, err
	}
	return s.repo.ResetInviteCode(ctx, id)
}

// JoinWorkspace adds the caller as a MEMBER when the invite code matches. A
// missing workspace reads as a wrong code.
func (s *Service) JoinWorkspace(ctx context.Context, callerID, id, code string) (store.Workspace, error) {
	if strings.TrimSpace(callerID) == "" {
		return store.Workspace{}, access.ErrUnauthorized
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return store.Workspace{}, validationError("invite code is required", nil)
	}

	if _, found, err := s.repo.FindMembership(ctx, id, callerID); err != nil {
		return store.Workspace{}, err
	} else if found {
		return store.Workspace{}, ErrAlreadyMember
	}

	workspace, err := s.repo.GetWorkspace(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return store.Workspace{}, ErrInvalidInviteCode
		}
		return store.Workspace{}, err
	}
	if !strings.EqualFold(workspace.InviteCode, code) {
		return store.Workspace{}, ErrInvalidInviteCode
	}

	if _, err := s.repo.CreateMembership(ctx, workspace.ID, callerID, rbac.RoleMember); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return store.Workspace{}, ErrAlreadyMember
		}
		return store.Workspace{}, err
	}
	return workspace, nil
}

// WorkspaceInfo shows the name and image of a workspace to a holder of its
// invite code, members or not.
func (s *Service) WorkspaceInfo(ctx context.Context, callerID, id, code string) (WorkspaceInfo, error) {
	if strings.TrimSpace(callerID) == "" {
		return WorkspaceInfo{}, access.ErrUnauthorized
	}
	workspace, err := s.repo.GetWorkspace(ctx, id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return WorkspaceInfo{}, &access.DeniedError{Reason: "workspace not found", Err: err}
		}
		return WorkspaceInfo{}, err
	}
	if !strings.EqualFold(workspace.InviteCode, strings.TrimSpace(code)) {
		if _, found, err := s.repo.FindMembership(ctx, id, callerID); err != nil {
			return WorkspaceInfo{}, err
		} else if !found {
			return WorkspaceInfo{}, &access.DeniedError{Reason: "invite code mismatch"}
		}
	}
	return WorkspaceInfo{ID: workspace.ID, Name: workspace.Name, ImageURL: workspace.ImageURL}, nil
}

func (s *Service) WorkspaceAnalytics(ctx context.Context, callerID, id string) (analytics.Report, error) {
	workspace, member, err := s.guard.Workspace(ctx, id, callerID)
	if err != nil {
		return analytics.Report{}, err
	}
	projectIDs, err := s.repo.ProjectIDs(ctx, workspace.ID)
	if err != nil {
		return analytics.Report{}, err
	}
	return s.analytics.WorkspaceAnalytics(ctx, projectIDs, member)
}

func (s *Service) ListMembers(ctx context.Context, callerID, workspaceID string) ([]store.MemberProfile, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return nil, validationError("workspaceId is required", nil)
	}
	if _, _, err := s.guard.Workspace(ctx, workspaceID, callerID); err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, workspaceID)
}

// RemoveMember lets an ADMIN remove anyone, and anyone leave. The last member
// of a workspace cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, callerID, memberID string) (store.Membership, error) {
	target, caller, err := s.memberTarget(ctx, callerID, memberID)
	if err != nil {
		return store.Membership{}, err
	}
	if caller.ID != target.ID {
		if err := access.Require(caller, rbac.ActionManageMembers); err != nil {
			return store.Membership{}, err
		}
	}
	total, err := s.repo.CountMembers(ctx, target.WorkspaceID)
	if err != nil {
		return store.Membership{}, err
	}
	if total <= 1 {
		return store.Membership{}, ErrLastMemberRemove
	}
	if err := s.repo.DeleteMembership(ctx, target.ID); err != nil {
		return store.Membership{}, err
	}
	return target, nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, callerID, memberID, role string) (store.Membership, error) {
	next := rbac.Role(strings.ToUpper(strings.TrimSpace(role)))
	if !rbac.Valid(string(next)) {
		return store.Membership{}, validationError("role must be ADMIN or MEMBER", nil)
	}
	target, caller, err := s.memberTarget(ctx, callerID, memberID)
	if err != nil {
		return store.Membership{}, err
	}
	if err := access.Require(caller, rbac.ActionManageMembers); err != nil {
		return store.Membership{}, err
	}
	total, err := s.repo.CountMembers(ctx, target.WorkspaceID)
	if err != nil {
		return store.Membership{}, err
	}
	if total <= 1 {
		return store.Membership{}, ErrLastMemberRole
	}
	return s.repo.UpdateMembershipRole(ctx, target.ID, next)
}

// memberTarget loads a membership and authorizes the caller on its workspace.
func (s *Service) memberTarget(ctx context.Context, callerID, memberID string) (store.Membership, store.Membership, error) {
	if strings.TrimSpace(callerID) == "" {
		return store.Membership{}, store.Membership{}, access.ErrUnauthorized
	}
	target, err := s.repo.GetMembership(ctx, memberID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return store.Membership{}, store.Membership{}, &access.DeniedError{Reason: "member not found", Err: err}
		}
		return store.Membership{}, store.Membership{}, err
	}
	caller, err := s.guard.Authorize(ctx, target.WorkspaceID, callerID)
	if err != nil {
		return store.Membership{}, store.Membership{}, err
	}
	return target, caller, nil
}

func (s *Service) taskIDs(ctx context.Context, filter store.TaskFilter) ([]string, error) {
	tasks, _, err := s.repo.ListTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	return ids, nil
}
