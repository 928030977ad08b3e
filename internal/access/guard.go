// Package access enforces workspace membership on every resource access.
//
// A missing resource, a missing workspace and a missing membership all
// surface as ErrUnauthorized so callers cannot probe which ids exist.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tasklane/api/internal/docstore"
	"tasklane/api/internal/logutils"
	"tasklane/api/internal/rbac"
	"tasklane/api/internal/store"
)

var ErrUnauthorized = errors.New("unauthorized")

// DeniedError is an authorization failure carrying its internal cause for
// logs. It matches ErrUnauthorized under errors.Is.
type DeniedError struct {
	Reason string
	Err    error
}

func (e *DeniedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unauthorized: %s: %v", e.Reason, e.Err)
	}
	return "unauthorized: " + e.Reason
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrUnauthorized
}

func (e *DeniedError) Unwrap() error {
	return e.Err
}

type Kind string

const (
	KindWorkspace Kind = "workspace"
	KindProject   Kind = "project"
	KindTask      Kind = "task"
)

func ParseKind(value string) (Kind, bool) {
	switch kind := Kind(strings.ToLower(strings.TrimSpace(value))); kind {
	case KindWorkspace, KindProject, KindTask:
		return kind, true
	default:
		return "", false
	}
}

// Resolver looks up a membership without caching.
type Resolver interface {
	FindMembership(ctx context.Context, workspaceID, userID string) (store.Membership, bool, error)
}

// Resources reads the current record of each guarded resource kind.
type Resources interface {
	GetWorkspace(ctx context.Context, id string) (store.Workspace, error)
	GetProject(ctx context.Context, id string) (store.Project, error)
	GetTask(ctx context.Context, id string) (store.Task, error)
}

type Guard struct {
	resolver  Resolver
	resources Resources
}

func NewGuard(resolver Resolver, resources Resources) *Guard {
	return &Guard{resolver: resolver, resources: resources}
}

// Authorize returns the caller's membership of workspaceID. The id must be
// read fresh from the target resource by the caller.
func (g *Guard) Authorize(ctx context.Context, workspaceID, callerID string) (store.Membership, error) {
	if strings.TrimSpace(callerID) == "" {
		return store.Membership{}, g.deny("no caller", nil, logutils.Fields{"workspace_id": workspaceID})
	}
	if strings.TrimSpace(workspaceID) == "" {
		return store.Membership{}, g.deny("no workspace", nil, logutils.Fields{"user_id": callerID})
	}
	member, found, err := g.resolver.FindMembership(ctx, workspaceID, callerID)
	if err != nil {
		return store.Membership{}, fmt.Errorf("resolve membership: %w", err)
	}
	if !found {
		return store.Membership{}, g.deny("no membership", nil, logutils.Fields{"workspace_id": workspaceID, "user_id": callerID})
	}
	return member, nil
}

func (g *Guard) Workspace(ctx context.Context, id, callerID string) (store.Workspace, store.Membership, error) {
	if strings.TrimSpace(callerID) == "" {
		return store.Workspace{}, store.Membership{}, g.deny("no caller", nil, logutils.Fields{"workspace_id": id})
	}
	workspace, err := g.resources.GetWorkspace(ctx, id)
	if err != nil {
		return store.Workspace{}, store.Membership{}, g.lookupFailure(err, KindWorkspace, id)
	}
	member, err := g.Authorize(ctx, workspace.ID, callerID)
	if err != nil {
		return store.Workspace{}, store.Membership{}, err
	}
	return workspace, member, nil
}

func (g *Guard) Project(ctx context.Context, id, callerID string) (store.Project, store.Membership, error) {
	if strings.TrimSpace(callerID) == "" {
		return store.Project{}, store.Membership{}, g.deny("no caller", nil, logutils.Fields{"project_id": id})
	}
	project, err := g.resources.GetProject(ctx, id)
	if err != nil {
		return store.Project{}, store.Membership{}, g.lookupFailure(err, KindProject, id)
	}
	member, err := g.Authorize(ctx, project.WorkspaceID, callerID)
	if err != nil {
		return store.Project{}, store.Membership{}, err
	}
	return project, member, nil
}

// Task resolves the owning workspace through the task's project, never from
// the task's own denormalized workspace id.
func (g *Guard) Task(ctx context.Context, id, callerID string) (store.Task, store.Project, store.Membership, error) {
	if strings.TrimSpace(callerID) == "" {
		return store.Task{}, store.Project{}, store.Membership{}, g.deny("no caller", nil, logutils.Fields{"task_id": id})
	}
	task, err := g.resources.GetTask(ctx, id)
	if err != nil {
		return store.Task{}, store.Project{}, store.Membership{}, g.lookupFailure(err, KindTask, id)
	}
	project, err := g.resources.GetProject(ctx, task.ProjectID)
	if err != nil {
		return store.Task{}, store.Project{}, store.Membership{}, g.lookupFailure(err, KindProject, task.ProjectID)
	}
	if task.WorkspaceID != project.WorkspaceID {
		logutils.Log.WithFields(logutils.Fields{
			"task_id":              task.ID,
			"task_workspace_id":    task.WorkspaceID,
			"project_id":           project.ID,
			"project_workspace_id": project.WorkspaceID,
		}).Warn("task workspace does not match its project")
	}
	member, err := g.Authorize(ctx, project.WorkspaceID, callerID)
	if err != nil {
		return store.Task{}, store.Project{}, store.Membership{}, err
	}
	return task, project, member, nil
}

// Resource authorizes access to the resource of the given kind and id.
func (g *Guard) Resource(ctx context.Context, kind Kind, id, callerID string) (store.Membership, error) {
	switch kind {
	case KindWorkspace:
		_, member, err := g.Workspace(ctx, id, callerID)
		return member, err
	case KindProject:
		_, member, err := g.Project(ctx, id, callerID)
		return member, err
	case KindTask:
		_, _, member, err := g.Task(ctx, id, callerID)
		return member, err
	default:
		return store.Membership{}, g.deny("unknown resource kind", nil, logutils.Fields{"kind": string(kind), "id": id})
	}
}

// Require checks the role of an already authorized member.
func Require(member store.Membership, action rbac.Action) error {
	if rbac.Can(member.Role, action) {
		return nil
	}
	err := &DeniedError{Reason: fmt.Sprintf("role %s cannot %s", member.Role, action)}
	logutils.Log.WithFields(logutils.Fields{
		"workspace_id": member.WorkspaceID,
		"user_id":      member.UserID,
		"action":       string(action),
	}).Debug(err.Error())
	return err
}

func (g *Guard) lookupFailure(err error, kind Kind, id string) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return g.deny(string(kind)+" not found", err, logutils.Fields{"kind": string(kind), "id": id})
	}
	return fmt.Errorf("load %s %s: %w", kind, id, err)
}

func (g *Guard) deny(reason string, cause error, fields logutils.Fields) error {
	err := &DeniedError{Reason: reason, Err: cause}
	logutils.Log.WithFields(fields).Debug(err.Error())
	return err
}
