package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tasklane/api/internal/docstore"
	"tasklane/api/internal/rbac"
	"tasklane/api/internal/util"
)

const (
	CollectionUsers      = "users"
	CollectionWorkspaces = "workspaces"
	CollectionMembers    = "members"
	CollectionProjects   = "projects"
	CollectionTasks      = "tasks"
)

// PositionStep is the gap left between neighbouring tasks in a column.
const PositionStep = 1000

var ErrNotFound = docstore.ErrNotFound

// UniqueKeys mirrors the unique indexes of the Postgres migrations for the
// in-memory store.
var UniqueKeys = []docstore.UniqueKey{
	{Collection: CollectionMembers, Fields: []string{"workspaceId", "userId"}},
	{Collection: CollectionUsers, Fields: []string{"name"}, Fold: true},
	{Collection: CollectionWorkspaces, Fields: []string{"inviteCode"}},
}

// NewMemoryDocs returns an in-memory document store enforcing UniqueKeys.
func NewMemoryDocs(opts ...docstore.MemoryOption) *docstore.Memory {
	return docstore.NewMemory(append([]docstore.MemoryOption{docstore.WithUniqueKeys(UniqueKeys...)}, opts...)...)
}

// Repository maps the typed domain onto document collections.
type Repository struct {
	docs docstore.Store
}

func NewRepository(docs docstore.Store) *Repository {
	return &Repository{docs: docs}
}

func (r *Repository) Docs() docstore.Store {
	return r.docs
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.docs.Ping(ctx)
}

// EnsureUserByName finds a user by case-insensitive display name or creates one.
func (r *Repository) EnsureUserByName(ctx context.Context, name string) (User, error) {
	name = strings.TrimSpace(name)
	if user, found, err := r.findUserByName(ctx, name); err != nil || found {
		return user, err
	}

	email := strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@local.tasklane.dev"
	doc, err := r.docs.Create(ctx, CollectionUsers, util.NewID("usr"), map[string]any{
		"name":  name,
		"email": email,
	})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		// Lost a race with a concurrent login for the same name.
		user, found, findErr := r.findUserByName(ctx, name)
		if findErr != nil {
			return User{}, findErr
		}
		if found {
			return user, nil
		}
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return decodeUser(doc), nil
}

func (r *Repository) findUserByName(ctx context.Context, name string) (User, bool, error) {
	result, err := r.docs.List(ctx, CollectionUsers, docstore.Query{
		Filters: []docstore.Filter{docstore.Equal("name", name)},
		Limit:   1,
	})
	if err != nil {
		return User{}, false, fmt.Errorf("lookup user: %w", err)
	}
	if len(result.Documents) > 0 {
		return decodeUser(result.Documents[0]), true, nil
	}

	// Fall back to a case-insensitive scan; names are unique ignoring case.
	candidates, err := r.docs.List(ctx, CollectionUsers, docstore.Query{
		Filters: []docstore.Filter{docstore.Contains("name", name)},
	})
	if err != nil {
		return User{}, false, fmt.Errorf("lookup user: %w", err)
	}
	for _, doc := range candidates.Documents {
		if strings.EqualFold(doc.String("name"), name) {
			return decodeUser(doc), true, nil
		}
	}
	return User{}, false, nil
}

func (r *Repository) GetUser(ctx context.Context, id string) (User, error) {
	doc, err := r.docs.Get(ctx, CollectionUsers, id)
	if err != nil {
		return User{}, err
	}
	return decodeUser(doc), nil
}

// CreateWorkspace stores the workspace and its owner's ADMIN membership.
func (r *Repository) CreateWorkspace(ctx context.Context, name, imageURL, ownerID string) (Workspace, Membership, error) {
	data := map[string]any{
		"name":       name,
		"inviteCode": util.NewInviteCode(),
		"userId":     ownerID,
	}
	if imageURL != "" {
		data["imageUrl"] = imageURL
	}
	doc, err := r.docs.Create(ctx, CollectionWorkspaces, util.NewID("ws"), data)
	if err != nil {
		return Workspace{}, Membership{}, fmt.Errorf("create workspace: %w", err)
	}
	workspace := decodeWorkspace(doc)

	member, err := r.CreateMembership(ctx, workspace.ID, ownerID, rbac.RoleAdmin)
	if err != nil {
		_ = r.docs.Delete(ctx, CollectionWorkspaces, workspace.ID)
		return Workspace{}, Membership{}, err
	}
	return workspace, member, nil
}

func (r *Repository) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	doc, err := r.docs.Get(ctx, CollectionWorkspaces, id)
	if err != nil {
		return Workspace{}, err
	}
	return decodeWorkspace(doc), nil
}

// ListWorkspacesForUser returns every workspace userID is a member of, newest first.
func (r *Repository) ListWorkspacesForUser(ctx context.Context, userID string) ([]Workspace, error) {
	memberships, err := r.docs.List(ctx, CollectionMembers, docstore.Query{
		Filters: []docstore.Filter{docstore.Equal("userId", userID)},
	})
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	if len(memberships.Documents) == 0 {
		return []Workspace{}, nil
	}

	ids := make([]string, 0, len(memberships.Documents))
	for _, doc := range memberships.Documents {
		ids = append(ids, doc.String("workspaceId"))
	}
	result, err := r.docs.List(ctx, CollectionWorkspaces, docstore.Query{
		Filters: []docstore.Filter{docstore.In(docstore.FieldID, ids)},
		Orders:  []docstore.Order{docstore.OrderDesc(docstore.FieldCreatedAt)},
	})
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	workspaces := make([]Workspace, 0, len(result.Documents))
	for _, doc := range result.Documents {
		workspaces = append(workspaces, decodeWorkspace(doc))
	}
	return workspaces, nil
}

func (r *Repository) UpdateWorkspace(ctx context.Context, id string, patch WorkspacePatch) (Workspace, error) {
	update := map[string]any{}
	if patch.Name != nil {
		update["name"] = *patch.Name
	}
	if patch.ImageURL != nil {
		update["imageUrl"] = emptyAsNil(*patch.ImageURL)
	}
	doc, err := r.docs.Update(ctx, CollectionWorkspaces, id, update)
	if err != nil {
		return Workspace{}, fmt.Errorf("update workspace: %w", err)
	}
	return decodeWorkspace(doc), nil
}

func (r *Repository) ResetInviteCode(ctx context.Context, id string) (Workspace, error) {
	doc, err := r.docs.Update(ctx, CollectionWorkspaces, id, map[string]any{"inviteCode": util.NewInviteCode()})
	if err != nil {
		return Workspace{}, fmt.Errorf("reset invite code: %w", err)
	}
	return decodeWorkspace(doc), nil
}

// DeleteWorkspace removes the workspace with its projects, their tasks and its
// memberships. Tasks go by their current project, not by their workspace copy.
func (r *Repository) DeleteWorkspace(ctx context.Context, id string) error {
	projectIDs, err := r.ProjectIDs(ctx, id)
	if err != nil {
		return err
	}
	if len(projectIDs) > 0 {
		if err := r.deleteWhere(ctx, CollectionTasks, docstore.In("projectId", projectIDs)); err != nil {
			return err
		}
	}
	filter := docstore.Equal("workspaceId", id)
	for _, collection := range []string{CollectionProjects, CollectionMembers} {
		if err := r.deleteWhere(ctx, collection, filter); err != nil {
			return err
		}
	}
	if err := r.docs.Delete(ctx, CollectionWorkspaces, id); err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return nil
}

// FindMembership reflects the current persisted state; absent is not an error.
func (r *Repository) FindMembership(ctx context.Context, workspaceID, userID string) (Membership, bool, error) {
	if workspaceID == "" || userID == "" {
		return Membership{}, false, nil
	}
	result, err := r.docs.List(ctx, CollectionMembers, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Equal("workspaceId", workspaceID),
			docstore.Equal("userId", userID),
		},
		Limit: 1,
	})
	if err != nil {
		return Membership{}, false, fmt.Errorf("find membership: %w", err)
	}
	if len(result.Documents) == 0 {
		return Membership{}, false, nil
	}
	return decodeMembership(result.Documents[0]), true, nil
}

func (r *Repository) GetMembership(ctx context.Context, id string) (Membership, error) {
	doc, err := r.docs.Get(ctx, CollectionMembers, id)
	if err != nil {
		return Membership{}, err
	}
	return decodeMembership(doc), nil
}

func (r *Repository) CreateMembership(ctx context.Context, workspaceID, userID string, role rbac.Role) (Membership, error) {
	doc, err := r.docs.Create(ctx, CollectionMembers, util.NewID("mem"), map[string]any{
		"workspaceId": workspaceID,
		"userId":      userID,
		"role":        string(role),
	})
	if err != nil {
		return Membership{}, fmt.Errorf("create membership: %w", err)
	}
	return decodeMembership(doc), nil
}

// ListMembers returns the workspace's memberships joined with user profiles,
// oldest first.
func (r *Repository) ListMembers(ctx context.Context, workspaceID string) ([]MemberProfile, error) {
	result, err := r.docs.List(ctx, CollectionMembers, docstore.Query{
		Filters: []docstore.Filter{docstore.Equal("workspaceId", workspaceID)},
		Orders:  []docstore.Order{docstore.OrderAsc(docstore.FieldCreatedAt)},
	})
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	members := make([]MemberProfile, 0, len(result.Documents))
	for _, doc := range result.Documents {
		profile, err := r.memberProfile(ctx, decodeMembership(doc))
		if err != nil {
			return nil, err
		}
		members = append(members, profile)
	}
	return members, nil
}

func (r *Repository) GetMemberProfile(ctx context.Context, membershipID string) (MemberProfile, error) {
	member, err := r.GetMembership(ctx, membershipID)
	if err != nil {
		return MemberProfile{}, err
	}
	return r.memberProfile(ctx, member)
}

func (r *Repository) memberProfile(ctx context.Context, member Membership) (MemberProfile, error) {
	profile := MemberProfile{Membership: member}
	user, err := r.GetUser(ctx, member.UserID)
	if errors.Is(err, docstore.ErrNotFound) {
		return profile, nil
	}
	if err != nil {
		return MemberProfile{}, fmt.Errorf("load member user: %w", err)
	}
	profile.Name = user.Name
	profile.Email = user.Email
	return profile, nil
}

func (r *Repository) CountMembers(ctx context.Context, workspaceID string) (int, error) {
	total, err := r.docs.Count(ctx, CollectionMembers, docstore.Equal("workspaceId", workspaceID))
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return total, nil
}

func (r *Repository) UpdateMembershipRole(ctx context.Context, id string, role rbac.Role) (Membership, error) {
	doc, err := r.docs.Update(ctx, CollectionMembers, id, map[string]any{"role": string(role)})
	if err != nil {
		return Membership{}, fmt.Errorf("update membership: %w", err)
	}
	return decodeMembership(doc), nil
}

func (r *Repository) DeleteMembership(ctx context.Context, id string) error {
	if err := r.docs.Delete(ctx, CollectionMembers, id); err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	return nil
}

func (r *Repository) CreateProject(ctx context.Context, name, imageURL, workspaceID string) (Project, error) {
	data := map[string]any{
		"name":        name,
		"workspaceId": workspaceID,
	}
	if imageURL != "" {
		data["imageUrl"] = imageURL
	}
	doc, err := r.docs.Create(ctx, CollectionProjects, util.NewID("prj"), data)
	if err != nil {
		return Project{}, fmt.Errorf("create project: %w", err)
	}
	return decodeProject(doc), nil
}

func (r *Repository) GetProject(ctx context.Context, id string) (Project, error) {
	doc, err := r.docs.Get(ctx, CollectionProjects, id)
	if err != nil {
		return Project{}, err
	}
	return decodeProject(doc), nil
}

func (r *Repository) ListProjects(ctx context.Context, workspaceID string) ([]Project, error) {
	result, err := r.docs.List(ctx, CollectionProjects, docstore.Query{
		Filters: []docstore.Filter{docstore.Equal("workspaceId", workspaceID)},
		Orders:  []docstore.Order{docstore.OrderDesc(docstore.FieldCreatedAt)},
	})
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	projects := make([]Project, 0, len(result.Documents))
	for _, doc := range result.Documents {
		projects = append(projects, decodeProject(doc))
	}
	return projects, nil
}

// ProjectIDs lists the ids of the projects the workspace currently owns.
func (r *Repository) ProjectIDs(ctx context.Context, workspaceID string) ([]string, error) {
	projects, err := r.ListProjects(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(projects))
	for _, project := range projects {
		ids = append(ids, project.ID)
	}
	return ids, nil
}

func (r *Repository) UpdateProject(ctx context.Context, id string, patch ProjectPatch) (Project, error) {
	update := map[string]any{}
	if patch.Name != nil {
		update["name"] = *patch.Name
	}
	if patch.ImageURL != nil {
		update["imageUrl"] = emptyAsNil(*patch.ImageURL)
	}
	doc, err := r.docs.Update(ctx, CollectionProjects, id, update)
	if err != nil {
		return Project{}, fmt.Errorf("update project: %w", err)
	}
	return decodeProject(doc), nil
}

// DeleteProject removes the project and its tasks.
func (r *Repository) DeleteProject(ctx context.Context, id string) error {
	if err := r.deleteWhere(ctx, CollectionTasks, docstore.Equal("projectId", id)); err != nil {
		return err
	}
	if err := r.docs.Delete(ctx, CollectionProjects, id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

func (r *Repository) CreateTask(ctx context.Context, task Task) (Task, error) {
	data := map[string]any{
		"name":        task.Name,
		"status":      string(task.Status),
		"projectId":   task.ProjectID,
		"workspaceId": task.WorkspaceID,
		"assigneeId":  task.AssigneeID,
		"position":    task.Position,
	}
	if task.Description != "" {
		data["description"] = task.Description
	}
	if task.DueDate != nil {
		data["dueDate"] = docstore.FormatTime(*task.DueDate)
	}
	doc, err := r.docs.Create(ctx, CollectionTasks, util.NewID("tsk"), data)
	if err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	return decodeTask(doc), nil
}

func (r *Repository) GetTask(ctx context.Context, id string) (Task, error) {
	doc, err := r.docs.Get(ctx, CollectionTasks, id)
	if err != nil {
		return Task{}, err
	}
	return decodeTask(doc), nil
}

// ListTasks returns the matching tasks newest first and the total count.
func (r *Repository) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, int, error) {
	var filters []docstore.Filter
	switch {
	case filter.ProjectIDs != nil:
		if len(filter.ProjectIDs) == 0 {
			return []Task{}, 0, nil
		}
		filters = append(filters, docstore.In("projectId", filter.ProjectIDs))
	case filter.WorkspaceID != "":
		filters = append(filters, docstore.Equal("workspaceId", filter.WorkspaceID))
	}
	if filter.ProjectID != "" {
		filters = append(filters, docstore.Equal("projectId", filter.ProjectID))
	}
	if filter.AssigneeID != "" {
		filters = append(filters, docstore.Equal("assigneeId", filter.AssigneeID))
	}
	if filter.Status != "" {
		filters = append(filters, docstore.Equal("status", string(filter.Status)))
	}
	if filter.DueDate != nil {
		filters = append(filters, docstore.Equal("dueDate", *filter.DueDate))
	}
	if filter.IDs != nil {
		if len(filter.IDs) == 0 {
			return []Task{}, 0, nil
		}
		filters = append(filters, docstore.In(docstore.FieldID, filter.IDs))
	} else if search := strings.TrimSpace(filter.Search); search != "" {
		filters = append(filters, docstore.Contains("name", search))
	}

	result, err := r.docs.List(ctx, CollectionTasks, docstore.Query{
		Filters: filters,
		Orders:  []docstore.Order{docstore.OrderDesc(docstore.FieldCreatedAt)},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	tasks := make([]Task, 0, len(result.Documents))
	for _, doc := range result.Documents {
		tasks = append(tasks, decodeTask(doc))
	}
	return tasks, result.Total, nil
}

// HighestPosition returns the largest position in a workspace's status column.
func (r *Repository) HighestPosition(ctx context.Context, workspaceID string, status TaskStatus) (float64, bool, error) {
	result, err := r.docs.List(ctx, CollectionTasks, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Equal("workspaceId", workspaceID),
			docstore.Equal("status", string(status)),
		},
		Orders: []docstore.Order{docstore.OrderDesc("position")},
		Limit:  1,
	})
	if err != nil {
		return 0, false, fmt.Errorf("highest position: %w", err)
	}
	if len(result.Documents) == 0 {
		return 0, false, nil
	}
	return result.Documents[0].Float("position"), true, nil
}

func (r *Repository) UpdateTask(ctx context.Context, id string, patch TaskPatch) (Task, error) {
	update := map[string]any{}
	if patch.Name != nil {
		update["name"] = *patch.Name
	}
	if patch.Description != nil {
		update["description"] = emptyAsNil(*patch.Description)
	}
	if patch.Status != nil {
		update["status"] = string(*patch.Status)
	}
	if patch.DueDate != nil {
		update["dueDate"] = docstore.FormatTime(*patch.DueDate)
	} else if patch.ClearDue {
		update["dueDate"] = nil
	}
	if patch.ProjectID != nil {
		update["projectId"] = *patch.ProjectID
	}
	if patch.AssigneeID != nil {
		update["assigneeId"] = *patch.AssigneeID
	}
	if patch.Position != nil {
		update["position"] = *patch.Position
	}
	doc, err := r.docs.Update(ctx, CollectionTasks, id, update)
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	return decodeTask(doc), nil
}

// SetTaskWorkspace rewrites the denormalized workspace id after a project move.
func (r *Repository) SetTaskWorkspace(ctx context.Context, id, workspaceID string) (Task, error) {
	doc, err := r.docs.Update(ctx, CollectionTasks, id, map[string]any{"workspaceId": workspaceID})
	if err != nil {
		return Task{}, fmt.Errorf("update task workspace: %w", err)
	}
	return decodeTask(doc), nil
}

func (r *Repository) DeleteTask(ctx context.Context, id string) error {
	if err := r.docs.Delete(ctx, CollectionTasks, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (r *Repository) deleteWhere(ctx context.Context, collection string, filters ...docstore.Filter) error {
	result, err := r.docs.List(ctx, collection, docstore.Query{Filters: filters})
	if err != nil {
		return fmt.Errorf("list %s for delete: %w", collection, err)
	}
	for _, doc := range result.Documents {
		if err := r.docs.Delete(ctx, collection, doc.ID); err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("delete %s/%s: %w", collection, doc.ID, err)
		}
	}
	return nil
}

func emptyAsNil(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func decodeUser(doc docstore.Document) User {
	return User{
		ID:        doc.ID,
		Name:      doc.String("name"),
		Email:     doc.String("email"),
		CreatedAt: doc.CreatedAt,
	}
}

func decodeWorkspace(doc docstore.Document) Workspace {
	return Workspace{
		ID:         doc.ID,
		Name:       doc.String("name"),
		ImageURL:   doc.String("imageUrl"),
		InviteCode: doc.String("inviteCode"),
		UserID:     doc.String("userId"),
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

func decodeMembership(doc docstore.Document) Membership {
	return Membership{
		ID:          doc.ID,
		WorkspaceID: doc.String("workspaceId"),
		UserID:      doc.String("userId"),
		Role:        rbac.Normalize(doc.String("role")),
		CreatedAt:   doc.CreatedAt,
	}
}

func decodeProject(doc docstore.Document) Project {
	return Project{
		ID:          doc.ID,
		Name:        doc.String("name"),
		ImageURL:    doc.String("imageUrl"),
		WorkspaceID: doc.String("workspaceId"),
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

func decodeTask(doc docstore.Document) Task {
	task := Task{
		ID:          doc.ID,
		Name:        doc.String("name"),
		Description: doc.String("description"),
		Status:      TaskStatus(doc.String("status")),
		ProjectID:   doc.String("projectId"),
		WorkspaceID: doc.String("workspaceId"),
		AssigneeID:  doc.String("assigneeId"),
		Position:    doc.Float("position"),
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	if raw := doc.String("dueDate"); raw != "" {
		if due, err := docstore.ParseTime(raw); err == nil {
			task.DueDate = &due
		}
	}
	return task
}
