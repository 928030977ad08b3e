package access

import (
	"context"
	"errors"
	"testing"

	"tasklane/api/internal/docstore"
	"tasklane/api/internal/rbac"
	"tasklane/api/internal/store"
)

type countingResolver struct {
	inner Resolver
	calls int
}

func (r *countingResolver) FindMembership(ctx context.Context, workspaceID, userID string) (store.Membership, bool, error) {
	r.calls++
	return r.inner.FindMembership(ctx, workspaceID, userID)
}

type failingResolver struct{}

func (failingResolver) FindMembership(context.Context, string, string) (store.Membership, bool, error) {
	return store.Membership{}, false, errors.New("connection reset")
}

type fixture struct {
	repo     *store.Repository
	resolver *countingResolver
	guard    *Guard
	w1, w2   store.Workspace
	admin    store.Membership
	project  store.Project
	task     store.Task
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	repo := store.NewRepository(store.NewMemoryDocs())

	w1, admin, err := repo.CreateWorkspace(ctx, "W1", "", "usr_u1")
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	w2, _, err := repo.CreateWorkspace(ctx, "W2", "", "usr_u2")
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	project, err := repo.CreateProject(ctx, "P", "", w1.ID)
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	task, err := repo.CreateTask(ctx, store.Task{
		Name: "T", Status: store.StatusTodo, ProjectID: project.ID,
		WorkspaceID: w1.ID, AssigneeID: admin.ID, Position: store.PositionStep,
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}

	resolver := &countingResolver{inner: repo}
	return fixture{
		repo:     repo,
		resolver: resolver,
		guard:    NewGuard(resolver, repo),
		w1:       w1,
		w2:       w2,
		admin:    admin,
		project:  project,
		task:     task,
	}
}

func TestResourceAllowsMembers(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	for _, tc := range []struct {
		kind Kind
		id   string
	}{
		{KindWorkspace, fx.w1.ID},
		{KindProject, fx.project.ID},
		{KindTask, fx.task.ID},
	} {
		member, err := fx.guard.Resource(ctx, tc.kind, tc.id, "usr_u1")
		if err != nil {
			t.Fatalf("Resource(%s) error = %v", tc.kind, err)
		}
		if member.ID != fx.admin.ID {
			t.Fatalf("Resource(%s) returned membership %s, want %s", tc.kind, member.ID, fx.admin.ID)
		}
	}
}

func TestResourceDeniesNonMembersForEveryKind(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	for _, tc := range []struct {
		kind Kind
		id   string
	}{
		{KindWorkspace, fx.w1.ID},
		{KindProject, fx.project.ID},
		{KindTask, fx.task.ID},
	} {
		_, err := fx.guard.Resource(ctx, tc.kind, tc.id, "usr_u2")
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("Resource(%s) error = %v, want ErrUnauthorized", tc.kind, err)
		}
	}
}

func TestMissingResourceLooksUnauthorized(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	for _, kind := range []Kind{KindWorkspace, KindProject, KindTask} {
		_, err := fx.guard.Resource(ctx, kind, "missing", "usr_u1")
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("Resource(%s, missing) error = %v, want ErrUnauthorized", kind, err)
		}
		var denied *DeniedError
		if !errors.As(err, &denied) || !errors.Is(denied.Err, docstore.ErrNotFound) {
			t.Fatalf("expected internal not-found cause, got %v", err)
		}
	}
	if fx.resolver.calls != 0 {
		t.Fatalf("expected no membership lookups for missing resources, got %d", fx.resolver.calls)
	}
}

func TestAuthorizeWithoutCallerIssuesNoLookup(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.guard.Authorize(context.Background(), fx.w1.ID, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if fx.resolver.calls != 0 {
		t.Fatalf("expected no lookups, got %d", fx.resolver.calls)
	}
}

func TestAuthorizePropagatesStoreErrors(t *testing.T) {
	fx := newFixture(t)
	guard := NewGuard(failingResolver{}, fx.repo)
	_, err := guard.Authorize(context.Background(), fx.w1.ID, "usr_u1")
	if err == nil || errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestAuthorizeReflectsCurrentMembership(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	member, err := fx.repo.CreateMembership(ctx, fx.w1.ID, "usr_u3", rbac.RoleMember)
	if err != nil {
		t.Fatalf("CreateMembership() error = %v", err)
	}
	if _, err := fx.guard.Authorize(ctx, fx.w1.ID, "usr_u3"); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if err := fx.repo.DeleteMembership(ctx, member.ID); err != nil {
		t.Fatalf("DeleteMembership() error = %v", err)
	}
	if _, err := fx.guard.Authorize(ctx, fx.w1.ID, "usr_u3"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected removal to take effect immediately, got %v", err)
	}
}

func TestProjectReassignmentFollowsCurrentOwner(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, _, err := fx.guard.Project(ctx, fx.project.ID, "usr_u1"); err != nil {
		t.Fatalf("Project() before move error = %v", err)
	}

	// Reassignment happens below the public API, directly in the store.
	if _, err := fx.repo.Docs().Update(ctx, store.CollectionProjects, fx.project.ID, map[string]any{"workspaceId": fx.w2.ID}); err != nil {
		t.Fatalf("move project: %v", err)
	}

	if _, _, err := fx.guard.Project(ctx, fx.project.ID, "usr_u1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected W1 member denied after move, got %v", err)
	}
	if _, _, err := fx.guard.Project(ctx, fx.project.ID, "usr_u2"); err != nil {
		t.Fatalf("expected W2 member allowed after move, got %v", err)
	}

	// The task still carries W1 as its denormalized workspace id; the guard
	// must ignore it and follow the project.
	if _, _, _, err := fx.guard.Task(ctx, fx.task.ID, "usr_u1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected W1 member denied task access after move, got %v", err)
	}
	_, project, member, err := fx.guard.Task(ctx, fx.task.ID, "usr_u2")
	if err != nil {
		t.Fatalf("expected W2 member allowed task access after move, got %v", err)
	}
	if project.WorkspaceID != fx.w2.ID || member.WorkspaceID != fx.w2.ID {
		t.Fatalf("unexpected resolution project=%+v member=%+v", project, member)
	}
}

func TestWorkspaceTasksFollowProjectMove(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.repo.Docs().Update(ctx, store.CollectionProjects, fx.project.ID, map[string]any{"workspaceId": fx.w2.ID}); err != nil {
		t.Fatalf("move project: %v", err)
	}

	for _, tc := range []struct {
		workspace store.Workspace
		want      int
	}{{fx.w1, 0}, {fx.w2, 1}} {
		projectIDs, err := fx.repo.ProjectIDs(ctx, tc.workspace.ID)
		if err != nil {
			t.Fatalf("ProjectIDs(%s) error = %v", tc.workspace.Name, err)
		}
		_, total, err := fx.repo.ListTasks(ctx, store.TaskFilter{ProjectIDs: projectIDs})
		if err != nil {
			t.Fatalf("ListTasks(%s) error = %v", tc.workspace.Name, err)
		}
		if total != tc.want {
			t.Fatalf("%s lists %d tasks, want %d", tc.workspace.Name, total, tc.want)
		}
	}
}

func TestUnknownKindDenied(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.guard.Resource(context.Background(), Kind("comment"), "x", "usr_u1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, ok := ParseKind(" Project "); !ok {
		t.Fatal("ParseKind should accept mixed case")
	}
	if _, ok := ParseKind("comment"); ok {
		t.Fatal("ParseKind should reject unknown kinds")
	}
}

func TestRequire(t *testing.T) {
	admin := store.Membership{Role: rbac.RoleAdmin}
	member := store.Membership{Role: rbac.RoleMember}
	if err := Require(admin, rbac.ActionManageWorkspace); err != nil {
		t.Fatalf("Require(admin) error = %v", err)
	}
	if err := Require(member, rbac.ActionManageWorkspace); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Require(member) error = %v, want ErrUnauthorized", err)
	}
	if err := Require(member, rbac.ActionWrite); err != nil {
		t.Fatalf("Require(member, write) error = %v", err)
	}
}
