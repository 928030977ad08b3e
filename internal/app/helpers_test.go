package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tasklane/api/internal/access"
	"tasklane/api/internal/config"
	"tasklane/api/internal/docstore"
	"tasklane/api/internal/store"
)

type settableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *settableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *settableClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// countingDocs records reads against the tasks collection.
type countingDocs struct {
	docstore.Store
	taskCounts atomic.Int32
	taskLists  atomic.Int32
}

func (d *countingDocs) Count(ctx context.Context, collection string, filters ...docstore.Filter) (int, error) {
	if collection == store.CollectionTasks {
		d.taskCounts.Add(1)
	}
	return d.Store.Count(ctx, collection, filters...)
}

func (d *countingDocs) List(ctx context.Context, collection string, query docstore.Query) (docstore.ListResult, error) {
	if collection == store.CollectionTasks {
		d.taskLists.Add(1)
	}
	return d.Store.List(ctx, collection, query)
}

func (d *countingDocs) reset() {
	d.taskCounts.Store(0)
	d.taskLists.Store(0)
}

type testEnv struct {
	svc   *Service
	repo  *store.Repository
	docs  *countingDocs
	clock *settableClock
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.JWTSecret = "test-secret"
	cfg.AccessTTL = time.Hour
	cfg.RefreshTTL = 24 * time.Hour
	cfg.RequestTimeout = 0
	return cfg
}

// newTestEnv runs on wall-clock time so issued tokens stay valid; analytics
// tests move the clock explicitly.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &settableClock{now: time.Now().UTC()}
	docs := &countingDocs{Store: store.NewMemoryDocs(docstore.WithClock(clock.Now))}
	repo := store.NewRepository(docs)
	svc := New(testConfig(), repo, Options{})
	return &testEnv{svc: svc, repo: repo, docs: docs, clock: clock}
}

// newFrozenEnv shares one clock between the document store and the service.
// Its sessions are never parsed, since tokens expire against the wall clock.
func newFrozenEnv(t *testing.T, at time.Time) *testEnv {
	t.Helper()
	clock := &settableClock{now: at}
	docs := &countingDocs{Store: store.NewMemoryDocs(docstore.WithClock(clock.Now))}
	repo := store.NewRepository(docs)
	svc := New(testConfig(), repo, Options{Clock: clock.Now, Location: time.UTC})
	return &testEnv{svc: svc, repo: repo, docs: docs, clock: clock}
}

func (e *testEnv) login(t *testing.T, name string) Session {
	t.Helper()
	sess, err := e.svc.Login(context.Background(), name)
	if err != nil {
		t.Fatalf("Login(%q) error = %v", name, err)
	}
	return sess
}

type fixture struct {
	owner     Session
	outsider  Session
	workspace store.Workspace
	admin     store.Membership
	project   store.Project
	task      store.TaskView
}

// newFixture creates an owner with one workspace, project and task, plus a
// user with no memberships.
func newFixture(t *testing.T, e *testEnv) fixture {
	t.Helper()
	ctx := context.Background()
	owner := e.login(t, "Avery")
	outsider := e.login(t, "Blake")

	workspace, err := e.svc.CreateWorkspace(ctx, owner.UserID, WorkspaceInput{Name: "Acme"})
	if err != nil {
		t.Fatalf("CreateWorkspace() error = %v", err)
	}
	admin, found, err := e.repo.FindMembership(ctx, workspace.ID, owner.UserID)
	if err != nil || !found {
		t.Fatalf("FindMembership() = %v, %v", found, err)
	}
	project, err := e.svc.CreateProject(ctx, owner.UserID, ProjectInput{Name: "Launch", WorkspaceID: workspace.ID})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	task, err := e.svc.CreateTask(ctx, owner.UserID, TaskInput{
		Name:       "Write copy",
		Status:     "TODO",
		ProjectID:  project.ID,
		AssigneeID: admin.ID,
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	return fixture{owner: owner, outsider: outsider, workspace: workspace, admin: admin, project: project, task: task}
}

func assertUnauthorized(t *testing.T, err error) {
	t.Helper()
	if !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func assertDomainError(t *testing.T, err error, status int) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status {
		t.Fatalf("expected status %d, got %d (%s)", status, domainErr.Status, domainErr.Message)
	}
	return domainErr
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func assertUnauthorizedCode(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected code UNAUTHORIZED, got %v", payload["code"])
	}
}
