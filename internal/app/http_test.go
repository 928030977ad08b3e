package app

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tasklane/api/internal/auth"
)

func dataOf(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	payload := decodeResponse(t, rr)
	data, ok := payload["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %s", rr.Body.String())
	}
	return data
}

func TestLoginReturnsContract(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.svc).Handler()

	rr := doRequest(t, handler, http.MethodPost, "/api/auth/login", "", map[string]any{"name": "  Avery  "})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	data := dataOf(t, rr)
	if token, _ := data["token"].(string); token == "" {
		t.Fatalf("expected token")
	}
	if refresh, _ := data["refreshToken"].(string); refresh == "" {
		t.Fatalf("expected refreshToken")
	}
	if data["userName"] != "Avery" {
		t.Fatalf("expected userName Avery, got %v", data["userName"])
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}

func TestLoginRejectsInvalidBody(t *testing.T) {
	handler := NewHTTPServer(newTestEnv(t).svc).Handler()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"name":`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if payload := decodeResponse(t, rr); payload["code"] != "INVALID_BODY" {
		t.Fatalf("expected code INVALID_BODY, got %v", payload["code"])
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.svc).Handler()

	expired, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub: "usr_1",
		JTI: "jti_expired",
		Exp: time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	forged, err := auth.IssueToken([]byte("other-secret"), auth.Claims{
		Sub: "usr_1",
		JTI: "jti_forged",
		Exp: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	for _, token := range []string{"", "garbage", expired, forged} {
		for _, path := range []string{"/api/auth/current", "/api/workspaces", "/api/projects/prj_1/analytics"} {
			rr := doRequest(t, handler, http.MethodGet, path, token, nil)
			assertUnauthorizedCode(t, rr)
		}
	}
}

func TestHealthAndReady(t *testing.T) {
	handler := NewHTTPServer(newTestEnv(t).svc).Handler()

	rr := doRequest(t, handler, http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload["ok"])
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["status"] != "ready" {
		t.Fatalf("expected status ready, got %v", payload["status"])
	}
	checks, _ := payload["checks"].(map[string]any)
	search, _ := checks["search"].(map[string]any)
	if search["status"] != "disabled" {
		t.Fatalf("expected search disabled, got %v", search["status"])
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/nowhere", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestBoardFlow(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.svc).Handler()

	login := dataOf(t, doRequest(t, handler, http.MethodPost, "/api/auth/login", "", map[string]any{"name": "Avery"}))
	token := login["token"].(string)

	rr := doRequest(t, handler, http.MethodPost, "/api/workspaces", token, map[string]any{"name": "Acme"})
	if rr.Code != http.StatusOK {
		t.Fatalf("create workspace: %d body=%s", rr.Code, rr.Body.String())
	}
	workspaceID := dataOf(t, rr)["id"].(string)

	rr = doRequest(t, handler, http.MethodGet, "/api/members?workspaceId="+workspaceID, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list members: %d body=%s", rr.Code, rr.Body.String())
	}
	members := dataOf(t, rr)["documents"].([]any)
	if len(members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(members))
	}
	memberID := members[0].(map[string]any)["id"].(string)

	rr = doRequest(t, handler, http.MethodPost, "/api/projects", token, map[string]any{"name": "Launch", "workspaceId": workspaceID})
	if rr.Code != http.StatusOK {
		t.Fatalf("create project: %d body=%s", rr.Code, rr.Body.String())
	}
	projectID := dataOf(t, rr)["id"].(string)

	rr = doRequest(t, handler, http.MethodPost, "/api/tasks", token, map[string]any{
		"name":       "Write copy",
		"status":     "TODO",
		"projectId":  projectID,
		"assigneeId": memberID,
		"dueDate":    "2030-01-02",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("create task: %d body=%s", rr.Code, rr.Body.String())
	}
	task := dataOf(t, rr)
	taskID := task["id"].(string)
	if task["workspaceId"] != workspaceID {
		t.Fatalf("task workspaceId = %v, want %s", task["workspaceId"], workspaceID)
	}

	rr = doRequest(t, handler, http.MethodPatch, "/api/tasks/"+taskID, token, map[string]any{"dueDate": nil, "status": "IN_PROGRESS"})
	if rr.Code != http.StatusOK {
		t.Fatalf("update task: %d body=%s", rr.Code, rr.Body.String())
	}
	if _, has := dataOf(t, rr)["dueDate"]; has {
		t.Fatalf("expected dueDate to be cleared")
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/tasks?workspaceId="+workspaceID+"&status=IN_PROGRESS", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list tasks: %d body=%s", rr.Code, rr.Body.String())
	}
	list := dataOf(t, rr)
	if list["total"] != float64(1) {
		t.Fatalf("expected total 1, got %v", list["total"])
	}
	first := list["documents"].([]any)[0].(map[string]any)
	if _, ok := first["project"].(map[string]any); !ok {
		t.Fatalf("expected populated project, got %v", first["project"])
	}

	rr = doRequest(t, handler, http.MethodPost, "/api/tasks/bulk-update", token, map[string]any{
		"tasks": []map[string]any{{"id": taskID, "status": "DONE", "position": 5000}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("bulk update: %d body=%s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, handler, http.MethodGet, "/api/projects/"+projectID+"/analytics", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("analytics: %d body=%s", rr.Code, rr.Body.String())
	}
	report := dataOf(t, rr)
	if report["taskCount"] != float64(1) || report["completedTaskCount"] != float64(1) || report["assignedTaskCount"] != float64(1) {
		t.Fatalf("unexpected report %v", report)
	}

	rr = doRequest(t, handler, http.MethodDelete, "/api/tasks/"+taskID, token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete task: %d body=%s", rr.Code, rr.Body.String())
	}
	if deleted := dataOf(t, rr); deleted["id"] != taskID || deleted["projectId"] != projectID {
		t.Fatalf("unexpected delete payload %v", deleted)
	}
}

func TestNonMemberGetsUnauthorizedOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	fx := newFixture(t, env)
	handler := NewHTTPServer(env.svc).Handler()

	for _, path := range []string{
		"/api/projects/" + fx.project.ID + "/analytics",
		"/api/projects/prj_missing/analytics",
		"/api/workspaces/" + fx.workspace.ID,
		"/api/tasks/" + fx.task.ID,
		"/api/tasks?workspaceId=" + fx.workspace.ID,
		"/api/access/task/" + fx.task.ID,
	} {
		rr := doRequest(t, handler, http.MethodGet, path, fx.outsider.Token, nil)
		assertUnauthorizedCode(t, rr)
	}

	rr := doRequest(t, handler, http.MethodGet, "/api/access/project/"+fx.project.ID, fx.owner.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("owner access check: %d body=%s", rr.Code, rr.Body.String())
	}
	if role := dataOf(t, rr)["role"]; role != "ADMIN" {
		t.Fatalf("role = %v, want ADMIN", role)
	}
}

func TestCreateWorkspaceWithImageUpload(t *testing.T) {
	env := newTestEnv(t)
	owner := env.login(t, "Avery")
	handler := NewHTTPServer(env.svc).Handler()

	build := func(image []byte) *http.Request {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		if err := writer.WriteField("name", "Pictures"); err != nil {
			t.Fatalf("write field: %v", err)
		}
		part, err := writer.CreateFormFile("image", "logo.png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(image); err != nil {
			t.Fatalf("write image: %v", err)
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("close writer: %v", err)
		}
		req := httptest.NewRequest(http.MethodPost, "/api/workspaces", &body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+owner.Token)
		return req
	}

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, build(png))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	data := dataOf(t, rr)
	imageURL, _ := data["imageUrl"].(string)
	if !strings.HasPrefix(imageURL, "data:image/png;base64,") {
		t.Fatalf("expected inline png data URL, got %q", imageURL)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, build([]byte("just some text, not a picture")))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", payload["code"])
	}
}
