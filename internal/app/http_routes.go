package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
		return
	}
	sess, err := s.service.Login(r.Context(), body.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, sessionPayload(sess))
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
		return
	}
	sess, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, sessionPayload(sess))
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := Session{}
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			sess = parsed
		}
	}
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	if err := s.service.Logout(r.Context(), sess, body.RefreshToken); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, map[string]any{"success": true})
}

func (s *HTTPServer) handleCurrent(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.CurrentUser(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, user)
}

func sessionPayload(sess Session) map[string]any {
	return map[string]any{
		"token":        sess.Token,
		"refreshToken": sess.RefreshToken,
		"userId":       sess.UserID,
		"userName":     sess.UserName,
		"expiresAt":    sess.ExpiresAt.UTC(),
	}
}

func (s *HTTPServer) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	member, err := s.service.CheckAccess(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, member)
}

func (s *HTTPServer) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := s.service.ListWorkspaces(r.Context(), sessionFrom(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeList(w, workspaces, len(workspaces))
}

func (s *HTTPServer) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	form, err := s.readForm(w, r)
	defer form.Close()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	name, _ := form.value("name")
	imageURL, _ := form.value("imageUrl")
	workspace, err := s.service.CreateWorkspace(r.Context(), sessionFrom(r.Context()).UserID, WorkspaceInput{
		Name:     name,
		Image:    form.image,
		ImageURL: imageURL,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, workspace)
}

func (s *HTTPServer) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	workspace, err := s.service.GetWorkspace(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "workspaceId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, workspace)
}

func (s *HTTPServer) handleUpdateWorkspace(w http.ResponseWriter, r *http.Request) {
	form, err := s.readForm(w, r)
	defer form.Close()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	workspace, err := s.service.UpdateWorkspace(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "workspaceId"), WorkspaceUpdate{
		Name:     form.ptr("name"),
		Image:    form.image,
		ImageURL: form.ptr("imageUrl"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, workspace)
}

func (s *HTTPServer) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workspaceId")
	if err := s.service.DeleteWorkspace(r.Context(), sessionFrom(r.Context()).UserID, id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, map[string]any{"id": id})
}

func (s *HTTPServer) handleWorkspaceInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.WorkspaceInfo(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "workspaceId"), r.URL.Query().Get("inviteCode"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, info)
}

func (s *HTTPServer) handleJoinWorkspace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
		return
	}
	workspace, err := s.service.JoinWorkspace(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "workspaceId"), body.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, workspace)
}

func (s *HTTPServer) handleResetInviteCode(w http.ResponseWriter, r *http.Request) {
	workspace, err := s.service.ResetInviteCode(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "workspaceId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, workspace)
}

func (s *HTTPServer) handleWorkspaceAnalytics(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.WorkspaceAnalytics(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "workspaceId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, report)
}

func (s *HTTPServer) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.service.ListMembers(r.Context(), sessionFrom(r.Context()).UserID, r.URL.Query().Get("workspaceId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeList(w, members, len(members))
}

func (s *HTTPServer) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	member, err := s.service.RemoveMember(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "memberId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, map[string]any{"id": member.ID})
}

func (s *HTTPServer) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
		return
	}
	member, err := s.service.UpdateMemberRole(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "memberId"), body.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, member)
}

func (s *HTTPServer) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.service.ListProjects(r.Context(), sessionFrom(r.Context()).UserID, r.URL.Query().Get("workspaceId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeList(w, projects, len(projects))
}

func (s *HTTPServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	form, err := s.readForm(w, r)
	defer form.Close()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	name, _ := form.value("name")
	workspaceID, _ := form.value("workspaceId")
	imageURL, _ := form.value("imageUrl")
	project, err := s.service.CreateProject(r.Context(), sessionFrom(r.Context()).UserID, ProjectInput{
		Name:        name,
		WorkspaceID: workspaceID,
		Image:       form.image,
		ImageURL:    imageURL,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, project)
}

func (s *HTTPServer) handleGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.service.GetProject(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "projectId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, project)
}

func (s *HTTPServer) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	form, err := s.readForm(w, r)
	defer form.Close()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	project, err := s.service.UpdateProject(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "projectId"), ProjectUpdate{
		Name:     form.ptr("name"),
		Image:    form.image,
		ImageURL: form.ptr("imageUrl"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, project)
}

func (s *HTTPServer) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.service.DeleteProject(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "projectId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, map[string]any{"id": project.ID, "workspaceId": project.WorkspaceID})
}

func (s *HTTPServer) handleProjectAnalytics(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.ProjectAnalytics(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "projectId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, report)
}

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	dueDate, err := parseDate(query.Get("dueDate"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tasks, total, err := s.service.ListTasks(r.Context(), sessionFrom(r.Context()).UserID, TaskQuery{
		WorkspaceID: query.Get("workspaceId"),
		ProjectID:   query.Get("projectId"),
		AssigneeID:  query.Get("assigneeId"),
		Status:      query.Get("status"),
		DueDate:     dueDate,
		Search:      query.Get("search"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeList(w, tasks, total)
}

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Status      string `json:"status"`
		WorkspaceID string `json:"workspaceId"`
		ProjectID   string `json:"projectId"`
		AssigneeID  string `json:"assigneeId"`
		DueDate     string `json:"dueDate"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
		return
	}
	dueDate, err := parseDate(body.DueDate)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	task, err := s.service.CreateTask(r.Context(), sessionFrom(r.Context()).UserID, TaskInput{
		Name:        body.Name,
		Description: body.Description,
		Status:      body.Status,
		WorkspaceID: body.WorkspaceID,
		ProjectID:   body.ProjectID,
		AssigneeID:  body.AssigneeID,
		DueDate:     dueDate,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, task)
}

func (s *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.service.GetTask(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "taskId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, task)
}

func (s *HTTPServer) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        *string      `json:"name"`
		Description *string      `json:"description"`
		Status      *string      `json:"status"`
		ProjectID   *string      `json:"projectId"`
		AssigneeID  *string      `json:"assigneeId"`
		DueDate     optionalDate `json:"dueDate"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
		return
	}
	update := TaskUpdate{
		Name:        body.Name,
		Description: body.Description,
		Status:      body.Status,
		ProjectID:   body.ProjectID,
		AssigneeID:  body.AssigneeID,
	}
	if body.DueDate.set {
		if body.DueDate.value == nil || *body.DueDate.value == "" {
			update.ClearDueDate = true
		} else {
			dueDate, err := parseDate(*body.DueDate.value)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			update.DueDate = dueDate
		}
	}
	task, err := s.service.UpdateTask(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "taskId"), update)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, task)
}

func (s *HTTPServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.service.DeleteTask(r.Context(), sessionFrom(r.Context()).UserID, chi.URLParam(r, "taskId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, map[string]any{"id": task.ID, "projectId": task.ProjectID, "workspaceId": task.WorkspaceID})
}

func (s *HTTPServer) handleBulkUpdateTasks(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Tasks []BulkTaskUpdate `json:"tasks"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidBody, err.Error(), nil)
		return
	}
	tasks, err := s.service.BulkUpdateTasks(r.Context(), sessionFrom(r.Context()).UserID, body.Tasks)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeList(w, tasks, len(tasks))
}
