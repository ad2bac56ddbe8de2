package gitlabtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/op2gl/op2gl/internal/gitlab"
)

func withActor(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, actorKey{}, id)
}

func actorOf(r *http.Request) int {
	id, _ := r.Context().Value(actorKey{}).(int)
	return id
}

const prefix = "/api/v4"

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+prefix+"/user", s.currentUser)
	mux.HandleFunc("GET "+prefix+"/users", s.listUsers)
	mux.HandleFunc("POST "+prefix+"/users", s.createUser)
	mux.HandleFunc("GET "+prefix+"/users/{id}", s.getUser)
	mux.HandleFunc("PUT "+prefix+"/users/{id}", s.updateUser)
	mux.HandleFunc("POST "+prefix+"/users/{id}/block", s.blockUser)

	p := prefix + "/projects/{project}"
	mux.HandleFunc("GET "+p, s.getProject)
	mux.HandleFunc("GET "+p+"/issues", s.listIssues)
	mux.HandleFunc("POST "+p+"/issues", s.createIssue)
	mux.HandleFunc("GET "+p+"/issues/{iid}", s.getIssue)
	mux.HandleFunc("PUT "+p+"/issues/{iid}", s.updateIssue)
	mux.HandleFunc("DELETE "+p+"/issues/{iid}", s.deleteIssue)
	mux.HandleFunc("GET "+p+"/issues/{iid}/notes", s.listNotes)
	mux.HandleFunc("POST "+p+"/issues/{iid}/notes", s.createNote)
	mux.HandleFunc("POST "+p+"/issues/{iid}/subscribe", s.subscribe)
	mux.HandleFunc("GET "+p+"/labels", s.listLabels)
	mux.HandleFunc("POST "+p+"/labels", s.createLabel)
	mux.HandleFunc("GET "+p+"/milestones", s.listMilestones)
	mux.HandleFunc("POST "+p+"/milestones", s.createMilestone)
	mux.HandleFunc("PUT "+p+"/milestones/{id}", s.updateMilestone)
	mux.HandleFunc("POST "+p+"/uploads", s.upload)
}

func decode(r *http.Request) map[string]interface{} {
	body := map[string]interface{}{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body
}

func (s *Server) isAdminLocked(id int) bool {
	u := s.users[id]
	return u != nil && u.IsAdmin
}

// backdate parses a privileged timestamp field. ok is false when the field
// is present but the actor may not set it.
func (s *Server) backdateLocked(r *http.Request, body map[string]interface{}, field string) (t *time.Time, ok bool, err error) {
	raw, present := body[field]
	if !present {
		return nil, true, nil
	}
	if !s.isAdminLocked(actorOf(r)) {
		return nil, false, nil
	}
	str, _ := raw.(string)
	parsed, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return nil, true, fmt.Errorf("%s is invalid", field)
	}
	parsed = parsed.UTC()
	return &parsed, true, nil
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.users[actorOf(r)])
}

func (s *Server) sortedUsersLocked() []gitlab.User {
	ids := make([]int, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]gitlab.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.users[id])
	}
	return out
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := r.URL.Query()
	var out []gitlab.User
	for _, u := range s.sortedUsersLocked() {
		switch {
		case q.Get("username") != "":
			if strings.EqualFold(u.Username, q.Get("username")) {
				out = append(out, u)
			}
		case q.Get("search") != "":
			needle := strings.ToLower(q.Get("search"))
			if strings.Contains(strings.ToLower(u.Username), needle) ||
				strings.Contains(strings.ToLower(u.Email), needle) ||
				strings.Contains(strings.ToLower(u.Name), needle) {
				out = append(out, u)
			}
		default:
			out = append(out, u)
		}
	}
	writeJSON(w, http.StatusOK, paginate(w, r, out))
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		writeError(w, http.StatusNotFound, "404 User Not Found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	body := decode(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isAdminLocked(actorOf(r)) {
		writeError(w, http.StatusForbidden, "403 Forbidden")
		return
	}
	username, _ := body["username"].(string)
	email, _ := body["email"].(string)
	name, _ := body["name"].(string)
	if username == "" || email == "" {
		writeError(w, http.StatusBadRequest, "username and email are required")
		return
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) || strings.EqualFold(u.Email, email) {
			writeError(w, http.StatusConflict, "Username or email has already been taken")
			return
		}
	}
	writeJSON(w, http.StatusCreated, s.addUserLocked(username, email, name, false))
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body := decode(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isAdminLocked(actorOf(r)) {
		writeError(w, http.StatusForbidden, "403 Forbidden")
		return
	}
	u, ok := s.users[id]
	if !ok {
		writeError(w, http.StatusNotFound, "404 User Not Found")
		return
	}
	if admin, ok := body["admin"].(bool); ok && admin != u.IsAdmin {
		u.IsAdmin = admin
		if admin {
			s.adminLog = append(s.adminLog, fmt.Sprintf("grant:%d", id))
		} else {
			s.adminLog = append(s.adminLog, fmt.Sprintf("revoke:%d", id))
		}
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) blockUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		writeError(w, http.StatusNotFound, "404 User Not Found")
		return
	}
	u.State = "blocked"
	writeJSON(w, http.StatusCreated, true)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, gitlab.Project{
		ID:                42,
		Name:              "widget",
		Path:              "widget",
		PathWithNamespace: ProjectPath,
		WebURL:            s.URL + "/" + ProjectPath,
		HTTPURLToRepo:     s.URL + "/" + ProjectPath + ".git",
		WikiEnabled:       true,
		IssuesEnabled:     true,
	})
}

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	s.mu.Lock()
	defer s.mu.Unlock()
	iids := make([]int, 0, len(s.issues))
	for iid := range s.issues {
		iids = append(iids, iid)
	}
	sort.Ints(iids)
	var out []gitlab.Issue
	for _, iid := range iids {
		issue := s.issues[iid]
		if state != "" && state != "all" && issue.State != state {
			continue
		}
		out = append(out, *issue)
	}
	writeJSON(w, http.StatusOK, paginate(w, r, out))
}

func splitLabels(v interface{}) []string {
	str, _ := v.(string)
	out := []string{}
	for _, l := range strings.Split(str, ",") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func (s *Server) applyFieldsLocked(issue *gitlab.Issue, body map[string]interface{}) {
	if v, ok := body["title"].(string); ok {
		issue.Title = v
	}
	if v, ok := body["description"].(string); ok {
		issue.Description = v
	}
	if v, ok := body["labels"]; ok {
		issue.Labels = splitLabels(v)
	}
	if v, ok := body["due_date"].(string); ok {
		issue.DueDate = v
	}
	if v, ok := body["milestone_id"].(float64); ok {
		issue.Milestone = nil
		for i := range s.milestones {
			if s.milestones[i].ID == int(v) {
				m := s.milestones[i]
				issue.Milestone = &m
			}
		}
	}
	if v, ok := body["assignee_ids"].([]interface{}); ok {
		issue.Assignees = nil
		for _, raw := range v {
			id, _ := raw.(float64)
			if u, ok := s.users[int(id)]; ok {
				issue.Assignees = append(issue.Assignees, *u)
			}
		}
	}
	switch body["state_event"] {
	case "close":
		issue.State = "closed"
		now := time.Now().UTC()
		issue.ClosedAt = &now
	case "reopen":
		issue.State = "opened"
		issue.ClosedAt = nil
	}
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	body := decode(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	title, _ := body["title"].(string)
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is missing")
		return
	}
	createdAt, ok, err := s.backdateLocked(r, body, "created_at")
	if !ok {
		writeError(w, http.StatusForbidden, "403 Forbidden - created_at requires administrator access")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	issue := s.createIssueLocked(title, "", actorOf(r))
	s.applyFieldsLocked(issue, body)
	if createdAt != nil {
		issue.CreatedAt = createdAt
	}
	writeJSON(w, http.StatusCreated, issue)
}

func (s *Server) issueFromPathLocked(w http.ResponseWriter, r *http.Request) *gitlab.Issue {
	iid, err := pathInt(r, "iid")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil
	}
	issue, ok := s.issues[iid]
	if !ok {
		writeError(w, http.StatusNotFound, "404 Not found")
		return nil
	}
	return issue
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if issue := s.issueFromPathLocked(w, r); issue != nil {
		writeJSON(w, http.StatusOK, issue)
	}
}

func (s *Server) updateIssue(w http.ResponseWriter, r *http.Request) {
	body := decode(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	issue := s.issueFromPathLocked(w, r)
	if issue == nil {
		return
	}
	var stamps [2]*time.Time
	for i, field := range []string{"created_at", "updated_at"} {
		t, ok, err := s.backdateLocked(r, body, field)
		if !ok {
			writeError(w, http.StatusForbidden, "403 Forbidden - "+field+" requires administrator access")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		stamps[i] = t
	}
	s.applyFieldsLocked(issue, body)
	if stamps[0] != nil {
		issue.CreatedAt = stamps[0]
	}
	if stamps[1] != nil {
		issue.UpdatedAt = stamps[1]
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) deleteIssue(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue := s.issueFromPathLocked(w, r)
	if issue == nil {
		return
	}
	if !s.isAdminLocked(actorOf(r)) {
		writeError(w, http.StatusForbidden, "403 Forbidden")
		return
	}
	delete(s.issues, issue.IID)
	delete(s.notes, issue.IID)
	delete(s.subscribers, issue.IID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listNotes(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue := s.issueFromPathLocked(w, r)
	if issue == nil {
		return
	}
	writeJSON(w, http.StatusOK, paginate(w, r, append([]gitlab.Note{}, s.notes[issue.IID]...)))
}

func (s *Server) createNote(w http.ResponseWriter, r *http.Request) {
	body := decode(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	issue := s.issueFromPathLocked(w, r)
	if issue == nil {
		return
	}
	text, _ := body["body"].(string)
	if text == "" {
		writeError(w, http.StatusBadRequest, "body is missing")
		return
	}
	createdAt, ok, err := s.backdateLocked(r, body, "created_at")
	if !ok {
		writeError(w, http.StatusForbidden, "403 Forbidden - created_at requires administrator access")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if createdAt == nil {
		now := time.Now().UTC()
		createdAt = &now
	}
	author := *s.users[actorOf(r)]
	note := gitlab.Note{ID: s.nextID, Body: text, Author: &author, CreatedAt: createdAt}
	s.nextID++
	s.notes[issue.IID] = append(s.notes[issue.IID], note)
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue := s.issueFromPathLocked(w, r)
	if issue == nil {
		return
	}
	actor := actorOf(r)
	for _, id := range s.subscribers[issue.IID] {
		if id == actor {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	s.subscribers[issue.IID] = append(s.subscribers[issue.IID], actor)
	writeJSON(w, http.StatusCreated, issue)
}

func (s *Server) listLabels(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, paginate(w, r, append([]gitlab.Label{}, s.labels...)))
}

func (s *Server) createLabel(w http.ResponseWriter, r *http.Request) {
	body := decode(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	name, _ := body["name"].(string)
	color, _ := body["color"].(string)
	if name == "" || color == "" {
		writeError(w, http.StatusBadRequest, "name and color are required")
		return
	}
	for _, l := range s.labels {
		if l.Name == name {
			writeError(w, http.StatusConflict, "Label already exists")
			return
		}
	}
	desc, _ := body["description"].(string)
	l := gitlab.Label{ID: s.nextID, Name: name, Color: color, Description: desc}
	s.nextID++
	s.labels = append(s.labels, l)
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) listMilestones(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, paginate(w, r, append([]gitlab.Milestone{}, s.milestones...)))
}

func (s *Server) createMilestone(w http.ResponseWriter, r *http.Request) {
	body := decode(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	title, _ := body["title"].(string)
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is missing")
		return
	}
	for _, m := range s.milestones {
		if m.Title == title {
			writeError(w, http.StatusBadRequest, "Title has already been taken")
			return
		}
	}
	m := gitlab.Milestone{ID: s.nextID, IID: len(s.milestones) + 1, Title: title, State: "active"}
	m.Description, _ = body["description"].(string)
	m.StartDate, _ = body["start_date"].(string)
	m.DueDate, _ = body["due_date"].(string)
	s.nextID++
	s.milestones = append(s.milestones, m)
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) updateMilestone(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body := decode(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.milestones {
		if s.milestones[i].ID != id {
			continue
		}
		switch body["state_event"] {
		case "close":
			s.milestones[i].State = "closed"
		case "activate":
			s.milestones[i].State = "active"
		}
		writeJSON(w, http.StatusOK, s.milestones[i])
		return
	}
	writeError(w, http.StatusNotFound, "404 Milestone Not Found")
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is missing")
		return
	}
	_ = file.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, header.Filename)
	url := fmt.Sprintf("/uploads/%032x/%s", len(s.uploads), header.Filename)
	writeJSON(w, http.StatusCreated, gitlab.Upload{
		Alt:      strings.TrimSuffix(header.Filename, extOf(header.Filename)),
		URL:      url,
		FullPath: "/" + ProjectPath + url,
		Markdown: fmt.Sprintf("[%s](%s)", header.Filename, url),
	})
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[i:]
	}
	return ""
}
