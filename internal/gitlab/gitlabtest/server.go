// Package gitlabtest provides an in-memory fake of the GitLab REST API for
// tests. It models the behaviors the importer depends on: sequential issue
// IIDs that deletions never rewind, Sudo impersonation, administrator-only
// backdating, and the admin flag on users.
package gitlabtest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/op2gl/op2gl/internal/gitlab"
)

// OperatorID is the user the fake's token belongs to. It is an administrator.
const OperatorID = 1

// ProjectPath is the project every fake request is scoped to.
const ProjectPath = "acme/widget"

// Request is one logged API call.
type Request struct {
	Method string
	Path   string
	Sudo   int
	Body   map[string]interface{}
}

// Fault makes matching requests fail with Status. Times bounds how many
// requests it affects; zero means every matching request.
type Fault struct {
	Method       string
	PathContains string
	Sudo         int
	Status       int
	Times        int

	hits int
}

// Server is a fake GitLab instance holding a single project.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	users       map[int]*gitlab.User
	nextUserID  int
	issues      map[int]*gitlab.Issue
	nextIID     int
	nextID      int
	notes       map[int][]gitlab.Note
	subscribers map[int][]int
	labels      []gitlab.Label
	milestones  []gitlab.Milestone
	uploads     []string
	requests    []Request
	faults      []*Fault
	adminLog    []string
}

// New starts a fake server that is closed when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		users:       map[int]*gitlab.User{},
		nextUserID:  OperatorID,
		issues:      map[int]*gitlab.Issue{},
		nextIID:     1,
		nextID:      1000,
		notes:       map[int][]gitlab.Note{},
		subscribers: map[int][]int{},
	}
	s.AddUser("root", "root@example.com", true)

	mux := http.NewServeMux()
	s.routes(mux)
	s.Server = httptest.NewServer(s.middleware(mux))
	t.Cleanup(s.Close)
	return s
}

// APIClient returns an API client for the fake project that retries without delay.
func (s *Server) APIClient() *gitlab.Client {
	return gitlab.NewClient("operator-token", s.URL, ProjectPath).
		WithRetryBackOff(func() gitlab.BackOff { return &backoff.ZeroBackOff{} })
}

// AddUser creates an account directly.
func (s *Server) AddUser(username, email string, admin bool) *gitlab.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(username, email, username, admin)
}

func (s *Server) addUserLocked(username, email, name string, admin bool) *gitlab.User {
	u := &gitlab.User{ID: s.nextUserID, Username: username, Email: email, Name: name, State: "active", IsAdmin: admin}
	s.users[u.ID] = u
	s.nextUserID++
	return u
}

// User returns a copy of the account with the given ID.
func (s *Server) User(id int) (gitlab.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return gitlab.User{}, false
	}
	return *u, true
}

// Admins returns the IDs of every administrator, ascending.
func (s *Server) Admins() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int
	for id, u := range s.users {
		if u.IsAdmin {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// AdminLog lists admin flag changes in order, as "grant:<id>" or "revoke:<id>".
func (s *Server) AdminLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.adminLog...)
}

// SetNextIID moves the project's IID counter, as if issues had been created
// and deleted before.
func (s *Server) SetNextIID(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextIID = n
}

// NextIID returns the IID the next created issue will get.
func (s *Server) NextIID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextIID
}

// AddIssue creates an issue directly, consuming an IID.
func (s *Server) AddIssue(title string) gitlab.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.createIssueLocked(title, "", OperatorID)
}

func (s *Server) createIssueLocked(title, description string, authorID int) *gitlab.Issue {
	now := time.Now().UTC()
	author := *s.users[authorID]
	issue := &gitlab.Issue{
		ID:          s.nextID,
		IID:         s.nextIID,
		Title:       title,
		Description: description,
		State:       "opened",
		CreatedAt:   &now,
		UpdatedAt:   &now,
		Labels:      []string{},
		Author:      &author,
	}
	s.nextID++
	s.nextIID++
	s.issues[issue.IID] = issue
	return issue
}

// Issue returns a copy of a live issue.
func (s *Server) Issue(iid int) (gitlab.Issue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.issues[iid]
	if !ok {
		return gitlab.Issue{}, false
	}
	return *issue, true
}

// IIDs returns the IIDs of all live issues, ascending.
func (s *Server) IIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.issues))
	for iid := range s.issues {
		ids = append(ids, iid)
	}
	sort.Ints(ids)
	return ids
}

// Notes returns the comments of an issue in creation order.
func (s *Server) Notes(iid int) []gitlab.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gitlab.Note(nil), s.notes[iid]...)
}

// Subscribers returns the users subscribed to an issue.
func (s *Server) Subscribers(iid int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.subscribers[iid]...)
}

// Labels returns the project labels.
func (s *Server) Labels() []gitlab.Label {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gitlab.Label(nil), s.labels...)
}

// AddLabel creates a label directly.
func (s *Server) AddLabel(name, color string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels = append(s.labels, gitlab.Label{ID: s.nextID, Name: name, Color: color})
	s.nextID++
}

// Milestones returns the project milestones.
func (s *Server) Milestones() []gitlab.Milestone {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gitlab.Milestone(nil), s.milestones...)
}

// Uploads returns the names of uploaded files in order.
func (s *Server) Uploads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploads...)
}

// Inject registers a fault.
func (s *Server) Inject(f Fault) *Fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp := &f
	s.faults = append(s.faults, fp)
	return fp
}

// ClearFaults removes every injected fault.
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

// Requests returns the request log.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many logged requests used method on a path containing
// pathContains.
func (s *Server) Count(method, pathContains string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && strings.Contains(r.Path, pathContains) {
			n++
		}
	}
	return n
}

type actorKey struct{}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PRIVATE-TOKEN") == "" {
			writeError(w, http.StatusUnauthorized, "401 Unauthorized")
			return
		}

		req := Request{Method: r.Method, Path: r.URL.Path}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") && r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &req.Body)
			r.Body = io.NopCloser(bytes.NewReader(raw))
		}

		s.mu.Lock()
		actor := OperatorID
		if sudo := r.Header.Get("Sudo"); sudo != "" {
			id, err := strconv.Atoi(sudo)
			if err != nil || s.users[id] == nil {
				s.mu.Unlock()
				writeError(w, http.StatusNotFound, "404 User Not Found")
				return
			}
			actor, req.Sudo = id, id
		}
		s.requests = append(s.requests, req)
		fault := s.matchFaultLocked(req)
		s.mu.Unlock()

		if fault != 0 {
			writeError(w, fault, http.StatusText(fault))
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

func (s *Server) matchFaultLocked(req Request) int {
	for _, f := range s.faults {
		if f.Method != "" && f.Method != req.Method {
			continue
		}
		if f.PathContains != "" && !strings.Contains(req.Path, f.PathContains) {
			continue
		}
		if f.Sudo != 0 && f.Sudo != req.Sudo {
			continue
		}
		if f.Times > 0 && f.hits >= f.Times {
			continue
		}
		f.hits++
		return f.Status
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// paginate applies per_page/page and sets X-Next-Page.
func paginate[T any](w http.ResponseWriter, r *http.Request, items []T) []T {
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage <= 0 {
		perPage = 20
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(items) {
		return []T{}
	}
	end := start + perPage
	if end < len(items) {
		w.Header().Set("X-Next-Page", strconv.Itoa(page+1))
	} else {
		end = len(items)
	}
	return items[start:end]
}

func pathInt(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		return 0, fmt.Errorf("bad %s %q", name, r.PathValue(name))
	}
	return v, nil
}
