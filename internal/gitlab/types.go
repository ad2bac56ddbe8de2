// Package gitlab provides client and data types for the GitLab REST API.
//
// This package handles every call the migration makes against the target:
// issues, notes, labels, milestones, users (including the admin flag) and
// uploads. Requests can impersonate another user with the Sudo header; see
// WithSudo.
package gitlab

import (
	"net/http"
	"time"

	"github.com/op2gl/op2gl/internal/telemetry"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitLab API v4 endpoint suffix.
	DefaultAPIEndpoint = "/api/v4"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxRetries is the maximum number of retries for idempotent requests.
	MaxRetries = 3

	// RetryDelay is the base delay between retries (exponential backoff).
	RetryDelay = time.Second

	// MaxPageSize is the maximum number of items to fetch per page.
	MaxPageSize = 100

	// MaxPages is the maximum number of pages to fetch before stopping.
	// This prevents infinite loops from malformed X-Next-Page headers.
	MaxPages = 1000
)

// Client provides methods to interact with the GitLab REST API.
type Client struct {
	Token      string       // GitLab personal access token (admin scope for user management)
	BaseURL    string       // GitLab API URL (e.g., "https://gitlab.com/api/v4")
	ProjectID  string       // Project ID or path (e.g., "group/project")
	HTTPClient *http.Client // Optional custom HTTP client

	// MaxRetries bounds retries of idempotent requests. Creates are never retried.
	MaxRetries int

	newBackOff  func() BackOff
	instruments *telemetry.APIInstruments
}

// Issue represents an issue from the GitLab API.
type Issue struct {
	ID          int        `json:"id"`  // Global issue ID
	IID         int        `json:"iid"` // Project-scoped issue ID
	ProjectID   int        `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	State       string     `json:"state"` // "opened", "closed"
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	Labels      []string   `json:"labels"`
	Assignees   []User     `json:"assignees,omitempty"`
	Author      *User      `json:"author,omitempty"`
	Milestone   *Milestone `json:"milestone,omitempty"`
	WebURL      string     `json:"web_url"`
	DueDate     string     `json:"due_date,omitempty"` // YYYY-MM-DD format
}

// Note is a comment on an issue.
type Note struct {
	ID        int        `json:"id"`
	Body      string     `json:"body"`
	Author    *User      `json:"author,omitempty"`
	CreatedAt *time.Time `json:"created_at"`
	System    bool       `json:"system"`
}

// User represents a GitLab user.
type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	State     string `json:"state,omitempty"` // "active", "blocked", etc.
	IsAdmin   bool   `json:"is_admin,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	WebURL    string `json:"web_url,omitempty"`
}

// Milestone represents a GitLab milestone.
type Milestone struct {
	ID          int    `json:"id"`
	IID         int    `json:"iid"`
	ProjectID   int    `json:"project_id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	State       string `json:"state"` // "active", "closed"
	DueDate     string `json:"due_date,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	WebURL      string `json:"web_url,omitempty"`
}

// Label represents a GitLab label.
type Label struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description,omitempty"`
	TextColor   string `json:"text_color,omitempty"`
}

// Project represents a GitLab project.
type Project struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	Path              string `json:"path"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
	HTTPURLToRepo     string `json:"http_url_to_repo,omitempty"`
	WikiEnabled       bool   `json:"wiki_enabled"`
	IssuesEnabled     bool   `json:"issues_enabled"`
}

// WikiRepoURL returns the HTTP URL of the project's wiki repository.
func (p *Project) WikiRepoURL() string {
	if p.HTTPURLToRepo == "" {
		return ""
	}
	repo := p.HTTPURLToRepo
	if len(repo) > 4 && repo[len(repo)-4:] == ".git" {
		repo = repo[:len(repo)-4]
	}
	return repo + ".wiki.git"
}

// Upload is the response of the project uploads endpoint.
type Upload struct {
	Alt      string `json:"alt"`
	URL      string `json:"url"`       // relative to the project web URL
	FullPath string `json:"full_path"` // absolute path on the instance (newer releases)
	Markdown string `json:"markdown"`
}

// CreateIssueOptions are the fields accepted when creating an issue.
type CreateIssueOptions struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Labels      []string   `json:"-"`
	AssigneeIDs []int      `json:"assignee_ids,omitempty"`
	MilestoneID int        `json:"milestone_id,omitempty"`
	DueDate     string     `json:"due_date,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

// CreateUserOptions are the fields accepted when creating a user.
type CreateUserOptions struct {
	Username            string `json:"username"`
	Email               string `json:"email"`
	Name                string `json:"name"`
	ForceRandomPassword bool   `json:"force_random_password,omitempty"`
	SkipConfirmation    bool   `json:"skip_confirmation,omitempty"`
}

// CreateMilestoneOptions are the fields accepted when creating a milestone.
type CreateMilestoneOptions struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
}
