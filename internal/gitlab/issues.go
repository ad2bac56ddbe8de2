package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func (c *Client) issuesPath() string {
	return "/projects/" + c.projectPath() + "/issues"
}

func (c *Client) issuePath(iid int) string {
	return c.issuesPath() + "/" + strconv.Itoa(iid)
}

// FetchIssues retrieves issues from GitLab with optional filtering by state.
// state can be: "opened", "closed", or "all".
func (c *Client) FetchIssues(ctx context.Context, state string) ([]Issue, error) {
	params := map[string]string{}
	if state != "" {
		params["state"] = state
	}
	return fetchAll[Issue](ctx, c, c.issuesPath(), params)
}

// LatestIID returns the highest IID among the project's existing issues, or
// zero when the project has none. Deleted issues are not visible.
func (c *Client) LatestIID(ctx context.Context) (int, error) {
	issue, err := c.LatestIssue(ctx)
	if err != nil || issue == nil {
		return 0, err
	}
	return issue.IID, nil
}

// LatestIssue returns the existing issue with the highest IID, or nil when
// the project has none. Issues are scanned in full because created_at is
// rewritten during an import and cannot order them.
func (c *Client) LatestIssue(ctx context.Context) (*Issue, error) {
	issues, err := c.FetchIssues(ctx, "all")
	if err != nil {
		return nil, err
	}
	var latest *Issue
	for i := range issues {
		if latest == nil || issues[i].IID > latest.IID {
			latest = &issues[i]
		}
	}
	return latest, nil
}

// FetchIssueByIID retrieves a single issue by its project-scoped IID.
func (c *Client) FetchIssueByIID(ctx context.Context, iid int) (*Issue, error) {
	var issue Issue
	if err := c.getJSON(ctx, c.issuePath(iid), nil, &issue); err != nil {
		return nil, fmt.Errorf("failed to fetch issue %d: %w", iid, err)
	}
	return &issue, nil
}

// CreateIssue creates a new issue. The request impersonates the user carried
// by ctx (see WithSudo). It is never retried.
func (c *Client) CreateIssue(ctx context.Context, opts CreateIssueOptions) (*Issue, error) {
	body := struct {
		CreateIssueOptions
		Labels string `json:"labels,omitempty"`
	}{
		CreateIssueOptions: opts,
		Labels:             strings.Join(opts.Labels, ","),
	}
	var issue Issue
	if err := c.sendJSON(ctx, http.MethodPost, c.issuesPath(), body, &issue); err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}
	return &issue, nil
}

// UpdateIssue updates an existing issue.
func (c *Client) UpdateIssue(ctx context.Context, iid int, updates map[string]interface{}) (*Issue, error) {
	var issue Issue
	if err := c.sendJSON(ctx, http.MethodPut, c.issuePath(iid), updates, &issue); err != nil {
		return nil, fmt.Errorf("failed to update issue %d: %w", iid, err)
	}
	return &issue, nil
}

// DeleteIssue removes an issue. Deleting does not give its IID back.
func (c *Client) DeleteIssue(ctx context.Context, iid int) error {
	if err := c.sendJSON(ctx, http.MethodDelete, c.issuePath(iid), nil, nil); err != nil {
		return fmt.Errorf("failed to delete issue %d: %w", iid, err)
	}
	return nil
}

// CreateNote adds a comment to an issue. A non-nil createdAt backdates it,
// which the target only allows for administrators and project owners.
func (c *Client) CreateNote(ctx context.Context, iid int, body string, createdAt *time.Time) (*Note, error) {
	payload := map[string]interface{}{"body": body}
	if createdAt != nil {
		payload["created_at"] = createdAt.UTC().Format(time.RFC3339)
	}
	var note Note
	if err := c.sendJSON(ctx, http.MethodPost, c.issuePath(iid)+"/notes", payload, &note); err != nil {
		return nil, fmt.Errorf("failed to comment on issue %d: %w", iid, err)
	}
	return &note, nil
}

// FetchNotes lists the comments of an issue, oldest first.
func (c *Client) FetchNotes(ctx context.Context, iid int) ([]Note, error) {
	return fetchAll[Note](ctx, c, c.issuePath(iid)+"/notes", map[string]string{
		"sort":     "asc",
		"order_by": "created_at",
	})
}

// SubscribeIssue subscribes the user carried by ctx to an issue. Being
// subscribed already is not an error.
func (c *Client) SubscribeIssue(ctx context.Context, iid int) error {
	err := c.sendJSON(ctx, http.MethodPost, c.issuePath(iid)+"/subscribe", nil, nil)
	if err != nil && !hasStatus(err, http.StatusNotModified) {
		return fmt.Errorf("failed to subscribe to issue %d: %w", iid, err)
	}
	return nil
}
