package gitlab

import (
	"encoding/json"
	"testing"
)

// TestIssueJSONUnmarshal verifies that GitLab API JSON responses
// can be correctly unmarshaled into our Issue type.
func TestIssueJSONUnmarshal(t *testing.T) {
	jsonData := `{
		"id": 123456,
		"iid": 42,
		"project_id": 789,
		"title": "Fix authentication bug",
		"description": "Users cannot log in with SSO",
		"state": "opened",
		"created_at": "2014-01-15T10:30:00Z",
		"updated_at": "2014-01-16T14:45:00Z",
		"closed_at": null,
		"labels": ["Bug", "Accepted"],
		"assignees": [{"id": 101, "username": "jdoe", "name": "John Doe"}],
		"author": {"id": 102, "username": "alice", "name": "Alice Smith"},
		"milestone": {"id": 5, "iid": 1, "title": "1.0", "state": "active"},
		"web_url": "https://gitlab.example.com/group/project/-/issues/42",
		"due_date": "2014-01-20"
	}`

	var issue Issue
	if err := json.Unmarshal([]byte(jsonData), &issue); err != nil {
		t.Fatalf("Failed to unmarshal issue: %v", err)
	}

	if issue.IID != 42 {
		t.Errorf("IID = %d, want 42", issue.IID)
	}
	if issue.CreatedAt == nil || issue.CreatedAt.Year() != 2014 {
		t.Errorf("CreatedAt = %v, want 2014", issue.CreatedAt)
	}
	if issue.ClosedAt != nil {
		t.Errorf("ClosedAt = %v, want nil", issue.ClosedAt)
	}
	if len(issue.Assignees) != 1 || issue.Assignees[0].Username != "jdoe" {
		t.Errorf("Assignees = %+v, want jdoe", issue.Assignees)
	}
	if issue.Milestone == nil || issue.Milestone.Title != "1.0" {
		t.Errorf("Milestone = %+v, want 1.0", issue.Milestone)
	}
}

func TestWikiRepoURL(t *testing.T) {
	tests := []struct {
		repo string
		want string
	}{
		{"https://gitlab.example.com/acme/widget.git", "https://gitlab.example.com/acme/widget.wiki.git"},
		{"https://gitlab.example.com/acme/widget", "https://gitlab.example.com/acme/widget.wiki.git"},
		{"", ""},
	}
	for _, tt := range tests {
		p := &Project{HTTPURLToRepo: tt.repo}
		if got := p.WikiRepoURL(); got != tt.want {
			t.Errorf("WikiRepoURL(%q) = %q, want %q", tt.repo, got, tt.want)
		}
	}
}
