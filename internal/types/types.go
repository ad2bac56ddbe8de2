// Package types defines the Project Document: the in-memory snapshot of one
// legacy project that the import pipeline consumes.
package types

import (
	"fmt"
	"sort"
	"time"
)

// Label source kinds.
const (
	KindType       = "type"
	KindCategory   = "category"
	KindStatus     = "status"
	KindDiscussion = "discussion"
)

// DiscussionLabel is attached to every issue derived from a forum message.
const DiscussionLabel = "discussion"

// Document owns every entity extracted from one legacy project.
// It is immutable after Load; ID maps produced while importing live elsewhere.
type Document struct {
	Project       Project             `json:"project" yaml:"project"`
	Users         map[int]*User       `json:"users" yaml:"users"`
	Labels        []*Label            `json:"labels,omitempty" yaml:"labels,omitempty"`
	Milestones    map[int]*Milestone  `json:"milestones,omitempty" yaml:"milestones,omitempty"`
	Issues        map[int]*Issue      `json:"issues,omitempty" yaml:"issues,omitempty"`
	Boards        map[int]*Board      `json:"boards,omitempty" yaml:"boards,omitempty"`
	Wiki          map[int]*WikiPage   `json:"wiki,omitempty" yaml:"wiki,omitempty"`
	WikiRedirects map[string]string   `json:"wiki_redirects,omitempty" yaml:"wiki_redirects,omitempty"` // redirect source title -> target title
	Meetings      map[int]*Meeting    `json:"meetings,omitempty" yaml:"meetings,omitempty"`
}

// Project identifies the legacy project the document was dumped from.
type Project struct {
	Identifier string    `json:"identifier" yaml:"identifier"`
	Name       string    `json:"name,omitempty" yaml:"name,omitempty"`
	DumpedAt   time.Time `json:"dumped_at,omitempty" yaml:"dumped_at,omitempty"`
}

// User is a legacy account.
type User struct {
	LegacyID    int    `json:"legacy_id" yaml:"legacy_id"`
	Login       string `json:"login" yaml:"login"`
	Email       string `json:"email,omitempty" yaml:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Locked      bool   `json:"locked,omitempty" yaml:"locked,omitempty"`
}

// Label is a target label derived from a legacy type, category or status.
type Label struct {
	Name       string `json:"name" yaml:"name"`
	Color      string `json:"color,omitempty" yaml:"color,omitempty"`
	SourceKind string `json:"source_kind" yaml:"source_kind"` // type, category, status, discussion
}

// Milestone mirrors one legacy version.
type Milestone struct {
	LegacyVersionID int    `json:"legacy_version_id" yaml:"legacy_version_id"`
	Title           string `json:"title" yaml:"title"`
	Description     string `json:"description,omitempty" yaml:"description,omitempty"`
	StartDate       string `json:"start_date,omitempty" yaml:"start_date,omitempty"` // YYYY-MM-DD
	DueDate         string `json:"due_date,omitempty" yaml:"due_date,omitempty"`     // YYYY-MM-DD
	Closed          bool   `json:"closed,omitempty" yaml:"closed,omitempty"`
}

// Relation is an edge to another legacy work package.
type Relation struct {
	LegacyID int    `json:"legacy_id" yaml:"legacy_id"`
	Kind     string `json:"kind" yaml:"kind"` // relates, blocks, blocks_inv, duplicates, ...
}

// Attachment points at a file copied to <files-dir>/<attachment_id>/<file>.
type Attachment struct {
	AttachmentID int    `json:"attachment_id" yaml:"attachment_id"`
	File         string `json:"file" yaml:"file"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Issue is a legacy work package, or a forum thread reduced to one.
type Issue struct {
	LegacyID    int            `json:"legacy_id" yaml:"legacy_id"`
	Title       string         `json:"title" yaml:"title"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	AuthorID    int            `json:"author_id" yaml:"author_id"`
	AssigneeID  int            `json:"assignee_id,omitempty" yaml:"assignee_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
	Status      string         `json:"status,omitempty" yaml:"status,omitempty"`
	Closed      bool           `json:"closed,omitempty" yaml:"closed,omitempty"`
	Labels      []string       `json:"labels,omitempty" yaml:"labels,omitempty"`
	MilestoneID int            `json:"milestone_id,omitempty" yaml:"milestone_id,omitempty"` // legacy version ID
	BoardID     int            `json:"board_id,omitempty" yaml:"board_id,omitempty"`         // set for forum threads
	StartDate   string         `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	DueDate     string         `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	Relations   []Relation     `json:"relations,omitempty" yaml:"relations,omitempty"`
	ParentID    int            `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Children    []int          `json:"children,omitempty" yaml:"children,omitempty"`
	Watchers    []int          `json:"watchers,omitempty" yaml:"watchers,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	Journal     []JournalEntry `json:"journal,omitempty" yaml:"journal,omitempty"`

	// SourceID is the legacy ID before renumbering (forum threads appended
	// after work packages). Zero when LegacyID is the original ID.
	SourceID int `json:"-" yaml:"-"`
}

// JournalEntry is one historical change to an issue, replayed with its
// original author and timestamp.
type JournalEntry struct {
	AuthorID    int          `json:"author_id" yaml:"author_id"`
	CreatedAt   time.Time    `json:"created_at" yaml:"created_at"`
	Notes       string       `json:"notes,omitempty" yaml:"notes,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	Changes     *Changes     `json:"changes,omitempty" yaml:"changes,omitempty"`
}

// Changes holds the attributes a journal entry modified. Nil fields are
// unchanged.
type Changes struct {
	Title       *string   `json:"title,omitempty" yaml:"title,omitempty"`
	Description *string   `json:"description,omitempty" yaml:"description,omitempty"`
	Labels      *[]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Closed      *bool     `json:"closed,omitempty" yaml:"closed,omitempty"`
	AssigneeID  *int      `json:"assignee_id,omitempty" yaml:"assignee_id,omitempty"`
	MilestoneID *int      `json:"milestone_id,omitempty" yaml:"milestone_id,omitempty"`
	DueDate     *string   `json:"due_date,omitempty" yaml:"due_date,omitempty"`
}

// Empty reports whether no attribute changed.
func (c *Changes) Empty() bool {
	if c == nil {
		return true
	}
	return c.Title == nil && c.Description == nil && c.Labels == nil &&
		c.Closed == nil && c.AssigneeID == nil && c.MilestoneID == nil && c.DueDate == nil
}

// Board is a legacy forum.
type Board struct {
	LegacyID int                   `json:"legacy_id" yaml:"legacy_id"`
	Name     string                `json:"name" yaml:"name"`
	Messages map[int]*ForumMessage `json:"messages,omitempty" yaml:"messages,omitempty"`
}

// ForumMessage is the opening post of a forum thread.
type ForumMessage struct {
	LegacyID    int          `json:"legacy_id" yaml:"legacy_id"`
	Subject     string       `json:"subject" yaml:"subject"`
	Content     string       `json:"content,omitempty" yaml:"content,omitempty"`
	AuthorID    int          `json:"author_id" yaml:"author_id"`
	CreatedAt   time.Time    `json:"created_at" yaml:"created_at"`
	Locked      bool         `json:"locked,omitempty" yaml:"locked,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	Replies     []ForumReply `json:"replies,omitempty" yaml:"replies,omitempty"`
}

// ForumReply is a reply within a thread.
type ForumReply struct {
	AuthorID    int          `json:"author_id" yaml:"author_id"`
	CreatedAt   time.Time    `json:"created_at" yaml:"created_at"`
	Content     string       `json:"content" yaml:"content"`
	Attachments []Attachment `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

// WikiPage is a legacy wiki page with its full version history.
type WikiPage struct {
	LegacyID     int           `json:"legacy_id" yaml:"legacy_id"`
	Slug         string        `json:"slug" yaml:"slug"`
	Title        string        `json:"title" yaml:"title"`
	RedirectFrom []string      `json:"redirect_from,omitempty" yaml:"redirect_from,omitempty"`
	Versions     []WikiVersion `json:"versions" yaml:"versions"`
	Attachments  []Attachment  `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

// WikiVersion is one journal entry of a wiki page.
type WikiVersion struct {
	AuthorID  int       `json:"author_id" yaml:"author_id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Text      string    `json:"text" yaml:"text"`
}

// Latest returns the most recent version, or nil for an empty page.
func (p *WikiPage) Latest() *WikiVersion {
	if len(p.Versions) == 0 {
		return nil
	}
	return &p.Versions[len(p.Versions)-1]
}

// Meeting is a legacy meeting; it has no native target entity and becomes a
// wiki page.
type Meeting struct {
	LegacyID  int           `json:"legacy_id" yaml:"legacy_id"`
	Title     string        `json:"title" yaml:"title"`
	AuthorID  int           `json:"author_id" yaml:"author_id"`
	StartTime time.Time     `json:"start_time" yaml:"start_time"`
	Duration  float64       `json:"duration,omitempty" yaml:"duration,omitempty"` // hours
	Versions  []WikiVersion `json:"versions" yaml:"versions"`
}

// User returns the legacy user with the given ID, or nil.
func (d *Document) User(id int) *User {
	if d == nil || d.Users == nil {
		return nil
	}
	return d.Users[id]
}

// IssueIDs returns the work package IDs in ascending order.
func (d *Document) IssueIDs() []int {
	return sortedKeys(d.Issues)
}

// BoardIDs returns the forum IDs in ascending order.
func (d *Document) BoardIDs() []int {
	return sortedKeys(d.Boards)
}

// WikiIDs returns the wiki page IDs in ascending order.
func (d *Document) WikiIDs() []int {
	return sortedKeys(d.Wiki)
}

// MeetingIDs returns the meeting IDs in ascending order.
func (d *Document) MeetingIDs() []int {
	return sortedKeys(d.Meetings)
}

// LinkHierarchy fills Children from ParentID so that every parent/child edge
// is present on both ends. Existing children are kept.
func (d *Document) LinkHierarchy() {
	for _, id := range d.IssueIDs() {
		issue := d.Issues[id]
		if issue.ParentID == 0 {
			continue
		}
		parent, ok := d.Issues[issue.ParentID]
		if !ok {
			continue
		}
		if !containsInt(parent.Children, id) {
			parent.Children = append(parent.Children, id)
			sort.Ints(parent.Children)
		}
	}
}

// Validate checks referential consistency that the importer relies on.
func (d *Document) Validate() error {
	for id, issue := range d.Issues {
		if issue == nil {
			return fmt.Errorf("issue %d: empty entry", id)
		}
		if issue.LegacyID == 0 {
			issue.LegacyID = id
		}
		if issue.LegacyID != id {
			return fmt.Errorf("issue %d: legacy_id %d does not match its key", id, issue.LegacyID)
		}
		if issue.LegacyID < 1 {
			return fmt.Errorf("issue %d: legacy IDs start at 1", id)
		}
	}
	for id, board := range d.Boards {
		if board == nil {
			return fmt.Errorf("board %d: empty entry", id)
		}
		if board.LegacyID == 0 {
			board.LegacyID = id
		}
		for mid, msg := range board.Messages {
			if msg == nil {
				return fmt.Errorf("board %d: message %d: empty entry", id, mid)
			}
			if msg.LegacyID == 0 {
				msg.LegacyID = mid
			}
		}
	}
	for id, user := range d.Users {
		if user == nil {
			return fmt.Errorf("user %d: empty entry", id)
		}
		if user.LegacyID == 0 {
			user.LegacyID = id
		}
		if user.Login == "" {
			return fmt.Errorf("user %d: login is required", id)
		}
	}
	for id, page := range d.Wiki {
		if page == nil {
			return fmt.Errorf("wiki page %d: empty entry", id)
		}
		if page.LegacyID == 0 {
			page.LegacyID = id
		}
		if page.Slug == "" {
			return fmt.Errorf("wiki page %d: slug is required", id)
		}
	}
	for id, m := range d.Meetings {
		if m == nil {
			return fmt.Errorf("meeting %d: empty entry", id)
		}
		if m.LegacyID == 0 {
			m.LegacyID = id
		}
	}
	return nil
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
