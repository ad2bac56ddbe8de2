package importer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/op2gl/op2gl/internal/gitlab"
	"github.com/op2gl/op2gl/internal/identity"
	"github.com/op2gl/op2gl/internal/markup"
	"github.com/op2gl/op2gl/internal/taxonomy"
	"github.com/op2gl/op2gl/internal/types"
)

// API is the subset of the target API the materializer needs.
type API interface {
	CreateIssue(ctx context.Context, opts gitlab.CreateIssueOptions) (*gitlab.Issue, error)
	UpdateIssue(ctx context.Context, iid int, updates map[string]interface{}) (*gitlab.Issue, error)
	CreateNote(ctx context.Context, iid int, body string, createdAt *time.Time) (*gitlab.Note, error)
	SubscribeIssue(ctx context.Context, iid int) error
	UploadFile(ctx context.Context, name string, r io.Reader) (*gitlab.Upload, error)
}

// Elevator runs work while the listed accounts hold administrator rights.
// *elevation.Bracket implements it.
type Elevator interface {
	Do(ctx context.Context, userIDs []int, fn func(ctx context.Context) error) error
	Outstanding() []int
}

// MaterializeOptions configures a Materializer.
type MaterializeOptions struct {
	Converter        markup.Converter // nil passes text through
	FilesDir         string           // attachment root: <dir>/<attachment_id>/<file>
	Sudo             bool             // act as the legacy authors
	DescriptionDiffs bool             // comment a diff on each description change
	Logger           *slog.Logger
}

// Materializer turns one aligned legacy issue into a target issue with its
// history.
type Materializer struct {
	api       API
	doc       *types.Document
	users     *identity.Map
	catalog   *taxonomy.Catalog
	bracket   Elevator
	converter markup.Converter
	filesDir  string
	sudo      bool
	diffs     bool
	logger    *slog.Logger

	// OnWarning receives non-fatal problems (optional).
	OnWarning func(msg string)
}

// NewMaterializer wires a materializer to its collaborators.
func NewMaterializer(api API, doc *types.Document, users *identity.Map, catalog *taxonomy.Catalog, bracket Elevator, opts MaterializeOptions) *Materializer {
	m := &Materializer{
		api:       api,
		doc:       doc,
		users:     users,
		catalog:   catalog,
		bracket:   bracket,
		converter: opts.Converter,
		filesDir:  opts.FilesDir,
		sudo:      opts.Sudo,
		diffs:     opts.DescriptionDiffs,
		logger:    opts.Logger,
	}
	if m.converter == nil {
		m.converter = markup.Passthrough{}
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	return m
}

func (m *Materializer) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	m.logger.Warn(msg)
	if m.OnWarning != nil {
		m.OnWarning(msg)
	}
}

// Prepared is an issue ready to be created: its body is rendered, its
// attachments uploaded and its references resolved.
type Prepared struct {
	Issue  *types.Issue
	Create gitlab.CreateIssueOptions

	body    Body
	author  int   // target account to impersonate, 0 for the operator
	elevate []int // accounts that act with historical timestamps
}

// actor returns the target account to impersonate for a legacy user. ok is
// false when the action must fall back to the operator.
func (m *Materializer) actor(legacyID int) (int, bool) {
	if !m.sudo || legacyID == 0 {
		return 0, false
	}
	id, resolved := m.users.Target(legacyID)
	if !resolved {
		return 0, false
	}
	return id, true
}

// Prepare performs everything that must happen before the IID is consumed.
// An error here leaves the target counter untouched.
func (m *Materializer) Prepare(ctx context.Context, issue *types.Issue) (*Prepared, error) {
	text, err := m.converter.Convert(ctx, issue.Description)
	if err != nil {
		return nil, fmt.Errorf("failed to convert description: %w", err)
	}
	attachments := m.upload(ctx, issue.Attachments)

	labels, err := m.catalog.Labels(issue.Labels)
	if err != nil {
		return nil, err
	}
	var milestone int
	if issue.BoardID != 0 {
		milestone, err = m.catalog.Board(issue.BoardID)
	} else {
		milestone, err = m.catalog.Milestone(issue.MilestoneID)
	}
	if err != nil {
		return nil, err
	}

	p := &Prepared{Issue: issue}
	p.body = Body{
		Text:        text,
		StartDate:   issue.StartDate,
		Relations:   issue.Relations,
		ParentID:    issue.ParentID,
		Children:    issue.Children,
		Attachments: attachments,
		SourceID:    issue.SourceID,
	}
	author, ok := m.actor(issue.AuthorID)
	if ok {
		p.author = author
		p.elevate = append(p.elevate, author)
	} else {
		p.body.Authorship = AuthorshipNote("created", m.doc.User(issue.AuthorID), issue.CreatedAt)
	}
	for _, e := range issue.Journal {
		if id, ok := m.actor(e.AuthorID); ok {
			p.elevate = append(p.elevate, id)
		}
	}

	p.Create = gitlab.CreateIssueOptions{
		Title:       issue.Title,
		Description: p.body.String(),
		Labels:      labels,
		MilestoneID: milestone,
		DueDate:     issue.DueDate,
	}
	if id, ok := m.assignee(issue.AssigneeID); ok {
		p.Create.AssigneeIDs = []int{id}
	}
	return p, nil
}

func (m *Materializer) assignee(legacyID int) (int, bool) {
	if legacyID == 0 {
		return 0, false
	}
	id, resolved := m.users.Target(legacyID)
	if !resolved {
		m.warn("assignee %d is not mapped, leaving issue unassigned", legacyID)
	}
	return id, resolved
}

// upload sends attachments as the operator and returns their list items.
// A missing or rejected file is warned about and listed without a link.
func (m *Materializer) upload(ctx context.Context, attachments []types.Attachment) []string {
	ctx = gitlab.WithSudo(ctx, 0)
	items := make([]string, 0, len(attachments))
	for _, a := range attachments {
		path := filepath.Join(m.filesDir, strconv.Itoa(a.AttachmentID), a.File)
		md, err := m.uploadOne(ctx, path, a.File)
		if err != nil {
			m.warn("attachment %s not uploaded: %v", path, err)
			md = "(file not available)"
		}
		items = append(items, AttachmentItem(a, md))
	}
	return items
}

func (m *Materializer) uploadOne(ctx context.Context, path, name string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- path built from the operator's files dir
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	up, err := m.api.UploadFile(ctx, name, f)
	if err != nil {
		return "", err
	}
	return up.Markdown, nil
}

// Create posts the issue, impersonating its author when possible. It is
// never retried.
func (m *Materializer) Create(ctx context.Context, p *Prepared) (*gitlab.Issue, error) {
	return m.api.CreateIssue(gitlab.WithSudo(ctx, p.author), p.Create)
}

// Finish backdates the created issue and replays its journal inside a
// privilege bracket, then subscribes watchers and settles the final state.
func (m *Materializer) Finish(ctx context.Context, p *Prepared, iid int) error {
	var closed bool
	err := m.bracket.Do(ctx, p.elevate, func(ctx context.Context) error {
		var err error
		closed, err = m.replay(ctx, p, iid)
		return err
	})
	if err != nil {
		return err
	}

	if closed {
		if _, err := m.api.UpdateIssue(gitlab.WithSudo(ctx, 0), iid, map[string]interface{}{"state_event": "close"}); err != nil {
			return fmt.Errorf("failed to close issue: %w", err)
		}
	}
	m.subscribeWatchers(ctx, p.Issue, iid)
	return nil
}

// replay returns whether the issue still has to be closed.
func (m *Materializer) replay(ctx context.Context, p *Prepared, iid int) (bool, error) {
	created := p.Issue.CreatedAt.UTC()
	if !created.IsZero() {
		_, err := m.api.UpdateIssue(gitlab.WithSudo(ctx, p.author), iid, map[string]interface{}{
			"created_at": created.Format(time.RFC3339),
		})
		if err != nil {
			return false, fmt.Errorf("failed to set creation time: %w", err)
		}
	}

	body := p.body
	want, isClosed := p.Issue.Closed, false
	for i, entry := range p.Issue.Journal {
		author, impersonated := m.actor(entry.AuthorID)
		ectx := gitlab.WithSudo(ctx, author)
		at := entry.CreatedAt.UTC()

		if !entry.Changes.Empty() {
			updates, diff, err := m.changes(ctx, entry.Changes, &body)
			if err != nil {
				return false, fmt.Errorf("journal entry %d: %w", i+1, err)
			}
			if entry.Changes.Closed != nil {
				want = *entry.Changes.Closed
			}
			if want != isClosed {
				updates["state_event"] = stateEvent(want)
				isClosed = want
			}
			updates["updated_at"] = at.Format(time.RFC3339)
			if _, err := m.api.UpdateIssue(ectx, iid, updates); err != nil {
				return false, fmt.Errorf("journal entry %d: failed to apply changes: %w", i+1, err)
			}
			if diff != "" {
				if _, err := m.api.CreateNote(ectx, iid, diff, &at); err != nil {
					return false, fmt.Errorf("journal entry %d: failed to post description diff: %w", i+1, err)
				}
			}
		}

		if entry.Notes == "" && len(entry.Attachments) == 0 {
			continue
		}
		text, err := m.converter.Convert(ctx, entry.Notes)
		if err != nil {
			return false, fmt.Errorf("journal entry %d: failed to convert notes: %w", i+1, err)
		}
		text += AttachmentList(m.upload(ctx, entry.Attachments))
		if !impersonated {
			text += "\n\n" + AuthorshipNote("posted", m.doc.User(entry.AuthorID), at)
		}
		text = strings.TrimLeft(text, "\n")
		if _, err := m.api.CreateNote(ectx, iid, text, &at); err != nil {
			return false, fmt.Errorf("journal entry %d: failed to post comment: %w", i+1, err)
		}
	}
	return want && !isClosed, nil
}

func stateEvent(closed bool) string {
	if closed {
		return "close"
	}
	return "reopen"
}

// changes builds the update for one journal entry and folds a description
// change into body. diff is "" unless description diffs are enabled.
func (m *Materializer) changes(ctx context.Context, c *types.Changes, body *Body) (map[string]interface{}, string, error) {
	updates := map[string]interface{}{}
	var diff string
	if c.Title != nil {
		updates["title"] = *c.Title
	}
	if c.Description != nil {
		text, err := m.converter.Convert(ctx, *c.Description)
		if err != nil {
			return nil, "", fmt.Errorf("failed to convert description: %w", err)
		}
		if m.diffs {
			diff = DescriptionDiff(body.Text, text)
		}
		body.Text = text
		updates["description"] = body.String()
	}
	if c.Labels != nil {
		labels, err := m.catalog.Labels(*c.Labels)
		if err != nil {
			return nil, "", err
		}
		updates["labels"] = strings.Join(labels, ",")
	}
	if c.AssigneeID != nil {
		ids := []int{}
		if id, ok := m.assignee(*c.AssigneeID); ok {
			ids = append(ids, id)
		}
		updates["assignee_ids"] = ids
	}
	if c.MilestoneID != nil {
		id, err := m.catalog.Milestone(*c.MilestoneID)
		if err != nil {
			return nil, "", err
		}
		updates["milestone_id"] = id
	}
	if c.DueDate != nil {
		updates["due_date"] = *c.DueDate
	}
	return updates, diff, nil
}

// subscribeWatchers subscribes each mapped watcher as themselves. Failures
// are warnings only.
func (m *Materializer) subscribeWatchers(ctx context.Context, issue *types.Issue, iid int) {
	if len(issue.Watchers) == 0 {
		return
	}
	if !m.sudo {
		m.warn("issue %d: %d watcher(s) not subscribed without impersonation", issue.LegacyID, len(issue.Watchers))
		return
	}
	for _, w := range issue.Watchers {
		id, ok := m.users.Target(w)
		if !ok {
			continue
		}
		if err := m.api.SubscribeIssue(gitlab.WithSudo(ctx, id), iid); err != nil {
			m.warn("issue %d: failed to subscribe watcher %d: %v", issue.LegacyID, w, err)
		}
	}
}
