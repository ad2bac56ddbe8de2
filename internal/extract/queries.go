package extract

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/op2gl/op2gl/internal/types"
)

// OpenProject user statuses worth importing.
const (
	userActive = 1
	userLocked = 3
)

const dateLayout = "2006-01-02"

type status struct {
	name   string
	closed bool
}

type relation struct {
	from, to int
	kind     string
}

type attachmentKey struct {
	container string
	id        int
}

// Attachment container types.
const (
	containerWorkPackage = "WorkPackage"
	containerMessage     = "Message"
	containerWikiPage    = "WikiPage"
)

func (e *Extractor) users(ctx context.Context) (map[int]*types.User, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT `id`, `login`, `firstname`, `lastname`, `mail`, `status` FROM `users`")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := make(map[int]*types.User)
	for rows.Next() {
		var (
			id, st            int
			login             string
			first, last, mail sql.NullString
		)
		if err := rows.Scan(&id, &login, &first, &last, &mail, &st); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if st != userActive && st != userLocked {
			continue
		}
		users[id] = &types.User{
			LegacyID:    id,
			Login:       login,
			Email:       mail.String,
			DisplayName: strings.TrimSpace(first.String + " " + last.String),
			Locked:      st == userLocked,
		}
	}
	return users, rows.Err()
}

func (e *Extractor) project(ctx context.Context, identifier string) (int, string, error) {
	var (
		id   int
		name string
	)
	err := e.db.QueryRowContext(ctx,
		"SELECT `id`, `name` FROM `projects` WHERE `identifier` = ?", identifier).Scan(&id, &name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", fmt.Errorf("%w: %s", ErrUnknownProject, identifier)
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to query project: %w", err)
	}
	return id, name, nil
}

func (e *Extractor) versions(ctx context.Context, projectID int) (map[int]*types.Milestone, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT `id`, `name`, `description`, `start_date`, `effective_date`, `status` "+
			"FROM `versions` WHERE `project_id` = ?", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer rows.Close()

	out := make(map[int]*types.Milestone)
	for rows.Next() {
		var (
			id         int
			name       string
			desc, st   sql.NullString
			start, due sql.NullTime
		)
		if err := rows.Scan(&id, &name, &desc, &start, &due, &st); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		out[id] = &types.Milestone{
			LegacyVersionID: id,
			Title:           name,
			Description:     desc.String,
			StartDate:       formatDate(start),
			DueDate:         formatDate(due),
			Closed:          st.String == "closed",
		}
	}
	return out, rows.Err()
}

func (e *Extractor) typeNames(ctx context.Context) (map[int]string, error) {
	out, err := e.names(ctx, "SELECT `id`, `name` FROM `types`")
	if err != nil {
		return nil, fmt.Errorf("failed to query types: %w", err)
	}
	for id, name := range out {
		if name == "none" {
			delete(out, id)
		}
	}
	return out, nil
}

func (e *Extractor) categories(ctx context.Context, projectID int) (map[int]string, error) {
	out, err := e.names(ctx, "SELECT `id`, `name` FROM `categories` WHERE `project_id` = ?", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	return out, nil
}

func (e *Extractor) names(ctx context.Context, query string, args ...any) (map[int]string, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int]string)
	for rows.Next() {
		var (
			id   int
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}

func (e *Extractor) statuses(ctx context.Context) (map[int]status, error) {
	rows, err := e.db.QueryContext(ctx, "SELECT `id`, `name`, `is_closed` FROM `statuses`")
	if err != nil {
		return nil, fmt.Errorf("failed to query statuses: %w", err)
	}
	defer rows.Close()
	out := make(map[int]status)
	for rows.Next() {
		var (
			id int
			s  status
		)
		if err := rows.Scan(&id, &s.name, &s.closed); err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		out[id] = s
	}
	return out, rows.Err()
}

// watchers cannot be filtered by project; unknown work packages are dropped
// when the map is applied.
func (e *Extractor) watchers(ctx context.Context) (map[int][]int, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT `watchable_id`, `user_id` FROM `watchers` WHERE `watchable_type` = ? ORDER BY `id`",
		containerWorkPackage)
	if err != nil {
		return nil, fmt.Errorf("failed to query watchers: %w", err)
	}
	defer rows.Close()
	out := make(map[int][]int)
	for rows.Next() {
		var wp, user int
		if err := rows.Scan(&wp, &user); err != nil {
			return nil, fmt.Errorf("failed to scan watcher: %w", err)
		}
		out[wp] = append(out[wp], user)
	}
	return out, rows.Err()
}

func (e *Extractor) relations(ctx context.Context) ([]relation, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT `from_id`, `to_id`, `relation_type` FROM `relations` ORDER BY `id`")
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()
	var out []relation
	for rows.Next() {
		var r relation
		if err := rows.Scan(&r.from, &r.to, &r.kind); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (e *Extractor) attachments(ctx context.Context) (map[attachmentKey][]types.Attachment, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT `id`, `container_id`, `container_type`, `description`, `file` FROM `attachments` "+
			"WHERE `container_type` IN (?, ?, ?) ORDER BY `id`",
		containerWorkPackage, containerMessage, containerWikiPage)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()
	out := make(map[attachmentKey][]types.Attachment)
	for rows.Next() {
		var (
			a    types.Attachment
			key  attachmentKey
			desc sql.NullString
		)
		if err := rows.Scan(&a.AttachmentID, &key.id, &key.container, &desc, &a.File); err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		a.Description = desc.String
		out[key] = append(out[key], a)
	}
	return out, rows.Err()
}

func (e *Extractor) workPackages(ctx context.Context, projectID int, lk lookups) (map[int]*types.Issue, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT j.`journable_id`, w.`subject`, w.`description`, w.`assigned_to_id`, "+
			"w.`fixed_version_id`, w.`category_id`, w.`type_id`, w.`status_id`, "+
			"j.`user_id`, j.`created_at`, w.`start_date`, w.`due_date`, j.`notes`, w.`parent_id` "+
			"FROM `work_package_journals` w "+
			"INNER JOIN `journals` j ON w.`journal_id` = j.`id` "+
			"WHERE w.`project_id` = ? "+
			"ORDER BY j.`journable_id` ASC, j.`version` ASC", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query work packages: %w", err)
	}
	defer rows.Close()

	f := newFolder(lk, e.labelStatus)
	for rows.Next() {
		var r journalRow
		if err := rows.Scan(&r.id, &r.subject, &r.description, &r.assignee, &r.version,
			&r.category, &r.typeID, &r.statusID, &r.userID, &r.createdAt,
			&r.startDate, &r.dueDate, &r.notes, &r.parent); err != nil {
			return nil, fmt.Errorf("failed to scan work package journal: %w", err)
		}
		f.add(r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	issues := f.issues
	for id, issue := range issues {
		issue.Watchers = lk.watchers[id]
		issue.Attachments = lk.attachments[attachmentKey{containerWorkPackage, id}]
	}
	for _, r := range lk.relations {
		if issue, ok := issues[r.from]; ok {
			issue.Relations = append(issue.Relations, types.Relation{LegacyID: r.to, Kind: r.kind})
		}
		if issue, ok := issues[r.to]; ok {
			issue.Relations = append(issue.Relations, types.Relation{LegacyID: r.from, Kind: r.kind + "_inv"})
		}
	}
	return issues, nil
}

func (e *Extractor) boards(ctx context.Context, projectID int, lk lookups) (map[int]*types.Board, error) {
	names, err := e.names(ctx, "SELECT `id`, `name` FROM `boards` WHERE `project_id` = ?", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query boards: %w", err)
	}
	boards := make(map[int]*types.Board, len(names))
	for id, name := range names {
		boards[id] = &types.Board{LegacyID: id, Name: name, Messages: make(map[int]*types.ForumMessage)}
	}
	if len(boards) == 0 {
		return nil, nil
	}

	rows, err := e.db.QueryContext(ctx,
		"SELECT m.`id`, m.`board_id`, m.`parent_id`, m.`subject`, m.`content`, "+
			"m.`author_id`, m.`created_on`, m.`locked` "+
			"FROM `messages` m INNER JOIN `boards` b ON m.`board_id` = b.`id` "+
			"WHERE b.`project_id` = ? ORDER BY m.`id` ASC", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	roots := make(map[int]*types.ForumMessage)
	for rows.Next() {
		var (
			id, boardID, author int
			parent              sql.NullInt64
			subject, content    sql.NullString
			created             time.Time
			locked              bool
		)
		if err := rows.Scan(&id, &boardID, &parent, &subject, &content, &author, &created, &locked); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		atts := lk.attachments[attachmentKey{containerMessage, id}]
		if !parent.Valid {
			msg := &types.ForumMessage{
				LegacyID: id, Subject: subject.String, Content: content.String,
				AuthorID: author, CreatedAt: created.UTC(), Locked: locked, Attachments: atts,
			}
			roots[id] = msg
			if b, ok := boards[boardID]; ok {
				b.Messages[id] = msg
			}
			continue
		}
		root, ok := roots[int(parent.Int64)]
		if !ok {
			e.logger.Warn("reply to unknown message dropped", "message", id, "parent", parent.Int64)
			continue
		}
		root.Replies = append(root.Replies, types.ForumReply{
			AuthorID: author, CreatedAt: created.UTC(), Content: content.String, Attachments: atts,
		})
	}
	return boards, rows.Err()
}

// wiki returns nil maps when the project has no wiki.
func (e *Extractor) wiki(ctx context.Context, projectID int, lk lookups) (map[int]*types.WikiPage, map[string]string, error) {
	var wikiID int
	err := e.db.QueryRowContext(ctx, "SELECT `id` FROM `wikis` WHERE `project_id` = ?", projectID).Scan(&wikiID)
	if errors.Is(err, sql.ErrNoRows) {
		e.logger.Info("project has no wiki", "project", projectID)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query wiki: %w", err)
	}

	redirects := make(map[string]string)
	rows, err := e.db.QueryContext(ctx,
		"SELECT `title`, `redirects_to` FROM `wiki_redirects` WHERE `wiki_id` = ?", wikiID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query wiki redirects: %w", err)
	}
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("failed to scan wiki redirect: %w", err)
		}
		if from != to {
			redirects[from] = to
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows, err = e.db.QueryContext(ctx,
		"SELECT w.`page_id`, p.`slug`, p.`title`, w.`text`, j.`user_id`, j.`created_at` "+
			"FROM `wiki_content_journals` w "+
			"INNER JOIN `journals` j ON w.`journal_id` = j.`id` "+
			"INNER JOIN `wiki_pages` p ON w.`page_id` = p.`id` "+
			"WHERE p.`wiki_id` = ? ORDER BY w.`id` ASC", wikiID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query wiki pages: %w", err)
	}
	defer rows.Close()

	pages := make(map[int]*types.WikiPage)
	for rows.Next() {
		var (
			id, author  int
			slug, title string
			text        sql.NullString
			created     time.Time
		)
		if err := rows.Scan(&id, &slug, &title, &text, &author, &created); err != nil {
			return nil, nil, fmt.Errorf("failed to scan wiki page: %w", err)
		}
		p, ok := pages[id]
		if !ok {
			p = &types.WikiPage{
				LegacyID: id, Slug: slug, Title: title,
				Attachments: lk.attachments[attachmentKey{containerWikiPage, id}],
			}
			pages[id] = p
		}
		p.Versions = append(p.Versions, types.WikiVersion{AuthorID: author, CreatedAt: created.UTC(), Text: text.String})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(redirects) == 0 {
		redirects = nil
	}
	return pages, redirects, nil
}

func (e *Extractor) meetings(ctx context.Context, projectID int) (map[int]*types.Meeting, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT m.`id`, m.`title`, m.`author_id`, m.`start_time`, m.`duration`, c.`text`, c.`created_at` "+
			"FROM `meetings` m INNER JOIN `meeting_contents` c ON m.`id` = c.`meeting_id` "+
			"WHERE m.`project_id` = ? ORDER BY m.`id` ASC, c.`id` ASC", projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query meetings: %w", err)
	}
	defer rows.Close()

	out := make(map[int]*types.Meeting)
	for rows.Next() {
		var (
			id, author     int
			title          string
			start, created time.Time
			duration       sql.NullFloat64
			text           sql.NullString
		)
		if err := rows.Scan(&id, &title, &author, &start, &duration, &text, &created); err != nil {
			return nil, fmt.Errorf("failed to scan meeting: %w", err)
		}
		if !text.Valid {
			continue
		}
		m, ok := out[id]
		if !ok {
			m = &types.Meeting{LegacyID: id, Title: title, AuthorID: author, StartTime: start.UTC(), Duration: duration.Float64}
			out[id] = m
		}
		m.Versions = append(m.Versions, types.WikiVersion{AuthorID: author, CreatedAt: created.UTC(), Text: text.String})
	}
	return out, rows.Err()
}

func formatDate(t sql.NullTime) string {
	if !t.Valid {
		return ""
	}
	return t.Time.Format(dateLayout)
}

func sortedIDs[V any](m map[int]V) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
