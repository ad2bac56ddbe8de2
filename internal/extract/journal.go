package extract

import (
	"database/sql"
	"slices"
	"time"

	"github.com/op2gl/op2gl/internal/types"
)

// journalRow is one work package journal joined with its journal header.
// Every row carries the full attribute set as of that journal.
type journalRow struct {
	id          int
	subject     string
	description sql.NullString
	assignee    sql.NullInt64
	version     sql.NullInt64
	category    sql.NullInt64
	typeID      int
	statusID    int
	userID      int
	createdAt   time.Time
	startDate   sql.NullTime
	dueDate     sql.NullTime
	notes       sql.NullString
	parent      sql.NullInt64
}

// folder turns full-state journal rows into an initial issue state plus a
// journal of differences.
type folder struct {
	lk          lookups
	labelStatus func(string) bool
	issues      map[int]*types.Issue
	current     map[int]*types.Issue // latest state per work package
}

func newFolder(lk lookups, labelStatus func(string) bool) *folder {
	return &folder{
		lk:          lk,
		labelStatus: labelStatus,
		issues:      make(map[int]*types.Issue),
		current:     make(map[int]*types.Issue),
	}
}

// state converts a row into the attribute set it describes.
func (f *folder) state(r journalRow) *types.Issue {
	st := f.lk.statuses[r.statusID]
	issue := &types.Issue{
		LegacyID:    r.id,
		Title:       r.subject,
		Description: r.description.String,
		AuthorID:    r.userID,
		AssigneeID:  int(r.assignee.Int64),
		CreatedAt:   r.createdAt.UTC(),
		Status:      st.name,
		Closed:      st.closed,
		MilestoneID: int(r.version.Int64),
		StartDate:   formatDate(r.startDate),
		DueDate:     formatDate(r.dueDate),
		ParentID:    int(r.parent.Int64),
	}
	if name, ok := f.lk.typeNames[r.typeID]; ok {
		issue.Labels = append(issue.Labels, typeLabel(name))
	}
	if name, ok := f.lk.categories[int(r.category.Int64)]; ok && r.category.Valid {
		issue.Labels = append(issue.Labels, name)
	}
	if st.name != "" && f.labelStatus(st.name) {
		issue.Labels = append(issue.Labels, st.name)
	}
	return issue
}

func (f *folder) add(r journalRow) {
	next := f.state(r)
	prev, ok := f.current[r.id]
	if !ok {
		f.issues[r.id] = next
		f.current[r.id] = cloneState(next)
		return
	}

	issue := f.issues[r.id]
	// The parent is taken from the latest journal.
	issue.ParentID = next.ParentID

	entry := types.JournalEntry{
		AuthorID:  r.userID,
		CreatedAt: r.createdAt.UTC(),
		Notes:     r.notes.String,
		Changes:   diffState(prev, next),
	}
	// Author and creation time are protected; start date changes are not
	// replayed.
	next.AuthorID, next.CreatedAt, next.StartDate = prev.AuthorID, prev.CreatedAt, prev.StartDate
	f.current[r.id] = next
	if entry.Changes.Empty() {
		entry.Changes = nil
		if entry.Notes == "" {
			return
		}
	}
	issue.Journal = append(issue.Journal, entry)
}

// diffState reports the attributes that differ between two states.
func diffState(prev, next *types.Issue) *types.Changes {
	c := &types.Changes{}
	if prev.Title != next.Title {
		c.Title = ptr(next.Title)
	}
	if prev.Description != next.Description {
		c.Description = ptr(next.Description)
	}
	if !slices.Equal(prev.Labels, next.Labels) {
		labels := slices.Clone(next.Labels)
		if labels == nil {
			labels = []string{}
		}
		c.Labels = &labels
	}
	if prev.Closed != next.Closed {
		c.Closed = ptr(next.Closed)
	}
	if prev.AssigneeID != next.AssigneeID {
		c.AssigneeID = ptr(next.AssigneeID)
	}
	if prev.MilestoneID != next.MilestoneID {
		c.MilestoneID = ptr(next.MilestoneID)
	}
	if prev.DueDate != next.DueDate {
		c.DueDate = ptr(next.DueDate)
	}
	return c
}

func cloneState(i *types.Issue) *types.Issue {
	c := *i
	c.Labels = slices.Clone(i.Labels)
	return &c
}

func ptr[T any](v T) *T {
	return &v
}
