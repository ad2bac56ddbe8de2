package extract

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/op2gl/op2gl/internal/types"
)

var (
	t0 = time.Date(2012, 1, 10, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(24 * time.Hour)
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	// Lookup tables load concurrently.
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func expectProject(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(q("FROM `users`")).WillReturnRows(
		sqlmock.NewRows([]string{"id", "login", "firstname", "lastname", "mail", "status"}).
			AddRow(int64(1), "admin", "Ad", "Min", "admin@example.com", int64(userActive)).
			AddRow(int64(3), "alice", "Alice", "Anders", "alice@example.com", int64(userActive)).
			AddRow(int64(4), "bob", nil, nil, "bob@example.com", int64(userLocked)).
			AddRow(int64(5), "pending", nil, nil, nil, int64(2)))
	mock.ExpectQuery(q("FROM `projects`")).WithArgs("widget").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(10), "Widget"))
}

func expectLookups(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(q("FROM `versions`")).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "description", "start_date", "effective_date", "status"}).
			AddRow(int64(20), "1.0", "First release", t0, nil, "closed"))
	mock.ExpectQuery(q("FROM `types`")).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Bug").AddRow(int64(2), "none"))
	mock.ExpectQuery(q("FROM `categories`")).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(30), "Backend"))
	mock.ExpectQuery(q("FROM `statuses`")).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "is_closed"}).
			AddRow(int64(1), "New", false).
			AddRow(int64(2), "Rejected", true))
	mock.ExpectQuery(q("FROM `watchers`")).WillReturnRows(
		sqlmock.NewRows([]string{"watchable_id", "user_id"}).AddRow(int64(100), int64(4)))
	mock.ExpectQuery(q("FROM `relations`")).WillReturnRows(
		sqlmock.NewRows([]string{"from_id", "to_id", "relation_type"}).AddRow(int64(100), int64(101), "blocks"))
	mock.ExpectQuery(q("FROM `attachments`")).WillReturnRows(
		sqlmock.NewRows([]string{"id", "container_id", "container_type", "description", "file"}).
			AddRow(int64(500), int64(100), containerWorkPackage, "stack trace", "crash.log").
			AddRow(int64(501), int64(70), containerWikiPage, nil, "diagram.png"))
}

var wpColumns = []string{"journable_id", "subject", "description", "assigned_to_id",
	"fixed_version_id", "category_id", "type_id", "status_id",
	"user_id", "created_at", "start_date", "due_date", "notes", "parent_id"}

func expectContent(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(q("FROM `work_package_journals`")).WillReturnRows(
		sqlmock.NewRows(wpColumns).
			AddRow(int64(100), "Crash", "boom", nil, int64(20), int64(30), int64(1), int64(1), int64(3), t0, t0, nil, nil, nil).
			AddRow(int64(100), "Crash", "boom", int64(4), int64(20), int64(30), int64(1), int64(2), int64(4), t1, t0, nil, "duplicate", nil).
			AddRow(int64(100), "Crash", "boom", int64(4), int64(20), int64(30), int64(1), int64(2), int64(4), t1.Add(time.Hour), t0, nil, nil, nil).
			AddRow(int64(101), "Child", nil, nil, nil, nil, int64(1), int64(1), int64(3), t1, nil, nil, nil, int64(100)))

	mock.ExpectQuery(q("SELECT `id`, `name` FROM `boards`")).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(40), "General"))
	mock.ExpectQuery(q("FROM `messages`")).WillReturnRows(
		sqlmock.NewRows([]string{"id", "board_id", "parent_id", "subject", "content", "author_id", "created_on", "locked"}).
			AddRow(int64(600), int64(40), nil, "Hello", "first post", int64(3), t0, false).
			AddRow(int64(601), int64(40), int64(600), "Re: Hello", "a reply", int64(4), t1, false).
			AddRow(int64(602), int64(40), int64(999), "Re: lost", "orphan", int64(4), t1, false))

	mock.ExpectQuery(q("FROM `wikis`")).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(50)))
	mock.ExpectQuery(q("FROM `wiki_redirects`")).WillReturnRows(
		sqlmock.NewRows([]string{"title", "redirects_to"}).
			AddRow("OldStart", "Start").
			AddRow("Same", "Same"))
	mock.ExpectQuery(q("FROM `wiki_content_journals`")).WillReturnRows(
		sqlmock.NewRows([]string{"page_id", "slug", "title", "text", "user_id", "created_at"}).
			AddRow(int64(70), "start", "Start", "v1", int64(3), t0).
			AddRow(int64(70), "start", "Start", "v2", int64(4), t1))

	mock.ExpectQuery(q("FROM `meetings`")).WillReturnRows(
		sqlmock.NewRows([]string{"id", "title", "author_id", "start_time", "duration", "text", "created_at"}).
			AddRow(int64(80), "Weekly", int64(3), t0, 1.5, "agenda", t0).
			AddRow(int64(80), "Weekly", int64(3), t0, 1.5, nil, t1))
}

func TestDump(t *testing.T) {
	db, mock := newMock(t)
	expectProject(mock)
	expectLookups(mock)
	expectContent(mock)

	doc, err := New(db, DefaultOptions(), nil).Dump(context.Background(), "widget")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "Widget", doc.Project.Name)

	// users: inactive accounts dropped, locked kept and flagged
	require.Len(t, doc.Users, 3)
	assert.Equal(t, "Alice Anders", doc.Users[3].DisplayName)
	assert.True(t, doc.Users[4].Locked)
	assert.Equal(t, "", doc.Users[4].DisplayName)

	// labels: "none" type skipped, only configured statuses become labels
	var labels []string
	for _, l := range doc.Labels {
		labels = append(labels, l.SourceKind+":"+l.Name)
	}
	assert.Equal(t, []string{"type:bug", "category:Backend", "status:Rejected"}, labels)

	ms := doc.Milestones[20]
	require.NotNil(t, ms)
	assert.Equal(t, "2012-01-10", ms.StartDate)
	assert.Empty(t, ms.DueDate)
	assert.True(t, ms.Closed)
}

func TestDump_WorkPackageJournalFolding(t *testing.T) {
	db, mock := newMock(t)
	expectProject(mock)
	expectLookups(mock)
	expectContent(mock)

	doc, err := New(db, DefaultOptions(), nil).Dump(context.Background(), "widget")
	require.NoError(t, err)

	crash := doc.Issues[100]
	require.NotNil(t, crash)
	assert.Equal(t, 3, crash.AuthorID, "author comes from the first journal")
	assert.Equal(t, t0, crash.CreatedAt)
	assert.Equal(t, []string{"bug", "Backend"}, crash.Labels)
	assert.False(t, crash.Closed)
	assert.Equal(t, 20, crash.MilestoneID)
	assert.Equal(t, "2012-01-10", crash.StartDate)
	assert.Equal(t, []int{4}, crash.Watchers)
	require.Len(t, crash.Attachments, 1)
	assert.Equal(t, "crash.log", crash.Attachments[0].File)
	assert.Equal(t, []types.Relation{{LegacyID: 101, Kind: "blocks"}}, crash.Relations)
	assert.Equal(t, []int{101}, crash.Children)

	// The third journal repeats the second and carries no notes: dropped.
	require.Len(t, crash.Journal, 1)
	j := crash.Journal[0]
	assert.Equal(t, 4, j.AuthorID)
	assert.Equal(t, "duplicate", j.Notes)
	require.NotNil(t, j.Changes)
	assert.Nil(t, j.Changes.Title)
	assert.Nil(t, j.Changes.Description)
	require.NotNil(t, j.Changes.Closed)
	assert.True(t, *j.Changes.Closed)
	require.NotNil(t, j.Changes.AssigneeID)
	assert.Equal(t, 4, *j.Changes.AssigneeID)
	require.NotNil(t, j.Changes.Labels)
	assert.Equal(t, []string{"bug", "Backend", "Rejected"}, *j.Changes.Labels)

	child := doc.Issues[101]
	require.NotNil(t, child)
	assert.Equal(t, 100, child.ParentID)
	assert.Equal(t, []types.Relation{{LegacyID: 100, Kind: "blocks_inv"}}, child.Relations)
}

func TestDump_ForumWikiMeetings(t *testing.T) {
	db, mock := newMock(t)
	expectProject(mock)
	expectLookups(mock)
	expectContent(mock)

	doc, err := New(db, DefaultOptions(), nil).Dump(context.Background(), "widget")
	require.NoError(t, err)

	board := doc.Boards[40]
	require.NotNil(t, board)
	require.Len(t, board.Messages, 1, "replies are folded into their thread, orphans dropped")
	msg := board.Messages[600]
	assert.Equal(t, "Hello", msg.Subject)
	require.Len(t, msg.Replies, 1)
	assert.Equal(t, "a reply", msg.Replies[0].Content)
	assert.Equal(t, 4, msg.Replies[0].AuthorID)

	page := doc.Wiki[70]
	require.NotNil(t, page)
	require.Len(t, page.Versions, 2)
	assert.Equal(t, "v2", page.Latest().Text)
	require.Len(t, page.Attachments, 1)
	assert.Equal(t, map[string]string{"OldStart": "Start"}, doc.WikiRedirects)

	m := doc.Meetings[80]
	require.NotNil(t, m)
	assert.Equal(t, 1.5, m.Duration)
	require.Len(t, m.Versions, 1, "empty contents are skipped")
	assert.Equal(t, "agenda", m.Versions[0].Text)
}

func TestDump_UnknownProject(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(q("FROM `users`")).WillReturnRows(
		sqlmock.NewRows([]string{"id", "login", "firstname", "lastname", "mail", "status"}))
	mock.ExpectQuery(q("FROM `projects`")).WithArgs("nope").WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	_, err := New(db, DefaultOptions(), nil).Dump(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownProject))
}

func TestDump_LookupFailure(t *testing.T) {
	db, mock := newMock(t)
	expectProject(mock)
	mock.ExpectQuery(q("FROM `versions`")).WillReturnError(errors.New("table crashed"))
	for _, table := range []string{"types", "categories", "statuses", "watchers", "relations", "attachments"} {
		mock.ExpectQuery(q("FROM `" + table + "`")).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	}

	_, err := New(db, DefaultOptions(), nil).Dump(context.Background(), "widget")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table crashed")
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.True(t, isRetryableError(errors.New("dial tcp 127.0.0.1:3306: connect: connection refused")))
	assert.True(t, isRetryableError(errors.New("invalid connection")))
	assert.False(t, isRetryableError(errors.New("Error 1045: Access denied")))
}

func TestOpen_InvalidDSN(t *testing.T) {
	_, err := Open(context.Background(), "not a dsn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid DSN")
}
