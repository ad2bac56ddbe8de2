package align

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/op2gl/op2gl/internal/gitlab"
	"github.com/op2gl/op2gl/internal/gitlab/gitlabtest"
)

// materialize aligns and creates one real issue.
func materialize(t *testing.T, a *Aligner, client *gitlab.Client, legacyID int) Result {
	t.Helper()
	ctx := context.Background()
	res, err := a.Align(ctx, legacyID)
	require.NoError(t, err)
	issue, err := client.CreateIssue(ctx, gitlab.CreateIssueOptions{Title: "real"})
	require.NoError(t, err)
	cr, err := a.Commit(ctx, legacyID, issue.IID)
	require.NoError(t, err)
	require.Empty(t, cr.Leftover)
	return res
}

func TestAlign_GapsUsePlaceholders(t *testing.T) {
	srv := gitlabtest.New(t)
	client := srv.APIClient()
	a := New(client)

	assert.Empty(t, materialize(t, a, client, 1).Placeholders)
	assert.Empty(t, materialize(t, a, client, 2).Placeholders)
	res := materialize(t, a, client, 5)

	assert.Equal(t, []int{3, 4}, res.Placeholders)
	assert.Empty(t, res.Leftover)
	assert.Equal(t, []int{1, 2, 5}, srv.IIDs())
	assert.Equal(t, 2, srv.Count("DELETE", "/issues/"))
	assert.Equal(t, 6, a.Next())
}

func TestAlign_AdoptsForwardDrift(t *testing.T) {
	srv := gitlabtest.New(t)
	srv.SetNextIID(10)
	client := srv.APIClient()
	a := New(client)

	require.NoError(t, a.Resync(context.Background()))
	// No live issues, so the counter is read as 1 and drift is adopted.
	res, err := a.Align(context.Background(), 14)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11, 12, 13}, res.Placeholders)
	assert.Equal(t, 14, a.Next())
}

func TestAlign_BelowCounterConflicts(t *testing.T) {
	srv := gitlabtest.New(t)
	srv.AddIssue("existing 1")
	srv.AddIssue("existing 2")
	srv.AddIssue("existing 3")
	a := New(srv.APIClient())

	_, err := a.Align(context.Background(), 2)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 2, conflict.LegacyID)
	assert.Equal(t, 4, conflict.Next)
	assert.Equal(t, 0, srv.Count("POST", "/issues"), "no placeholder is created")
}

func TestAlign_EqualToCounterNeedsNothing(t *testing.T) {
	srv := gitlabtest.New(t)
	srv.AddIssue("existing")
	a := New(srv.APIClient())

	res, err := a.Align(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, res.Placeholders)
}

func TestAlign_OvershootConflicts(t *testing.T) {
	srv := gitlabtest.New(t)
	client := srv.APIClient()
	a := New(client)
	require.NoError(t, a.Resync(context.Background()))

	// Something else burned IIDs 1..6 behind our back.
	srv.SetNextIID(7)
	_, err := a.Align(context.Background(), 5)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 7, conflict.Got)
	assert.Empty(t, srv.IIDs(), "the overshooting placeholder is removed")
}

func TestAlign_LeftoverPlaceholderIsReported(t *testing.T) {
	srv := gitlabtest.New(t)
	srv.Inject(gitlabtest.Fault{Method: "DELETE", PathContains: "/issues/", Status: 403})
	client := srv.APIClient()
	a := New(client)

	res, err := a.Align(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, res.Placeholders)
	assert.Equal(t, []int{1}, res.Leftover)
	assert.Equal(t, []int{2}, a.Reserved())
	assert.Equal(t, 3, a.Next())

	issue, err := client.CreateIssue(context.Background(), gitlab.CreateIssueOptions{Title: "real"})
	require.NoError(t, err)
	cr, err := a.Commit(context.Background(), 3, issue.IID)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, cr.Leftover)
	assert.Empty(t, a.Reserved())
}

func TestAlign_KeepsLastPlaceholderUntilCommit(t *testing.T) {
	srv := gitlabtest.New(t)
	srv.AddIssue("existing")
	client := srv.APIClient()
	a := New(client)

	res, err := a.Align(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, res.Placeholders)
	assert.Equal(t, []int{3}, a.Reserved())
	assert.Equal(t, []int{1, 3}, srv.IIDs(), "IID 3 stays until the real issue exists")

	// A new run sees the reservation on top and continues at 4.
	b := New(client)
	require.NoError(t, b.Resync(context.Background()))
	assert.Equal(t, 4, b.Next())
	assert.Equal(t, []int{3}, b.Reserved())

	res, err = b.Align(context.Background(), 4)
	require.NoError(t, err)
	assert.Empty(t, res.Placeholders)
	issue, err := client.CreateIssue(context.Background(), gitlab.CreateIssueOptions{Title: "real"})
	require.NoError(t, err)
	_, err = b.Commit(context.Background(), 4, issue.IID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, srv.IIDs())
	assert.Empty(t, b.Reserved())
}

func TestAlign_BelowExpectedReportsUndeletedPlaceholder(t *testing.T) {
	srv := gitlabtest.New(t)
	srv.AddIssue("existing 1")
	srv.AddIssue("existing 2")
	client := srv.APIClient()
	a := New(client)
	a.next, a.synced = 5, true

	srv.Inject(gitlabtest.Fault{Method: "DELETE", PathContains: "/issues/", Status: 403})
	res, err := a.Align(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below the expected 5")
	assert.Equal(t, []int{3}, res.Leftover)
	assert.True(t, a.Stale())
}

func TestAlign_FailedCreateInvalidates(t *testing.T) {
	srv := gitlabtest.New(t)
	srv.Inject(gitlabtest.Fault{Method: "POST", PathContains: "/issues", Status: 502, Times: 1})
	a := New(srv.APIClient())

	_, err := a.Align(context.Background(), 3)
	require.Error(t, err)
	assert.True(t, a.Stale())

	res, err := a.Align(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, a.Stale())
	assert.Equal(t, []int{1, 2}, res.Placeholders)
}

func TestCommit_MismatchConflicts(t *testing.T) {
	a := New(nil)
	a.next, a.synced = 4, true

	_, err := a.Commit(context.Background(), 4, 6)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 6, conflict.Got)
	assert.Equal(t, 7, a.Next())
}
