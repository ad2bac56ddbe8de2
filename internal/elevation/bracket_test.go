package elevation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/op2gl/op2gl/internal/gitlab/gitlabtest"
)

func quickRetry() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
}

func setup(t *testing.T) (*gitlabtest.Server, *Bracket, int, int) {
	t.Helper()
	srv := gitlabtest.New(t)
	alice := srv.AddUser("alice", "alice@example.com", false)
	bob := srv.AddUser("bob", "bob@example.com", true)
	return srv, New(srv.APIClient(), WithBackOff(quickRetry)), alice.ID, bob.ID
}

func TestDo_GrantsAndRevokesOnlyNewAdmins(t *testing.T) {
	srv, b, alice, bob := setup(t)

	var during []int
	err := b.Do(context.Background(), []int{alice, bob, alice, 0}, func(ctx context.Context) error {
		during = srv.Admins()
		return nil
	})
	require.NoError(t, err)

	assert.Contains(t, during, alice)
	assert.ElementsMatch(t, []int{gitlabtest.OperatorID, bob}, srv.Admins())
	assert.Equal(t, []string{fmt.Sprintf("grant:%d", alice), fmt.Sprintf("revoke:%d", alice)}, srv.AdminLog())
	assert.Empty(t, b.Outstanding())
}

func TestDo_RevokesWhenWorkFails(t *testing.T) {
	srv, b, alice, _ := setup(t)
	boom := errors.New("boom")

	err := b.Do(context.Background(), []int{alice}, func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NotContains(t, srv.Admins(), alice)
}

func TestDo_RevokesOnPanic(t *testing.T) {
	srv, b, alice, _ := setup(t)

	assert.Panics(t, func() {
		_ = b.Do(context.Background(), []int{alice}, func(ctx context.Context) error { panic("midway") })
	})
	assert.NotContains(t, srv.Admins(), alice)
}

func TestDo_RevokesAfterCancellation(t *testing.T) {
	srv, b, alice, _ := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	err := b.Do(ctx, []int{alice}, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, srv.Admins(), alice)
}

func TestDo_GrantFailureRevokesPartialSet(t *testing.T) {
	srv, b, alice, _ := setup(t)
	carol := srv.AddUser("carol", "carol@example.com", false)
	srv.Inject(gitlabtest.Fault{Method: "PUT", PathContains: fmt.Sprintf("/users/%d", carol.ID), Status: 403, Times: 1})

	called := false
	err := b.Do(context.Background(), []int{alice, carol.ID}, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, []int{gitlabtest.OperatorID, 3}, srv.Admins(), "only pre-existing admins remain")
	assert.Empty(t, b.Outstanding())
}

func TestDo_RevocationFailureIsFatal(t *testing.T) {
	srv, b, alice, _ := setup(t)

	err := b.Do(context.Background(), []int{alice}, func(ctx context.Context) error {
		srv.Inject(gitlabtest.Fault{Method: "PUT", PathContains: fmt.Sprintf("/users/%d", alice), Status: 500})
		return nil
	})

	var revErr *RevocationError
	require.True(t, errors.As(err, &revErr))
	assert.Equal(t, []int{alice}, revErr.Accounts)
	assert.Equal(t, []int{alice}, b.Outstanding())
	assert.Contains(t, srv.Admins(), alice, "the set reported is exactly the set still elevated")

	// Later brackets refuse to run.
	srv.ClearFaults()
	called := false
	err = b.Do(context.Background(), nil, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.True(t, errors.As(err, &revErr))
	assert.False(t, called)
}
