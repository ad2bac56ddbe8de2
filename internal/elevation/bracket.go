// Package elevation grants administrator rights to a set of accounts for the
// duration of one unit of work and guarantees they are revoked afterwards.
package elevation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/op2gl/op2gl/internal/gitlab"
)

// Target is the subset of the API the bracket needs.
type Target interface {
	GetUser(ctx context.Context, id int) (*gitlab.User, error)
	SetAdmin(ctx context.Context, id int, admin bool) (*gitlab.User, error)
}

// RevocationError lists accounts that are still administrators because
// revoking their grant failed. It is fatal: the run must halt.
type RevocationError struct {
	Accounts []int
	Err      error
}

func (e *RevocationError) Error() string {
	return fmt.Sprintf("failed to revoke administrator rights, accounts still elevated: %v: %v", e.Accounts, e.Err)
}

func (e *RevocationError) Unwrap() error { return e.Err }

const revokeMaxElapsed = 30 * time.Second

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = revokeMaxElapsed
	return bo
}

// Bracket performs scoped administrator grants.
type Bracket struct {
	target     Target
	logger     *slog.Logger
	newBackOff func() backoff.BackOff

	mu          sync.Mutex
	outstanding map[int]struct{}
}

// Option configures a Bracket.
type Option func(*Bracket)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bracket) { b.logger = l }
}

// WithBackOff sets the retry schedule for revocations.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(b *Bracket) { b.newBackOff = f }
}

// New returns a Bracket.
func New(target Target, opts ...Option) *Bracket {
	b := &Bracket{
		target:      target,
		logger:      slog.New(slog.DiscardHandler),
		newBackOff:  defaultBackOff,
		outstanding: map[int]struct{}{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Outstanding returns the accounts left elevated by failed revocations.
func (b *Bracket) Outstanding() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int, 0, len(b.outstanding))
	for id := range b.outstanding {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Do grants administrator rights to every listed account that is not
// already an administrator, runs fn, then revokes exactly those grants. The
// revocation runs on every exit path, including panics and cancellation.
// While any earlier revocation is outstanding, Do refuses to run.
func (b *Bracket) Do(ctx context.Context, userIDs []int, fn func(ctx context.Context) error) (err error) {
	if pending := b.Outstanding(); len(pending) > 0 {
		return &RevocationError{Accounts: pending, Err: errors.New("earlier revocation still outstanding")}
	}

	// Grants and revocations are made by the operator.
	opCtx := gitlab.WithSudo(ctx, 0)

	var granted []int
	defer func() {
		if revErr := b.revoke(opCtx, granted); revErr != nil {
			err = errors.Join(err, revErr)
		}
	}()

	for _, id := range unique(userIDs) {
		u, getErr := b.target.GetUser(opCtx, id)
		if getErr != nil {
			return fmt.Errorf("failed to elevate user %d: %w", id, getErr)
		}
		if u.IsAdmin {
			continue
		}
		if _, setErr := b.target.SetAdmin(opCtx, id, true); setErr != nil {
			// The grant may have landed even though the response was lost;
			// the account was not an administrator, so revoking is safe.
			granted = append(granted, id)
			return fmt.Errorf("failed to elevate user %d: %w", id, setErr)
		}
		granted = append(granted, id)
		b.logger.Debug("granted administrator", "user_id", id)
	}

	return fn(ctx)
}

func (b *Bracket) revoke(ctx context.Context, ids []int) error {
	if len(ids) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var failed []int
	var errs []error
	for _, id := range ids {
		op := func() error {
			_, err := b.target.SetAdmin(ctx, id, false)
			return err
		}
		if err := backoff.Retry(op, backoff.WithContext(b.newBackOff(), ctx)); err != nil {
			failed = append(failed, id)
			errs = append(errs, fmt.Errorf("user %d: %w", id, err))
			continue
		}
		b.logger.Debug("revoked administrator", "user_id", id)
	}
	if len(failed) == 0 {
		return nil
	}

	b.mu.Lock()
	for _, id := range failed {
		b.outstanding[id] = struct{}{}
	}
	b.mu.Unlock()
	b.logger.Error("ACCOUNTS LEFT WITH ADMINISTRATOR RIGHTS", "user_ids", failed)
	return &RevocationError{Accounts: failed, Err: errors.Join(errs...)}
}

func unique(ids []int) []int {
	seen := map[int]bool{}
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
