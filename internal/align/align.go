// Package align keeps the target's issue IID counter in step with legacy
// IDs. The target assigns IIDs sequentially and never reuses one, so the
// only way to skip a gap is to create a placeholder issue and delete it.
//
// The placeholder just below a real issue is kept until that issue exists.
// The highest live IID then always equals the counter, so a run that stops
// between the two resumes at the right number.
package align

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/metric"

	"github.com/op2gl/op2gl/internal/gitlab"
	"github.com/op2gl/op2gl/internal/telemetry"
)

// PlaceholderTitle is the title of the throwaway issues used to advance the
// counter.
const PlaceholderTitle = "op2gl placeholder"

// Target is the subset of the API the aligner needs.
type Target interface {
	LatestIssue(ctx context.Context) (*gitlab.Issue, error)
	CreateIssue(ctx context.Context, opts gitlab.CreateIssueOptions) (*gitlab.Issue, error)
	DeleteIssue(ctx context.Context, iid int) error
}

// ConflictError means the target counter can no longer produce the desired
// IID. It is unrecoverable for the project without operator action.
type ConflictError struct {
	LegacyID int // desired IID
	Next     int // counter when the conflict was detected
	Got      int // IID actually handed out, if any
}

func (e *ConflictError) Error() string {
	if e.Got != 0 {
		return fmt.Sprintf("alignment conflict: legacy ID %d got IID %d from the target", e.LegacyID, e.Got)
	}
	return fmt.Sprintf("alignment conflict: legacy ID %d is below the target counter (next IID %d)", e.LegacyID, e.Next)
}

// Result describes the placeholders one Align or Commit call consumed.
type Result struct {
	Placeholders []int // IIDs burned by placeholders
	Leftover     []int // placeholders whose deletion failed and still exist
}

// Aligner tracks the next IID the target will assign.
type Aligner struct {
	target Target
	logger *slog.Logger
	next   int
	synced bool
	// reserved placeholders are deleted once the next real issue exists.
	reserved []int

	placeholders metric.Int64Counter
}

// Option configures an Aligner.
type Option func(*Aligner)

// WithLogger sets the logger for drift and leftover warnings.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aligner) { a.logger = l }
}

// New returns an aligner that has not yet read the counter; the first Align
// call resyncs.
func New(target Target, opts ...Option) *Aligner {
	a := &Aligner{
		target: target,
		logger: slog.New(slog.DiscardHandler),
		placeholders: telemetry.Counter("github.com/op2gl/op2gl/align",
			"op2gl.align.placeholders", "Placeholder issues created to advance the IID counter"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Next returns the IID the target is expected to assign next. It is zero
// before the first Resync.
func (a *Aligner) Next() int {
	return a.next
}

// Stale reports whether the counter must be re-read before the next Align.
func (a *Aligner) Stale() bool {
	return !a.synced
}

// Invalidate marks the counter unknown, e.g. after a create call whose
// outcome could not be observed.
func (a *Aligner) Invalidate() {
	a.synced = false
}

// Reserved returns the placeholders still held for an issue that has not
// been created yet.
func (a *Aligner) Reserved() []int {
	return append([]int(nil), a.reserved...)
}

// Resync re-derives the counter from the highest existing IID. Deleted
// issues are invisible here, so the result can lag the real counter; Align
// adopts such drift when a placeholder reveals it. A placeholder on top is
// a reservation from an interrupted run and is taken over.
func (a *Aligner) Resync(ctx context.Context) error {
	latest, err := a.target.LatestIssue(ctx)
	if err != nil {
		return fmt.Errorf("failed to read issue counter: %w", err)
	}
	a.next = 1
	if latest != nil {
		a.next = latest.IID + 1
		if latest.Title == PlaceholderTitle && !slices.Contains(a.reserved, latest.IID) {
			a.reserved = append(a.reserved, latest.IID)
		}
	}
	a.synced = true
	a.logger.Debug("issue counter synced", "next_iid", a.next, "reserved", a.reserved)
	return nil
}

// Align advances the counter until the next IID equals desired, using
// exactly desired-Next() create/delete pairs when no drift occurs. The last
// placeholder is reserved rather than deleted; Commit deletes it.
func (a *Aligner) Align(ctx context.Context, desired int) (Result, error) {
	var res Result
	if !a.synced {
		if err := a.Resync(ctx); err != nil {
			return res, err
		}
	}
	if desired < a.next {
		return res, &ConflictError{LegacyID: desired, Next: a.next}
	}

	// Placeholders are created by the operator, never an impersonated user.
	ctx = gitlab.WithSudo(ctx, 0)

	for a.next < desired {
		issue, err := a.target.CreateIssue(ctx, gitlab.CreateIssueOptions{
			Title:       PlaceholderTitle,
			Description: fmt.Sprintf("Reserves issue number %d during an import. Safe to delete.", a.next),
		})
		if err != nil {
			// The create may have consumed an IID without us seeing it.
			a.Invalidate()
			return res, fmt.Errorf("failed to create placeholder for IID %d: %w", a.next, err)
		}
		a.placeholders.Add(ctx, 1)

		switch {
		case issue.IID >= desired:
			expected := a.next
			a.next = issue.IID + 1
			if err := a.target.DeleteIssue(ctx, issue.IID); err != nil {
				res.Leftover = append(res.Leftover, issue.IID)
			}
			return res, &ConflictError{LegacyID: desired, Next: expected, Got: issue.IID}
		case issue.IID < a.next:
			a.Invalidate()
			if err := a.target.DeleteIssue(ctx, issue.IID); err != nil {
				res.Leftover = append(res.Leftover, issue.IID)
				a.logger.Warn("placeholder left behind", "iid", issue.IID, "error", err)
			}
			return res, fmt.Errorf("target assigned IID %d below the expected %d", issue.IID, a.next)
		case issue.IID > a.next:
			a.logger.Warn("issue counter drifted, adopting", "expected_iid", a.next, "got_iid", issue.IID)
		}

		a.next = issue.IID + 1
		res.Placeholders = append(res.Placeholders, issue.IID)
		if a.next == desired {
			a.reserved = append(a.reserved, issue.IID)
			break
		}
		if err := a.target.DeleteIssue(ctx, issue.IID); err != nil {
			res.Leftover = append(res.Leftover, issue.IID)
			a.logger.Warn("placeholder left behind", "iid", issue.IID, "error", err)
		}
	}
	return res, nil
}

// Commit records that the real issue for desired was created as iid and
// deletes the reserved placeholders below it. A mismatch is a
// ConflictError.
func (a *Aligner) Commit(ctx context.Context, desired, iid int) (Result, error) {
	var res Result
	expected := a.next
	if iid+1 > a.next {
		a.next = iid + 1
	}

	ctx = gitlab.WithSudo(ctx, 0)
	for _, placeholder := range a.reserved {
		if err := a.target.DeleteIssue(ctx, placeholder); err != nil {
			res.Leftover = append(res.Leftover, placeholder)
			a.logger.Warn("placeholder left behind", "iid", placeholder, "error", err)
		}
	}
	a.reserved = nil

	if iid != desired {
		return res, &ConflictError{LegacyID: desired, Next: expected, Got: iid}
	}
	return res, nil
}
