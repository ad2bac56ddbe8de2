// Package importer recreates legacy issues and forum threads on the target
// so that every target IID equals the legacy ID.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/op2gl/op2gl/internal/align"
	"github.com/op2gl/op2gl/internal/elevation"
	"github.com/op2gl/op2gl/internal/types"
)

// Options contains import configuration
type Options struct {
	From        int  // Skip legacy IDs below this (resume)
	StopOnError bool // Abort on the first per-issue failure
}

// Failure is one issue that could not be imported.
type Failure struct {
	LegacyID int
	// IID is set when the issue was created before the failure. It then
	// exists on the target without its full history.
	IID int
	Err error
}

// Incomplete reports whether the issue exists on the target.
func (f Failure) Incomplete() bool {
	return f.IID != 0
}

// Result contains statistics about the import run
type Result struct {
	Created      []int     // Legacy IDs materialized, ascending
	Failed       []Failure // Issues skipped after an error
	Skipped      int       // Issues below Options.From
	Placeholders int       // Placeholder issues burned to skip gaps
	Leftover     []int     // Placeholder IIDs whose deletion failed
	Reserved     []int     // Placeholders kept for an issue not yet created
	Elevated     []int     // Accounts still administrators after a failed revoke
}

// Aligner is the counter keeper the pipeline drives. *align.Aligner
// implements it.
type Aligner interface {
	Resync(ctx context.Context) error
	Invalidate()
	Align(ctx context.Context, desired int) (align.Result, error)
	Commit(ctx context.Context, desired, iid int) (align.Result, error)
	Reserved() []int
}

// Pipeline imports work items strictly in ascending legacy-ID order.
type Pipeline struct {
	Aligner      Aligner
	Materializer *Materializer
	Logger       *slog.Logger

	// Callbacks for UI feedback (optional).
	OnMessage func(msg string)
	OnWarning func(msg string)
}

// NewPipeline creates a pipeline and routes materializer warnings through
// its OnWarning callback.
func NewPipeline(aligner Aligner, m *Materializer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Pipeline{Aligner: aligner, Materializer: m, Logger: logger}
	m.OnWarning = func(msg string) { p.warn("%s", msg) }
	return p
}

func (p *Pipeline) msg(format string, args ...interface{}) {
	if p.OnMessage != nil {
		p.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (p *Pipeline) warn(format string, args ...interface{}) {
	if p.OnWarning != nil {
		p.OnWarning(fmt.Sprintf(format, args...))
	}
}

// Fatal reports whether err must halt the run regardless of StopOnError.
func Fatal(err error) bool {
	var conflict *align.ConflictError
	var revoke *elevation.RevocationError
	return errors.As(err, &conflict) || errors.As(err, &revoke) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Run imports items, which must be sorted by LegacyID. The counter is read
// fresh from the target before the first item.
func (p *Pipeline) Run(ctx context.Context, items []*types.Issue, opts Options) (*Result, error) {
	res := &Result{}
	if !sort.SliceIsSorted(items, func(i, j int) bool { return items[i].LegacyID < items[j].LegacyID }) {
		return res, errors.New("work items are not in ascending legacy-ID order")
	}
	defer func() {
		res.Elevated = p.Materializer.bracket.Outstanding()
		res.Reserved = p.Aligner.Reserved()
	}()

	if err := p.Aligner.Resync(ctx); err != nil {
		return res, err
	}
	for _, issue := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if issue.LegacyID < opts.From {
			res.Skipped++
			continue
		}
		iid, err := p.importOne(ctx, issue, res)
		if err == nil {
			res.Created = append(res.Created, issue.LegacyID)
			continue
		}
		err = fmt.Errorf("issue %d: %w", issue.LegacyID, err)
		res.Failed = append(res.Failed, Failure{LegacyID: issue.LegacyID, IID: iid, Err: err})
		if Fatal(err) || opts.StopOnError {
			return res, err
		}
		p.Logger.Error("issue import failed", "legacy_id", issue.LegacyID, "iid", iid, "error", err)
		p.warn("%v", err)
		// Whatever happened, re-read the counter before the next item so a
		// failure leaves a gap and never shifts later IDs.
		p.Aligner.Invalidate()
	}
	return res, nil
}

// importOne returns the IID of the created issue, zero when the failure
// came before creation.
func (p *Pipeline) importOne(ctx context.Context, issue *types.Issue, res *Result) (int, error) {
	m := p.Materializer
	prep, err := m.Prepare(ctx, issue)
	if err != nil {
		return 0, err
	}

	ar, err := p.Aligner.Align(ctx, issue.LegacyID)
	res.Placeholders += len(ar.Placeholders)
	res.Leftover = append(res.Leftover, ar.Leftover...)
	if err != nil {
		return 0, err
	}
	if n := len(ar.Placeholders); n > 0 {
		p.msg("Skipped %d unused issue number(s) before #%d", n, issue.LegacyID)
	}

	created, err := m.Create(ctx, prep)
	if err != nil {
		p.Aligner.Invalidate()
		return 0, err
	}
	cr, err := p.Aligner.Commit(ctx, issue.LegacyID, created.IID)
	res.Leftover = append(res.Leftover, cr.Leftover...)
	if err != nil {
		return created.IID, err
	}
	p.msg("Created issue #%d: %s", created.IID, issue.Title)

	return created.IID, m.Finish(ctx, prep, created.IID)
}
