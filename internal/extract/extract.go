// Package extract reads one project out of an OpenProject MySQL database
// into a Project Document.
package extract

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"golang.org/x/sync/errgroup"

	"github.com/op2gl/op2gl/internal/types"
)

// DefaultDSN matches a stock single-host OpenProject installation.
const DefaultDSN = "openproject:password@tcp(localhost:3306)/openproject"

const connectMaxElapsed = 30 * time.Second

func newConnectBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = connectMaxElapsed
	return bo
}

// isRetryableError reports transient connection failures worth retrying
// while the database comes up.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, frag := range []string{"connection refused", "bad connection", "invalid connection", "i/o timeout", "connection reset", "gone away"} {
		if strings.Contains(s, frag) {
			return true
		}
	}
	return false
}

// Open connects to the legacy database. The DSN is forced to parse DATE and
// DATETIME columns into time.Time.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = backoff.Retry(func() error {
		err := db.PingContext(ctx)
		if err != nil && !isRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(newConnectBackoff(), ctx))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Addr, err)
	}
	return db, nil
}

// Options tune the extraction.
type Options struct {
	// LabelStatuses are status names that also become issue labels.
	LabelStatuses []string
}

// DefaultOptions returns the options used by the dump command.
func DefaultOptions() Options {
	return Options{LabelStatuses: []string{"rejected"}}
}

// Extractor reads from an OpenProject database.
type Extractor struct {
	db     *sql.DB
	opts   Options
	logger *slog.Logger
}

// New returns an extractor over db. A nil logger discards output.
func New(db *sql.DB, opts Options, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Extractor{db: db, opts: opts, logger: logger}
}

// ErrUnknownProject is returned when no project has the identifier.
var ErrUnknownProject = errors.New("unknown project identifier")

// lookups are the tables loaded in parallel before the ordered work-package
// load.
type lookups struct {
	versions    map[int]*types.Milestone
	typeNames   map[int]string
	categories  map[int]string
	statuses    map[int]status
	watchers    map[int][]int
	relations   []relation
	attachments map[attachmentKey][]types.Attachment
}

// Dump extracts the project with the given identifier.
func (e *Extractor) Dump(ctx context.Context, identifier string) (*types.Document, error) {
	users, err := e.users(ctx)
	if err != nil {
		return nil, err
	}
	projectID, name, err := e.project(ctx, identifier)
	if err != nil {
		return nil, err
	}
	e.logger.Info("found project", "identifier", identifier, "id", projectID, "users", len(users))

	var lk lookups
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { lk.versions, err = e.versions(gctx, projectID); return })
	g.Go(func() (err error) { lk.typeNames, err = e.typeNames(gctx); return })
	g.Go(func() (err error) { lk.categories, err = e.categories(gctx, projectID); return })
	g.Go(func() (err error) { lk.statuses, err = e.statuses(gctx); return })
	g.Go(func() (err error) { lk.watchers, err = e.watchers(gctx); return })
	g.Go(func() (err error) { lk.relations, err = e.relations(gctx); return })
	g.Go(func() (err error) { lk.attachments, err = e.attachments(gctx); return })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	doc := &types.Document{
		Project:    types.Project{Identifier: identifier, Name: name, DumpedAt: time.Now().UTC()},
		Users:      users,
		Milestones: lk.versions,
		Labels:     e.labels(lk),
	}

	if doc.Issues, err = e.workPackages(ctx, projectID, lk); err != nil {
		return nil, err
	}
	doc.LinkHierarchy()
	if doc.Boards, err = e.boards(ctx, projectID, lk); err != nil {
		return nil, err
	}
	if doc.Wiki, doc.WikiRedirects, err = e.wiki(ctx, projectID, lk); err != nil {
		return nil, err
	}
	if doc.Meetings, err = e.meetings(ctx, projectID); err != nil {
		return nil, err
	}
	e.logger.Info("dumped project",
		"milestones", len(doc.Milestones), "issues", len(doc.Issues),
		"boards", len(doc.Boards), "wiki_pages", len(doc.Wiki), "meetings", len(doc.Meetings))
	return doc, doc.Validate()
}

// labels lists every label a work package of the project can carry.
func (e *Extractor) labels(lk lookups) []*types.Label {
	var out []*types.Label
	for _, id := range sortedIDs(lk.typeNames) {
		out = append(out, &types.Label{Name: typeLabel(lk.typeNames[id]), SourceKind: types.KindType})
	}
	for _, id := range sortedIDs(lk.categories) {
		out = append(out, &types.Label{Name: lk.categories[id], SourceKind: types.KindCategory})
	}
	for _, id := range sortedIDs(lk.statuses) {
		if e.labelStatus(lk.statuses[id].name) {
			out = append(out, &types.Label{Name: lk.statuses[id].name, SourceKind: types.KindStatus})
		}
	}
	return out
}

func (e *Extractor) labelStatus(name string) bool {
	for _, s := range e.opts.LabelStatuses {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

func typeLabel(name string) string {
	return strings.ToLower(name)
}
