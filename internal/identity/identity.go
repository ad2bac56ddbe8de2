// Package identity maps legacy accounts onto target accounts, creating the
// missing ones when asked to.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/op2gl/op2gl/internal/gitlab"
	"github.com/op2gl/op2gl/internal/types"
)

// Target is the subset of the API the resolver needs.
type Target interface {
	CurrentUser(ctx context.Context) (*gitlab.User, error)
	FindUserByUsername(ctx context.Context, username string) (*gitlab.User, error)
	SearchUsers(ctx context.Context, query string) ([]gitlab.User, error)
	CreateUser(ctx context.Context, opts gitlab.CreateUserOptions) (*gitlab.User, error)
	BlockUser(ctx context.Context, id int) error
}

// ResolutionError means one legacy user could not be mapped. It never aborts
// resolution; the user falls back to the operator.
type ResolutionError struct {
	LegacyID int
	Login    string
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve legacy user %d (%s): %v", e.LegacyID, e.Login, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Created records an account the resolver created. Created accounts can
// sign in, so the operator must review them.
type Created struct {
	LegacyID int
	Login    string
	TargetID int
	Username string
	Blocked  bool
}

// Map is the result of a resolution: legacy user ID -> target user ID.
type Map struct {
	Operator  int
	Created   []Created
	Fallbacks []int // legacy IDs mapped to the operator
	Errors    []*ResolutionError

	targets map[int]int
}

// NewMap returns an empty map whose fallback is operator.
func NewMap(operator int) *Map {
	return &Map{Operator: operator, targets: map[int]int{}}
}

// Set records a resolved mapping.
func (m *Map) Set(legacyID, targetID int) {
	m.targets[legacyID] = targetID
}

// Target returns the target user for a legacy user. resolved is false when
// the user fell back to the operator (or is unknown), in which case the
// operator's ID is returned.
func (m *Map) Target(legacyID int) (targetID int, resolved bool) {
	if id, ok := m.targets[legacyID]; ok {
		return id, true
	}
	return m.Operator, false
}

// Len returns the number of resolved users.
func (m *Map) Len() int {
	return len(m.targets)
}

// Options control a resolution.
type Options struct {
	// Create missing accounts instead of falling back to the operator.
	Create bool
	// Overrides maps a legacy login to an existing target username.
	Overrides map[string]string
}

// Referenced returns every legacy user ID the document refers to, ascending.
func Referenced(doc *types.Document) []int {
	seen := map[int]struct{}{}
	add := func(ids ...int) {
		for _, id := range ids {
			if id != 0 {
				seen[id] = struct{}{}
			}
		}
	}
	for _, issue := range doc.Issues {
		add(issue.AuthorID, issue.AssigneeID)
		add(issue.Watchers...)
		for _, j := range issue.Journal {
			add(j.AuthorID)
			if j.Changes != nil && j.Changes.AssigneeID != nil {
				add(*j.Changes.AssigneeID)
			}
		}
	}
	for _, board := range doc.Boards {
		for _, msg := range board.Messages {
			add(msg.AuthorID)
			for _, r := range msg.Replies {
				add(r.AuthorID)
			}
		}
	}
	for _, page := range doc.Wiki {
		for _, v := range page.Versions {
			add(v.AuthorID)
		}
	}
	for _, m := range doc.Meetings {
		add(m.AuthorID)
		for _, v := range m.Versions {
			add(v.AuthorID)
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Resolver maps legacy users onto target accounts.
type Resolver struct {
	target Target
	logger *slog.Logger
}

// NewResolver returns a resolver. A nil logger discards output.
func NewResolver(target Target, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{target: target, logger: logger}
}

// Resolve maps every referenced user. Only a failure to identify the
// operator is returned as an error; per-user failures land in Map.Errors.
func (r *Resolver) Resolve(ctx context.Context, doc *types.Document, opts Options) (*Map, error) {
	ctx = gitlab.WithSudo(ctx, 0)
	op, err := r.target.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to identify operator: %w", err)
	}
	m := NewMap(op.ID)

	for _, id := range Referenced(doc) {
		legacy := doc.User(id)
		if legacy == nil {
			r.fallback(m, &ResolutionError{LegacyID: id, Err: fmt.Errorf("not in the document")})
			continue
		}
		u, created, err := r.resolveOne(ctx, legacy, opts)
		if err != nil {
			r.fallback(m, &ResolutionError{LegacyID: id, Login: legacy.Login, Err: err})
			continue
		}
		if u == nil {
			m.Fallbacks = append(m.Fallbacks, id)
			r.logger.Warn("no target account, using operator", "legacy_id", id, "login", legacy.Login)
			continue
		}
		m.Set(id, u.ID)
		if created {
			c := Created{LegacyID: id, Login: legacy.Login, TargetID: u.ID, Username: u.Username}
			if legacy.Locked {
				if err := r.target.BlockUser(ctx, u.ID); err != nil {
					r.logger.Warn("failed to block account of locked user", "username", u.Username, "error", err)
				} else {
					c.Blocked = true
				}
			}
			m.Created = append(m.Created, c)
			r.logger.Info("created account", "username", u.Username, "legacy_id", id)
		}
	}
	return m, nil
}

func (r *Resolver) fallback(m *Map, err *ResolutionError) {
	m.Errors = append(m.Errors, err)
	m.Fallbacks = append(m.Fallbacks, err.LegacyID)
	r.logger.Warn("user resolution failed, using operator", "legacy_id", err.LegacyID, "error", err.Err)
}

func (r *Resolver) resolveOne(ctx context.Context, legacy *types.User, opts Options) (*gitlab.User, bool, error) {
	username := legacy.Login
	if override, ok := opts.Overrides[legacy.Login]; ok {
		u, err := r.target.FindUserByUsername(ctx, override)
		if err != nil {
			return nil, false, err
		}
		if u == nil {
			return nil, false, fmt.Errorf("override target %q does not exist", override)
		}
		return u, false, nil
	}

	u, err := r.target.FindUserByUsername(ctx, SanitizeUsername(username))
	if err != nil || u != nil {
		return u, false, err
	}
	if legacy.Email != "" {
		matches, err := r.target.SearchUsers(ctx, legacy.Email)
		if err != nil {
			return nil, false, err
		}
		for i := range matches {
			if strings.EqualFold(matches[i].Email, legacy.Email) {
				return &matches[i], false, nil
			}
		}
	}
	if !opts.Create {
		return nil, false, nil
	}
	if legacy.Email == "" {
		return nil, false, fmt.Errorf("an email address is required to create an account")
	}
	name := legacy.DisplayName
	if name == "" {
		name = legacy.Login
	}
	u, err = r.target.CreateUser(ctx, gitlab.CreateUserOptions{
		Username:            SanitizeUsername(username),
		Email:               legacy.Email,
		Name:                name,
		ForceRandomPassword: true,
		SkipConfirmation:    true,
	})
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

var invalidUsernameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SanitizeUsername turns a legacy login into a valid target username.
func SanitizeUsername(login string) string {
	if i := strings.Index(login, "@"); i > 0 {
		login = login[:i]
	}
	s := invalidUsernameChars.ReplaceAllString(login, "_")
	s = strings.Trim(s, "_.-")
	if s == "" {
		return "user"
	}
	return s
}

type overrideFile struct {
	Users map[string]string `toml:"users"`
}

// LoadOverrides reads a TOML file of the form
//
//	[users]
//	legacy_login = "target_username"
func LoadOverrides(path string) (map[string]string, error) {
	var f overrideFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to read user map %s: %w", path, err)
	}
	if f.Users == nil {
		f.Users = map[string]string{}
	}
	return f.Users, nil
}
