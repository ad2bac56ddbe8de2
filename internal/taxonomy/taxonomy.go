// Package taxonomy creates the target labels and milestones an import needs
// and resolves legacy references to them.
package taxonomy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/op2gl/op2gl/internal/gitlab"
	"github.com/op2gl/op2gl/internal/types"
)

// Default label colors by source kind.
var defaultColors = map[string]string{
	types.KindType:       "#428BCA",
	types.KindCategory:   "#5CB85C",
	types.KindStatus:     "#F0AD4E",
	types.KindDiscussion: "#8E44AD",
}

// BoardMilestonePrefix prefixes milestones created for forum boards.
const BoardMilestonePrefix = "Board-"

// Target is the subset of the API the synthesizer needs.
type Target interface {
	ListLabels(ctx context.Context) ([]gitlab.Label, error)
	CreateLabel(ctx context.Context, name, color, description string) (*gitlab.Label, error)
	ListMilestones(ctx context.Context) ([]gitlab.Milestone, error)
	CreateMilestone(ctx context.Context, opts gitlab.CreateMilestoneOptions) (*gitlab.Milestone, error)
	UpdateMilestone(ctx context.Context, id int, updates map[string]interface{}) (*gitlab.Milestone, error)
}

// ResolutionError is a label or milestone reference with no target entity.
type ResolutionError struct {
	Kind string // "label", "milestone" or "board"
	Ref  string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Ref)
}

// Catalog maps legacy references to target labels and milestones.
type Catalog struct {
	labels     map[string]string // lower-case name -> target name
	milestones map[int]int       // legacy version ID -> target milestone ID
	boards     map[int]int       // legacy board ID -> target milestone ID

	CreatedLabels     []string
	CreatedMilestones []string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{labels: map[string]string{}, milestones: map[int]int{}, boards: map[int]int{}}
}

// AddLabel records a target label.
func (c *Catalog) AddLabel(name string) {
	c.labels[strings.ToLower(name)] = name
}

// AddMilestone records the target milestone for a legacy version.
func (c *Catalog) AddMilestone(legacyVersionID, milestoneID int) {
	c.milestones[legacyVersionID] = milestoneID
}

// AddBoard records the target milestone for a forum board.
func (c *Catalog) AddBoard(boardID, milestoneID int) {
	c.boards[boardID] = milestoneID
}

// Labels maps label names to the target's spelling. Duplicates collapse.
func (c *Catalog) Labels(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		key := strings.ToLower(n)
		target, ok := c.labels[key]
		if !ok {
			return nil, &ResolutionError{Kind: "label", Ref: n}
		}
		if !seen[key] {
			seen[key] = true
			out = append(out, target)
		}
	}
	return out, nil
}

// Milestone returns the target milestone for a legacy version. Zero means
// none and resolves to zero.
func (c *Catalog) Milestone(legacyVersionID int) (int, error) {
	if legacyVersionID == 0 {
		return 0, nil
	}
	id, ok := c.milestones[legacyVersionID]
	if !ok {
		return 0, &ResolutionError{Kind: "milestone", Ref: fmt.Sprint(legacyVersionID)}
	}
	return id, nil
}

// Board returns the target milestone for a forum board.
func (c *Catalog) Board(boardID int) (int, error) {
	if boardID == 0 {
		return 0, nil
	}
	id, ok := c.boards[boardID]
	if !ok {
		return 0, &ResolutionError{Kind: "board", Ref: fmt.Sprint(boardID)}
	}
	return id, nil
}

// Synthesizer creates labels and milestones, reusing existing ones.
type Synthesizer struct {
	target Target
	logger *slog.Logger
	colors map[string]string // label name -> color override
}

// NewSynthesizer returns a synthesizer. colors overrides label colors by
// name; a nil logger discards output.
func NewSynthesizer(target Target, colors map[string]string, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	lowered := make(map[string]string, len(colors))
	for k, v := range colors {
		lowered[strings.ToLower(k)] = v
	}
	return &Synthesizer{target: target, logger: logger, colors: lowered}
}

func (s *Synthesizer) colorFor(l *types.Label) string {
	if c, ok := s.colors[strings.ToLower(l.Name)]; ok {
		return normalizeColor(c)
	}
	if l.Color != "" {
		return normalizeColor(l.Color)
	}
	if c, ok := defaultColors[l.SourceKind]; ok {
		return c
	}
	return "#6C757D"
}

func normalizeColor(c string) string {
	if !strings.HasPrefix(c, "#") {
		return "#" + c
	}
	return c
}

// Synthesize ensures every label and milestone of the document exists on the
// target. Running it twice creates nothing the second time.
func (s *Synthesizer) Synthesize(ctx context.Context, doc *types.Document) (*Catalog, error) {
	ctx = gitlab.WithSudo(ctx, 0)
	cat := NewCatalog()
	if err := s.labels(ctx, doc, cat); err != nil {
		return nil, err
	}
	if err := s.milestones(ctx, doc, cat); err != nil {
		return nil, err
	}
	return cat, nil
}

func (s *Synthesizer) labels(ctx context.Context, doc *types.Document, cat *Catalog) error {
	existing, err := s.target.ListLabels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list labels: %w", err)
	}
	for _, l := range existing {
		cat.AddLabel(l.Name)
	}

	wanted := append([]*types.Label(nil), doc.Labels...)
	if len(doc.Boards) > 0 {
		wanted = append(wanted, &types.Label{Name: types.DiscussionLabel, SourceKind: types.KindDiscussion})
	}
	for _, l := range wanted {
		if _, err := cat.Labels([]string{l.Name}); err == nil {
			continue
		}
		created, err := s.target.CreateLabel(ctx, l.Name, s.colorFor(l), "Imported "+l.SourceKind)
		if err != nil {
			return fmt.Errorf("failed to create label %q: %w", l.Name, err)
		}
		cat.AddLabel(created.Name)
		cat.CreatedLabels = append(cat.CreatedLabels, created.Name)
		s.logger.Info("created label", "name", created.Name)
	}
	return nil
}

func (s *Synthesizer) milestones(ctx context.Context, doc *types.Document, cat *Catalog) error {
	existing, err := s.target.ListMilestones(ctx)
	if err != nil {
		return fmt.Errorf("failed to list milestones: %w", err)
	}
	byTitle := map[string]gitlab.Milestone{}
	for _, m := range existing {
		byTitle[m.Title] = m
	}

	ensure := func(opts gitlab.CreateMilestoneOptions, closed bool) (int, error) {
		m, ok := byTitle[opts.Title]
		if !ok {
			created, err := s.target.CreateMilestone(ctx, opts)
			if err != nil {
				return 0, err
			}
			m = *created
			byTitle[m.Title] = m
			cat.CreatedMilestones = append(cat.CreatedMilestones, m.Title)
			s.logger.Info("created milestone", "title", m.Title)
		}
		if closed && m.State != "closed" {
			if _, err := s.target.UpdateMilestone(ctx, m.ID, map[string]interface{}{"state_event": "close"}); err != nil {
				return 0, err
			}
		}
		return m.ID, nil
	}

	ids := make([]int, 0, len(doc.Milestones))
	for id := range doc.Milestones {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		v := doc.Milestones[id]
		mid, err := ensure(gitlab.CreateMilestoneOptions{
			Title:       v.Title,
			Description: v.Description,
			StartDate:   v.StartDate,
			DueDate:     v.DueDate,
		}, v.Closed)
		if err != nil {
			return fmt.Errorf("failed to synthesize milestone %q: %w", v.Title, err)
		}
		cat.AddMilestone(id, mid)
	}

	for _, id := range doc.BoardIDs() {
		b := doc.Boards[id]
		mid, err := ensure(gitlab.CreateMilestoneOptions{
			Title:       BoardMilestonePrefix + b.Name,
			Description: "Forum " + b.Name,
		}, false)
		if err != nil {
			return fmt.Errorf("failed to synthesize milestone for board %q: %w", b.Name, err)
		}
		cat.AddBoard(id, mid)
	}
	return nil
}
