package importer

import (
	"fmt"
	"sort"

	"github.com/op2gl/op2gl/internal/types"
)

// Order decides how work packages and forum threads share the IID space.
type Order string

const (
	// OrderInterleaved keeps every legacy ID; a clash is an error.
	OrderInterleaved Order = "interleaved"
	// OrderIssuesFirst renumbers forum threads after the last work package.
	OrderIssuesFirst Order = "issues-first"
)

// ParseOrder validates an order name. Empty selects OrderInterleaved.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case "", OrderInterleaved:
		return OrderInterleaved, nil
	case OrderIssuesFirst:
		return OrderIssuesFirst, nil
	}
	return "", fmt.Errorf("unknown order %q (want %s or %s)", s, OrderInterleaved, OrderIssuesFirst)
}

// DuplicateIDError lists legacy IDs claimed by both a work package and a
// forum message. It is reported before any API call.
type DuplicateIDError struct {
	IDs []int
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("legacy IDs used by both work packages and forum messages: %v (use --order %s)", e.IDs, OrderIssuesFirst)
}

// WorkItems returns every issue to import in ascending legacy-ID order.
func WorkItems(doc *types.Document, order Order) ([]*types.Issue, error) {
	forum := FlattenForum(doc)
	items := make([]*types.Issue, 0, len(doc.Issues)+len(forum))
	for _, id := range doc.IssueIDs() {
		items = append(items, doc.Issues[id])
	}

	switch order {
	case OrderIssuesFirst:
		last := 0
		if n := len(items); n > 0 {
			last = items[n-1].LegacyID
		}
		for i, f := range forum {
			f.SourceID = f.LegacyID
			f.LegacyID = last + 1 + i
			items = append(items, f)
		}
		return items, nil
	case OrderInterleaved, "":
		var dups []int
		for _, f := range forum {
			if _, clash := doc.Issues[f.LegacyID]; clash {
				dups = append(dups, f.LegacyID)
			}
		}
		if len(dups) > 0 {
			return nil, &DuplicateIDError{IDs: dups}
		}
		items = append(items, forum...)
		sort.SliceStable(items, func(i, j int) bool { return items[i].LegacyID < items[j].LegacyID })
		return items, nil
	}
	return nil, fmt.Errorf("unknown order %q", order)
}
