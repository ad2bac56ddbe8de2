// Package wiki converts legacy wiki pages and meetings into commits on the
// target's wiki repository.
package wiki

import (
	"regexp"
	"sort"
	"strings"

	"github.com/op2gl/op2gl/internal/types"
)

// Page is a wiki page ready to be written, one commit per version.
type Page struct {
	LegacyID    int
	Slug        string
	Title       string
	Versions    []types.WikiVersion
	Attachments []types.Attachment
}

// linkRE matches [[Target]], [[Target#anchor]] and [[Target|label]].
var linkRE = regexp.MustCompile(`\[\[([^\]|]+)(\|[^\]|]+)?\]\]`)

// Redirects combines the document's redirect table with a title -> slug
// entry for every page whose title differs from its slug. Self-redirects
// are dropped.
func Redirects(doc *types.Document) map[string]string {
	out := make(map[string]string, len(doc.WikiRedirects)+len(doc.Wiki))
	for from, to := range doc.WikiRedirects {
		if from != to {
			out[from] = to
		}
	}
	for _, id := range doc.WikiIDs() {
		p := doc.Wiki[id]
		for _, from := range p.RedirectFrom {
			if from != p.Slug {
				out[from] = p.Slug
			}
		}
		if p.Title != "" && p.Title != p.Slug {
			out[p.Title] = p.Slug
		}
	}
	return out
}

// ResolveTarget follows a redirect chain to its end. On a cycle the target
// is returned unchanged.
func ResolveTarget(target string, redirects map[string]string) string {
	seen := map[string]bool{target: true}
	cur := target
	for {
		next, ok := redirects[cur]
		if !ok {
			return cur
		}
		if seen[next] {
			return target
		}
		seen[next] = true
		cur = next
	}
}

// RewriteLinks points every wiki link at the end of its redirect chain,
// keeping anchors and labels.
func RewriteLinks(text string, redirects map[string]string) string {
	if len(redirects) == 0 {
		return text
	}
	return linkRE.ReplaceAllStringFunc(text, func(m string) string {
		sub := linkRE.FindStringSubmatch(m)
		target, anchor, hasAnchor := strings.Cut(sub[1], "#")
		target = ResolveTarget(target, redirects)
		if hasAnchor {
			target += "#" + anchor
		}
		return "[[" + target + sub[2] + "]]"
	})
}

// ResolveRedirects returns copies of pages whose version texts have every
// link rewritten. Applying it to its own output changes nothing.
func ResolveRedirects(pages []*Page, redirects map[string]string) []*Page {
	out := make([]*Page, len(pages))
	for i, p := range pages {
		cp := *p
		cp.Versions = make([]types.WikiVersion, len(p.Versions))
		for j, v := range p.Versions {
			v.Text = RewriteLinks(v.Text, redirects)
			cp.Versions[j] = v
		}
		out[i] = &cp
	}
	return out
}

// Pages collects the document's wiki pages and meetings, with redirects
// resolved. Wiki pages come first in legacy-ID order, then meetings.
func Pages(doc *types.Document) []*Page {
	var pages []*Page
	used := map[string]bool{}
	for _, id := range doc.WikiIDs() {
		w := doc.Wiki[id]
		versions := append([]types.WikiVersion(nil), w.Versions...)
		sort.SliceStable(versions, func(i, j int) bool { return versions[i].CreatedAt.Before(versions[j].CreatedAt) })
		pages = append(pages, &Page{
			LegacyID:    w.LegacyID,
			Slug:        w.Slug,
			Title:       w.Title,
			Versions:    versions,
			Attachments: w.Attachments,
		})
		used[w.Slug] = true
	}
	for _, id := range doc.MeetingIDs() {
		p := MeetingPage(doc.Meetings[id])
		p.Slug = uniqueSlug(p.Slug, used)
		pages = append(pages, p)
	}
	return ResolveRedirects(pages, Redirects(doc))
}
