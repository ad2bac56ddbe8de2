package wiki

import (
	"fmt"
	"strconv"

	"github.com/op2gl/op2gl/internal/types"
)

// MeetingSlugPrefix starts the slug of every meeting page.
const MeetingSlugPrefix = "meeting_"

// MeetingPage turns a meeting into a wiki page named after its date. Each
// version is prefixed with the meeting's start time and duration.
func MeetingPage(m *types.Meeting) *Page {
	prefix := fmt.Sprintf("Start time: %s\nDuration: %s\n\n",
		m.StartTime.Format("2006-01-02 15:04:05"),
		strconv.FormatFloat(m.Duration, 'f', -1, 64))
	p := &Page{
		LegacyID: m.LegacyID,
		Slug:     MeetingSlugPrefix + m.StartTime.Format("2006-01-02"),
		Title:    m.Title,
	}
	for _, v := range m.Versions {
		if v.AuthorID == 0 {
			v.AuthorID = m.AuthorID
		}
		v.Text = prefix + v.Text
		p.Versions = append(p.Versions, v)
	}
	return p
}

// uniqueSlug appends -2, -3, ... until slug is unused, then claims it.
func uniqueSlug(slug string, used map[string]bool) string {
	candidate := slug
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d", slug, n)
	}
	used[candidate] = true
	return candidate
}
