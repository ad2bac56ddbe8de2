package ui

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// Count renders n with thousands separators and the matching noun form.
func Count(n int, singular, plural string) string {
	noun := plural
	if n == 1 {
		noun = singular
	}
	return humanize.Comma(int64(n)) + " " + noun
}

// Ago renders t relative to now, e.g. "3 days ago". The zero time renders
// as "never".
func Ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// Truncate shortens s to at most max runes, ending in "...".
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return "..."
	}
	return string([]rune(s)[:max-3]) + "..."
}

// Progress writes one per-entity progress line.
func Progress(w io.Writer, msg string) {
	fmt.Fprintf(w, "  %s %s\n", RenderPassIcon(), msg)
}

// Skip writes one line about work left out of this run.
func Skip(w io.Writer, msg string) {
	fmt.Fprintf(w, "  %s %s\n", RenderSkipIcon(), RenderMuted(msg))
}

// Info writes one neutral status line.
func Info(w io.Writer, msg string) {
	fmt.Fprintf(w, "%s %s\n", RenderInfoIcon(), msg)
}

// Warning writes one non-fatal problem line.
func Warning(w io.Writer, msg string) {
	fmt.Fprintf(w, "  %s %s\n", RenderWarnIcon(), RenderWarn(msg))
}

// Summary is a titled list of label/value rows printed at the end of a
// phase.
type Summary struct {
	Title string
	rows  [][2]string
}

// Add appends a row. Empty values are skipped.
func (s *Summary) Add(label, value string) {
	if value == "" {
		return
	}
	s.rows = append(s.rows, [2]string{label, value})
}

// Render formats the summary with aligned labels.
func (s *Summary) Render() string {
	var sb strings.Builder
	sb.WriteString(RenderCategory(s.Title))
	sb.WriteString("\n")
	width := 0
	for _, r := range s.rows {
		if n := utf8.RuneCountInString(r[0]); n > width {
			width = n
		}
	}
	for _, r := range s.rows {
		pad := strings.Repeat(" ", width-utf8.RuneCountInString(r[0]))
		fmt.Fprintf(&sb, "  %s%s  %s\n", RenderMuted(r[0]+":"), pad, r[1])
	}
	return sb.String()
}

// ElevatedAlert renders the fatal report listing accounts that still hold
// administrator rights after a failed revocation.
func ElevatedAlert(accounts []string) string {
	if len(accounts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(IconFail + " ADMINISTRATOR RIGHTS NOT REVOKED\n\n")
	sb.WriteString("The following accounts are still administrators and must be\n")
	sb.WriteString("demoted by hand before anything else is done:\n")
	for _, a := range accounts {
		sb.WriteString("  - " + a + "\n")
	}
	return AlertStyle.Render(strings.TrimRight(sb.String(), "\n"))
}
