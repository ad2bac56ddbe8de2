package importer

import (
	"strings"

	diffpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// DescriptionDiff renders a line-mode diff of two descriptions as a fenced
// diff block. It returns "" when the texts are equal.
func DescriptionDiff(before, after string) string {
	if before == after {
		return ""
	}
	dmp := diffpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	sb.WriteString("Description changed:\n\n```diff\n")
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffpatch.DiffInsert:
			prefix = "+"
		case diffpatch.DiffDelete:
			prefix = "-"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(strings.TrimSuffix(line, "\n"))
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("```")
	return sb.String()
}
