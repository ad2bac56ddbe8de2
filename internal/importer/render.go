package importer

import (
	"fmt"
	"strings"
	"time"

	"github.com/op2gl/op2gl/internal/types"
)

// Section headings appended to rendered descriptions.
const (
	headingStartDate   = "###### Start date"
	headingRelations   = "###### Relations"
	headingHierarchy   = "###### Hierarchy"
	headingAttachments = "###### Attachments"
)

// inverseKinds names the reverse direction of directed relation kinds.
var inverseKinds = map[string]string{
	"blocks":     "blocked by",
	"precedes":   "preceded by",
	"follows":    "followed by",
	"duplicates": "duplicated by",
	"includes":   "included in",
	"requires":   "required by",
	"relates":    "relates",
}

// HumanizeKind turns a relation kind into prose. Kinds with an "_inv"
// suffix describe the edge from the other end.
func HumanizeKind(kind string) string {
	base, inverse := strings.CutSuffix(kind, "_inv")
	base = strings.ReplaceAll(base, "_", " ")
	if !inverse {
		return base
	}
	if s, ok := inverseKinds[base]; ok {
		return s
	}
	return base + " (inverse)"
}

// Body is a description under construction: the converted text plus the
// sections folded in from structured fields.
type Body struct {
	Text        string
	StartDate   string
	Relations   []types.Relation
	ParentID    int
	Children    []int
	Attachments []string // rendered attachment items
	SourceID    int      // original forum message ID after renumbering
	Authorship  string   // set when the author could not be impersonated
}

// String renders the body. Every relation and hierarchy edge produces
// exactly one line.
func (b Body) String() string {
	var sb strings.Builder
	sb.WriteString(b.Text)

	if b.StartDate != "" {
		section(&sb, headingStartDate)
		sb.WriteString(b.StartDate)
	}
	if len(b.Relations) > 0 {
		section(&sb, headingRelations)
		for i, r := range b.Relations {
			if i > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "- relates to #%d: %s", r.LegacyID, HumanizeKind(r.Kind))
		}
	}
	if b.ParentID != 0 || len(b.Children) > 0 {
		section(&sb, headingHierarchy)
		var lines []string
		if b.ParentID != 0 {
			lines = append(lines, fmt.Sprintf("- parent: #%d", b.ParentID))
		}
		for _, c := range b.Children {
			lines = append(lines, fmt.Sprintf("- child: #%d", c))
		}
		sb.WriteString(strings.Join(lines, "\n"))
	}
	if len(b.Attachments) > 0 {
		section(&sb, headingAttachments)
		sb.WriteString("- " + strings.Join(b.Attachments, "\n- "))
	}
	if b.SourceID != 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "_Imported from forum message %d._", b.SourceID)
	}
	if b.Authorship != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(b.Authorship)
	}
	return sb.String()
}

func section(sb *strings.Builder, heading string) {
	if sb.Len() > 0 {
		sb.WriteString("\n\n")
	}
	sb.WriteString(heading)
	sb.WriteByte('\n')
}

// AttachmentItem renders one uploaded file as a list item body.
func AttachmentItem(a types.Attachment, markdown string) string {
	return fmt.Sprintf("%s: %s\n  %s", a.File, a.Description, markdown)
}

// AttachmentList renders items as a standalone Attachments section, used for
// comments.
func AttachmentList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return "\n\n" + headingAttachments + "\n- " + strings.Join(items, "\n- ")
}

// AuthorshipNote credits a legacy user when the target action had to be
// performed by the operator.
func AuthorshipNote(verb string, u *types.User, at time.Time) string {
	who := "an unknown user"
	if u != nil {
		who = "@" + u.Login
		if u.DisplayName != "" {
			who = u.DisplayName + " (" + who + ")"
		}
	}
	return fmt.Sprintf("_Originally %s by %s on %s._", verb, who, at.UTC().Format("2006-01-02 15:04 MST"))
}
