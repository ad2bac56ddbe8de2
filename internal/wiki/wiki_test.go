package wiki

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/op2gl/op2gl/internal/git"
	"github.com/op2gl/op2gl/internal/gitlab/gitlabtest"
	"github.com/op2gl/op2gl/internal/types"
)

var t0 = time.Date(2012, 11, 5, 14, 0, 0, 0, time.UTC)

func TestResolveTarget(t *testing.T) {
	redirects := map[string]string{"A": "B", "B": "C", "X": "Y", "Y": "X", "P": "Q", "Q": "Q2", "Q2": "Q"}
	assert.Equal(t, "C", ResolveTarget("A", redirects))
	assert.Equal(t, "C", ResolveTarget("C", redirects))
	assert.Equal(t, "X", ResolveTarget("X", redirects), "cycles leave the link alone")
	assert.Equal(t, "P", ResolveTarget("P", redirects), "chains ending in a cycle too")
}

func TestRewriteLinks(t *testing.T) {
	redirects := map[string]string{"Old Page": "new_page", "new_page": "newest"}
	in := "See [[Old Page]], [[Old Page#Usage|usage]] and [[Other|x]]."
	assert.Equal(t, "See [[newest]], [[newest#Usage|usage]] and [[Other|x]].", RewriteLinks(in, redirects))
}

func TestResolveRedirects_Idempotent(t *testing.T) {
	redirects := map[string]string{"Start": "Home", "Home": "home", "Loop": "Loop2", "Loop2": "Loop"}
	pages := []*Page{{Slug: "home", Versions: []types.WikiVersion{
		{Text: "[[Start]] [[Home|back]] [[Loop]] [[home#top]]"},
	}}}

	once := ResolveRedirects(pages, redirects)
	twice := ResolveRedirects(once, redirects)
	assert.Equal(t, "[[home]] [[home|back]] [[Loop]] [[home#top]]", once[0].Versions[0].Text)
	assert.Equal(t, once[0].Versions[0].Text, twice[0].Versions[0].Text)
	assert.Equal(t, "[[Start]] [[Home|back]] [[Loop]] [[home#top]]", pages[0].Versions[0].Text, "input pages are not modified")
}

func TestRedirects_FromDocument(t *testing.T) {
	doc := &types.Document{
		WikiRedirects: map[string]string{"Old": "Wiki", "Same": "Same"},
		Wiki: map[int]*types.WikiPage{
			1: {LegacyID: 1, Slug: "wiki", Title: "Wiki", RedirectFrom: []string{"Legacy"}},
			2: {LegacyID: 2, Slug: "faq", Title: "faq"},
		},
	}
	got := Redirects(doc)
	assert.Equal(t, map[string]string{"Old": "Wiki", "Wiki": "wiki", "Legacy": "wiki"}, got)
	assert.Equal(t, "wiki", ResolveTarget("Old", got))
}

func TestRewriteAttachments(t *testing.T) {
	urls := URLs{"diagram.png": "/g/p/uploads/1/diagram.png", "Spec Sheet.pdf": "/g/p/uploads/2/Spec Sheet.pdf"}
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"textile image", "Look: !diagram.png!", "Look: !/g/p/uploads/1/diagram.png!"},
		{"aligned image with title", "!>diagram.png(Overview)!", "!>/g/p/uploads/1/diagram.png(Overview)!"},
		{"case-insensitive", "!Diagram.PNG!", "!/g/p/uploads/1/diagram.png!"},
		{"attachment link", "see attachment:diagram.png.", `see "diagram.png":/g/p/uploads/1/diagram.png.`},
		{"quoted attachment link", `attachment:"Spec Sheet.pdf"`, `"Spec Sheet.pdf":/g/p/uploads/2/Spec Sheet.pdf`},
		{"html image", `<img src="diagram.png" alt="d">`, `<img src="/g/p/uploads/1/diagram.png" alt="d"/>`},
		{"html link keeps closing tag", `<a href="diagram.png">pic</a>`, `<a href="/g/p/uploads/1/diagram.png">pic</a>`},
		{"unknown files stay", "!other.png! attachment:x.zip <img src=\"x.gif\">", "!other.png! attachment:x.zip <img src=\"x.gif\">"},
		{"absolute urls stay", `<img src="http://example.com/diagram.png">`, `<img src="http://example.com/diagram.png">`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteAttachments(tt.in, urls))
		})
	}
}

func TestMeetingPage(t *testing.T) {
	m := &types.Meeting{
		LegacyID: 3, Title: "Weekly", AuthorID: 7, StartTime: t0, Duration: 1.5,
		Versions: []types.WikiVersion{{CreatedAt: t0, Text: "Agenda"}},
	}
	p := MeetingPage(m)
	assert.Equal(t, "meeting_2012-11-05", p.Slug)
	require.Len(t, p.Versions, 1)
	assert.Equal(t, "Start time: 2012-11-05 14:00:00\nDuration: 1.5\n\nAgenda", p.Versions[0].Text)
	assert.Equal(t, 7, p.Versions[0].AuthorID)
}

func TestPages_MeetingSlugsAreUnique(t *testing.T) {
	doc := &types.Document{
		Wiki: map[int]*types.WikiPage{1: {LegacyID: 1, Slug: "meeting_2012-11-05", Title: "meeting_2012-11-05"}},
		Meetings: map[int]*types.Meeting{
			1: {LegacyID: 1, StartTime: t0},
			2: {LegacyID: 2, StartTime: t0.Add(time.Hour)},
		},
	}
	pages := Pages(doc)
	require.Len(t, pages, 3)
	assert.Equal(t, "meeting_2012-11-05-2", pages[1].Slug)
	assert.Equal(t, "meeting_2012-11-05-3", pages[2].Slug)
}

func TestImport_CommitsVersionsWithAuthors(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	ctx := context.Background()
	srv := gitlabtest.New(t)
	repo, err := git.Init(ctx, filepath.Join(t.TempDir(), "wiki"), "main")
	require.NoError(t, err)

	files := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(files, "9"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(files, "9", "logo.png"), []byte("png"), 0o600))

	doc := &types.Document{
		Users: map[int]*types.User{
			1: {LegacyID: 1, Login: "jane", DisplayName: "Jane Doe", Email: "jane@example.com"},
			2: {LegacyID: 2, Login: "bob"},
		},
		Wiki: map[int]*types.WikiPage{
			1: {LegacyID: 1, Slug: "home", Title: "Home", Attachments: []types.Attachment{{AttachmentID: 9, File: "logo.png"}},
				Versions: []types.WikiVersion{
					{AuthorID: 1, CreatedAt: t0, Text: "v1 !logo.png!"},
					{AuthorID: 2, CreatedAt: t0.Add(2 * time.Hour), Text: "v2 [[FAQ]]"},
				}},
			2: {LegacyID: 2, Slug: "faq", Title: "FAQ",
				Versions: []types.WikiVersion{{AuthorID: 2, CreatedAt: t0.Add(time.Hour), Text: "questions"}}},
		},
	}
	im := NewImporter(repo, srv.APIClient(), doc, Options{FilesDir: files})
	res, err := im.Import(ctx, Pages(doc))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Commits)
	assert.Equal(t, 1, res.Uploads)
	assert.False(t, res.Pushed)
	assert.Equal(t, []string{"logo.png"}, srv.Uploads())

	log, err := repo.Run(ctx, "log", "--reverse", "--format=%an|%ae|%at|%s")
	require.NoError(t, err)
	at := func(d time.Duration) string { return strconv.FormatInt(t0.Add(d).Unix(), 10) }
	assert.Equal(t, strings.Join([]string{
		"Jane Doe|jane@example.com|" + at(0) + "|Update Home",
		"bob|bob@localhost|" + at(time.Hour) + "|Update FAQ",
		"bob|bob@localhost|" + at(2*time.Hour) + "|Update Home",
	}, "\n"), log)

	home, err := os.ReadFile(filepath.Join(repo.Dir, "home.md"))
	require.NoError(t, err)
	assert.Equal(t, "v2 [[faq]]\n", string(home))

	first, err := repo.Run(ctx, "show", "HEAD~2:home.md")
	require.NoError(t, err)
	assert.Contains(t, first, "!/"+gitlabtest.ProjectPath+"/uploads/")
}
