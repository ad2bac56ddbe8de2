package wiki

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/op2gl/op2gl/internal/git"
	"github.com/op2gl/op2gl/internal/gitlab"
	"github.com/op2gl/op2gl/internal/markup"
	"github.com/op2gl/op2gl/internal/types"
)

// DefaultExtension is the file extension of written pages.
const DefaultExtension = ".md"

// Uploader stores attachment files on the target.
type Uploader interface {
	UploadFile(ctx context.Context, name string, r io.Reader) (*gitlab.Upload, error)
}

// Options configures an Importer.
type Options struct {
	Converter markup.Converter // nil passes text through
	FilesDir  string           // attachment root: <dir>/<attachment_id>/<file>
	Extension string           // defaults to DefaultExtension
	Branch    string           // pushed after the last commit; empty skips the push
	Logger    *slog.Logger
}

// Result summarizes a wiki import.
type Result struct {
	Pages   int
	Commits int
	Uploads int
	Pushed  bool
}

// Importer writes wiki pages into a git working copy.
type Importer struct {
	repo      *git.Repo
	uploader  Uploader
	doc       *types.Document
	converter markup.Converter
	filesDir  string
	ext       string
	branch    string
	logger    *slog.Logger

	// Callbacks for UI feedback (optional).
	OnMessage func(msg string)
	OnWarning func(msg string)
}

// NewImporter returns an importer committing into repo. doc supplies the
// commit authors.
func NewImporter(repo *git.Repo, uploader Uploader, doc *types.Document, opts Options) *Importer {
	im := &Importer{
		repo:      repo,
		uploader:  uploader,
		doc:       doc,
		converter: opts.Converter,
		filesDir:  opts.FilesDir,
		ext:       opts.Extension,
		branch:    opts.Branch,
		logger:    opts.Logger,
	}
	if im.converter == nil {
		im.converter = markup.Passthrough{}
	}
	if im.ext == "" {
		im.ext = DefaultExtension
	}
	if im.logger == nil {
		im.logger = slog.New(slog.DiscardHandler)
	}
	return im
}

func (im *Importer) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	im.logger.Warn(msg)
	if im.OnWarning != nil {
		im.OnWarning(msg)
	}
}

// version is one page version scheduled for a commit.
type version struct {
	page *Page
	v    types.WikiVersion
	seq  int
}

// Import commits every version of every page in chronological order across
// pages, then pushes.
func (im *Importer) Import(ctx context.Context, pages []*Page) (*Result, error) {
	res := &Result{Pages: len(pages)}

	urls := make(map[*Page]URLs, len(pages))
	var queue []version
	for _, p := range pages {
		u, n := im.upload(ctx, p)
		urls[p] = u
		res.Uploads += n
		for _, v := range p.Versions {
			queue = append(queue, version{page: p, v: v, seq: len(queue)})
		}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if !a.v.CreatedAt.Equal(b.v.CreatedAt) {
			return a.v.CreatedAt.Before(b.v.CreatedAt)
		}
		return a.seq < b.seq
	})

	for _, q := range queue {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		text, err := im.converter.Convert(ctx, RewriteAttachments(q.v.Text, urls[q.page]))
		if err != nil {
			return res, fmt.Errorf("page %s: failed to convert: %w", q.page.Slug, err)
		}
		if err := im.repo.WriteFile(ctx, q.page.Slug+im.ext, []byte(text+"\n")); err != nil {
			return res, fmt.Errorf("page %s: %w", q.page.Slug, err)
		}
		committed, err := im.repo.Commit(ctx, commitMessage(q.page), im.signature(q.v.AuthorID, q.v.CreatedAt))
		if err != nil {
			return res, fmt.Errorf("page %s: %w", q.page.Slug, err)
		}
		if committed {
			res.Commits++
		}
	}
	if im.OnMessage != nil {
		im.OnMessage(fmt.Sprintf("Committed %d version(s) of %d page(s)", res.Commits, res.Pages))
	}

	if im.branch != "" && res.Commits > 0 {
		if err := im.repo.Push(ctx, im.branch); err != nil {
			return res, err
		}
		res.Pushed = true
	}
	return res, nil
}

func commitMessage(p *Page) string {
	title := p.Title
	if title == "" {
		title = p.Slug
	}
	return "Update " + title
}

func (im *Importer) signature(authorID int, at time.Time) git.Signature {
	sig := git.Signature{Name: "Unknown", Email: "unknown@localhost", When: at}
	u := im.doc.User(authorID)
	if u == nil {
		return sig
	}
	sig.Name = u.Login
	if u.DisplayName != "" {
		sig.Name = u.DisplayName
	}
	sig.Email = u.Email
	if sig.Email == "" {
		sig.Email = u.Login + "@localhost"
	}
	return sig
}

// upload sends a page's attachments and returns their URLs by file name.
func (im *Importer) upload(ctx context.Context, p *Page) (URLs, int) {
	urls := URLs{}
	if im.uploader == nil {
		return urls, 0
	}
	ctx = gitlab.WithSudo(ctx, 0)
	for _, a := range p.Attachments {
		path := filepath.Join(im.filesDir, strconv.Itoa(a.AttachmentID), a.File)
		f, err := os.Open(path) // #nosec G304 -- path built from the operator's files dir
		if err != nil {
			im.warn("page %s: attachment %s not uploaded: %v", p.Slug, a.File, err)
			continue
		}
		up, err := im.uploader.UploadFile(ctx, a.File, f)
		_ = f.Close()
		if err != nil {
			im.warn("page %s: attachment %s not uploaded: %v", p.Slug, a.File, err)
			continue
		}
		url := up.FullPath
		if url == "" {
			url = up.URL
		}
		urls[a.File] = url
	}
	return urls, len(urls)
}
