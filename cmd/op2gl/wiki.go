package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/op2gl/op2gl/internal/config"
	"github.com/op2gl/op2gl/internal/git"
	"github.com/op2gl/op2gl/internal/ui"
	"github.com/op2gl/op2gl/internal/wiki"
)

var wikiCmd = &cobra.Command{
	Use:     "wiki " + phaseArgsUsage,
	Short:   "Import wiki pages and meetings into the project wiki repository",
	GroupID: "migrate",
	Long: `Commit every version of every legacy wiki page into the project's wiki
repository, with the original author and date, and push it. Meetings become
pages named meeting_<YYYY-MM-DD>.

Redirects of renamed pages are applied to links before committing, and
attachment references are rewritten to files uploaded to the project.

The wiki repository is cloned from the project unless --wiki-repo (wiki.repo)
names another remote.`,
	Args: cobra.MaximumNArgs(3),
	RunE: runWiki,
}

func init() {
	wikiCmd.Flags().String("wiki-repo", "", "Wiki repository to push to (default: the project's wiki)")
	wikiCmd.Flags().String("branch", "master", "Branch to push")
	wikiCmd.Flags().String("work-dir", "", "Directory for the wiki working copy (default: a temporary directory)")
	wikiCmd.Flags().String("files-dir", "", "Directory holding legacy attachments as <id>/<file>")
	wikiCmd.Flags().Bool("no-push", false, "Commit locally without pushing")

	bindConfigKey(wikiCmd, "wiki-repo", "wiki.repo")
	bindConfigKey(wikiCmd, "branch", "wiki.branch")
	bindConfigKey(wikiCmd, "files-dir", "files-dir")
	rootCmd.AddCommand(wikiCmd)
}

func runWiki(cmd *cobra.Command, args []string) error {
	ctx := getRootContext()
	pa, err := parsePhaseArgs(args, true)
	if err != nil {
		return err
	}
	client, err := newClient(pa.ProjectURL, pa.Token)
	if err != nil {
		return err
	}
	doc, err := loadDocument(cmd, pa.Document)
	if err != nil {
		return err
	}

	pages := wiki.Pages(doc)
	if len(pages) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to import.")
		return nil
	}

	remote := config.GetString("wiki.repo")
	if remote == "" {
		project, err := client.GetProject(ctx)
		if err != nil {
			return fmt.Errorf("failed to read project: %w", err)
		}
		remote = project.WikiRepoURL()
		if remote == "" {
			return fmt.Errorf("project %s has no repository URL; set --wiki-repo", project.PathWithNamespace)
		}
	}
	remote = withToken(remote, pa.Token)

	pushed := false
	dir, _ := cmd.Flags().GetString("work-dir")
	if dir == "" {
		tmp, err := os.MkdirTemp("", "op2gl-wiki-*")
		if err != nil {
			return err
		}
		dir = filepath.Join(tmp, "wiki")
		// A pushed temporary copy is no longer needed; an unpushed one is
		// kept for inspection.
		defer func() {
			if pushed {
				_ = os.RemoveAll(tmp)
			}
		}()
	}
	repo, err := git.Clone(ctx, remote, dir)
	if err != nil {
		return err
	}

	branch := config.GetString("wiki.branch")
	if noPush, _ := cmd.Flags().GetBool("no-push"); noPush {
		branch = ""
	}
	im := wiki.NewImporter(repo, client, doc, wiki.Options{
		Converter: newConverter(),
		FilesDir:  config.GetString("files-dir"),
		Branch:    branch,
		Logger:    logger,
	})
	im.OnMessage = func(msg string) { printProgress(cmd.OutOrStdout(), msg) }
	im.OnWarning = func(msg string) { ui.Warning(cmd.ErrOrStderr(), msg) }

	res, err := im.Import(ctx, pages)
	if res != nil {
		pushed = res.Pushed
		s := ui.Summary{Title: "wiki"}
		s.Add("Pages", ui.Count(res.Pages, "page", "pages"))
		s.Add("Commits", ui.Count(res.Commits, "commit", "commits"))
		if total, cerr := repo.CommitCount(ctx); cerr == nil {
			s.Add("History", ui.Count(total, "commit", "commits")+" on the wiki")
		}
		if res.Uploads > 0 {
			s.Add("Uploads", ui.Count(res.Uploads, "file", "files"))
		}
		if res.Pushed {
			s.Add("Pushed", branch)
		} else {
			s.Add("Working copy", dir)
		}
		fmt.Fprint(cmd.OutOrStdout(), s.Render())
	}
	return err
}

// withToken embeds the access token in an HTTP(S) remote so git can push
// without a credential helper.
func withToken(remote, token string) string {
	u, err := url.Parse(remote)
	if err != nil || u.User != nil || token == "" {
		return remote
	}
	if !strings.HasPrefix(u.Scheme, "http") {
		return remote
	}
	u.User = url.UserPassword("oauth2", token)
	return u.String()
}
