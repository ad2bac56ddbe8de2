package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/op2gl/op2gl/internal/config"
	"github.com/op2gl/op2gl/internal/gitlab"
	"github.com/op2gl/op2gl/internal/identity"
	"github.com/op2gl/op2gl/internal/markup"
	"github.com/op2gl/op2gl/internal/types"
	"github.com/op2gl/op2gl/internal/ui"
)

// phaseArgs are the positional arguments shared by the migration phases:
// <project-url> <token> <document>. Missing trailing arguments fall back to
// gitlab.url, gitlab.token and document.
type phaseArgs struct {
	ProjectURL string
	Token      string
	Document   string
}

var phaseArgsUsage = "[project-url] [token] [document]"

func parsePhaseArgs(args []string, needDocument bool) (phaseArgs, error) {
	pa := phaseArgs{
		ProjectURL: config.GetString("gitlab.url"),
		Token:      config.GetString("gitlab.token"),
		Document:   config.GetString("document"),
	}
	if len(args) > 0 {
		pa.ProjectURL = args[0]
	}
	if len(args) > 1 {
		pa.Token = args[1]
	}
	if len(args) > 2 {
		pa.Document = args[2]
	}
	switch {
	case pa.ProjectURL == "":
		return pa, errors.New("project URL is required (argument or gitlab.url)")
	case pa.Token == "":
		return pa, errors.New("access token is required (argument or gitlab.token / OP2GL_GITLAB_TOKEN)")
	case needDocument && pa.Document == "":
		return pa, errors.New("document path is required (argument or document)")
	}
	return pa, nil
}

// newClient builds the API client for the project named by projectURL.
func newClient(projectURL, token string) (*gitlab.Client, error) {
	base, project, err := gitlab.ParseProjectURL(projectURL)
	if err != nil {
		return nil, err
	}
	client := gitlab.NewClient(token, base, project)
	if timeout := config.GetDuration("gitlab.timeout"); timeout > 0 {
		client = client.WithHTTPClient(&http.Client{Timeout: timeout})
	}
	if n := config.GetInt("gitlab.max-retries"); n > 0 {
		client = client.WithMaxRetries(n)
	}
	return client, nil
}

// loadDocument reads the Project Document and reports its size.
func loadDocument(cmd *cobra.Command, path string) (*types.Document, error) {
	doc, err := types.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded document", "path", path, "issues", len(doc.Issues),
		"boards", len(doc.Boards), "wiki_pages", len(doc.Wiki), "meetings", len(doc.Meetings))
	return doc, nil
}

// newConverter returns the markup converter configured by converter.command.
func newConverter() markup.Converter {
	return markup.ParseCommand(config.GetString("converter.command"))
}

// resolveUsers runs the identity resolver once and prints what it did.
func resolveUsers(cmd *cobra.Command, client *gitlab.Client, doc *types.Document, create bool) (*identity.Map, error) {
	opts := identity.Options{Create: create}
	if path := config.GetString("users.map-file"); path != "" {
		overrides, err := identity.LoadOverrides(path)
		if err != nil {
			return nil, err
		}
		opts.Overrides = overrides
	}

	users, err := identity.NewResolver(client, logger).Resolve(getRootContext(), doc, opts)
	if err != nil {
		return nil, err
	}

	out := cmd.OutOrStdout()
	for _, c := range users.Created {
		note := ""
		if c.Blocked {
			note = " (blocked)"
		}
		printProgress(out, fmt.Sprintf("Created account %s for legacy user %s%s", c.Username, c.Login, note))
	}
	for _, e := range users.Errors {
		ui.Warning(cmd.ErrOrStderr(), fmt.Sprintf("%v; acting as operator instead", e))
	}
	for _, id := range users.Fallbacks {
		login := fmt.Sprintf("#%d", id)
		if u := doc.User(id); u != nil {
			login = u.Login
		}
		ui.Warning(cmd.ErrOrStderr(), fmt.Sprintf("no account for legacy user %s; acting as operator instead", login))
	}
	return users, nil
}
