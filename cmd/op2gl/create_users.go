package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/op2gl/op2gl/internal/identity"
	"github.com/op2gl/op2gl/internal/ui"
)

var createUsersCmd = &cobra.Command{
	Use:     "create-users " + phaseArgsUsage,
	Short:   "Create target accounts for every legacy user the document refers to",
	GroupID: "migrate",
	Long: `Look up every user referenced by the document on the target by login, then
by email, and create the accounts that do not exist yet.

Created accounts can sign in. Review them after the migration and block or
delete the ones that should not keep access. Legacy users that were locked
are blocked right after creation.

A TOML file (users.map-file) can map legacy logins to existing usernames:
  [users]
  jdoe = "john.doe"`,
	Args: cobra.MaximumNArgs(3),
	RunE: runCreateUsers,
}

func init() {
	createUsersCmd.Flags().String("map-file", "", "TOML file mapping legacy logins to target usernames")
	bindConfigKey(createUsersCmd, "map-file", "users.map-file")
	rootCmd.AddCommand(createUsersCmd)
}

func runCreateUsers(cmd *cobra.Command, args []string) error {
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

	n := len(identity.Referenced(doc))
	if err := confirm("Create missing accounts?",
		"Up to "+ui.Count(n, "account", "accounts")+" may be created. New accounts can sign in."); err != nil {
		return err
	}

	users, err := resolveUsers(cmd, client, doc, true)
	if err != nil {
		return err
	}

	s := ui.Summary{Title: "users"}
	s.Add("Referenced", ui.Count(n, "user", "users"))
	s.Add("Resolved", ui.Count(users.Len(), "user", "users"))
	if len(users.Created) > 0 {
		s.Add("Created", ui.Count(len(users.Created), "account", "accounts")+" (review these)")
	}
	if k := len(users.Fallbacks) + len(users.Errors); k > 0 {
		s.Add("Operator fallback", ui.Count(k, "user", "users"))
	}
	fmt.Fprint(cmd.OutOrStdout(), s.Render())
	return nil
}
