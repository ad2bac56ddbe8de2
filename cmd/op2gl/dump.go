package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/op2gl/op2gl/internal/config"
	"github.com/op2gl/op2gl/internal/extract"
	"github.com/op2gl/op2gl/internal/types"
	"github.com/op2gl/op2gl/internal/ui"
)

var dumpCmd = &cobra.Command{
	Use:     "dump <project-identifier>",
	Short:   "Extract one OpenProject project from its MySQL database into a document",
	GroupID: "tools",
	Long: `Read users, versions, types, categories, statuses, work packages with their
journals, watchers, relations and attachments, forum boards and messages, wiki
pages with redirects, and meetings of one project, and write them as a Project
Document (JSON, or YAML when the output ends in .yaml/.yml).

The database is named by a go-sql-driver DSN, e.g.
  openproject:secret@tcp(db:3306)/openproject`,
	Args: cobra.ExactArgs(1),
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringP("output", "o", "", "Output file (default: <identifier>.json)")
	dumpCmd.Flags().String("dsn", "", "MySQL DSN of the OpenProject database")
	bindConfigKey(dumpCmd, "dsn", "dump.dsn")
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	ctx := getRootContext()
	identifier := args[0]

	dsn := config.GetString("dump.dsn")
	if dsn == "" {
		dsn = extract.DefaultDSN
		logger.Info("no DSN configured, using the default", "dsn", dsn)
	}
	out, _ := cmd.Flags().GetString("output")
	if out == "" {
		out = identifier + ".json"
	}

	db, err := extract.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	opts := extract.DefaultOptions()
	if statuses := config.GetStringSlice("dump.label-statuses"); statuses != nil {
		opts.LabelStatuses = statuses
	}
	doc, err := extract.New(db, opts, logger).Dump(ctx, identifier)
	if err != nil {
		return fmt.Errorf("failed to dump %s: %w", identifier, err)
	}
	if err := types.Save(out, doc); err != nil {
		return err
	}

	s := ui.Summary{Title: "dump"}
	s.Add("Project", fmt.Sprintf("%s (%s)", doc.Project.Name, identifier))
	s.Add("Users", ui.Count(len(doc.Users), "user", "users"))
	s.Add("Milestones", ui.Count(len(doc.Milestones), "milestone", "milestones"))
	s.Add("Work packages", ui.Count(len(doc.Issues), "work package", "work packages"))
	s.Add("Boards", ui.Count(len(doc.Boards), "board", "boards"))
	s.Add("Wiki pages", ui.Count(len(doc.Wiki), "page", "pages"))
	s.Add("Meetings", ui.Count(len(doc.Meetings), "meeting", "meetings"))
	s.Add("Written to", out)
	fmt.Fprint(cmd.OutOrStdout(), s.Render())
	return nil
}
