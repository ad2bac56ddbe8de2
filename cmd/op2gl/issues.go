package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/op2gl/op2gl/internal/align"
	"github.com/op2gl/op2gl/internal/config"
	"github.com/op2gl/op2gl/internal/debug"
	"github.com/op2gl/op2gl/internal/elevation"
	"github.com/op2gl/op2gl/internal/importer"
	"github.com/op2gl/op2gl/internal/taxonomy"
	"github.com/op2gl/op2gl/internal/ui"
)

var issuesCmd = &cobra.Command{
	Use:     "issues " + phaseArgsUsage,
	Short:   "Import work packages and forum threads as issues with their legacy numbers",
	GroupID: "migrate",
	Long: `Recreate every work package and forum thread as a GitLab issue whose number
equals the legacy ID, in ascending order.

Gaps in the legacy numbering are skipped by creating and deleting placeholder
issues. The target counter is read from GitLab at start, so an interrupted run
is resumed by running the command again with --from set to the lowest legacy
ID that was not imported.

Setting historical dates needs administrator rights. The accounts acting on
each issue are made administrators for the duration of that issue only; any
account whose rights cannot be revoked is reported and the run stops.

Forum threads share the issue numbers with work packages:
  --order interleaved   keep every legacy ID (fails if a number is used twice)
  --order issues-first  number forum threads after the last work package`,
	Args: cobra.MaximumNArgs(3),
	RunE: runIssues,
}

var issuesFrom int

func init() {
	issuesCmd.Flags().IntVar(&issuesFrom, "from", 0, "Skip legacy IDs below this one (resume)")
	issuesCmd.Flags().String("order", string(importer.OrderInterleaved), "How forum threads share issue numbers: interleaved or issues-first")
	issuesCmd.Flags().Bool("stop-on-error", false, "Abort on the first failed issue instead of leaving a gap")
	issuesCmd.Flags().Bool("no-sudo", false, "Create everything as the operator and note the original author in the text")
	issuesCmd.Flags().String("files-dir", "", "Directory holding legacy attachments as <id>/<file>")
	issuesCmd.Flags().Bool("no-create-users", false, "Do not create missing accounts; act as the operator for them")

	bindConfigKey(issuesCmd, "order", "import.order")
	bindConfigKey(issuesCmd, "stop-on-error", "import.stop-on-error")
	bindConfigKey(issuesCmd, "files-dir", "files-dir")
	rootCmd.AddCommand(issuesCmd)
}

func runIssues(cmd *cobra.Command, args []string) error {
	ctx := getRootContext()
	pa, err := parsePhaseArgs(args, true)
	if err != nil {
		return err
	}
	order, err := importer.ParseOrder(config.GetString("import.order"))
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

	// Duplicate legacy IDs are rejected before anything touches the target.
	items, err := importer.WorkItems(doc, order)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		ui.Info(cmd.OutOrStdout(), "Nothing to import.")
		return nil
	}

	if err := confirm("Grant temporary administrator rights?",
		"Authors of each issue are made administrators while its dates are set, then demoted."); err != nil {
		return err
	}

	noSudo, _ := cmd.Flags().GetBool("no-sudo")
	noCreate, _ := cmd.Flags().GetBool("no-create-users")
	users, err := resolveUsers(cmd, client, doc, config.GetBool("users.create") && !noCreate)
	if err != nil {
		return err
	}

	catalog, err := taxonomy.NewSynthesizer(client, config.GetStringMapString("labels.colors"), logger).Synthesize(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create labels and milestones: %w", err)
	}

	bracket := elevation.New(client, elevation.WithLogger(logger))
	m := importer.NewMaterializer(client, doc, users, catalog, bracket, importer.MaterializeOptions{
		Converter:        newConverter(),
		FilesDir:         config.GetString("files-dir"),
		Sudo:             config.GetBool("import.sudo") && !noSudo,
		DescriptionDiffs: config.GetBool("import.description-diffs"),
		Logger:           logger,
	})
	p := importer.NewPipeline(align.New(client, align.WithLogger(logger)), m, logger)
	p.OnMessage = func(msg string) { printProgress(cmd.OutOrStdout(), msg) }
	p.OnWarning = func(msg string) { ui.Warning(cmd.ErrOrStderr(), msg) }

	if issuesFrom > 1 && !debug.IsQuiet() {
		ui.Skip(cmd.OutOrStdout(), fmt.Sprintf("resuming: legacy IDs below %d are not imported", issuesFrom))
	}
	res, runErr := p.Run(ctx, items, importer.Options{
		From:        issuesFrom,
		StopOnError: config.GetBool("import.stop-on-error"),
	})

	printIssuesSummary(cmd, res)
	if len(res.Elevated) > 0 {
		cmd.PrintErrln(ui.ElevatedAlert(accountNames(client, res.Elevated)))
	}
	if runErr != nil {
		return runErr
	}
	if partial := newPartialError(res.Failed); partial != nil {
		return partial
	}
	return nil
}

func printIssuesSummary(cmd *cobra.Command, res *importer.Result) {
	s := ui.Summary{Title: "issues"}
	created := ui.Count(len(res.Created), "issue", "issues")
	if len(res.Failed) == 0 {
		created = ui.RenderPass(created)
	}
	s.Add("Created", created)
	if res.Skipped > 0 {
		s.Add("Skipped (--from)", ui.Count(res.Skipped, "issue", "issues"))
	}
	if res.Placeholders > 0 {
		s.Add("Placeholders", ui.Count(res.Placeholders, "issue", "issues"))
	}
	if partial := newPartialError(res.Failed); partial != nil {
		if len(partial.Failed) > 0 {
			s.Add("Failed", ui.RenderFail(fmt.Sprintf("%v", partial.Failed)))
		}
		if len(partial.Incomplete) > 0 {
			s.Add("Incomplete", ui.RenderFail(fmt.Sprintf("%v (created, fix or delete by hand)", partial.Incomplete)))
		}
	}
	if len(res.Leftover) > 0 {
		s.Add("Undeleted placeholders", ui.RenderWarn(fmt.Sprintf("%v (delete by hand)", res.Leftover)))
	}
	if len(res.Reserved) > 0 {
		s.Add("Reserved placeholders", fmt.Sprintf("%v (removed when the next issue is imported)", res.Reserved))
	}
	fmt.Fprint(cmd.OutOrStdout(), s.Render())
}
