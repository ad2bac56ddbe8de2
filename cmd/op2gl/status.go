package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/op2gl/op2gl/internal/config"
	"github.com/op2gl/op2gl/internal/importer"
	"github.com/op2gl/op2gl/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status " + phaseArgsUsage,
	Short:   "Show the target's issue counter and where an import would resume",
	GroupID: "tools",
	Long: `Read the project's issue counter and the operator account from GitLab.
With a document, also show the first legacy ID an 'issues' run would create
and how many work items remain. Nothing is changed on the target.`,
	Args: cobra.MaximumNArgs(3),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := getRootContext()
	pa, err := parsePhaseArgs(args, false)
	if err != nil {
		return err
	}
	client, err := newClient(pa.ProjectURL, pa.Token)
	if err != nil {
		return err
	}

	op, err := client.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("failed to identify operator: %w", err)
	}
	latest, err := client.LatestIID(ctx)
	if err != nil {
		return err
	}
	next := latest + 1

	s := ui.Summary{Title: "target"}
	s.Add("Project", client.ProjectID)
	role := "user"
	if op.IsAdmin {
		role = "administrator"
	}
	s.Add("Operator", fmt.Sprintf("%s (#%d, %s)", op.Username, op.ID, role))
	latestRow := "none"
	if latest > 0 {
		latestRow = fmt.Sprintf("#%d", latest)
		if issue, err := client.FetchIssueByIID(ctx, latest); err == nil && issue.CreatedAt != nil {
			latestRow += ", created " + ui.Ago(*issue.CreatedAt)
		}
	}
	s.Add("Latest issue", latestRow)
	s.Add("Next IID", fmt.Sprintf("%d", next))

	if pa.Document != "" {
		doc, err := loadDocument(cmd, pa.Document)
		if err != nil {
			return err
		}
		order, err := importer.ParseOrder(config.GetString("import.order"))
		if err != nil {
			return err
		}
		items, err := importer.WorkItems(doc, order)
		if err != nil {
			return err
		}
		remaining := 0
		resume := 0
		for _, it := range items {
			if it.LegacyID >= next {
				if resume == 0 {
					resume = it.LegacyID
				}
				remaining++
			}
		}
		s.Add("Work items", ui.Count(len(items), "item", "items"))
		if resume == 0 {
			s.Add("Resume", ui.RenderPass("nothing left to import"))
		} else {
			s.Add("Resume", fmt.Sprintf("%s (%s left)", ui.RenderAccent(fmt.Sprintf("--from %d", resume)), ui.Count(remaining, "item", "items")))
		}
	}
	if !op.IsAdmin {
		defer ui.Warning(cmd.ErrOrStderr(), "the operator is not an administrator; historical dates cannot be set")
	}
	fmt.Fprint(cmd.OutOrStdout(), s.Render())
	return nil
}
