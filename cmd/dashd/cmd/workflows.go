package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Mowd/claude-dashboard/internal/core"
)

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Inspect and maintain stored workflows",
}

var (
	listStatus string
	listQuery  string
	listLimit  int
)

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows, newest first",
	RunE:  runWorkflowsList,
}

var workflowsShowCmd = &cobra.Command{
	Use:   "show <workflow-id>",
	Short: "Show one workflow with its steps",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowsShow,
}

var cleanupOlderThan time.Duration

var workflowsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old terminal workflows",
	RunE:  runWorkflowsCleanup,
}

func init() {
	rootCmd.AddCommand(workflowsCmd)
	workflowsCmd.AddCommand(workflowsListCmd)
	workflowsCmd.AddCommand(workflowsShowCmd)
	workflowsCmd.AddCommand(workflowsCleanupCmd)

	workflowsListCmd.Flags().StringVar(&listStatus, "status", "",
		"filter by status (pending, running, paused, completed, failed, cancelled)")
	workflowsListCmd.Flags().StringVar(&listQuery, "query", "",
		"substring match on title and task")
	workflowsListCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum rows")

	workflowsCleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 720*time.Hour,
		"delete terminal workflows last updated before this window")
}

func statusColor(status core.WorkflowStatus) string {
	switch status {
	case core.WorkflowCompleted:
		return color.GreenString(string(status))
	case core.WorkflowFailed:
		return color.RedString(string(status))
	case core.WorkflowRunning:
		return color.CyanString(string(status))
	case core.WorkflowPaused, core.WorkflowCancelled:
		return color.YellowString(string(status))
	default:
		return string(status)
	}
}

func runWorkflowsList(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	workflows, err := a.store.ListWorkflows(ctx, core.ListFilter{
		Status: core.WorkflowStatus(listStatus),
		Query:  listQuery,
		Limit:  listLimit,
	})
	if err != nil {
		return err
	}
	if len(workflows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no workflows")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCREATED\tTITLE")
	for _, wf := range workflows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			wf.ID, statusColor(wf.Status),
			wf.CreatedAt.Local().Format("2006-01-02 15:04"), wf.Title)
	}
	return w.Flush()
}

func runWorkflowsShow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	wf, err := a.store.GetWorkflow(ctx, args[0])
	if err != nil {
		return err
	}
	steps, err := a.store.StepsForWorkflow(ctx, wf.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %s\n", color.New(color.Bold).Sprint(wf.Title), statusColor(wf.Status))
	fmt.Fprintf(out, "id: %s\n", wf.ID)
	fmt.Fprintf(out, "project: %s\n", wf.ProjectPath)
	fmt.Fprintf(out, "created: %s\n", wf.CreatedAt.Local().Format(time.RFC822))
	if wf.CompletedAt != nil {
		fmt.Fprintf(out, "finished: %s\n", wf.CompletedAt.Local().Format(time.RFC822))
	}
	fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tSTATUS\tRETRIES\tDURATION\tTOKENS")
	for _, st := range steps {
		duration := "-"
		if st.DurationMS != nil {
			duration = fmt.Sprintf("%.1fs", float64(*st.DurationMS)/1000)
		}
		tokens := "-"
		if st.TokensIn != nil && st.TokensOut != nil {
			tokens = fmt.Sprintf("%d/%d", *st.TokensIn, *st.TokensOut)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			core.RoleConfigs[st.Role].Label, st.Status, st.RetryCount, duration, tokens)
	}
	return w.Flush()
}

func runWorkflowsCleanup(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	removed, err := a.store.DeleteTerminalBefore(cmd.Context(), time.Now().Add(-cleanupOlderThan))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d workflows\n", removed)
	return nil
}
