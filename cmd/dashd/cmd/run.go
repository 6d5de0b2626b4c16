package cmd

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Mowd/claude-dashboard/internal/core"
	"github.com/Mowd/claude-dashboard/internal/events"
	"github.com/Mowd/claude-dashboard/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run a single task through the agent pipeline",
	Long: `Run one task through the pipeline in the foreground, streaming
agent output to the terminal until the workflow settles.

Examples:
  # Full pipeline
  dashd run "add OAuth login to the app"

  # Backend-only subset
  dashd run "optimize the database queries" --plan pm,rd,test

  # Against a specific project
  dashd run "fix the flaky signup test" --project ~/code/myapp`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runProject string
	runPlan    []string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runProject, "project", "",
		"project directory the agents work in (default: workflow.project_path)")
	runCmd.Flags().StringSliceVar(&runPlan, "plan", nil,
		"subset of roles to run (pm,rd,ui,test,sec); default all")
}

var roleColors = map[core.Role]*color.Color{
	core.RolePM:   color.New(color.FgMagenta, color.Bold),
	core.RoleRD:   color.New(color.FgCyan, color.Bold),
	core.RoleUI:   color.New(color.FgBlue, color.Bold),
	core.RoleTest: color.New(color.FgYellow, color.Bold),
	core.RoleSec:  color.New(color.FgRed, color.Bold),
}

func roleTag(role core.Role) string {
	c, ok := roleColors[role]
	if !ok {
		c = color.New(color.Bold)
	}
	return c.Sprintf("[%s]", core.RoleConfigs[role].Label)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	dim := color.New(color.Faint)

	// Subscribe before starting so no event can slip past.
	eventCh := a.bus.Subscribe()
	defer a.bus.Unsubscribe(eventCh)

	id, err := a.engine.StartWorkflow(ctx, workflow.StartRequest{
		Task:        args[0],
		ProjectPath: runProject,
		Plan:        runPlan,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s workflow %s\n", color.GreenString("started"), id)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, color.YellowString("\ninterrupted, cancelling workflow"))
			// ctx is already done; cancel against the parent context.
			if err := a.engine.Cancel(cmd.Context(), id); err != nil {
				a.logger.Warn("cancel failed", "error", err)
			}
			return nil

		case event, ok := <-eventCh:
			if !ok {
				return nil
			}
			if event.WorkflowID() != id {
				continue
			}
			if done := renderEvent(out, dim, event); done {
				return nil
			}
		}
	}
}

// renderEvent prints one event and reports whether the workflow has
// settled.
func renderEvent(out io.Writer, dim *color.Color, event events.Event) bool {
	switch e := event.(type) {
	case events.WorkflowCreatedEvent:
		fmt.Fprintf(out, "%s %s\n", dim.Sprint("task:"), e.Title)

	case events.StepStartedEvent:
		fmt.Fprintf(out, "\n%s %s\n", roleTag(e.Role), dim.Sprint("started"))

	case events.StepStreamEvent:
		fmt.Fprint(out, e.Chunk)

	case events.StepActivityEvent:
		label := string(e.Activity.Kind)
		if e.Activity.ToolName != "" {
			label = fmt.Sprintf("%s(%s)", e.Activity.Kind, e.Activity.ToolName)
		}
		fmt.Fprintf(out, "\n%s %s\n", roleTag(e.Role), dim.Sprint(label))

	case events.StepRetryEvent:
		fmt.Fprintf(out, "\n%s %s\n", roleTag(e.Role),
			color.YellowString("retry %d/%d: %s", e.Attempt, e.MaxRetries, e.Reason))

	case events.StepCompletedEvent:
		tokens := ""
		if e.TokensIn != nil && e.TokensOut != nil {
			tokens = dim.Sprintf(" (%d in / %d out tokens)", *e.TokensIn, *e.TokensOut)
		}
		fmt.Fprintf(out, "\n%s %s in %.1fs%s\n", roleTag(e.Role),
			color.GreenString("completed"), float64(e.DurationMS)/1000, tokens)

	case events.StepFailedEvent:
		fmt.Fprintf(out, "\n%s %s: %s\n", roleTag(e.Role),
			color.RedString("failed"), e.Error)

	case events.WorkflowCompletedEvent:
		fmt.Fprintf(out, "\n%s\n", color.GreenString("workflow completed"))
		return true

	case events.WorkflowFailedEvent:
		fmt.Fprintf(out, "\n%s: %s\n", color.RedString("workflow failed"), e.Error)
		return true

	case events.WorkflowCancelledEvent:
		fmt.Fprintf(out, "\n%s\n", color.YellowString("workflow cancelled"))
		return true
	}
	return false
}
