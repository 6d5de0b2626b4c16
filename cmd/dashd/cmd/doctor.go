package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Mowd/claude-dashboard/internal/diagnostics"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment for common problems",
	Long: `Check that the agent CLI is installed, the configuration is
valid, and the host has resources to run parallel agents.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	pass := color.GreenString("ok")
	fail := color.RedString("MISSING")
	warn := color.YellowString("warn")
	problems := 0

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "configuration: %s (%v)\n", fail, err)
		return fmt.Errorf("configuration invalid")
	}
	fmt.Fprintf(out, "configuration: %s\n", pass)

	if path, ok := diagnostics.CheckAgentCommand(cfg.Agent.Path); ok {
		fmt.Fprintf(out, "agent cli (%s): %s (%s)\n", cfg.Agent.Path, pass, path)
	} else {
		fmt.Fprintf(out, "agent cli (%s): %s\n", cfg.Agent.Path, fail)
		problems++
	}

	snap := diagnostics.NewCollector().Collect()
	fmt.Fprintf(out, "cpu: %s (%d cores / %d threads)\n", snap.CPUModel, snap.CPUCores, snap.CPUThreads)
	fmt.Fprintf(out, "memory: %.0f MB used of %.0f MB (%.0f%%)\n",
		snap.MemUsedMB, snap.MemTotalMB, snap.MemPercent)
	fmt.Fprintf(out, "disk: %.1f GB used of %.1f GB (%.0f%%)\n",
		snap.DiskUsedGB, snap.DiskTotalGB, snap.DiskPercent)
	if snap.MemPercent > 90 {
		fmt.Fprintf(out, "memory pressure: %s (over 90%% used, parallel agents may struggle)\n", warn)
	}
	if snap.DiskPercent > 95 {
		fmt.Fprintf(out, "disk pressure: %s (over 95%% used)\n", warn)
	}

	if problems > 0 {
		return fmt.Errorf("%d problem(s) found", problems)
	}
	fmt.Fprintln(out, color.GreenString("all checks passed"))
	return nil
}
