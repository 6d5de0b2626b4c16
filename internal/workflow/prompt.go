package workflow

import (
	"fmt"
	"strings"

	"github.com/Mowd/claude-dashboard/internal/core"
)

// StepOutput is one upstream agent's contribution to a prompt.
type StepOutput struct {
	Role   core.Role
	Output string
}

// BuildPrompt assembles the per-step prompt: project path, the user
// request, labeled upstream outputs, and pipeline position. Pure and
// deterministic; identical inputs yield an identical prompt.
func BuildPrompt(role core.Role, task string, prior []StepOutput, projectPath string) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("# Project Path\n%s\n", projectPath))
	parts = append(parts, fmt.Sprintf("# User Request\n%s\n", task))

	if len(prior) > 0 {
		parts = append(parts, "# Previous Agent Outputs\n")
		for _, p := range prior {
			label := core.RoleConfigs[p.Role].Label
			parts = append(parts, fmt.Sprintf("## %s Agent Output\n%s\n", label, p.Output))
		}
	}

	cfg := core.RoleConfigs[role]
	parts = append(parts, fmt.Sprintf("# Your Role: %s Agent", cfg.Label))

	var remaining []string
	seen := false
	for _, r := range core.AllRoles {
		if r == role {
			seen = true
			continue
		}
		if seen {
			remaining = append(remaining, core.RoleConfigs[r].Label)
		}
	}
	if len(remaining) > 0 {
		parts = append(parts, fmt.Sprintf(
			"After you complete your work, the following agents will run: %s",
			strings.Join(remaining, " → ")))
	} else {
		parts = append(parts, "You are the final agent in the pipeline.")
	}

	return strings.Join(parts, "\n\n")
}

// PriorOutputs collects completed upstream outputs in canonical role
// order, limited to stages before the given role's stage.
func PriorOutputs(role core.Role, outputs map[core.Role]string) []StepOutput {
	stage := core.StageForRole(role)
	var prior []StepOutput
	for _, r := range core.AllRoles {
		if core.StageForRole(r) >= stage {
			continue
		}
		if out, ok := outputs[r]; ok && out != "" {
			prior = append(prior, StepOutput{Role: r, Output: out})
		}
	}
	return prior
}
