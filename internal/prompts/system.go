package prompts

import (
	"fmt"
	"strings"

	"github.com/Mowd/claude-dashboard/internal/core"
)

// toolDescriptions spells out each role's file and shell permissions.
var toolDescriptions = map[core.Role]string{
	core.RolePM: strings.Join([]string{
		"You have READ-ONLY access to the project.",
		"You may read any file to understand the codebase.",
		"You must NOT create, modify, or delete any files.",
		"You must NOT execute any shell commands.",
	}, "\n"),

	core.RoleRD: strings.Join([]string{
		"You have FULL access to the project.",
		"You may read, create, and modify files.",
		"You may execute bash commands to install dependencies, compile, and validate your work.",
		"Do NOT implement frontend code (that is the UI agent's job).",
		"Do NOT write tests (that is the TEST agent's job).",
		"NOTE: The UI agent is running IN PARALLEL with you. You own backend/server files; the UI agent owns frontend files. Avoid touching frontend code to prevent conflicts.",
	}, "\n"),

	core.RoleUI: strings.Join([]string{
		"You have access to read, create, and modify **frontend/UI files ONLY**.",
		"You may execute bash commands to install frontend dependencies and validate your work.",
		"",
		"## File Scope (STRICTLY ENFORCED)",
		"You may ONLY create or modify files in these categories:",
		"- UI components, pages, layouts",
		"- Stylesheets and CSS",
		"- Frontend hooks and stores for UI state",
		"- Type definitions for UI props/state",
		"- Static assets",
		"",
		"You must NOT create or modify:",
		"- API routes with business logic",
		"- Backend/server modules",
		"- Database schemas, migrations, or queries",
		"- Server-side utilities, workflow logic, or agent code",
		"- Configuration files for backend services",
		"",
		"If the task has NO frontend work to do, output your design documentation and state \"No frontend changes required.\" Do NOT force unnecessary modifications.",
	}, "\n"),

	core.RoleTest: strings.Join([]string{
		"You have FULL access to the project.",
		"You may read, create, and modify files.",
		"You may execute bash commands to run tests and install test dependencies.",
		"Focus on testing new/modified code from the RD and UI agents.",
	}, "\n"),

	core.RoleSec: strings.Join([]string{
		"You have READ + BASH access.",
		"You may read all files and execute bash commands for security analysis.",
		"You must NOT modify any source code.",
		"You may run security scanning tools (npm audit, etc.).",
	}, "\n"),
}

// outputStructures describe the expected markdown shape per role.
var outputStructures = map[core.Role]string{
	core.RolePM: strings.Join([]string{
		"Structure your output with these exact markdown sections:",
		"",
		"## Summary",
		"A concise 2-3 sentence overview of the request.",
		"",
		"## User Stories",
		"Numbered user stories in the format: As a [role], I want [feature] so that [benefit].",
		"Each with specific acceptance criteria.",
		"",
		"## Acceptance Criteria",
		"A consolidated, numbered list of all criteria that define \"done\".",
		"",
		"## Technical Requirements",
		"Tech stack, dependencies, constraints, and file structure expectations.",
		"",
		"## Out of Scope",
		"Items explicitly not included in this work.",
	}, "\n"),

	core.RoleRD: strings.Join([]string{
		"Structure your output in two parts:",
		"",
		"### Part 1: Design Documentation",
		"",
		"## Architecture Overview",
		"Architectural approach, patterns, and how it fits the existing codebase.",
		"",
		"## API Endpoints",
		"Table with Method, Path, Description, Request Body, Response.",
		"",
		"## Database Schema",
		"Table definitions with columns, types, and indexes.",
		"",
		"## Implementation Plan",
		"Ordered list of files to create/modify with rationale.",
		"",
		"### Part 2: Implementation",
		"After documenting the design, create and modify the actual code files.",
	}, "\n"),

	core.RoleUI: strings.Join([]string{
		"Structure your output in two parts:",
		"",
		"### Part 1: Design",
		"",
		"## Component Structure",
		"Component hierarchy showing parent-child relationships.",
		"",
		"## UI/UX Plan",
		"Layout, state management, data flow, interactions, and styling approach.",
		"",
		"### Part 2: Implementation",
		"After documenting the design, create and modify the actual frontend files.",
	}, "\n"),

	core.RoleTest: strings.Join([]string{
		"Structure your output with these sections:",
		"",
		"## Test Plan",
		"Overview of testing strategy: unit tests, integration tests, edge cases.",
		"",
		"## Test Files Created",
		"List of test files written and what each tests.",
		"",
		"## Test Results",
		"Execution summary: total, passed, failed, skipped.",
		"",
		"## Coverage Notes",
		"Areas well-covered and areas with gaps.",
		"",
		"## Bugs Found",
		"Any bugs discovered during testing with description, location, and severity.",
	}, "\n"),

	core.RoleSec: strings.Join([]string{
		"Structure your output with these sections:",
		"",
		"## Security Assessment",
		"Overview of what was reviewed and the overall security posture.",
		"",
		"## Vulnerabilities Found",
		"Each vulnerability with: Severity, OWASP Category, Location, Description, Impact, Recommendation.",
		"",
		"## OWASP Top 10 Assessment",
		"Table assessing each of the OWASP Top 10 (2021) categories: PASS/WARN/FAIL with notes.",
		"",
		"## Dependency Audit",
		"Results of npm audit or equivalent.",
		"",
		"## Recommendations",
		"Prioritized list of security improvements.",
		"",
		"## Risk Rating",
		"Overall risk rating (LOW/MEDIUM/HIGH/CRITICAL) with justification.",
	}, "\n"),
}

const outputLanguageInstruction = "IMPORTANT: You MUST respond in the same language as the text under \"# User Request\" in your prompt. The structural template around it (headers, labels, instructions) is always in English. Ignore the template language and focus ONLY on the language the user actually wrote in. If the user wrote in Traditional Chinese, you MUST respond entirely in Traditional Chinese. If in English, respond in English. Technical terms and code identifiers should remain in their original form."

// SystemPrompt assembles the complete system prompt for a role: the
// role template plus operational context (pipeline position, peers,
// permissions, expected output shape, timeout, output language).
func (l *Library) SystemPrompt(role core.Role, projectPath string) string {
	template := l.Template(role)
	cfg := core.RoleConfigs[role]
	stageIdx := core.StageForRole(role)

	position := fmt.Sprintf("You are in Stage %d of %d.", stageIdx+1, len(core.PipelineStages))
	if stageIdx == 0 {
		position = "You are in Stage 1 of 3 (first stage). There is no prior context."
	}

	var peers, upstream, downstream []string
	for _, stage := range core.PipelineStages {
		for _, r := range stage.Roles {
			label := core.RoleConfigs[r].Label
			switch {
			case stage.Index == stageIdx && r != role:
				peers = append(peers, label)
			case stage.Index < stageIdx:
				upstream = append(upstream, label)
			case stage.Index > stageIdx:
				downstream = append(downstream, label)
			}
		}
	}

	sections := []string{
		template,
		"",
		"---",
		"",
		"# Operational Context",
		"",
		"## Project Path",
		projectPath,
		"",
		"## Pipeline Position",
		position,
	}
	if len(peers) > 0 {
		sections = append(sections, fmt.Sprintf("Running IN PARALLEL with: %s", strings.Join(peers, ", ")))
	}
	if len(upstream) > 0 {
		sections = append(sections, fmt.Sprintf("Agents that ran before you (prior stages): %s", strings.Join(upstream, ", ")))
	}
	if len(downstream) > 0 {
		sections = append(sections, fmt.Sprintf("Agents that will run after this stage: %s", strings.Join(downstream, ", ")))
	} else {
		sections = append(sections, "You are in the FINAL stage of the pipeline.")
	}
	sections = append(sections,
		"",
		"## Tool Permissions",
		toolDescriptions[role],
		"",
		"## Available Tools",
		fmt.Sprintf("You have access to: %s", strings.Join(cfg.Tools, ", ")),
		"",
		"## Timeout",
		fmt.Sprintf("You have %.0f seconds to complete your work.", cfg.InactivityTimeout.Seconds()),
		"",
		"## Expected Output Structure",
		outputStructures[role],
		"",
		"## Output Language",
		outputLanguageInstruction,
	)

	return strings.Join(sections, "\n")
}
