package core

import "time"

// Role identifies one of the five pipeline agents.
type Role string

const (
	RolePM   Role = "pm"
	RoleRD   Role = "rd"
	RoleUI   Role = "ui"
	RoleTest Role = "test"
	RoleSec  Role = "sec"
)

// AllRoles is the canonical role order used for plans, prompts and
// step ordering. It must match the stage table below.
var AllRoles = []Role{RolePM, RoleRD, RoleUI, RoleTest, RoleSec}

// IsValid reports whether r is one of the known pipeline roles.
func (r Role) IsValid() bool {
	switch r {
	case RolePM, RoleRD, RoleUI, RoleTest, RoleSec:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// RoleConfig carries the static per-role execution parameters.
type RoleConfig struct {
	Label             string
	Tools             []string
	InactivityTimeout time.Duration
}

// RoleConfigs holds the built-in defaults for every role. The
// inactivity timeout doubles as the base for the hard ceiling (2x).
var RoleConfigs = map[Role]RoleConfig{
	RolePM: {
		Label:             "Product Manager",
		Tools:             []string{"Read"},
		InactivityTimeout: 180 * time.Second,
	},
	RoleRD: {
		Label:             "R&D Engineer",
		Tools:             []string{"Read", "Edit", "Bash"},
		InactivityTimeout: 600 * time.Second,
	},
	RoleUI: {
		Label:             "UI Engineer",
		Tools:             []string{"Read", "Edit", "Bash"},
		InactivityTimeout: 600 * time.Second,
	},
	RoleTest: {
		Label:             "Test Engineer",
		Tools:             []string{"Read", "Edit", "Bash"},
		InactivityTimeout: 600 * time.Second,
	},
	RoleSec: {
		Label:             "Security Engineer",
		Tools:             []string{"Read", "Bash"},
		InactivityTimeout: 300 * time.Second,
	},
}

// Stage is one sequential step of the pipeline; its roles run in parallel.
type Stage struct {
	Index int
	Roles []Role
}

// PipelineStages is the fixed execution order: pm first, then rd+ui,
// then test+sec. A stage starts only after the previous one settled.
var PipelineStages = []Stage{
	{Index: 0, Roles: []Role{RolePM}},
	{Index: 1, Roles: []Role{RoleRD, RoleUI}},
	{Index: 2, Roles: []Role{RoleTest, RoleSec}},
}

// StageForRole returns the stage index a role runs in, or -1 for
// unknown roles.
func StageForRole(r Role) int {
	for _, s := range PipelineStages {
		for _, sr := range s.Roles {
			if sr == r {
				return s.Index
			}
		}
	}
	return -1
}

// NormalizePlan filters unknown entries and duplicates out of a
// requested execution plan, preserving canonical role order. An empty
// or fully invalid plan falls back to all roles.
func NormalizePlan(requested []string) []Role {
	want := make(map[Role]bool, len(requested))
	for _, s := range requested {
		r := Role(s)
		if r.IsValid() {
			want[r] = true
		}
	}
	if len(want) == 0 {
		return append([]Role(nil), AllRoles...)
	}
	plan := make([]Role, 0, len(want))
	for _, r := range AllRoles {
		if want[r] {
			plan = append(plan, r)
		}
	}
	return plan
}
