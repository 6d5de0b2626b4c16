package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePlan(t *testing.T) {
	tests := []struct {
		name      string
		requested []string
		want      []Role
	}{
		{
			name:      "full plan",
			requested: []string{"pm", "rd", "ui", "test", "sec"},
			want:      []Role{RolePM, RoleRD, RoleUI, RoleTest, RoleSec},
		},
		{
			name:      "empty falls back to all roles",
			requested: nil,
			want:      []Role{RolePM, RoleRD, RoleUI, RoleTest, RoleSec},
		},
		{
			name:      "unknown entries filtered",
			requested: []string{"pm", "designer", "rd"},
			want:      []Role{RolePM, RoleRD},
		},
		{
			name:      "all invalid falls back to all roles",
			requested: []string{"designer", "qa"},
			want:      []Role{RolePM, RoleRD, RoleUI, RoleTest, RoleSec},
		},
		{
			name:      "canonical order restored",
			requested: []string{"sec", "pm", "ui"},
			want:      []Role{RolePM, RoleUI, RoleSec},
		},
		{
			name:      "duplicates collapse",
			requested: []string{"pm", "pm", "pm"},
			want:      []Role{RolePM},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePlan(tt.requested))
		})
	}
}

func TestStageForRole(t *testing.T) {
	assert.Equal(t, 0, StageForRole(RolePM))
	assert.Equal(t, 1, StageForRole(RoleRD))
	assert.Equal(t, 1, StageForRole(RoleUI))
	assert.Equal(t, 2, StageForRole(RoleTest))
	assert.Equal(t, 2, StageForRole(RoleSec))
	assert.Equal(t, -1, StageForRole(Role("designer")))
}

func TestRoleConfigsCoverAllRoles(t *testing.T) {
	for _, r := range AllRoles {
		cfg, ok := RoleConfigs[r]
		assert.True(t, ok, "missing config for role %s", r)
		assert.NotEmpty(t, cfg.Label)
		assert.NotEmpty(t, cfg.Tools)
		assert.Greater(t, cfg.InactivityTimeout.Seconds(), 0.0)
	}
}
