package diagnostics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectReturnsSaneValues(t *testing.T) {
	c := NewCollector()

	// First sample primes the CPU delta.
	first := c.Collect()
	assert.GreaterOrEqual(t, first.MemTotalMB, first.MemUsedMB)
	assert.GreaterOrEqual(t, first.DiskPercent, 0.0)
	assert.LessOrEqual(t, first.DiskPercent, 100.0)
	assert.Equal(t, 0.0, first.CPUPercent)

	second := c.Collect()
	assert.GreaterOrEqual(t, second.CPUPercent, 0.0)
	assert.LessOrEqual(t, second.CPUPercent, 100.0)
}

func TestCheckAgentCommand(t *testing.T) {
	// The shell is present everywhere tests run.
	path, ok := CheckAgentCommand("sh")
	assert.True(t, ok)
	assert.NotEmpty(t, path)

	_, ok = CheckAgentCommand("definitely-not-a-real-binary-xyz")
	assert.False(t, ok)
}
