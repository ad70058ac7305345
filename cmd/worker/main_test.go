package main

import (
	"errors"
	"testing"
	"time"

	"github.com/phrazzld/scry-swarm/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestAgentConfig(t *testing.T) {
	host := func() (string, error) { return "box7", nil }

	t.Run("explicit worker id", func(t *testing.T) {
		got := agentConfig(config.AgentConfig{
			WorkerID:     "gpu-1",
			GPUAvailable: true,
			RAMGB:        64,
			CPUCores:     16,
			Models:       []string{"gemini-2.0-flash"},
			MaxTasks:     2,
			PollInterval: 3 * time.Second,
		}, host)
		assert.Equal(t, "gpu-1", got.WorkerID)
		assert.True(t, got.Capabilities.GPUAvailable)
		assert.Equal(t, 64, got.Capabilities.RAMGB)
		assert.Equal(t, 16, got.Capabilities.CPUCores)
		assert.Equal(t, []string{"gemini-2.0-flash"}, got.Capabilities.Models)
		assert.Equal(t, 2, got.MaxTasks)
		assert.Equal(t, 3*time.Second, got.PollInterval)
	})

	t.Run("hostname fallback", func(t *testing.T) {
		assert.Equal(t, "worker-box7", agentConfig(config.AgentConfig{}, host).WorkerID)
	})

	t.Run("no hostname", func(t *testing.T) {
		got := agentConfig(config.AgentConfig{}, func() (string, error) { return "", errors.New("nope") })
		assert.Empty(t, got.WorkerID)
	})
}
