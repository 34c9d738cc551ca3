// ABOUTME: Tests for TOML agent roster loading
// ABOUTME: Covers decoding, env expansion, and validation of duplicate or incomplete entries

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRoster(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadRoster(t *testing.T) {
	path := writeRoster(t, `
[[agents]]
id = "video-1"
name = "Video Worker"
kind = "echo"
enabled = true
priority = 10
capabilities = ["video"]

[[agents]]
id = "text-1"
name = "Text Worker"
kind = "sleeper"
enabled = false
priority = 5
capabilities = ["text", "research"]
`)

	r, err := LoadRoster(path)
	require.NoError(t, err)
	require.Len(t, r.Agents, 2)

	assert.Equal(t, "video-1", r.Agents[0].ID)
	assert.Equal(t, []string{"video"}, r.Agents[0].Capabilities)
	assert.True(t, r.Agents[0].Enabled)
	assert.Equal(t, 10, r.Agents[0].Priority)

	assert.Equal(t, "text-1", r.Agents[1].ID)
	assert.False(t, r.Agents[1].Enabled)
	assert.Equal(t, []string{"text", "research"}, r.Agents[1].Capabilities)
}

func TestLoadRoster_EnvExpansion(t *testing.T) {
	t.Setenv("WARDEN_TEST_AGENT_ID", "env-agent")

	path := writeRoster(t, `
[[agents]]
id = "${WARDEN_TEST_AGENT_ID}"
name = "Env Agent"
kind = "echo"
enabled = true
capabilities = ["text"]
`)

	r, err := LoadRoster(path)
	require.NoError(t, err)
	assert.Equal(t, "env-agent", r.Agents[0].ID)
}

func TestLoadRoster_DuplicateID(t *testing.T) {
	path := writeRoster(t, `
[[agents]]
id = "dup"
capabilities = ["text"]

[[agents]]
id = "dup"
capabilities = ["video"]
`)

	_, err := LoadRoster(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadRoster_MissingCapabilities(t *testing.T) {
	path := writeRoster(t, `
[[agents]]
id = "bare"
`)

	_, err := LoadRoster(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capability")
}

func TestLoadRoster_MissingID(t *testing.T) {
	path := writeRoster(t, `
[[agents]]
name = "No ID"
capabilities = ["text"]
`)

	_, err := LoadRoster(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id is required")
}
