// ABOUTME: Agent roster loading from TOML files
// ABOUTME: Declares which agents the supervisor runs, with per-agent enablement and priority

package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Roster is the set of agents the supervisor should run.
type Roster struct {
	Agents []AgentEntry `toml:"agents"`
}

// AgentEntry declares one agent in the roster file.
// Kind selects a built-in executor ("echo", "sleeper", "flaky"); deployments
// embedding warden as a library register their own executors instead.
type AgentEntry struct {
	ID           string   `toml:"id"`
	Name         string   `toml:"name"`
	Kind         string   `toml:"kind"`
	Enabled      bool     `toml:"enabled"`
	Priority     int      `toml:"priority"`
	Capabilities []string `toml:"capabilities"`
}

// LoadRoster reads an agent roster from the given TOML path,
// expanding environment variables before decoding.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var r Roster
	if _, err := toml.Decode(expanded, &r); err != nil {
		return nil, fmt.Errorf("parsing roster: %w", err)
	}

	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("validating roster: %w", err)
	}

	return &r, nil
}

// Validate checks roster entries for missing fields and duplicate IDs.
func (r *Roster) Validate() error {
	seen := make(map[string]bool, len(r.Agents))
	for i, a := range r.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents[%d]: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		if len(a.Capabilities) == 0 {
			return fmt.Errorf("agent %q: at least one capability is required", a.ID)
		}
	}
	return nil
}
