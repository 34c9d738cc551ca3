// Package config handles configuration loading for warden.
//
// # Overview
//
// The daemon configuration is loaded from a YAML file with environment
// variable expansion; the agent roster is a separate TOML file. Both support
// ${VAR_NAME} expansion and are validated on load.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from WARDEN_CONFIG environment variable
//  2. ~/.config/warden/warden.yaml (XDG_CONFIG_HOME honored)
//
// # Duration Parsing
//
// Supervisor timings use Go's time.ParseDuration syntax:
//
//	supervisor:
//	  health_check_interval: "5s"
//	  idle_interval: "500ms"
//	  dequeue_wait: "250ms"
//	  execution_timeout: "60s"
//	  shutdown_timeout: "10s"
//
// Unset timings fall back to the Default* constants.
//
// # Roster File
//
// The roster lists the agents to supervise:
//
//	[[agents]]
//	id = "research-1"
//	name = "Research Worker"
//	kind = "echo"
//	enabled = true
//	priority = 5
//	capabilities = ["text", "research"]
package config
