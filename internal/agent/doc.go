// Package agent defines the capability contracts the supervisor dispatches
// against, plus a handful of built-in executors for rosters and tests.
package agent
