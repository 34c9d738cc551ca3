// Package dedupe tracks recently dispatched task IDs so redeliveries from
// the task source are skipped instead of executed twice.
package dedupe
