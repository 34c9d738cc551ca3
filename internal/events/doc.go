// Package events fans supervisor audit events out to in-process
// subscribers, primarily the control API's SSE stream.
package events
