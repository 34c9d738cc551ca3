// Package task defines the task envelope, the Source contract worker loops
// consume, and an in-memory queue implementation of it.
//
// The supervisor treats tasks as opaque: only RequiredCapability is
// inspected, for routing. Deployments with external brokers implement
// Source themselves; Queue serves single-process setups and tests.
package task
