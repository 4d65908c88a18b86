// Package monitor defines the core types shared by the change-detection
// engine: watched targets, fetch results, the fetch failure taxonomy, and the
// narrow interfaces the scheduler depends on.
package monitor
