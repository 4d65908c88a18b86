// Package progress carries the monitor's activity stream: check outcomes,
// alerts, evictions and operator commands. Emitters never block; a background
// goroutine batches events and fans them out to sinks that log, count or
// persist them.
package progress
