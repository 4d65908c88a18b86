// Package sinks implements activity consumers: structured logging, Prometheus
// counters and repository-backed persistence.
package sinks
