// Package store defines persistence interfaces for the activity stream.
// Implementations live elsewhere; this package must not import database
// drivers.
package store
