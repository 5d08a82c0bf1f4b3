// Package store holds the in-memory task record store and the error type used
// by every record store backend to report infrastructure failures.
// Durable backends live under internal/platform.
package store
