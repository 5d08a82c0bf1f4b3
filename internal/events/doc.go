// Package events defines the task lifecycle events pushed to clients and the
// Publisher interface that carries them.
//
// The primary components are:
// - TaskEvent: a lifecycle change of one task, or a process-wide notice
// - Publisher: anything that can deliver events (the notification registry,
//   the Redis bridge, or a Fanout of several)
// - Fanout: forwards every event to a set of registered publishers
package events
