// Package redis provides the Redis backed pieces of a multi-process
// deployment: a store.TaskStore, a durable dispatch queue, and an event
// bridge that carries lifecycle events between API and worker processes.
//
// All keys share a configurable prefix:
//
//	<prefix>task:<id>         task record, JSON
//	<prefix>dispatch:<type>   dispatch list per task type (LPUSH / BRPOP)
//	<prefix>events            pub/sub channel for lifecycle events
package redis
