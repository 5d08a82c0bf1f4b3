// Package task orchestrates asynchronous document-processing tasks. The
// Manager owns the task lifecycle (pending, running, completed or error, and
// deletion on cancel) and is the only writer of the task record store. Queue
// hands dispatch entries from request handlers to workers, one logical queue
// per task type. WorkerPool pulls entries and runs the matching processor
// under a per-type timeout, reporting the outcome back through the Manager.
// Runner ties the pools together with a watchdog that fails tasks stuck in
// running.
package task
