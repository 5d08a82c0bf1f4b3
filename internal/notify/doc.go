// Package notify tracks live client subscriptions to task updates and pushes
// events to them. Delivery is best-effort: every subscription has its own
// bounded outbox drained by a dedicated goroutine, so a slow or broken
// consumer never blocks publishers or other consumers.
//
// Subscriptions live only in memory. Clients that reconnect after a restart
// re-subscribe and recover current state from the task record store.
package notify
