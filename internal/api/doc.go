// Package api exposes task submission, status polling, cancellation and
// WebSocket push subscriptions over HTTP. It adapts HTTP concerns onto the
// task lifecycle manager and holds no task state of its own.
package api
