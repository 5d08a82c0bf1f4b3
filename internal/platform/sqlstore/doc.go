// Package sqlstore implements store.TaskStore on a SQL database. PostgreSQL
// (through pgx) and SQLite (through modernc.org/sqlite) share one schema,
// managed by embedded goose migrations.
//
// Updates use optimistic concurrency: each row carries a version that the
// UPDATE statement checks, and a lost race re-reads the row and re-runs the
// caller's update function.
package sqlstore
