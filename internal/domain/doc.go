// Package domain contains the task orchestration model shared by every other
// package: task types and statuses, the persisted task record, the dispatch
// entry handed to workers, the processor contract and the error taxonomy.
// It has no dependencies on storage, transport or processing code.
package domain
