// Package app wires configuration into the running components shared by the
// server and worker binaries: the record store, the dispatch queue, the
// notification registry, the lifecycle manager, the processors and, for
// multi-process deployments, the Redis event bridge.
package app
