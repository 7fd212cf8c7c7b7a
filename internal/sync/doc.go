// Package sync reconciles the device-local store with the checklist server.
//
// # Overview
//
// Records created on the device (pre-shift check events and the faults derived
// from them) start out PENDING. The Engine uploads them in batches and moves each
// one to SYNCED or ERROR based on the server's per-record answer:
//
//	PENDING ──upload──► SYNCED   (terminal, immutable)
//	   ▲        │
//	   │        └─────► ERROR ──next drain──┘
//
// ERROR is retried exactly like PENDING. SYNCED records are never selected again,
// and the server's upsert-by-id keeps a retried upload from creating a duplicate.
//
// # Entry points
//
// InitialSync is the full refresh: reference data first, then a queue drain, then
// the last-failed-check cache for every asset. Draining before the cache refresh
// makes the operator's own just-uploaded FAIL visible in the refreshed cache.
//
// SyncQueue is upload only: events, then faults, then a refresh of the open-fault
// and last-failed caches for the assets the server accepted records for. At most
// one drain runs at a time; a SyncQueue call that finds a drain in progress is a
// no-op.
//
// Neither entry point returns an error. Outcomes are published as a Status
// (idle, syncing, success, error) with a human-readable message.
//
// Usage
//
//	engine := sync.New(store, client, logger)
//	report := engine.SyncQueue(ctx)
//	if engine.Status().State == sync.StateError {
//	    fmt.Println(engine.Status().Message)
//	}
package sync
