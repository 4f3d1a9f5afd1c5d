// Package hub is the server process: websocket endpoint, heartbeats, the
// tick queue that serializes room mutations, the coordinator that keeps the
// local room replica in step with the shared store, and the small REST
// surface used for operations.
//
// Concurrency model: the read loops, tickers, and replication subscription
// all funnel their work into one Queue, and the Coordinator runs only on the
// queue's drain goroutine. The hub's socket table is the only mutex-guarded
// state.
package hub
