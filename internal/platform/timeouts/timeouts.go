// Package timeouts defines shared timeout constants so durations do not
// drift between the transport layer and the entrypoints that configure it.
package timeouts

import "time"

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// WSWrite caps a single outbound websocket frame write so one stalled
// subscriber cannot wedge a broadcast fanout goroutine.
const WSWrite = 2 * time.Second
