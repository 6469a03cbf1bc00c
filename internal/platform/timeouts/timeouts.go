// Package timeouts defines shared timeout constants used across binaries.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a gRPC peer.
const GRPCDial = 2 * time.Second

// GRPCRequest caps a single admin gRPC call.
const GRPCRequest = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during graceful
// shutdown.
const Shutdown = 5 * time.Second

// WSWrite bounds a single outbound WebSocket frame write. A peer that cannot
// accept a frame within this window is disconnected.
const WSWrite = 10 * time.Second
