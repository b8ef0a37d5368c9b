// Package server is the WebSocket and HTTP front of the relay.
//
// The implementation is organized into specialized files: configuration,
// origin policy, the hub that owns live connections, per-connection clients
// with their read and write pumps, HTTP handlers, and routing.
package server
