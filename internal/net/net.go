// Package net provides the single-use TCP connection flinsend writes frames to.
//
// Key components:
// - Resolve: host/port to candidate TCP addresses
// - Connect: dial the first reachable address
// - Connection: one write, then close, tracked by a small state machine
package net
