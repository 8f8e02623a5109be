// SPDX-License-Identifier: MIT
package transport

import (
	"audioviz/internal/analysis"
	"errors"
)

// ErrClosed is returned by Send once a transport has been closed.
var ErrClosed = errors.New("transport closed")

// Transport defines a generic interface for sending processed data or events.
// Implementations should be thread-safe.
type Transport interface {
	Send(data any) error
	Close() error
}

// SnapshotProvider exposes the most recently published snapshot. Pull-based
// publishers (UDP) poll it on their own schedule instead of being handed
// every tick.
type SnapshotProvider interface {
	Latest() analysis.Snapshot
}
