// SPDX-License-Identifier: MIT
package transport

import (
	"audioviz/internal/analysis"
	applog "audioviz/internal/log"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// LoggingTransport implements the Transport interface by writing snapshots
// to the application log at debug level.
type LoggingTransport struct {
	every  uint64
	count  uint64
	mu     sync.Mutex
	logger *applog.Logger
}

// NewLoggingTransport logs every n-th payload; n <= 1 logs them all.
func NewLoggingTransport(every int) *LoggingTransport {
	lt := &LoggingTransport{
		every:  uint64(max(every, 1)),
		logger: applog.New("snapshot"),
	}
	lt.logger.Infof("logging every %d snapshot(s) at debug level", lt.every)
	return lt
}

// Send logs the received data.
func (lt *LoggingTransport) Send(data any) error {
	lt.mu.Lock()
	n := lt.count
	lt.count++
	lt.mu.Unlock()

	if n%lt.every != 0 {
		return nil
	}
	switch v := data.(type) {
	case analysis.Snapshot:
		lt.logger.Debugf("%s", v)
	default:
		lt.logger.Debugf("%T: %+v", v, v)
	}
	return nil // Logging transport never fails to "send"
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	lt.mu.Lock()
	n := lt.count
	lt.mu.Unlock()
	lt.logger.Debugf("close called after %d payloads", n)
	return nil
}

// JSONLinesTransport writes every n-th payload to w as one JSON document
// per line. The offline analyze command uses it for stdout.
type JSONLinesTransport struct {
	mu     sync.Mutex
	enc    *json.Encoder
	every  uint64
	count  uint64
	closed bool
}

// NewJSONLinesTransport writes every n-th payload; n <= 1 writes them all.
func NewJSONLinesTransport(w io.Writer, every int) *JSONLinesTransport {
	return &JSONLinesTransport{
		enc:   json.NewEncoder(w),
		every: uint64(max(every, 1)),
	}
}

// Send encodes data as a single line.
func (jt *JSONLinesTransport) Send(data any) error {
	jt.mu.Lock()
	defer jt.mu.Unlock()

	if jt.closed {
		return ErrClosed
	}
	n := jt.count
	jt.count++
	if n%jt.every != 0 {
		return nil
	}
	if err := jt.enc.Encode(data); err != nil {
		return fmt.Errorf("failed to encode payload %d: %w", n, err)
	}
	return nil
}

// Close stops accepting payloads. The writer is left open.
func (jt *JSONLinesTransport) Close() error {
	jt.mu.Lock()
	jt.closed = true
	jt.mu.Unlock()
	return nil
}

// Ensure the transports satisfy the interface at compile time.
var (
	_ Transport = (*LoggingTransport)(nil)
	_ Transport = (*JSONLinesTransport)(nil)
)
