// SPDX-License-Identifier: MIT
package transport

import (
	applog "audioviz/internal/log"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsBroadcastQueue = 256
	wsWriteTimeout   = time.Second
)

// WebSocketTransport implements the Transport interface for WebSocket connections.
// Every payload is encoded to JSON once and written to all connected clients.
type WebSocketTransport struct {
	addr      string
	path      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan any
	server    *http.Server
	listener  net.Listener

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{} // Closed when the broadcast loop exits.
	dropped   uint64        // Payloads discarded on a full queue, guarded by clientsMu.

	logger *applog.Logger
}

// NewWebSocketTransport creates a transport serving upgrades on path. The
// broadcast loop starts immediately; call Start to listen on addr, or
// mount Handler on an existing server.
func NewWebSocketTransport(addr, path string) *WebSocketTransport {
	if path == "" {
		path = "/"
	}
	wst := &WebSocketTransport{
		addr: addr,
		path: path,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Renderers are served from arbitrary local origins.
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan any, wsBroadcastQueue),
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
		logger:    applog.New("websocket"),
	}

	go wst.handleBroadcasts()
	return wst
}

// Handler returns the HTTP handler that performs the upgrade.
func (wst *WebSocketTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wst.path, wst.handleWebSocket)
	return mux
}

// Start listens on the configured address and serves in the background.
// Listen errors are returned synchronously.
func (wst *WebSocketTransport) Start() error {
	ln, err := net.Listen("tcp", wst.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", wst.addr, err)
	}
	wst.listener = ln
	wst.server = &http.Server{
		Handler:           wst.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		wst.logger.Infof("serving ws://%s%s", ln.Addr(), wst.path)
		if err := wst.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wst.logger.Errorf("server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, or the configured one before Start.
func (wst *WebSocketTransport) Addr() string {
	if wst.listener != nil {
		return wst.listener.Addr().String()
	}
	return wst.addr
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-wst.closed:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wst.logger.Warnf("upgrade error: %v", err)
		return
	}

	// Register client
	wst.clientsMu.Lock()
	select {
	case <-wst.closed:
		wst.clientsMu.Unlock()
		conn.Close()
		return
	default:
	}
	wst.clients[conn] = true
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	wst.logger.Infof("client %s connected, total: %d", conn.RemoteAddr(), total)

	// Clients only listen; the read loop exists to notice disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.removeClient(conn)
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) removeClient(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()

	conn.Close()
	if ok {
		wst.logger.Infof("client %s disconnected, total: %d", conn.RemoteAddr(), total)
	}
}

// handleBroadcasts sends messages to all connected clients
func (wst *WebSocketTransport) handleBroadcasts() {
	defer close(wst.done)

	for {
		var data any
		select {
		case <-wst.closed:
			return
		case data = <-wst.broadcast:
		}

		payload, err := json.Marshal(data)
		if err != nil {
			wst.logger.Errorf("failed to encode %T: %v", data, err)
			continue
		}
		msg, err := websocket.NewPreparedMessage(websocket.TextMessage, payload)
		if err != nil {
			wst.logger.Errorf("failed to prepare message: %v", err)
			continue
		}

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.WritePreparedMessage(msg); err != nil {
				wst.logger.Warnf("error sending to client %s: %v", client.RemoteAddr(), err)
				client.Close()
				delete(wst.clients, client)
			}
		}
		wst.clientsMu.Unlock()
	}
}

// Send queues data for broadcast. A full queue drops the payload rather
// than blocking the caller.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case <-wst.closed:
		return ErrClosed
	default:
	}

	select {
	case wst.broadcast <- data:
		// Message queued for broadcast
	default:
		wst.clientsMu.Lock()
		wst.dropped++
		dropped := wst.dropped
		wst.clientsMu.Unlock()
		if dropped == 1 || dropped%wsBroadcastQueue == 0 {
			wst.logger.Warnf("broadcast queue full, %d payloads dropped", dropped)
		}
	}
	return nil
}

// Close shuts down the WebSocket server and disconnects every client.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		wst.logger.Infof("closing server")
		close(wst.closed)
		<-wst.done

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
				time.Now().Add(wsWriteTimeout))
			client.Close()
		}
		wst.clients = make(map[*websocket.Conn]bool)
		wst.clientsMu.Unlock()

		if wst.server != nil {
			err = wst.server.Close()
		}
	})
	return err
}

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
