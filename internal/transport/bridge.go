package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/improvctl/internal/logging"
)

// DefaultBridgePath is where the bridge accepts WebSocket upgrades.
const DefaultBridgePath = "/serial"

// BridgeConfig holds the bridge configuration
type BridgeConfig struct {
	Addr string // listen address, e.g. ":8765"
	Path string // upgrade path (default DefaultBridgePath)

	// Open returns the serial stream for one session. It is called for each
	// accepted client and the result is closed when the session ends.
	Open func() (io.ReadWriteCloser, error)
}

// Bridge exposes a local serial port to one remote improv client at a time
// over WebSocket.
type Bridge struct {
	config   BridgeConfig
	upgrader websocket.Upgrader
	server   *http.Server

	wg          sync.WaitGroup
	mu          sync.Mutex
	activeConns map[string]*websocket.Conn
}

// NewBridge validates config and creates a Bridge.
func NewBridge(config BridgeConfig) (*Bridge, error) {
	if config.Open == nil {
		return nil, errors.New("bridge: Open function is required")
	}
	if config.Path == "" {
		config.Path = DefaultBridgePath
	}
	return &Bridge{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bridge is a local development tool reached from other hosts.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		activeConns: make(map[string]*websocket.Conn),
	}, nil
}

// Handler returns the HTTP handler serving the bridge endpoint.
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(b.config.Path, b.serveWebSocket)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down.
func (b *Bridge) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", b.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.config.Addr, err)
	}

	b.server = &http.Server{
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logging.Info("Serial bridge listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", b.config.Path),
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- b.server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return b.Shutdown(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops accepting clients and ends every active session.
func (b *Bridge) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down serial bridge...")

	var err error
	if b.server != nil {
		err = b.server.Shutdown(ctx)
	}

	// Hijacked connections are not tracked by http.Server.
	b.mu.Lock()
	for addr, conn := range b.activeConns {
		if conn == nil {
			continue
		}
		logging.Info("Closing active session", zap.String("remote_addr", addr))
		_ = conn.Close()
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
	}

	logging.Sync()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ActiveConnections returns the number of connected clients.
func (b *Bridge) ActiveConnections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.activeConns)
}

func (b *Bridge) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr

	// The serial port has a single reader; a second session would steal bytes.
	b.mu.Lock()
	if len(b.activeConns) > 0 {
		b.mu.Unlock()
		logging.Warn("Rejecting client, serial port in use", zap.String("remote_addr", remoteAddr))
		http.Error(w, "serial port in use", http.StatusConflict)
		return
	}
	b.activeConns[remoteAddr] = nil
	b.mu.Unlock()

	release := func() {
		b.mu.Lock()
		delete(b.activeConns, remoteAddr)
		b.mu.Unlock()
	}

	port, err := b.config.Open()
	if err != nil {
		release()
		logging.Error("Failed to open serial port", zap.String("remote_addr", remoteAddr), zap.Error(err))
		http.Error(w, "failed to open serial port", http.StatusServiceUnavailable)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		release()
		_ = port.Close()
		logging.Error("WebSocket upgrade failed", zap.String("remote_addr", remoteAddr), zap.Error(err))
		return
	}

	b.mu.Lock()
	b.activeConns[remoteAddr] = conn
	b.mu.Unlock()

	b.wg.Add(1)
	defer b.wg.Done()
	defer release()

	logging.LogTransportEvent(remoteAddr, "bridge_session_started")
	b.pump(remoteAddr, conn, port)
	logging.LogTransportEvent(remoteAddr, "bridge_session_ended")
}

// pump copies bytes both ways until either side ends, then closes both.
func (b *Bridge) pump(remoteAddr string, conn *websocket.Conn, port io.ReadWriteCloser) {
	ws := NewWebSocketConn(conn)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			_ = ws.Close()
			_ = port.Close()
		})
	}
	defer stop()

	fromPort := make(chan struct{})
	go func() {
		defer close(fromPort)
		defer stop()
		buf := make([]byte, 512)
		for {
			n, err := port.Read(buf)
			if n > 0 {
				logging.LogWebSocketMessage(remoteAddr, "sent", websocket.BinaryMessage, buf[:n])
				if _, werr := ws.Write(buf[:n]); werr != nil {
					logging.Debug("Bridge write to client failed", zap.String("remote_addr", remoteAddr), zap.Error(werr))
					return
				}
			}
			if err != nil {
				logging.Info("Serial side closed", zap.String("remote_addr", remoteAddr), zap.Error(err))
				return
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("Bridge read from client ended", zap.String("remote_addr", remoteAddr), zap.Error(err))
			}
			break
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		logging.LogWebSocketMessage(remoteAddr, "received", msgType, data)
		if _, err := port.Write(data); err != nil {
			logging.Warn("Bridge write to serial failed", zap.String("remote_addr", remoteAddr), zap.Error(err))
			break
		}
	}

	stop()
	<-fromPort
}
