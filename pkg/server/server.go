// Package server serves a Dispatcher over WebSocket, one Jsonipc session per
// connection, and pushes notifications and binary frames to every peer.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/lightforgemedia/go-jsonipc/pkg/dispatcher"
)

const (
	defaultPeerSendBuffer = 64
	defaultWriteTimeout   = 10 * time.Second
	defaultReadLimit      = 1 << 20
	maxDroppedFrames      = 3
)

// ErrShutdown is returned once Shutdown has started.
var ErrShutdown = errors.New("server: shutting down")

type serverConfig struct {
	logger        *slog.Logger
	acceptOptions *websocket.AcceptOptions
	sendBuffer    int
	writeTimeout  time.Duration
	readLimit     int64
	concurrent    bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.config.logger = logger
		}
	}
}

// WithAcceptOptions sets the options passed to websocket.Accept.
func WithAcceptOptions(opts *websocket.AcceptOptions) Option {
	return func(s *Server) { s.config.acceptOptions = opts }
}

// WithPeerSendBuffer sets how many outgoing frames may queue per peer before
// pushed frames are dropped. Replies wait for room instead.
func WithPeerSendBuffer(size int) Option {
	return func(s *Server) {
		if size > 0 {
			s.config.sendBuffer = size
		}
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.config.writeTimeout = d
		}
	}
}

// WithReadLimit sets the maximum inbound frame size.
func WithReadLimit(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.config.readLimit = n
		}
	}
}

// WithConcurrentDispatch answers each request on its own goroutine, so
// replies may leave in a different order than requests arrived. By default a
// peer's requests are answered one after another.
func WithConcurrentDispatch(on bool) Option {
	return func(s *Server) { s.config.concurrent = on }
}

// Server accepts Jsonipc peers.
type Server struct {
	config     serverConfig
	dispatcher *dispatcher.Dispatcher

	peersMu sync.RWMutex
	peers   map[string]*peer

	shutdownOnce sync.Once
	shutdownChan chan struct{}
	mainCtx      context.Context
	mainCancel   context.CancelFunc
	wg           sync.WaitGroup
}

// New returns a server answering requests with d.
func New(d *dispatcher.Dispatcher, opts ...Option) *Server {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	s := &Server{
		config: serverConfig{
			logger:        slog.Default(),
			acceptOptions: &websocket.AcceptOptions{},
			sendBuffer:    defaultPeerSendBuffer,
			writeTimeout:  defaultWriteTimeout,
			readLimit:     defaultReadLimit,
		},
		dispatcher:   d,
		peers:        make(map[string]*peer),
		shutdownChan: make(chan struct{}),
		mainCtx:      mainCtx,
		mainCancel:   mainCancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatcher is the method table this server answers with.
func (s *Server) Dispatcher() *dispatcher.Dispatcher { return s.dispatcher }

// ServeHTTP upgrades the request and serves the peer until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdownChan:
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		s.config.logger.Info("Server: Rejected connection, server shutting down.")
		return
	default:
	}

	conn, err := websocket.Accept(w, r, s.config.acceptOptions)
	if err != nil {
		s.config.logger.Info(fmt.Sprintf("Server: Failed to accept websocket connection: %v", err))
		return
	}
	conn.SetReadLimit(s.config.readLimit)

	ctx, cancel := context.WithCancel(s.mainCtx)
	p := &peer{
		id:     generateID(),
		conn:   conn,
		server: s,
		send:   make(chan frame, s.config.sendBuffer),
		ctx:    ctx,
		cancel: cancel,
		logger: s.config.logger,
	}
	s.addPeer(p)
	p.logger.Info(fmt.Sprintf("Server: Peer %s connected from %s", p.id, r.RemoteAddr))

	s.wg.Add(2)
	go p.writePump()
	p.readPump()
}

// Peers is the number of connected peers.
func (s *Server) Peers() int {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	return len(s.peers)
}

// Notify sends a notification to every connected peer.
func (s *Server) Notify(method string, params ...any) error {
	data, err := dispatcher.Notification(method, params...)
	if err != nil {
		return fmt.Errorf("server: failed to marshal notification %q: %w", method, err)
	}
	return s.broadcast(frame{typ: websocket.MessageText, data: data})
}

// SendBinary sends a binary frame to every connected peer.
func (s *Server) SendBinary(data []byte) error {
	return s.broadcast(frame{typ: websocket.MessageBinary, data: data})
}

func (s *Server) broadcast(f frame) error {
	select {
	case <-s.shutdownChan:
		return ErrShutdown
	default:
	}
	s.peersMu.RLock()
	snapshot := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		snapshot = append(snapshot, p)
	}
	s.peersMu.RUnlock()

	for _, p := range snapshot {
		p.trySend(f)
	}
	return nil
}

// Shutdown disconnects every peer and waits for their goroutines to stop.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.config.logger.Info("Server: Initiating shutdown...")
		close(s.shutdownChan)
		s.mainCancel()
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.config.logger.Info("Server: Shutdown complete.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("server: shutdown: %w", ctx.Err())
	}
}

func (s *Server) addPeer(p *peer) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	s.peers[p.id] = p
}

func (s *Server) removePeer(p *peer) {
	p.cancel()
	s.peersMu.Lock()
	delete(s.peers, p.id)
	s.peersMu.Unlock()
	p.logger.Info(fmt.Sprintf("Server: Peer %s disconnected and removed.", p.id))
}

func generateID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("peer-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
