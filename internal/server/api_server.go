// Package server exposes the daemon's local HTTP API over a unix socket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	configstore "github.com/portalkeep/portalkeep/internal/config/store"
	"github.com/portalkeep/portalkeep/internal/eventbus"
)

// APIServer serves the local control API. It implements runtime.Service.
type APIServer struct {
	socketPath string
	controller ReconnectController
	store      *configstore.Store
	bus        *eventbus.Bus
	historyDB  HistoryStore
	logger     *log.Logger

	startTime  time.Time
	httpServer *http.Server
	listener   net.Listener

	// loginWait bounds how long POST /api/login blocks for the outcome
	// before answering 202 with just the attempt ID.
	loginWait time.Duration

	shutdownMu sync.RWMutex
	shutdownFn func(context.Context) error

	wg sync.WaitGroup
}

// Option customises the API server.
type Option func(*APIServer)

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *APIServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHistory wires the attempt log for GET /api/history.
func WithHistory(store HistoryStore) Option {
	return func(s *APIServer) {
		s.historyDB = store
	}
}

// New creates an API server listening on the given unix socket path.
func New(socketPath string, controller ReconnectController, store *configstore.Store, bus *eventbus.Bus, opts ...Option) *APIServer {
	s := &APIServer{
		socketPath: socketPath,
		controller: controller,
		store:      store,
		bus:        bus,
		logger:     log.Default(),
		loginWait:  15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetShutdownFunc registers a handler invoked when a shutdown is requested
// via POST /api/daemon/shutdown.
func (s *APIServer) SetShutdownFunc(fn func(context.Context) error) {
	s.shutdownMu.Lock()
	s.shutdownFn = fn
	s.shutdownMu.Unlock()
}

// RequestShutdown triggers a graceful daemon shutdown using the registered
// shutdown function.
func (s *APIServer) RequestShutdown() {
	s.shutdownMu.RLock()
	fn := s.shutdownFn
	s.shutdownMu.RUnlock()
	if fn != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := fn(ctx); err != nil {
				s.logger.Printf("[APIServer] shutdown error: %v", err)
			}
		}()
	}
}

// Start binds the unix socket and serves the API.
func (s *APIServer) Start(ctx context.Context) error {
	s.startTime = time.Now()

	// A stale socket from an unclean exit blocks the bind.
	if _, err := os.Stat(s.socketPath); err == nil {
		if err := os.Remove(s.socketPath); err != nil {
			return fmt.Errorf("server: remove stale socket %s: %w", s.socketPath, err)
		}
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("server: chmod socket: %w", err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("[APIServer] serve: %v", err)
		}
	}()

	s.logger.Printf("[APIServer] listening on %s", s.socketPath)
	return nil
}

// Shutdown stops the HTTP server and removes the socket file.
func (s *APIServer) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	os.Remove(s.socketPath)
	return err
}

func (s *APIServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/config/reload", s.handleConfigReload)
	mux.HandleFunc("/api/settings/auto-reconnect", s.handleAutoReconnect)
	mux.HandleFunc("/api/settings/check-interval", s.handleCheckInterval)
	mux.HandleFunc("/api/settings/periodic-login", s.handlePeriodicLogin)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/daemon/shutdown", s.handleDaemonShutdown)
	return mux
}
