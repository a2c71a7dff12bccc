package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	intrnl "visitortracker/internal"
	"visitortracker/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr       string
	server     *http.Server
	hub        *intrnl.Hub
	events     *intrnl.EventPublisher
	store      *storage.Store
	logger     *slog.Logger
	stopRecord context.CancelFunc
	recorded   chan struct{}
	done       chan struct{}
	err        error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
	}
	err := h.server.Shutdown(ctx)
	// hijacked websockets are not closed by http.Server.Shutdown
	h.hub.Shutdown()
	return err
}

// Wait blocks until the server exits and every background component has stopped.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// ServerOptions carries dependencies that have no flag: tests swap in a fake clock or a quiet logger.
type ServerOptions struct {
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// RunServer opens the SQLite store, runs migrations, wires the hub, recorder and router, and
// starts serving in the background. Call Stop/Wait or cancel ctx to manage its lifecycle.
func RunServer(ctx context.Context, cfg ServerConfig, opts ServerOptions) (*ServerHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if dir, ok := dataDir(cfg.DBPath); ok {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	events := intrnl.NewEventPublisher()
	hub := intrnl.NewHub(intrnl.TrackerOptions{
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		CleanupInterval:  cfg.CleanupInterval,
		Clock:            clock,
		Logger:           logger,
		Metrics:          intrnl.NewMetrics(),
		Events:           events,
	})
	limiter := intrnl.NewRateLimiterWithClock(cfg.ConnLimit, cfg.ConnWindow, clock)
	server := intrnl.NewServer(hub, limiter, store)

	recordCtx, stopRecord := context.WithCancel(context.Background())
	recorder := intrnl.NewHistoryRecorder(events, store, logger)

	handle := &ServerHandle{
		addr: listener.Addr().String(),
		server: &http.Server{
			Handler:           server.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		hub:        hub,
		events:     events,
		store:      store,
		logger:     logger,
		stopRecord: stopRecord,
		recorded:   make(chan struct{}),
		done:       make(chan struct{}),
	}

	go func() {
		defer close(handle.recorded)
		recorder.Run(recordCtx)
	}()

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
			case <-handle.done:
				return
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := handle.Stop(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server shutdown", "error", err)
			}
		}()
	}

	go handle.serve(listener)

	logger.Info("visitor tracker listening", "addr", handle.addr, "version", intrnl.BuildInfo(),
		"heartbeat_timeout", cfg.HeartbeatTimeout, "cleanup_interval", cfg.CleanupInterval)
	return handle, nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	// the recorder must unsubscribe before the bus goes away
	h.stopRecord()
	<-h.recorded
	h.events.Close()
	if err := h.store.Close(); err != nil {
		h.logger.Error("store close", "error", err)
	}
	h.err = err
}

// dataDir reports the directory a plain file path lives in; DSN-style paths are left alone.
func dataDir(path string) (string, bool) {
	if strings.HasPrefix(path, "sqlite://") || strings.HasPrefix(path, "file:") || strings.HasPrefix(path, ":memory:") {
		return "", false
	}
	return filepath.Dir(path), true
}
