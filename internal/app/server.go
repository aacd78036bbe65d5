package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	intrnl "studyroom/internal"
	"studyroom/internal/storage"
)

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr   string
	server *http.Server
	store  *storage.Store
	log    zerolog.Logger
	done   chan struct{}
	err    error
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
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the SQLite store, runs migrations, wires the router and
// starts serving in the background. Call Stop/Wait to manage its lifecycle.
func RunServer(ctx context.Context, cfg ServerConfig, log zerolog.Logger) (*ServerHandle, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required (set STUDYROOM_JWT_SECRET)")
	}
	cfg.Path = NormalizeJoinPath(cfg.Path)
	if cfg.UploadDir == "" {
		cfg.UploadDir = DefaultUploadDir()
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	server, err := intrnl.NewServer(intrnl.ServerOptions{
		Store:        store,
		UploadDir:    cfg.UploadDir,
		MaxFileSize:  cfg.MaxFileSize,
		JWTSecret:    cfg.JWTSecret,
		TokenTTL:     cfg.TokenTTL,
		HistoryLimit: cfg.HistoryLimit,
		WSPath:       cfg.Path,
		LoginRate:    cfg.LoginRate,
		Logger:       log,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	handle := &ServerHandle{
		addr:   listener.Addr().String(),
		server: httpServer,
		store:  store,
		log:    log,
		done:   make(chan struct{}),
	}

	go func() {
		if ctx == nil {
			return
		}
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	go handle.serve(listener)

	log.Info().Str("addr", handle.addr).Str("ws", cfg.Path).Str("db", cfg.DBPath).Msg("server listening")
	return handle, nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	if err := h.store.Close(); err != nil {
		h.log.Error().Err(err).Msg("store close failed")
	}
	h.err = err
}
