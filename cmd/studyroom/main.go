package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"studyroom/internal/app"
)

const (
	modeServer = "server"
	modeClient = "client"
	modeLocal  = "local"
)

func main() {
	_ = godotenv.Load()

	mode, args := parseMode(os.Args[1:])
	flagSet := flag.NewFlagSet("studyroom", flag.ExitOnError)
	addr := flagSet.String("addr", envOrDefault("STUDYROOM_ADDR", defaultAddrForMode(mode)), "server listen address")
	path := flagSet.String("path", envOrDefault("STUDYROOM_PATH", "/ws"), "websocket path")
	db := flagSet.String("db", envOrDefault("STUDYROOM_DB_PATH", ""), "sqlite database path (defaults to a per-user path)")
	uploads := flagSet.String("uploads", envOrDefault("STUDYROOM_UPLOAD_DIR", ""), "directory for uploaded files")
	maxUpload := flagSet.Int64("max-upload", envInt64("STUDYROOM_MAX_UPLOAD", 10<<20), "largest accepted upload in bytes")
	jwtSecret := flagSet.String("jwt-secret", envOrDefault("STUDYROOM_JWT_SECRET", ""), "HMAC secret for auth tokens")
	tokenTTL := flagSet.Duration("token-ttl", envDuration("STUDYROOM_TOKEN_TTL", 7*24*time.Hour), "auth token lifetime")
	historyLimit := flagSet.Int("history", int(envInt64("STUDYROOM_HISTORY_LIMIT", 200)), "messages returned per history request")
	loginRate := flagSet.String("login-rate", envOrDefault("STUDYROOM_LOGIN_RATE", "10-M"), "signup/login rate per client IP")
	serverURL := flagSet.String("server-url", envOrDefault("STUDYROOM_SERVER", "ws://localhost:8080/ws"), "server websocket URL (client mode)")
	username := flagSet.String("user", envOrDefault("STUDYROOM_USER", ""), "default username for login prompts")
	sessionPath := flagSet.String("session", envOrDefault("STUDYROOM_SESSION", ""), "where the client keeps its token")
	logPath := flagSet.String("log-file", envOrDefault("STUDYROOM_LOG_FILE", ""), "client log file")
	logJSON := flagSet.Bool("log-json", false, "write server logs as JSON")
	debug := flagSet.Bool("debug", os.Getenv("STUDYROOM_DEBUG") != "", "enable debug logging")
	flagSet.Parse(args)

	serverCfg := app.ServerConfig{
		Addr:         *addr,
		Path:         app.NormalizeJoinPath(*path),
		DBPath:       *db,
		UploadDir:    *uploads,
		MaxFileSize:  *maxUpload,
		JWTSecret:    *jwtSecret,
		TokenTTL:     *tokenTTL,
		HistoryLimit: *historyLimit,
		LoginRate:    *loginRate,
	}
	if serverCfg.DBPath == "" {
		serverCfg.DBPath = app.DefaultDBPath()
	}

	clientCfg := app.ClientConfig{
		ServerURL:      *serverURL,
		Username:       *username,
		SessionPath:    *sessionPath,
		LogPath:        *logPath,
		Debug:          *debug,
		MaxUploadBytes: *maxUpload,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case modeServer:
		log := app.NewLogger(os.Stderr, *logJSON, *debug)
		err = runServerMode(ctx, serverCfg, log)
	case modeLocal:
		err = runLocalMode(ctx, serverCfg, clientCfg)
	default:
		err = runClientMode(clientCfg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "studyroom: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, cfg app.ServerConfig, log zerolog.Logger) error {
	handle, err := app.RunServer(ctx, cfg, log)
	if err != nil {
		return err
	}
	return handle.Wait()
}

func runClientMode(cfg app.ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("client mode requires --server-url or STUDYROOM_SERVER")
	}
	return app.RunClient(cfg)
}

// runLocalMode starts a private server on a loopback port and points the
// client at it. Server logs share the client's log file.
func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, clientCfg app.ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(serverCfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if serverCfg.JWTSecret == "" {
		serverCfg.JWTSecret = "studyroom-local-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	if clientCfg.LogPath == "" {
		clientCfg.LogPath = app.DefaultLogPath()
	}
	logFile, err := app.OpenLogFile(clientCfg.LogPath)
	if err != nil {
		return err
	}
	defer logFile.Close()
	log := app.NewLogger(logFile, false, clientCfg.Debug).With().Str("side", "server").Logger()

	handle, err := app.RunServer(ctx, serverCfg, log)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	clientCfg.ServerURL = buildWebsocketURL(handle.Addr(), serverCfg.Path)
	if clientCfg.SessionPath == "" {
		// tokens from a throwaway secret are useless to the next run
		clientCfg.SessionPath = filepath.Join(filepath.Dir(serverCfg.DBPath), "local-session.json")
		_ = os.Remove(clientCfg.SessionPath)
	}
	if err := app.RunClient(clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr, path string) string {
	path = app.NormalizeJoinPath(path)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, path)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func defaultAddrForMode(mode string) string {
	if mode == modeLocal {
		return "127.0.0.1:0"
	}
	return ":8080"
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
