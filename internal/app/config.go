package app

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr         string
	Path         string
	DBPath       string
	UploadDir    string
	MaxFileSize  int64
	JWTSecret    string
	TokenTTL     time.Duration
	HistoryLimit int
	// LoginRate is a ulule limiter rate such as "10-M" applied per client IP
	// to signup and login.
	LoginRate string
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL   string
	Username    string
	SessionPath string
	LogPath     string
	Debug       bool

	// MaxUploadBytes is checked before an upload starts. Zero uses the
	// 10 MiB default.
	MaxUploadBytes int64
}

// DefaultDataDir returns the per-user directory for the database, uploads,
// the saved session and the client log.
func DefaultDataDir() string {
	if env := os.Getenv("STUDYROOM_DATA_DIR"); env != "" {
		return env
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "studyroom")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Studyroom")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Studyroom")
		}
		return filepath.Join(home, ".local", "share", "studyroom")
	}
	return filepath.Join(".", ".studyroom")
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("STUDYROOM_DB_PATH"); env != "" {
		return env
	}
	return filepath.Join(DefaultDataDir(), "studyroom.db")
}

// DefaultUploadDir is where the backend keeps uploaded files.
func DefaultUploadDir() string {
	if env := os.Getenv("STUDYROOM_UPLOAD_DIR"); env != "" {
		return env
	}
	return filepath.Join(DefaultDataDir(), "uploads")
}

// DefaultSessionPath is where the client remembers the signed-in token.
func DefaultSessionPath() string {
	return filepath.Join(DefaultDataDir(), "session.json")
}

// DefaultLogPath is the client log file. The terminal belongs to the TUI.
func DefaultLogPath() string {
	return filepath.Join(DefaultDataDir(), "client.log")
}

// NormalizeJoinPath guarantees the websocket path starts with '/' and falls
// back to /ws when empty.
func NormalizeJoinPath(path string) string {
	if path == "" {
		return "/ws"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
