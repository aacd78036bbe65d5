package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger writes human readable lines unless jsonOutput is set.
func NewLogger(w io.Writer, jsonOutput, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	if !jsonOutput {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: !isTerminalStream(w)}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// OpenLogFile creates the client log. The caller closes the returned file.
func OpenLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}

func isTerminalStream(w io.Writer) bool {
	return w == os.Stderr || w == os.Stdout
}
