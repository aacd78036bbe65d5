package app

import (
	"errors"
	"fmt"

	intrnl "studyroom/internal"
	"studyroom/internal/chat"
)

// RunClient launches the Bubble Tea TUI. Logs go to cfg.LogPath since the
// terminal is owned by the UI while it runs.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if cfg.SessionPath == "" {
		cfg.SessionPath = DefaultSessionPath()
	}
	if cfg.LogPath == "" {
		cfg.LogPath = DefaultLogPath()
	}

	logFile, err := OpenLogFile(cfg.LogPath)
	if err != nil {
		return err
	}
	defer logFile.Close()
	log := NewLogger(logFile, false, cfg.Debug).With().Str("side", "client").Logger()

	policy := chat.DefaultUploadPolicy()
	if cfg.MaxUploadBytes > 0 {
		policy.MaxBytes = cfg.MaxUploadBytes
	}

	log.Info().Str("server", cfg.ServerURL).Msg("client starting")
	if err := intrnl.RunClient(intrnl.ClientOptions{
		ServerJoinURL: cfg.ServerURL,
		Username:      cfg.Username,
		SessionPath:   cfg.SessionPath,
		Policy:        policy,
		Logger:        log,
	}); err != nil {
		log.Error().Err(err).Msg("client exited with error")
		return fmt.Errorf("client: %w", err)
	}
	log.Info().Msg("client stopped")
	return nil
}
