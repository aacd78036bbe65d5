package app

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunServerServesAndStops(t *testing.T) {
	dir := t.TempDir()
	handle, err := RunServer(context.Background(), ServerConfig{
		Addr:      "127.0.0.1:0",
		Path:      "chat",
		DBPath:    filepath.Join(dir, "data", "studyroom.db"),
		UploadDir: filepath.Join(dir, "uploads"),
		JWTSecret: "test-secret",
		LoginRate: "100-M",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("run server: %v", err)
	}

	resp, err := http.Get("http://" + handle.Addr() + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	resp.Body.Close()
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body %v", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := handle.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := handle.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestRunServerRequiresSecret(t *testing.T) {
	_, err := RunServer(context.Background(), ServerConfig{
		Addr:   "127.0.0.1:0",
		DBPath: filepath.Join(t.TempDir(), "studyroom.db"),
	}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected an error without a jwt secret")
	}
}

func TestNormalizeJoinPath(t *testing.T) {
	for input, want := range map[string]string{"": "/ws", "chat": "/chat", "/ws": "/ws"} {
		if got := NormalizeJoinPath(input); got != want {
			t.Fatalf("NormalizeJoinPath(%q) = %q, want %q", input, got, want)
		}
	}
}
