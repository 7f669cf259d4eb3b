package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"eostre.org/internal/config"
)

func TestRunnerServesUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	r := &Runner{HTTP: &http.Server{Handler: mux}, HTTPListener: ln, ShutdownTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/ping")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Fatalf("unexpected body %q", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestRunnerReportsListenError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	r := &Runner{HTTP: &http.Server{Addr: busy.Addr().String()}}
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected listen error on a busy port")
	}
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("EOSTRE_SERVER_ADDR=:9191\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("EOSTRE_SERVER_ADDR") })

	cfg, err := LoadConfig("", envFile)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Addr != ":9191" {
		t.Fatalf("env file not applied, addr=%s", cfg.Server.Addr)
	}

	if _, err := LoadConfig("", filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing env file must be ignored: %v", err)
	}
}

func TestOpenStoreMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "memory"
	st, closeFn, err := OpenStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer closeFn()
	if err := st.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	cfg.Storage.Driver = "sqlite"
	if _, _, err := OpenStore(context.Background(), cfg); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}
