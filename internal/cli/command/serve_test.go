package command

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yndnr/nestkv/internal/telemetry/metric"
	"github.com/yndnr/nestkv/pkg/store"
	"github.com/yndnr/nestkv/pkg/value"
)

func TestServeMux(t *testing.T) {
	reg := metric.NewRegistry()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := store.Open(filepath.Join(t.TempDir(), "db"), 0,
		store.WithLogger(log),
		store.WithRegisterer(reg.Registerer()),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Assoc("a", value.Int(1)); err != nil {
		t.Fatalf("Assoc: %v", err)
	}

	srv := httptest.NewServer(NewServeMux(db, reg, log))
	defer srv.Close()

	get := func(path string) (int, string) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	if code, body := get("/healthz"); code != http.StatusOK || body != "ok\n" {
		t.Errorf("/healthz = %d %q", code, body)
	}

	resp, err := http.Post(srv.URL+"/checkpoint", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /checkpoint: %v", err)
	}
	var info store.CheckpointInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode checkpoint: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || info.Keys != 1 {
		t.Errorf("/checkpoint = %d %+v", resp.StatusCode, info)
	}

	code, body := get("/metrics")
	if code != http.StatusOK || !strings.Contains(body, "nestkv_checkpoint_total") {
		t.Errorf("/metrics = %d, missing nestkv_checkpoint_total", code)
	}

	code, body = get("/stats")
	var stats store.Stats
	if err := json.Unmarshal([]byte(body), &stats); err != nil || code != http.StatusOK {
		t.Fatalf("/stats = %d %q: %v", code, body, err)
	}
	if stats.Keys != 1 || stats.Checkpoints == 0 {
		t.Errorf("stats = %+v", stats)
	}

	if _, err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	resp, err = http.Post(srv.URL+"/checkpoint", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /checkpoint: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/checkpoint after close = %d, want 503", resp.StatusCode)
	}
}
