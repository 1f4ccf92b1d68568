package server_test

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/evidentia-labs/custodian/internal/custody"
	"github.com/evidentia-labs/custodian/internal/ingest"
	"github.com/evidentia-labs/custodian/internal/server"
	"github.com/evidentia-labs/custodian/internal/tamperlog"
	"github.com/evidentia-labs/custodian/internal/timesync"
	"github.com/evidentia-labs/custodian/internal/tracker"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	return newRouterCfg(t, server.Config{})
}

func newRouterCfg(t *testing.T, cfg server.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	aligner, err := timesync.New(timesync.Config{Mode: timesync.ModeNTP})
	if err != nil {
		t.Fatal(err)
	}
	ledger, err := custody.New()
	if err != nil {
		t.Fatal(err)
	}
	tlog, err := tamperlog.Open(filepath.Join(t.TempDir(), "log.jsonl"), nil)
	if err != nil {
		t.Fatal(err)
	}
	trk := tracker.New(5.0, 10*math.Pi/180, nil)
	pipeline := ingest.NewPipeline(aligner, trk, ledger, tlog, nil, nil)

	h := server.NewHandler(pipeline, ledger, tlog, nil)
	return server.NewRouter(h, cfg, zap.NewNop())
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, out
}

func TestIngestRecord_created(t *testing.T) {
	r := newRouter(t)

	w, out := doJSON(t, r, http.MethodPost, "/v1/records", map[string]any{
		"timestamp_ns": 1_000_000,
		"agent_id":     "veh-1",
		"position":     map[string]any{"x": 1.0, "y": 2.0},
		"velocity":     map[string]any{"vx": 3.0, "vy": 0.0},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want 201 (%s)", w.Code, w.Body.String())
	}

	rec, ok := out["record"].(map[string]any)
	if !ok {
		t.Fatalf("missing record in response: %v", out)
	}
	if rec["record_hash"] == "" || rec["record_hash"] == nil {
		t.Error("committed record must carry its fingerprint")
	}
}

func TestIngestRecord_missingAgentID(t *testing.T) {
	r := newRouter(t)

	w, _ := doJSON(t, r, http.MethodPost, "/v1/records", map[string]any{
		"timestamp_ns": 1_000_000,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestLedgerOverviewAndVerify(t *testing.T) {
	r := newRouter(t)

	doJSON(t, r, http.MethodPost, "/v1/records", map[string]any{"agent_id": "veh-1"})

	w, out := doJSON(t, r, http.MethodGet, "/v1/ledger", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if out["blocks"].(float64) != 2 { // genesis + 1
		t.Errorf("blocks: got %v, want 2", out["blocks"])
	}

	w, out = doJSON(t, r, http.MethodGet, "/v1/ledger/verify", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if out["valid"] != true {
		t.Errorf("fresh chain must verify valid: %v", out)
	}
}

func TestGetBlock(t *testing.T) {
	r := newRouter(t)

	w, out := doJSON(t, r, http.MethodGet, "/v1/ledger/blocks/0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if out["payload"] != custody.GenesisPayload {
		t.Errorf("genesis payload: got %v", out["payload"])
	}

	w, _ = doJSON(t, r, http.MethodGet, "/v1/ledger/blocks/99", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("out-of-range block: got %d, want 404", w.Code)
	}

	w, _ = doJSON(t, r, http.MethodGet, "/v1/ledger/blocks/notanint", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("non-integer index: got %d, want 400", w.Code)
	}
}

func TestLogVerify_intact(t *testing.T) {
	r := newRouter(t)

	doJSON(t, r, http.MethodPost, "/v1/records", map[string]any{"agent_id": "veh-1"})

	w, out := doJSON(t, r, http.MethodGet, "/v1/log/verify", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if out["intact"] != true {
		t.Errorf("untouched log must be intact: %v", out)
	}
	if out["entries"].(float64) != 1 {
		t.Errorf("entries: got %v, want 1", out["entries"])
	}
}

func TestCorrelate_explicitStreams(t *testing.T) {
	r := newRouter(t)

	w, out := doJSON(t, r, http.MethodPost, "/v1/correlate", map[string]any{
		"window_ms":   50,
		"max_xy_dist": 2.0,
		"streams": map[string]any{
			"veh-1": []map[string]any{{"timestamp_ns": 0, "agent_id": "veh-1", "record_hash": "aa"}},
			"veh-2": []map[string]any{{"timestamp_ns": 0, "agent_id": "veh-2", "record_hash": "bb"}},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", w.Code, w.Body.String())
	}
	if out["count"].(float64) != 1 {
		t.Errorf("count: got %v, want 1", out["count"])
	}
}

func TestRateLimit_throttlesAPIOnly(t *testing.T) {
	// rps 1 gives a burst of 2: the third back-to-back API request is
	// rejected, while the unthrottled health endpoint keeps answering.
	r := newRouterCfg(t, server.Config{RateLimitRPS: 1})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w, _ := doJSON(t, r, http.MethodGet, "/v1/ledger", nil)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("burst requests must pass: %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third request: got %d, want 429", codes[2])
	}

	w, _ := doJSON(t, r, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("healthz must stay reachable under throttle: got %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	r := newRouter(t)
	w, out := doJSON(t, r, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK || out["status"] != "ok" {
		t.Errorf("healthz: %d %v", w.Code, out)
	}
}
