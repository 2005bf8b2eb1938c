package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/cuepilot/cuepilot/internal/align"
	"github.com/cuepilot/cuepilot/internal/config"
	"github.com/cuepilot/cuepilot/internal/observe"
	"github.com/cuepilot/cuepilot/internal/session"
	"github.com/cuepilot/cuepilot/internal/similarity"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	sessions := session.NewManager(session.ManagerConfig{
		Engine:            similarity.New(),
		HighlightDuration: -1, // keep highlights stable for assertions
		Metrics:           metrics,
	})
	t.Cleanup(sessions.Close)

	srv := New(config.ServerConfig{ListenAddr: ":0"}, sessions, metrics)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

// do issues a JSON request and returns the response with its decoded body.
func do(t *testing.T, ts *httptest.Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, raw
}

func createSession(t *testing.T, ts *httptest.Server, script string) createSessionResponse {
	t.Helper()
	resp, raw := do(t, ts, http.MethodPost, "/v1/sessions", createSessionRequest{Script: script})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session = %d: %s", resp.StatusCode, raw)
	}
	var out createSessionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if out.SessionID == "" {
		t.Fatal("create response has empty session_id")
	}
	return out
}

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t)

	t.Run("with script", func(t *testing.T) {
		out := createSession(t, ts, "Good evening. Welcome back!\n\nTonight we talk about Go.")
		if out.TotalWords != 9 || out.TotalSentences != 3 || out.TotalParagraphs != 2 {
			t.Errorf("analysis counts = %+v", out)
		}
	})

	t.Run("without script", func(t *testing.T) {
		out := createSession(t, ts, "")
		if out.TotalWords != 0 {
			t.Errorf("empty create has %d words", out.TotalWords)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, err := ts.Client().Post(ts.URL+"/v1/sessions", "application/json", strings.NewReader("{not json"))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("malformed body = %d, want 400", resp.StatusCode)
		}
	})
}

func TestSessionEndpoints(t *testing.T) {
	ts := newTestServer(t)

	t.Run("unknown session is 404", func(t *testing.T) {
		resp, _ := do(t, ts, http.MethodGet, "/v1/sessions/nope/state", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("unknown session = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("start without script is a conflict", func(t *testing.T) {
		out := createSession(t, ts, "")
		resp, _ := do(t, ts, http.MethodPost, "/v1/sessions/"+out.SessionID+"/start", nil)
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("start without script = %d, want 409", resp.StatusCode)
		}
	})

	t.Run("invalid settings are unprocessable", func(t *testing.T) {
		out := createSession(t, ts, "one two three")
		resp, _ := do(t, ts, http.MethodPatch, "/v1/sessions/"+out.SessionID+"/settings",
			align.SettingsUpdate{MatchThreshold: ptr(1.5)})
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("threshold 1.5 = %d, want 422", resp.StatusCode)
		}
	})

	t.Run("full lifecycle", func(t *testing.T) {
		out := createSession(t, ts, "Good evening everyone. Welcome to the show.")
		base := "/v1/sessions/" + out.SessionID

		if resp, raw := do(t, ts, http.MethodPost, base+"/start", nil); resp.StatusCode != http.StatusNoContent {
			t.Fatalf("start = %d: %s", resp.StatusCode, raw)
		}

		resp, raw := do(t, ts, http.MethodPost, base+"/words", map[string]any{
			"words": []map[string]any{
				{"text": "good", "confidence": 0.95, "timestamp": 0},
				{"text": "evening", "confidence": 0.92, "timestamp": 350},
			},
		})
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("words = %d: %s", resp.StatusCode, raw)
		}

		// Ingestion is asynchronous; poll the snapshot.
		var snap align.Snapshot
		deadline := time.Now().Add(2 * time.Second)
		for {
			_, raw := do(t, ts, http.MethodGet, base+"/state", nil)
			if err := json.Unmarshal(raw, &snap); err != nil {
				t.Fatalf("decode state: %v", err)
			}
			if len(snap.MatchHistory) == 2 || time.Now().After(deadline) {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		if len(snap.MatchHistory) != 2 {
			t.Fatalf("history = %d entries, want 2: %+v", len(snap.MatchHistory), snap)
		}
		if snap.CurrentIndex != 1 || snap.StateName != "active" {
			t.Errorf("snapshot = index %d state %q", snap.CurrentIndex, snap.StateName)
		}

		if resp, _ := do(t, ts, http.MethodPost, base+"/stop", nil); resp.StatusCode != http.StatusNoContent {
			t.Errorf("stop = %d", resp.StatusCode)
		}
		if resp, _ := do(t, ts, http.MethodPost, base+"/stop", nil); resp.StatusCode != http.StatusConflict {
			t.Errorf("second stop = %d, want 409", resp.StatusCode)
		}
		if resp, _ := do(t, ts, http.MethodPost, base+"/reset", nil); resp.StatusCode != http.StatusNoContent {
			t.Errorf("reset = %d", resp.StatusCode)
		}
		if resp, _ := do(t, ts, http.MethodDelete, base, nil); resp.StatusCode != http.StatusNoContent {
			t.Errorf("delete = %d", resp.StatusCode)
		}
		if resp, _ := do(t, ts, http.MethodGet, base+"/state", nil); resp.StatusCode != http.StatusNotFound {
			t.Errorf("state after delete = %d, want 404", resp.StatusCode)
		}
	})
}

func TestOperationalEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, _ := do(t, ts, http.MethodGet, path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestStream(t *testing.T) {
	ts := newTestServer(t)
	out := createSession(t, ts, "one two three")
	base := "/v1/sessions/" + out.SessionID

	if resp, _ := do(t, ts, http.MethodPost, base+"/start", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("start = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + base + "/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first session.Event
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("read initial event: %v", err)
	}
	if first.Kind != session.EventState || first.State == nil {
		t.Fatalf("initial event = %+v, want state snapshot", first)
	}

	// Push a word over the socket and expect a match event back.
	if err := wsjson.Write(ctx, conn, map[string]any{
		"text": "one", "confidence": 0.9, "timestamp": 0,
	}); err != nil {
		t.Fatalf("write word: %v", err)
	}

	for {
		var ev session.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.Kind != session.EventMatch {
			continue
		}
		if ev.Match == nil || ev.Match.ScriptIndex != 0 || !ev.Match.IsExact {
			t.Fatalf("match event = %+v", ev.Match)
		}
		break
	}
}

func ptr[T any](v T) *T { return &v }
