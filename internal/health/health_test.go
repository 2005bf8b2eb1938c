package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthz(t *testing.T) {
	h := New()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", rec.Code)
	}
	var res struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if res.Status != "ok" {
		t.Errorf("status = %q, want ok", res.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		h := New(Checker{Name: "sessions", Check: func(context.Context) error { return nil }})
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("readyz = %d, want 200", rec.Code)
		}
	})

	t.Run("failing check flips the status", func(t *testing.T) {
		h := New(
			Checker{Name: "good", Check: func(context.Context) error { return nil }},
			Checker{Name: "bad", Check: func(context.Context) error { return errors.New("down") }},
		)
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("readyz = %d, want 503", rec.Code)
		}
		var res struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if res.Status != "fail" {
			t.Errorf("status = %q, want fail", res.Status)
		}
		if res.Checks["good"] != "ok" {
			t.Errorf("good check = %q", res.Checks["good"])
		}
		if res.Checks["bad"] == "ok" || res.Checks["bad"] == "" {
			t.Errorf("bad check = %q", res.Checks["bad"])
		}
	})
}
