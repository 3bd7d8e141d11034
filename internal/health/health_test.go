package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type probeFunc func(context.Context) error

func (f probeFunc) Check(ctx context.Context) error { return f(ctx) }

func ok(context.Context) error { return nil }

func get(t *testing.T, h http.Handler, path string) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func newMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func TestHealthz_AlwaysOK(t *testing.T) {
	h := New(Checker{Name: "pipeline", Check: func(context.Context) error { return errors.New("stopped") }})
	code, body := get(t, newMux(h), "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "pipeline", Check: ok}, {Name: "stt", Check: ok}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"pipeline": "ok", "stt": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "pipeline", Check: func(context.Context) error { return errors.New("pipeline: not running") }},
				{Name: "stt", Check: ok},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"pipeline": "fail: pipeline: not running", "stt": "ok"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, body := get(t, newMux(New(tc.checkers...)), "/readyz")
			if code != tc.wantCode || body.Status != tc.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, body.Status, tc.wantCode, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if body.Checks[name] != want {
					t.Errorf("checks[%q] = %q, want %q", name, body.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_AddAndFor(t *testing.T) {
	h := New()
	var healthy bool
	h.Add(For("stt", probeFunc(func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("every backend circuit is open")
	})))

	if code, _ := get(t, newMux(h), "/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", code)
	}
	healthy = true
	if code, body := get(t, newMux(h), "/readyz"); code != http.StatusOK || body.Checks["stt"] != "ok" {
		t.Errorf("readyz = %d %v", code, body.Checks)
	}
}

func TestReadyz_ChecksRunConcurrentlyWithDeadline(t *testing.T) {
	const n = 4
	started := make(chan struct{}, n)
	release := make(chan struct{})
	var checkers []Checker
	for i := range n {
		checkers = append(checkers, Checker{
			Name: string(rune('a' + i)),
			Check: func(ctx context.Context) error {
				if _, hasDeadline := ctx.Deadline(); !hasDeadline {
					return errors.New("no deadline")
				}
				started <- struct{}{}
				<-release
				return nil
			},
		})
	}

	go func() {
		for range n {
			select {
			case <-started:
			case <-time.After(2 * time.Second):
				return
			}
		}
		close(release)
	}()

	mux := newMux(New(checkers...))
	done := make(chan int, 1)
	go func() {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		done <- rec.Code
	}()
	select {
	case code := <-done:
		if code != http.StatusOK {
			t.Errorf("code = %d, want 200", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("checks did not run concurrently")
	}
}
