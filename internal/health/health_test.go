package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func readyz(t *testing.T, h *Handler) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	fail := func(msg string) func(context.Context) error {
		return func(context.Context) error { return errors.New(msg) }
	}

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
		},
		{
			name:       "all pass",
			checkers:   []Checker{{"pool", ok}, {"render", ok}},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"pool": "ok", "render": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{{"pool", fail("free list corrupt")}, {"render", ok}},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"pool": "fail: free list corrupt", "render": "ok"},
		},
		{
			name:       "all fail",
			checkers:   []Checker{{"pool", fail("a")}, {"render", fail("b")}},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"pool": "fail: a", "render": "fail: b"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, body := readyz(t, New(tc.checkers...))
			if code != tc.wantStatus {
				t.Errorf("status = %d, want %d", code, tc.wantStatus)
			}
			wantStatus := "ok"
			if tc.wantStatus != http.StatusOK {
				wantStatus = "fail"
			}
			if body.Status != wantStatus {
				t.Errorf("body status = %q, want %q", body.Status, wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %q = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_RunsChecksConcurrently(t *testing.T) {
	t.Parallel()

	// Each check waits for the other to start; sequential evaluation would
	// block until the timeout.
	var started sync.WaitGroup
	started.Add(2)
	rendezvous := func(ctx context.Context) error {
		started.Done()
		done := make(chan struct{})
		go func() { started.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("ran sequentially")
		}
	}

	code, body := readyz(t, New(Checker{"a", rendezvous}, Checker{"b", rendezvous}))
	if code != http.StatusOK {
		t.Fatalf("status = %d, checks = %v", code, body.Checks)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(Checker{Name: "test", Check: func(context.Context) error { return nil }}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestInvariants(t *testing.T) {
	t.Parallel()
	healthy := Invariants("pool", func() error { return nil })
	if err := healthy.Check(context.Background()); err != nil {
		t.Errorf("healthy check: %v", err)
	}
	broken := Invariants("pool", func() error { return errors.New("cycle in active list") })
	if err := broken.Check(context.Background()); err == nil || broken.Name != "pool" {
		t.Errorf("broken check = %v (name %q)", err, broken.Name)
	}
}

func TestFreshness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		last    time.Time
		wantErr string
	}{
		{"never ran", time.Time{}, "has not run yet"},
		{"recent", time.Now(), ""},
		{"stale", time.Now().Add(-time.Minute), "last ran"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := Freshness("render", func() time.Time { return tc.last }, time.Second)
			err := c.Check(context.Background())
			switch {
			case tc.wantErr == "" && err != nil:
				t.Errorf("unexpected error: %v", err)
			case tc.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tc.wantErr)):
				t.Errorf("error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}
