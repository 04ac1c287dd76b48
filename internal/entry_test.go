package internal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/relister/internal/control"
	"github.com/starford/relister/internal/scheduler"
	"github.com/starford/relister/internal/sse"
	"github.com/starford/relister/internal/testutil"
)

func testHandler(t *testing.T, token string) http.Handler {
	t.Helper()

	sched := scheduler.New(testutil.Logger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Stop(ctx)
	})
	broker := sse.NewBroker(time.Second, 0)
	t.Cleanup(broker.Close)

	svc := control.New(control.Deps{
		Store:     testutil.TestDB(t),
		Client:    &testutil.FakeClient{},
		Sessions:  &testutil.FakeSessions{},
		Scheduler: sched,
		Logger:    testutil.Logger(),
	}, control.DefaultSettings())

	cfg := NewDefaultConfig()
	if token != "" {
		cfg.Auth = AuthConfig{Mode: AuthModeToken, Token: token}
	}
	return newHTTPHandler(cfg, svc, broker, "test")
}

func TestHealthEndpoints(t *testing.T) {
	h := testHandler(t, "secret")

	for _, path := range []string{"/health/live", "/health/ready"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, w.Code)
		}
	}
}

func TestAPIMountedUnderPrefix(t *testing.T) {
	h := testHandler(t, "")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/keywords", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/api/keywords = %d, want 200", w.Code)
	}
}

func TestMCPRequiresToken(t *testing.T) {
	h := testHandler(t, "secret")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("/mcp without token = %d, want 401", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("/api/jobs without token = %d, want 401", w.Code)
	}
}
