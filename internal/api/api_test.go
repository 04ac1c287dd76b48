package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/starford/relister/internal/control"
	"github.com/starford/relister/internal/scheduler"
	"github.com/starford/relister/internal/testutil"
)

type env struct {
	svc      *control.Service
	client   *testutil.FakeClient
	sessions *testutil.FakeSessions
	router   http.Handler
}

// testEnv builds a control service over a temp SQLite store and an
// in-memory marketplace. An empty token disables auth.
func testEnv(t *testing.T, authToken string) *env {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) *env {
	t.Helper()

	client := &testutil.FakeClient{Authed: true}
	sessions := &testutil.FakeSessions{Stored: true}
	sched := scheduler.New(testutil.Logger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Stop(ctx)
	})

	svc := control.New(control.Deps{
		Store:     testutil.TestDB(t),
		Client:    client,
		Sessions:  sessions,
		Scheduler: sched,
		Logger:    testutil.Logger(),
	}, control.DefaultSettings())

	return &env{
		svc:      svc,
		client:   client,
		sessions: sessions,
		router:   NewRouter(svc, authEnabled, token, sseHandler),
	}
}

func (e *env) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestAddAndListKeywords(t *testing.T) {
	e := testEnv(t, "")

	w := e.do(t, http.MethodPost, "/keywords", map[string]string{"keyword": "sword, shield"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", w.Code, w.Body.String())
	}
	var added AddKeywordsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &added)
	if len(added.Added) != 2 {
		t.Errorf("added = %v, want 2 entries", added.Added)
	}

	w = e.do(t, http.MethodGet, "/keywords", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list KeywordsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Keywords) != 2 || list.Keywords[0].Text != "sword" {
		t.Errorf("keywords = %+v", list.Keywords)
	}
}

func TestAddKeywordsDuplicate(t *testing.T) {
	e := testEnv(t, "")

	if w := e.do(t, http.MethodPost, "/keywords", map[string]string{"keyword": "sword"}, ""); w.Code != http.StatusCreated {
		t.Fatalf("first add = %d", w.Code)
	}
	w := e.do(t, http.MethodPost, "/keywords", map[string]string{"keyword": "SWORD"}, "")
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate add = %d, want 409", w.Code)
	}
	var res AddKeywordsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if len(res.Exists) != 1 {
		t.Errorf("exists = %v, want 1 entry", res.Exists)
	}
}

func TestAddKeywordsValidation(t *testing.T) {
	e := testEnv(t, "")

	if w := e.do(t, http.MethodPost, "/keywords", map[string]string{"keyword": ""}, ""); w.Code != http.StatusBadRequest {
		t.Errorf("empty keyword = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/keywords", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad json = %d, want 400", w.Code)
	}
}

func TestDeleteKeyword(t *testing.T) {
	e := testEnv(t, "")
	ctx := context.Background()

	if _, err := e.svc.AddKeywords(ctx, "sword"); err != nil {
		t.Fatal(err)
	}
	kws, _ := e.svc.Keywords(ctx)
	path := "/keywords/" + strconv.FormatInt(kws[0].PK, 10)

	if w := e.do(t, http.MethodDelete, path, nil, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d, want 204", w.Code)
	}
	if w := e.do(t, http.MethodDelete, path, nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("delete again = %d, want 404", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/keywords/abc", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad pk = %d, want 400", w.Code)
	}
}

func TestAutoliftKeywords(t *testing.T) {
	e := testEnv(t, "")

	body := map[string]any{"keyword": "bobr", "position": 20}
	w := e.do(t, http.MethodPost, "/autolift-keywords", body, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("add = %d, body = %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodPost, "/autolift-keywords", body, ""); w.Code != http.StatusConflict {
		t.Errorf("duplicate = %d, want 409", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/autolift-keywords", map[string]any{"keyword": "x", "position": 0}, ""); w.Code != http.StatusBadRequest {
		t.Errorf("position 0 = %d, want 400", w.Code)
	}

	w = e.do(t, http.MethodGet, "/autolift-keywords", nil, "")
	var list AutoliftKeywordsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Keywords) != 1 || list.Keywords[0].Position != 20 {
		t.Fatalf("autolift keywords = %+v", list.Keywords)
	}

	path := "/autolift-keywords/" + strconv.FormatInt(list.Keywords[0].PK, 10)
	if w := e.do(t, http.MethodDelete, path, nil, ""); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}
}

func TestListKeywordsEmptyIsArray(t *testing.T) {
	e := testEnv(t, "")

	w := e.do(t, http.MethodGet, "/keywords", nil, "")
	if got := w.Body.String(); got != "{\"keywords\":[]}\n" {
		t.Errorf("body = %q", got)
	}
}

func TestEnableJobRequiresKeywords(t *testing.T) {
	e := testEnv(t, "")

	if w := e.do(t, http.MethodPut, "/jobs/reupload", nil, ""); w.Code != http.StatusPreconditionFailed {
		t.Errorf("no keywords = %d, want 412", w.Code)
	}
}

func TestEnableJobRequiresSession(t *testing.T) {
	e := testEnv(t, "")
	if _, err := e.svc.AddKeywords(context.Background(), "sword"); err != nil {
		t.Fatal(err)
	}
	e.client.SetAuthed(false)

	if w := e.do(t, http.MethodPut, "/jobs/reupload", nil, ""); w.Code != http.StatusPreconditionFailed {
		t.Errorf("expired session = %d, want 412", w.Code)
	}
}

func TestEnableDisableJob(t *testing.T) {
	e := testEnv(t, "")
	if _, err := e.svc.AddKeywords(context.Background(), "sword"); err != nil {
		t.Fatal(err)
	}

	if w := e.do(t, http.MethodPut, "/jobs/reupload", nil, ""); w.Code != http.StatusNoContent {
		t.Fatalf("enable = %d, body = %s", w.Code, w.Body.String())
	}
	if w := e.do(t, http.MethodPut, "/jobs/reupload", nil, ""); w.Code != http.StatusConflict {
		t.Errorf("enable twice = %d, want 409", w.Code)
	}

	w := e.do(t, http.MethodGet, "/jobs", nil, "")
	var jobs JobsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &jobs)
	if len(jobs.Jobs) != 2 || !jobs.Jobs[0].Enabled || jobs.Jobs[1].Enabled {
		t.Errorf("jobs = %+v", jobs.Jobs)
	}

	if w := e.do(t, http.MethodDelete, "/jobs/reupload", nil, ""); w.Code != http.StatusNoContent {
		t.Errorf("disable = %d, want 204", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/jobs/reupload", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("disable twice = %d, want 404", w.Code)
	}
}

func TestUnknownJob(t *testing.T) {
	e := testEnv(t, "")

	if w := e.do(t, http.MethodPut, "/jobs/mining", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("unknown job = %d, want 400", w.Code)
	}
}

func TestAuthStatus(t *testing.T) {
	e := testEnv(t, "")

	w := e.do(t, http.MethodGet, "/auth", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("auth = %d", w.Code)
	}
	var st AuthStatusResponse
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if !st.SessionStored || !st.Authenticated {
		t.Errorf("status = %+v", st)
	}

	e.sessions.Clear()
	w = e.do(t, http.MethodGet, "/auth", nil, "")
	st = AuthStatusResponse{}
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if st.SessionStored || st.Authenticated {
		t.Errorf("cleared status = %+v", st)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	e := testEnv(t, "secret123")

	w := e.do(t, http.MethodPost, "/keywords", map[string]string{"keyword": "sword"}, "secret123")
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	e := testEnv(t, "secret123")

	if w := e.do(t, http.MethodGet, "/keywords", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	e := testEnv(t, "secret123")

	if w := e.do(t, http.MethodGet, "/keywords", nil, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	e := testEnv(t, "")

	if w := e.do(t, http.MethodGet, "/keywords", nil, ""); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_QueryTokenOnlyForGet(t *testing.T) {
	e := testEnv(t, "secret123")

	w := e.do(t, http.MethodGet, "/keywords?access_token=secret123", nil, "")
	if w.Code != http.StatusOK {
		t.Errorf("GET with query token = %d, want 200", w.Code)
	}
	w = e.do(t, http.MethodPost, "/keywords?access_token=secret123", map[string]string{"keyword": "axe"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("POST with query token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_HeaderWinsOverQuery(t *testing.T) {
	e := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/keywords?access_token=secret123", nil)
	req.Header.Set("Authorization", "Basic c2VjcmV0MTIz")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("non-bearer header = %d, want 401", w.Code)
	}
}

// SSE endpoint auth tests.

// sseStub writes stream headers and blocks until the request context ends.
var sseStub = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	e := testEnvWithSSE(t, true, "secret", sseStub)

	if w := e.do(t, http.MethodGet, "/events", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	e := testEnvWithSSE(t, true, "tok", sseStub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}

func TestSSEEvents_NotMounted(t *testing.T) {
	e := testEnv(t, "")

	if w := e.do(t, http.MethodGet, "/events", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("SSE without handler = %d, want 404", w.Code)
	}
}
