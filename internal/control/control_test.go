package control

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/starford/relister/internal/apperr"
	"github.com/starford/relister/internal/events"
	"github.com/starford/relister/internal/models"
	"github.com/starford/relister/internal/scheduler"
	"github.com/starford/relister/internal/testutil"
	"github.com/starford/relister/internal/worker"
)

type fakeClient struct {
	mu         sync.Mutex
	authed     bool
	requestErr error
	verifyErr  error
	listings   []models.Listing
	republish  []string
	emails     []string
}

func (f *fakeClient) RequestLoginCode(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails = append(f.emails, email)
	return f.requestErr
}

func (f *fakeClient) VerifyLoginCode(_ context.Context, email, _ string) (*models.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	f.authed = true
	return &models.Identity{ID: "u-1", Username: email}, nil
}

func (f *fakeClient) CheckAuthenticated(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authed
}

func (f *fakeClient) ListItems(context.Context, []models.ListingStatus) ([]models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Listing(nil), f.listings...), nil
}

func (f *fakeClient) GetListingRank(context.Context, string, string) (int, error) {
	return 0, apperr.ErrNotFound
}

func (f *fakeClient) GetPriorityStatus(_ context.Context, id string, _ int) (*models.PriorityOffer, error) {
	return &models.PriorityOffer{ID: "ps-" + id}, nil
}

func (f *fakeClient) Boost(context.Context, models.Listing, string) (*models.ActionResult, error) {
	return nil, apperr.ErrUnsupported
}

func (f *fakeClient) Republish(_ context.Context, l models.Listing, _ string) (*models.ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.republish = append(f.republish, l.Title)
	return &models.ActionResult{ListingID: l.ID}, nil
}

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) republished() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.republish...)
}

type fakeSessions struct {
	mu      sync.Mutex
	stored  bool
	cleared int
}

func (s *fakeSessions) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored
}

func (s *fakeSessions) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = false
	s.cleared++
	return nil
}

func (s *fakeSessions) LoadIdentity() (*models.Identity, error) {
	if !s.Exists() {
		return nil, apperr.ErrNotFound
	}
	return &models.Identity{ID: "u-1", Username: "seller"}, nil
}

type fixture struct {
	svc      *Service
	client   *fakeClient
	sessions *fakeSessions
	sched    *scheduler.Scheduler
	rec      *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := &fakeClient{authed: true}
	sessions := &fakeSessions{stored: true}
	sched := scheduler.New(testutil.Logger())
	rec := events.NewRecorder(64)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Stop(ctx)
	})

	settings := Settings{
		Reupload: JobSettings{Interval: time.Second, Options: worker.Options{Window: 48 * time.Hour, FailureThreshold: 10}},
		Autolift: JobSettings{Interval: time.Second, Options: worker.Options{Window: 72 * time.Hour, FailureThreshold: 10}},
	}
	svc := New(Deps{
		Store:     testutil.TestDB(t),
		Client:    client,
		Sessions:  sessions,
		Scheduler: sched,
		Admins:    []int64{1},
		Events:    rec,
		Logger:    testutil.Logger(),
	}, settings)
	inner := svc.workerDeps
	svc.workerDeps = func() worker.Deps {
		d := inner()
		d.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
		return d
	}
	return &fixture{svc: svc, client: client, sessions: sessions, sched: sched, rec: rec}
}

func TestEnableJobGates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.svc.EnableJob(ctx, "nope"); !errors.Is(err, apperr.ErrUnknownJob) {
		t.Errorf("unknown job err = %v", err)
	}
	if err := f.svc.EnableJob(ctx, "reupload"); !errors.Is(err, apperr.ErrNoKeywords) {
		t.Errorf("no keywords err = %v, want ErrNoKeywords", err)
	}

	if _, err := f.svc.AddKeywords(ctx, "sword"); err != nil {
		t.Fatal(err)
	}
	f.sessions.Clear()
	if err := f.svc.EnableJob(ctx, "reupload"); !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Errorf("missing session err = %v, want ErrNotAuthenticated", err)
	}

	f.sessions.stored = true
	if err := f.svc.EnableJob(ctx, "reupload"); err != nil {
		t.Fatalf("EnableJob: %v", err)
	}
	if err := f.svc.EnableJob(ctx, scheduler.JobReupload); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second enable err = %v, want ErrConflict", err)
	}
	if !f.svc.JobEnabled(scheduler.JobReupload) {
		t.Error("job not scheduled")
	}

	if err := f.svc.DisableJob(ctx, "reupload"); err != nil {
		t.Fatalf("DisableJob: %v", err)
	}
	if err := f.svc.DisableJob(ctx, "reupload"); !errors.Is(err, apperr.ErrJobNotFound) {
		t.Errorf("second disable err = %v, want ErrJobNotFound", err)
	}

	var types []events.Type
	for _, e := range f.rec.Drain() {
		types = append(types, e.Type)
	}
	if len(types) != 2 || types[0] != events.JobEnabled || types[1] != events.JobDisabled {
		t.Errorf("events = %v", types)
	}
}

func TestEnableRefusesExpiredSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.authed = false
	if _, err := f.svc.AddAutoliftKeywords(ctx, "bobr:20"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.EnableJob(ctx, "autolift"); !errors.Is(err, apperr.ErrNotAuthenticated) {
		t.Errorf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestAuthAndJobsAreMutuallyExclusive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.svc.AddKeywords(ctx, "sword"); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.BeginAuth(); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.EnableJob(ctx, "reupload"); !errors.Is(err, apperr.ErrAuthInProgress) {
		t.Errorf("enable during auth err = %v, want ErrAuthInProgress", err)
	}
	f.svc.CancelAuth()

	if err := f.svc.EnableJob(ctx, "reupload"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.BeginAuth(); !errors.Is(err, apperr.ErrJobActive) {
		t.Errorf("auth while job active err = %v, want ErrJobActive", err)
	}
	if err := f.svc.UpdateAccount(); !errors.Is(err, apperr.ErrJobActive) {
		t.Errorf("update account while job active err = %v", err)
	}
	if err := f.svc.RequestCode(ctx, "a@b.c"); !errors.Is(err, apperr.ErrJobActive) {
		t.Errorf("request code while job active err = %v", err)
	}
	if f.sessions.cleared != 0 {
		t.Error("session cleared despite active job")
	}
}

func TestLoginFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sessions.stored = false

	if _, err := f.svc.VerifyCode(ctx, "1234"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("verify before request err = %v, want ErrConflict", err)
	}
	if err := f.svc.RequestCode(ctx, "  "); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("blank email err = %v", err)
	}

	f.client.requestErr = apperr.ErrUnknownEmail
	if err := f.svc.RequestCode(ctx, "who@x.y"); !errors.Is(err, apperr.ErrUnknownEmail) {
		t.Errorf("err = %v, want ErrUnknownEmail", err)
	}
	if !f.svc.CheckAuth(ctx).InProgress {
		t.Error("failed email step should stay in progress")
	}

	f.client.requestErr = nil
	if err := f.svc.RequestCode(ctx, " seller@x.y "); err != nil {
		t.Fatal(err)
	}
	f.client.verifyErr = apperr.ErrInvalidCode
	if _, err := f.svc.VerifyCode(ctx, "0000"); !errors.Is(err, apperr.ErrInvalidCode) {
		t.Errorf("err = %v, want ErrInvalidCode", err)
	}

	f.client.verifyErr = nil
	id, err := f.svc.VerifyCode(ctx, "1234")
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if id.Username != "seller@x.y" {
		t.Errorf("identity = %+v, want trimmed email passed through", id)
	}
	if f.svc.CheckAuth(ctx).InProgress {
		t.Error("flow should end after a successful verify")
	}
}

func TestUpdateAccountClearsSession(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.UpdateAccount(); err != nil {
		t.Fatal(err)
	}
	if f.sessions.Exists() || f.sessions.cleared != 1 {
		t.Error("session not cleared")
	}
	st := f.svc.CheckAuth(context.Background())
	if st.SessionStored || st.Authenticated || !st.InProgress {
		t.Errorf("status = %+v", st)
	}
}

func TestKeywordBatchAdd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.AddKeywords(ctx, "sword, shield,, ,sword")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Added) != 2 || len(res.Exists) != 1 || res.Exists[0] != "sword" {
		t.Errorf("result = %+v", res)
	}
	if _, err := f.svc.AddKeywords(ctx, " , "); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("blank list err = %v", err)
	}

	kws, _ := f.svc.Keywords(ctx)
	if err := f.svc.DeleteKeyword(ctx, kws[0].PK); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.DeleteKeyword(ctx, kws[0].PK); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	res, err = f.svc.AddAutoliftKeywords(ctx, "bobr:20, gold : 5")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Added) != 2 || res.Added[1] != "gold:5" {
		t.Errorf("autolift result = %+v", res)
	}
	if _, err := f.svc.AddAutoliftKeywords(ctx, "silver:0"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("zero position err = %v", err)
	}
}

func TestEnabledJobUsesKeywordSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.client.listings = []models.Listing{
		{ID: "1", Title: "Epic Sword", Status: models.StatusCompleted},
		{ID: "2", Title: "Old Shield", Status: models.StatusCompleted},
	}
	if _, err := f.svc.AddKeywords(ctx, "sword"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.EnableJob(ctx, "reupload"); err != nil {
		t.Fatal(err)
	}
	// Edits after enabling must not reach the running job.
	if _, err := f.svc.AddKeywords(ctx, "shield"); err != nil {
		t.Fatal(err)
	}
	f.sched.Start()

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return len(f.client.republished()) > 0
	}, "reupload pass did not run")
	for _, title := range f.client.republished() {
		if title != "Epic Sword" {
			t.Errorf("republished %q, want only Epic Sword", title)
		}
	}
}
