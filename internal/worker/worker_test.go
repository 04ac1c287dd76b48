package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/starford/relister/internal/apperr"
	"github.com/starford/relister/internal/events"
	"github.com/starford/relister/internal/models"
	"github.com/starford/relister/internal/testutil"
)

var now = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

// fakeClient is a scripted marketplace.Client.
type fakeClient struct {
	mu        sync.Mutex
	listings  []models.Listing
	listErr   error
	ranks     map[string]int
	offers    map[string]*models.PriorityOffer
	actErr    map[string]error
	panicList bool

	republished []string
	boosted     []string
	rankCalls   []string
	statuses    [][]models.ListingStatus

	// during runs inside Boost and Republish before the action is recorded.
	during func(ctx context.Context)
}

func (f *fakeClient) RequestLoginCode(context.Context, string) error { return nil }
func (f *fakeClient) VerifyLoginCode(context.Context, string, string) (*models.Identity, error) {
	return &models.Identity{}, nil
}
func (f *fakeClient) CheckAuthenticated(context.Context) bool { return true }
func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) ListItems(_ context.Context, st []models.ListingStatus) ([]models.Listing, error) {
	if f.panicList {
		panic("decoder exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, st)
	return append([]models.Listing(nil), f.listings...), f.listErr
}

func (f *fakeClient) GetListingRank(_ context.Context, id, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rankCalls = append(f.rankCalls, id)
	r, ok := f.ranks[id]
	if !ok {
		return 0, apperr.ErrNotFound
	}
	return r, nil
}

func (f *fakeClient) GetPriorityStatus(_ context.Context, id string, _ int) (*models.PriorityOffer, error) {
	if o, ok := f.offers[id]; ok {
		return o, nil
	}
	return &models.PriorityOffer{ID: "ps-" + id, Name: "Premium"}, nil
}

func (f *fakeClient) Boost(ctx context.Context, l models.Listing, _ string) (*models.ActionResult, error) {
	if f.during != nil {
		f.during(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.actErr[l.ID]; err != nil {
		return nil, err
	}
	f.boosted = append(f.boosted, l.ID)
	return &models.ActionResult{ListingID: l.ID, Link: "https://m.example/products/" + l.Slug}, nil
}

func (f *fakeClient) Republish(ctx context.Context, l models.Listing, _ string) (*models.ActionResult, error) {
	if f.during != nil {
		f.during(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.actErr[l.ID]; err != nil {
		return nil, err
	}
	f.republished = append(f.republished, l.ID)
	return &models.ActionResult{ListingID: l.ID, Link: "https://m.example/products/" + l.Slug, Photo: models.Photo{Bytes: []byte("png")}}, nil
}

type sentPhoto struct {
	to      int64
	caption string
	photo   models.Photo
}

type fakeNotifier struct {
	mu     sync.Mutex
	photos []sentPhoto
	texts  []string
	failTo map[int64]bool
}

func (n *fakeNotifier) SendPhoto(ctx context.Context, to int64, p models.Photo, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failTo[to] {
		return errors.New("blocked")
	}
	n.photos = append(n.photos, sentPhoto{to: to, caption: caption, photo: p})
	return nil
}

func (n *fakeNotifier) SendText(_ context.Context, to int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

type sleepLog struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()
	return ctx.Err()
}

func listing(id, title string, age time.Duration) models.Listing {
	return models.Listing{ID: id, Title: title, Slug: id, CreatedAt: now.Add(-age), RawPrice: 100}
}

func testDeps(c *fakeClient, n *fakeNotifier, rec *events.Recorder, s *sleepLog) Deps {
	return Deps{
		Client:   c,
		Notifier: n,
		Admins:   []int64{101, 202},
		Events:   rec,
		Logger:   testutil.Logger(),
		Sleep:    s.sleep,
		Now:      func() time.Time { return now },
	}
}

func TestReupload_WindowAndKeywordScenario(t *testing.T) {
	c := &fakeClient{listings: []models.Listing{
		listing("sword", "Epic Sword", 2*time.Hour),
		listing("shield", "Old Shield", 100*time.Hour),
	}}
	n := &fakeNotifier{}
	rec := events.NewRecorder(32)
	s := &sleepLog{}

	w := NewReupload(testDeps(c, n, rec, s), []string{"sword"}, nil, DefaultReuploadOptions)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(c.republished) != 1 || c.republished[0] != "sword" {
		t.Fatalf("republished = %v, want [sword]", c.republished)
	}
	if len(n.photos) != 2 {
		t.Fatalf("photos = %d, want one per admin", len(n.photos))
	}
	if string(n.photos[0].photo.Bytes) != "png" {
		t.Errorf("photo = %+v", n.photos[0].photo)
	}
	if len(c.statuses) != 1 || len(c.statuses[0]) != 2 {
		t.Errorf("statuses requested = %v", c.statuses)
	}

	// Start jitter only; a single candidate needs no pause between listings.
	if len(s.calls) != 1 {
		t.Fatalf("sleeps = %v", s.calls)
	}
	if d := s.calls[0]; d < 20*time.Second || d > 60*time.Second {
		t.Errorf("start jitter %v outside 20-60s", d)
	}

	var types []events.Type
	for _, e := range rec.Drain() {
		types = append(types, e.Type)
	}
	want := []events.Type{events.PassStarted, events.ListingRepublished, events.PassCompleted}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestReupload_EmptyKeywordsActOnNothing(t *testing.T) {
	c := &fakeClient{listings: []models.Listing{listing("a", "Anything", time.Hour)}}
	w := NewReupload(testDeps(c, &fakeNotifier{}, events.NewRecorder(8), &sleepLog{}), nil, nil, DefaultReuploadOptions)
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(c.republished) != 0 {
		t.Errorf("republished = %v, want none", c.republished)
	}
}

func TestReupload_UnavailablePrioritySkipsSilently(t *testing.T) {
	c := &fakeClient{
		listings: []models.Listing{
			listing("a", "Sword A", time.Hour),
			listing("b", "Sword B", time.Hour),
		},
		offers: map[string]*models.PriorityOffer{"a": nil},
	}
	n := &fakeNotifier{}
	s := &sleepLog{}
	w := NewReupload(testDeps(c, n, events.NewRecorder(16), s), []string{"SWORD"}, nil, DefaultReuploadOptions)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("pass should complete: %v", err)
	}
	if len(c.republished) != 1 || c.republished[0] != "b" {
		t.Errorf("republished = %v, want [b]", c.republished)
	}
	for _, p := range n.photos {
		if p.caption == "" {
			t.Error("empty caption")
		}
	}
	if len(n.photos) != 2 {
		t.Errorf("photos = %d, want 2 (only for b)", len(n.photos))
	}
	// Start jitter plus one pause between the two candidates.
	if len(s.calls) != 2 {
		t.Fatalf("sleeps = %v", s.calls)
	}
	if d := s.calls[1]; d < 5*time.Second || d > 10*time.Second {
		t.Errorf("step jitter %v outside 5-10s", d)
	}
}

func TestReupload_FixedListAndFailuresContinue(t *testing.T) {
	c := &fakeClient{
		listings: []models.Listing{
			listing("a", "Sword A", time.Hour),
			listing("b", "Sword B", time.Hour),
			listing("c", "Sword C", time.Hour),
		},
		actErr: map[string]error{"b": errors.New("http 502")},
	}
	fixed := fixedSet{"a": true}
	n := &fakeNotifier{failTo: map[int64]bool{101: true}}
	rec := events.NewRecorder(16)
	w := NewReupload(testDeps(c, n, rec, &sleepLog{}), []string{"sword"}, fixed, DefaultReuploadOptions)
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(c.republished) != 1 || c.republished[0] != "c" {
		t.Errorf("republished = %v, want [c]", c.republished)
	}
	if len(n.photos) != 1 || n.photos[0].to != 202 {
		t.Errorf("photos = %+v, want only admin 202 served", n.photos)
	}
	evs := rec.Drain()
	last := evs[len(evs)-1]
	if last.Type != events.PassCompleted || last.Stats == nil {
		t.Fatalf("last event = %+v", last)
	}
	if last.Stats.Acted != 1 || last.Stats.Failed != 1 || last.Stats.Skipped != 1 {
		t.Errorf("stats = %+v", *last.Stats)
	}
}

type fixedSet map[string]bool

func (f fixedSet) Contains(keys ...string) bool {
	for _, k := range keys {
		if f[k] {
			return true
		}
	}
	return false
}

func TestReupload_KeywordSnapshot(t *testing.T) {
	kws := []string{"sword"}
	c := &fakeClient{listings: []models.Listing{listing("a", "Epic Sword", time.Hour)}}
	w := NewReupload(testDeps(c, &fakeNotifier{}, events.NewRecorder(8), &sleepLog{}), kws, nil, DefaultReuploadOptions)
	kws[0] = "shield"
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(c.republished) != 1 {
		t.Error("worker should use the keywords captured at construction")
	}
}

func TestAutolift_ThresholdScenario(t *testing.T) {
	cases := []struct {
		name      string
		rank      int
		wantBoost bool
	}{
		{"drifted below", 35, true},
		{"above threshold", 15, false},
		{"exactly at threshold", 20, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &fakeClient{
				listings: []models.Listing{listing("g", "bobr gold", time.Hour)},
				ranks:    map[string]int{"g": tc.rank},
			}
			n := &fakeNotifier{}
			kws := []models.AutoliftKeyword{{Text: "bobr", Position: 20}}
			w := NewAutolift(testDeps(c, n, events.NewRecorder(8), &sleepLog{}), kws, DefaultAutoliftOptions)
			if err := w.Run(context.Background()); err != nil {
				t.Fatal(err)
			}
			if got := len(c.boosted) == 1; got != tc.wantBoost {
				t.Errorf("boosted = %v, want boost %v", c.boosted, tc.wantBoost)
			}
			if tc.wantBoost && len(n.photos) != 2 {
				t.Errorf("photos = %d", len(n.photos))
			}
			if !tc.wantBoost && len(n.photos) != 0 {
				t.Errorf("no notification expected, got %d", len(n.photos))
			}
		})
	}
}

func TestAutolift_WindowMissingRankAndSingleAction(t *testing.T) {
	c := &fakeClient{
		listings: []models.Listing{
			listing("old", "bobr old", 80*time.Hour),
			listing("norank", "bobr silver", time.Hour),
			listing("multi", "bobr gold coin", time.Hour),
		},
		ranks: map[string]int{"old": 99, "multi": 50},
	}
	kws := []models.AutoliftKeyword{{Text: "bobr", Position: 20}, {Text: "gold", Position: 10}}
	w := NewAutolift(testDeps(c, &fakeNotifier{}, events.NewRecorder(16), &sleepLog{}), kws, DefaultAutoliftOptions)
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(c.boosted) != 1 || c.boosted[0] != "multi" {
		t.Errorf("boosted = %v, want [multi] once", c.boosted)
	}
	for _, id := range c.rankCalls {
		if id == "old" {
			t.Error("listing outside the 72h window must not be ranked")
		}
	}
	if len(c.statuses) != 1 || c.statuses[0][0] != models.StatusApproved {
		t.Errorf("statuses = %v", c.statuses)
	}
}

func TestFailureStreakNotifiesOnce(t *testing.T) {
	c := &fakeClient{listErr: errors.New("timeout")}
	n := &fakeNotifier{}
	opts := DefaultReuploadOptions
	opts.FailureThreshold = 3
	w := NewReupload(testDeps(c, n, events.NewRecorder(64), &sleepLog{}), []string{"x"}, nil, opts)

	for i := 0; i < 5; i++ {
		if err := w.Run(context.Background()); err == nil {
			t.Fatal("failed listing fetch should fail the pass")
		}
	}
	if w.Streak() != 5 {
		t.Errorf("streak = %d", w.Streak())
	}
	if len(n.texts) != 2 {
		t.Errorf("texts = %d, want one per admin exactly once", len(n.texts))
	}

	c.listErr = nil
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if w.Streak() != 0 {
		t.Errorf("streak after success = %d", w.Streak())
	}
}

func TestPanicIsCaughtAtPassBoundary(t *testing.T) {
	c := &fakeClient{panicList: true}
	rec := events.NewRecorder(8)
	w := NewAutolift(testDeps(c, &fakeNotifier{}, rec, &sleepLog{}), []models.AutoliftKeyword{{Text: "x", Position: 1}}, DefaultAutoliftOptions)
	err := w.Run(context.Background())
	if err == nil {
		t.Fatal("panic should surface as an error")
	}
	if w.Streak() != 1 {
		t.Errorf("streak = %d", w.Streak())
	}
	evs := rec.Drain()
	if evs[len(evs)-1].Type != events.PassFailed {
		t.Errorf("last event = %s", evs[len(evs)-1].Type)
	}
}

func TestCancelledPassIsNotAFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &fakeClient{}
	w := NewReupload(testDeps(c, &fakeNotifier{}, events.NewRecorder(8), &sleepLog{}), []string{"x"}, nil, DefaultReuploadOptions)
	if err := w.Run(ctx); err != nil {
		t.Fatalf("cancelled pass err = %v", err)
	}
	if w.Streak() != 0 {
		t.Error("cancellation must not count as failure")
	}
	if len(c.statuses) != 0 {
		t.Error("no listing fetch after cancellation")
	}
}

func TestDisableDuringBoostFinishesTheListing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &fakeClient{
		listings: []models.Listing{
			listing("first", "bobr gold", time.Hour),
			listing("second", "bobr silver", time.Hour),
		},
		ranks: map[string]int{"first": 50, "second": 50},
	}
	c.during = func(context.Context) {
		cancel()
		// The request is still in flight when the job is removed.
		time.Sleep(20 * time.Millisecond)
	}
	n := &fakeNotifier{}
	kws := []models.AutoliftKeyword{{Text: "bobr", Position: 20}}
	w := NewAutolift(testDeps(c, n, events.NewRecorder(16), &sleepLog{}), kws, DefaultAutoliftOptions)

	if err := w.Run(ctx); err != nil {
		t.Fatalf("cancelled pass err = %v", err)
	}
	if len(c.boosted) != 1 || c.boosted[0] != "first" {
		t.Errorf("boosted = %v, want [first]", c.boosted)
	}
	if len(n.photos) != 2 {
		t.Errorf("photos = %d, want one per admin for the finished boost", len(n.photos))
	}
	for _, id := range c.rankCalls {
		if id == "second" {
			t.Error("next listing must not start after the job is disabled")
		}
	}
	if w.Streak() != 0 {
		t.Error("a disabled pass is not a failure")
	}
}

func TestDisableDuringRepublishFinishesTheListing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &fakeClient{
		listings: []models.Listing{
			listing("a", "Epic Sword", time.Hour),
			listing("b", "Rare Sword", time.Hour),
		},
	}
	c.during = func(context.Context) { cancel() }
	n := &fakeNotifier{}
	w := NewReupload(testDeps(c, n, events.NewRecorder(16), &sleepLog{}), []string{"sword"}, nil, DefaultReuploadOptions)

	if err := w.Run(ctx); err != nil {
		t.Fatalf("cancelled pass err = %v", err)
	}
	if len(c.republished) != 1 || c.republished[0] != "a" {
		t.Errorf("republished = %v, want [a]", c.republished)
	}
	if len(n.photos) != 2 {
		t.Errorf("photos = %d, want 2", len(n.photos))
	}
}
