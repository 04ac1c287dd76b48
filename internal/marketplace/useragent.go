package marketplace

import (
	"log/slog"
	"sync"

	"github.com/starford/relister/internal/storage"
)

// DefaultUserAgents is the identity pool used when configuration supplies none.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.2478.80",
}

// DefaultRotateEvery is the number of calls served by one identity before rotating.
const DefaultRotateEvery = 30

// Rotator hands out browser identity strings, switching to the next one after
// every N calls or immediately after a failed call. The counter is persisted
// so rotation cadence survives restarts.
type Rotator struct {
	agents []string
	every  int
	store  *storage.CounterStore
	logger *slog.Logger

	mu  sync.Mutex
	ctr storage.Counter
}

// NewRotator loads the persisted counter. A counter that cannot be read
// starts from zero rather than failing the client.
func NewRotator(agents []string, every int, store *storage.CounterStore, logger *slog.Logger) *Rotator {
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	if every <= 0 {
		every = DefaultRotateEvery
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Rotator{agents: agents, every: every, store: store, logger: logger}
	if store != nil {
		ctr, err := store.Load()
		if err != nil {
			logger.Warn("user-agent counter unreadable, starting fresh", slog.String("error", err.Error()))
		}
		r.ctr = ctr
	}
	r.ctr.Agent %= len(agents)
	if r.ctr.Agent < 0 {
		r.ctr.Agent = 0
	}
	return r
}

// Current returns the identity string for the next request.
func (r *Rotator) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agents[r.ctr.Agent]
}

// Tick records a successful call and rotates once the threshold is reached.
func (r *Rotator) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctr.Calls++
	if r.ctr.Calls >= r.every {
		r.rotateLocked("threshold")
	}
	r.persistLocked()
}

// Fail rotates immediately after an HTTP failure.
func (r *Rotator) Fail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rotateLocked("failure")
	r.persistLocked()
}

// Snapshot returns the current counter state.
func (r *Rotator) Snapshot() storage.Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctr
}

func (r *Rotator) rotateLocked(reason string) {
	r.ctr.Calls = 0
	r.ctr.Agent = (r.ctr.Agent + 1) % len(r.agents)
	r.logger.Debug("user-agent rotated", slog.String("reason", reason), slog.Int("agent", r.ctr.Agent))
}

func (r *Rotator) persistLocked() {
	if r.store == nil {
		return
	}
	if err := r.store.Save(r.ctr); err != nil {
		r.logger.Warn("persist user-agent counter failed", slog.String("error", err.Error()))
	}
}
