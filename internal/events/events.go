// Package events defines the job and listing events emitted by workers and
// the control service, and the publishers that fan them out.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names an event kind on the wire.
type Type string

const (
	JobEnabled         Type = "job.enabled"
	JobDisabled        Type = "job.disabled"
	PassStarted        Type = "pass.started"
	PassCompleted      Type = "pass.completed"
	PassFailed         Type = "pass.failed"
	ListingRepublished Type = "listing.republished"
	ListingBoosted     Type = "listing.boosted"
)

// PassStats summarises one worker pass.
type PassStats struct {
	Listed     int `json:"listed"`
	Candidates int `json:"candidates"`
	Acted      int `json:"acted"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Event is a single notification about job or listing activity.
type Event struct {
	ID        string     `json:"id"`
	Type      Type       `json:"type"`
	Job       string     `json:"job,omitempty"`
	RunID     string     `json:"run_id,omitempty"`
	ListingID string     `json:"listing_id,omitempty"`
	Title     string     `json:"title,omitempty"`
	Link      string     `json:"link,omitempty"`
	Error     string     `json:"error,omitempty"`
	Stats     *PassStats `json:"stats,omitempty"`
	At        time.Time  `json:"at"`
}

// New stamps an event with a fresh ID and the current time.
func New(t Type, job string) Event {
	return Event{ID: uuid.NewString(), Type: t, Job: job, At: time.Now().UTC()}
}

// Publisher delivers events. Delivery is best effort and never blocks the caller for long.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Multi fans an event out to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(ctx, e)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) {}

// Recorder keeps published events in memory.
type Recorder struct {
	ch chan Event
}

// NewRecorder buffers up to n events; further events are dropped.
func NewRecorder(n int) *Recorder { return &Recorder{ch: make(chan Event, n)} }

func (r *Recorder) Publish(_ context.Context, e Event) {
	select {
	case r.ch <- e:
	default:
	}
}

// Drain returns every event recorded so far.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-r.ch:
			out = append(out, e)
		default:
			return out
		}
	}
}
