// Package sse streams job and listing activity to HTTP clients as
// Server-Sent Events.
//
// Clients may narrow the stream to one job with ?job=reupload|autolift and
// resume after a reconnect with the standard Last-Event-ID header: the broker
// keeps a short backlog of recent events and replays what the client missed.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/relister/internal/events"
	"github.com/starford/relister/internal/scheduler"
)

// JobsUpdated is a throttled hint that the job list changed and should be refetched.
const JobsUpdated = "jobs.updated"

const (
	clientBuffer = 64
	// backlogSize stays below clientBuffer so a full replay never drops frames.
	backlogSize = 48
)

type client struct {
	ch  chan []byte
	job string
}

type subscription struct {
	client
	lastID string
}

type record struct {
	id  string
	job string
	raw []byte
}

// Broker fans events out to connected clients.
//
// A single loop goroutine owns the client set, the backlog and the
// jobs.updated throttle; public methods talk to it over channels.
type Broker struct {
	jobsMin   time.Duration
	heartbeat time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan events.Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

var _ events.Publisher = (*Broker)(nil)

// NewBroker creates a broker. jobsThrottle bounds the rate of jobs.updated
// hints; heartbeat is the keep-alive comment period (0 disables it).
func NewBroker(jobsThrottle, heartbeat time.Duration) *Broker {
	if jobsThrottle <= 0 {
		jobsThrottle = 2 * time.Second
	}
	b := &Broker{
		jobsMin:       jobsThrottle,
		heartbeat:     heartbeat,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan events.Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

// JobFilter maps the short job aliases accepted in ?job= to scheduler names.
func JobFilter(q string) string {
	switch q = strings.ToLower(strings.TrimSpace(q)); q {
	case "reupload":
		return scheduler.JobReupload
	case "autolift":
		return scheduler.JobAutolift
	default:
		return q
	}
}

func frame(id, typ string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", typ, payload)), nil
	}
	return []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", id, typ, payload)), nil
}

func changesJobs(t events.Type) bool {
	switch t {
	case events.JobEnabled, events.JobDisabled, events.PassCompleted, events.PassFailed:
		return true
	}
	return false
}

func (c client) wants(job string) bool {
	return c.job == "" || job == "" || c.job == job
}

// deliver never blocks: a client with a full buffer misses the frame.
func (c client) deliver(raw []byte) {
	select {
	case c.ch <- raw:
	default:
	}
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]client)
	backlog := make([]record, 0, backlogSize)
	var lastJobs time.Time

	var tick <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	send := func(job string, raw []byte) {
		for _, c := range clients {
			if c.wants(job) {
				c.deliver(raw)
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.client
			if sub.lastID == "" {
				continue
			}
			for i, rec := range backlog {
				if rec.id != sub.lastID {
					continue
				}
				for _, missed := range backlog[i+1:] {
					if sub.wants(missed.job) {
						sub.deliver(missed.raw)
					}
				}
				break
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case e := <-b.publishCh:
			raw, err := frame(e.ID, string(e.Type), e)
			if err != nil {
				continue
			}
			if len(backlog) == backlogSize {
				backlog = append(backlog[:0], backlog[1:]...)
			}
			backlog = append(backlog, record{id: e.ID, job: e.Job, raw: raw})
			send(e.Job, raw)

			if !changesJobs(e.Type) {
				continue
			}
			now := time.Now()
			if now.Sub(lastJobs) >= b.jobsMin {
				lastJobs = now
				if hint, err := frame("", JobsUpdated, map[string]string{"job": e.Job}); err == nil {
					send(e.Job, hint)
				}
			}

		case <-tick:
			send("", []byte(": ping\n\n"))

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client. job narrows delivery to one scheduler job name
// (empty for all); lastID replays backlog events published after it.
func (b *Broker) Subscribe(job, lastID string) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- subscription{client: client{ch: ch, job: job}, lastID: lastID}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish queues an event for all connected clients.
func (b *Broker) Publish(ctx context.Context, e events.Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- e:
	case <-b.stopped:
	case <-ctx.Done():
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(JobFilter(r.URL.Query().Get("job")), r.Header.Get("Last-Event-ID"))
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
