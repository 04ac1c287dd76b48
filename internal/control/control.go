// Package control holds the operator operations shared by the chat panel,
// the HTTP API and the MCP tools.
//
// Authentication and job execution are mutually exclusive: a job cannot be
// enabled while a login flow is mid-flight and a login flow cannot start
// while any job is scheduled.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/starford/relister/internal/apperr"
	"github.com/starford/relister/internal/events"
	"github.com/starford/relister/internal/marketplace"
	"github.com/starford/relister/internal/models"
	"github.com/starford/relister/internal/notify"
	"github.com/starford/relister/internal/scheduler"
	"github.com/starford/relister/internal/store"
	"github.com/starford/relister/internal/worker"
)

// Sessions is the part of storage.SessionStore the service needs.
type Sessions interface {
	Exists() bool
	Clear() error
	LoadIdentity() (*models.Identity, error)
}

// JobSettings configures one job kind.
type JobSettings struct {
	Interval time.Duration
	Options  worker.Options
}

// Settings configures both job kinds.
type Settings struct {
	Reupload JobSettings
	Autolift JobSettings
}

// DefaultSettings mirrors the stock intervals: reupload every 3 minutes,
// autolift every 5.
func DefaultSettings() Settings {
	return Settings{
		Reupload: JobSettings{Interval: 3 * time.Minute, Options: worker.DefaultReuploadOptions},
		Autolift: JobSettings{Interval: 5 * time.Minute, Options: worker.DefaultAutoliftOptions},
	}
}

// Deps are the collaborators of Service.
type Deps struct {
	Store     store.Store
	Client    marketplace.Client
	Sessions  Sessions
	Scheduler *scheduler.Scheduler
	Fixed     worker.FixedList
	Notifier  notify.Notifier
	Admins    []int64
	Events    events.Publisher
	Logger    *slog.Logger
}

// Service implements the operator operations.
type Service struct {
	deps     Deps
	settings Settings

	// workerDeps builds worker collaborators; tests swap Sleep and Now through it.
	workerDeps func() worker.Deps

	mu        sync.Mutex
	authEmail string
	authing   bool
}

// New creates a Service.
func New(deps Deps, settings Settings) *Service {
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard{}
	}
	s := &Service{deps: deps, settings: settings}
	s.workerDeps = func() worker.Deps {
		return worker.Deps{
			Client:   deps.Client,
			Notifier: deps.Notifier,
			Admins:   append([]int64(nil), deps.Admins...),
			Events:   deps.Events,
			Logger:   deps.Logger,
		}
	}
	return s
}

// ResolveJob maps a job name or its short alias to the scheduler name.
func ResolveJob(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case scheduler.JobReupload, "reupload":
		return scheduler.JobReupload, nil
	case scheduler.JobAutolift, "autolift":
		return scheduler.JobAutolift, nil
	default:
		return "", fmt.Errorf("%w: %q", apperr.ErrUnknownJob, name)
	}
}

// JobStatus describes one job kind, enabled or not.
type JobStatus struct {
	Name    string         `json:"name"`
	Enabled bool           `json:"enabled"`
	Job     *scheduler.Job `json:"job,omitempty"`
}

// Jobs reports both job kinds in a stable order.
func (s *Service) Jobs() []JobStatus {
	out := make([]JobStatus, 0, 2)
	for _, name := range []string{scheduler.JobReupload, scheduler.JobAutolift} {
		st := JobStatus{Name: name}
		if j, ok := s.deps.Scheduler.GetJob(name); ok {
			st.Enabled = true
			st.Job = &j
		}
		out = append(out, st)
	}
	return out
}

// JobEnabled reports whether the named job is scheduled.
func (s *Service) JobEnabled(name string) bool {
	_, ok := s.deps.Scheduler.GetJob(name)
	return ok
}

// AnyJobActive reports whether any job is scheduled.
func (s *Service) AnyJobActive() bool {
	return len(s.deps.Scheduler.Jobs()) > 0
}

// EnableJob snapshots the keyword configuration into a worker and schedules it.
//
// Errors: apperr.ErrUnknownJob, apperr.ErrAuthInProgress, apperr.ErrConflict
// (already running), apperr.ErrNotAuthenticated, apperr.ErrNoKeywords.
func (s *Service) EnableJob(ctx context.Context, name string) error {
	name, err := ResolveJob(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.authing {
		return apperr.ErrAuthInProgress
	}
	if s.JobEnabled(name) {
		return fmt.Errorf("job %s: already running: %w", name, apperr.ErrConflict)
	}
	if !s.deps.Sessions.Exists() || !s.deps.Client.CheckAuthenticated(ctx) {
		return apperr.ErrNotAuthenticated
	}

	var (
		handler  scheduler.Handler
		interval time.Duration
		count    int
	)
	switch name {
	case scheduler.JobReupload:
		kws, err := s.deps.Store.ListKeywords(ctx)
		if err != nil {
			return fmt.Errorf("load keywords: %w", err)
		}
		if len(kws) == 0 {
			return apperr.ErrNoKeywords
		}
		texts := make([]string, len(kws))
		for i, k := range kws {
			texts[i] = k.Text
		}
		w := worker.NewReupload(s.workerDeps(), texts, s.deps.Fixed, s.settings.Reupload.Options)
		handler, interval, count = w.Run, s.settings.Reupload.Interval, len(texts)
	case scheduler.JobAutolift:
		kws, err := s.deps.Store.ListAutoliftKeywords(ctx)
		if err != nil {
			return fmt.Errorf("load autolift keywords: %w", err)
		}
		if len(kws) == 0 {
			return apperr.ErrNoKeywords
		}
		w := worker.NewAutolift(s.workerDeps(), kws, s.settings.Autolift.Options)
		handler, interval, count = w.Run, s.settings.Autolift.Interval, len(kws)
	}

	if err := s.deps.Scheduler.AddJob(name, interval, handler); err != nil {
		return err
	}
	s.deps.Logger.Info("job enabled",
		slog.String("job", name),
		slog.Duration("interval", interval),
		slog.Int("keywords", count))
	s.deps.Events.Publish(ctx, events.New(events.JobEnabled, name))
	return nil
}

// DisableJob removes the named job. A job that is not scheduled yields
// apperr.ErrJobNotFound ("already disabled").
func (s *Service) DisableJob(ctx context.Context, name string) error {
	name, err := ResolveJob(name)
	if err != nil {
		return err
	}
	if err := s.deps.Scheduler.RemoveJob(name); err != nil {
		return err
	}
	s.deps.Logger.Info("job disabled", slog.String("job", name))
	s.deps.Events.Publish(ctx, events.New(events.JobDisabled, name))
	return nil
}

// AuthStatus is the marketplace session state seen by operators.
type AuthStatus struct {
	SessionStored bool             `json:"session_stored"`
	Authenticated bool             `json:"authenticated"`
	InProgress    bool             `json:"in_progress"`
	Identity      *models.Identity `json:"identity,omitempty"`
}

// CheckAuth re-validates the stored session against the marketplace.
func (s *Service) CheckAuth(ctx context.Context) AuthStatus {
	s.mu.Lock()
	inProgress := s.authing
	s.mu.Unlock()

	st := AuthStatus{SessionStored: s.deps.Sessions.Exists(), InProgress: inProgress}
	if st.SessionStored {
		st.Authenticated = s.deps.Client.CheckAuthenticated(ctx)
		if id, err := s.deps.Sessions.LoadIdentity(); err == nil {
			st.Identity = id
		}
	}
	return st
}

// SessionStored reports whether a session artifact exists, without network calls.
func (s *Service) SessionStored() bool {
	return s.deps.Sessions.Exists()
}

// BeginAuth enters the email step. It fails with apperr.ErrJobActive while
// any job is scheduled.
func (s *Service) BeginAuth() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AnyJobActive() {
		return apperr.ErrJobActive
	}
	s.authing = true
	s.authEmail = ""
	return nil
}

// UpdateAccount discards the stored session and enters the email step.
func (s *Service) UpdateAccount() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AnyJobActive() {
		return apperr.ErrJobActive
	}
	if err := s.deps.Sessions.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.deps.Logger.Info("marketplace session cleared")
	s.authing = true
	s.authEmail = ""
	return nil
}

// RequestCode sends a login code to email. The flow stays in the email step
// on failure so the operator can retry.
func (s *Service) RequestCode(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("empty email: %w", apperr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AnyJobActive() {
		return apperr.ErrJobActive
	}
	s.authing = true
	if err := s.deps.Client.RequestLoginCode(ctx, email); err != nil {
		s.deps.Logger.Warn("login code request failed", slog.String("error", err.Error()))
		return err
	}
	s.authEmail = email
	return nil
}

// VerifyCode completes the flow started by RequestCode. A rejected code keeps
// the flow in the code step.
func (s *Service) VerifyCode(ctx context.Context, code string) (*models.Identity, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("empty code: %w", apperr.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authEmail == "" {
		return nil, fmt.Errorf("no login code requested: %w", apperr.ErrConflict)
	}
	id, err := s.deps.Client.VerifyLoginCode(ctx, s.authEmail, code)
	if err != nil {
		s.deps.Logger.Warn("login code rejected", slog.String("error", err.Error()))
		return nil, err
	}
	s.authing = false
	s.authEmail = ""
	s.deps.Logger.Info("marketplace authenticated", slog.String("username", id.Username))
	return id, nil
}

// CancelAuth leaves the login flow without touching the stored session.
func (s *Service) CancelAuth() {
	s.mu.Lock()
	s.authing = false
	s.authEmail = ""
	s.mu.Unlock()
}

// RecordUser stores the operator that opened the panel.
func (s *Service) RecordUser(ctx context.Context, tgID int64, username string) error {
	_, err := s.deps.Store.UpsertUser(ctx, strconv.FormatInt(tgID, 10), username)
	return err
}

// Keywords lists the reupload keywords.
func (s *Service) Keywords(ctx context.Context) ([]models.Keyword, error) {
	return s.deps.Store.ListKeywords(ctx)
}

// AddResult reports the outcome of a batch add.
type AddResult struct {
	Added  []string `json:"added"`
	Exists []string `json:"exists,omitempty"`
}

// AddKeywords adds a comma-separated list. Duplicates are reported, not fatal.
func (s *Service) AddKeywords(ctx context.Context, raw string) (AddResult, error) {
	items := SplitList(raw)
	if len(items) == 0 {
		return AddResult{}, fmt.Errorf("no keywords given: %w", apperr.ErrInvalidInput)
	}
	var res AddResult
	for _, item := range items {
		k, err := s.deps.Store.AddKeyword(ctx, item)
		switch {
		case errors.Is(err, apperr.ErrAlreadyExists):
			res.Exists = append(res.Exists, item)
		case err != nil:
			return res, fmt.Errorf("add keyword %q: %w", item, err)
		default:
			res.Added = append(res.Added, k.Text)
		}
	}
	return res, nil
}

// DeleteKeyword removes a reupload keyword by primary key.
func (s *Service) DeleteKeyword(ctx context.Context, pk int64) error {
	return s.deps.Store.DeleteKeyword(ctx, pk)
}

// AutoliftKeywords lists the autolift keywords.
func (s *Service) AutoliftKeywords(ctx context.Context) ([]models.AutoliftKeyword, error) {
	return s.deps.Store.ListAutoliftKeywords(ctx)
}

// AddAutoliftKeywords adds a comma-separated list of keyword:position pairs.
// The whole input is parsed before anything is stored.
func (s *Service) AddAutoliftKeywords(ctx context.Context, raw string) (AddResult, error) {
	pairs, err := ParseAutolift(raw)
	if err != nil {
		return AddResult{}, err
	}
	var res AddResult
	for _, p := range pairs {
		k, err := s.deps.Store.AddAutoliftKeyword(ctx, p.Text, p.Position)
		switch {
		case errors.Is(err, apperr.ErrAlreadyExists):
			res.Exists = append(res.Exists, p.Text)
		case err != nil:
			return res, fmt.Errorf("add autolift keyword %q: %w", p.Text, err)
		default:
			res.Added = append(res.Added, fmt.Sprintf("%s:%d", k.Text, k.Position))
		}
	}
	return res, nil
}

// AddAutoliftKeyword adds a single pair.
func (s *Service) AddAutoliftKeyword(ctx context.Context, text string, position int) (models.AutoliftKeyword, error) {
	return s.deps.Store.AddAutoliftKeyword(ctx, text, position)
}

// DeleteAutoliftKeyword removes an autolift keyword by primary key.
func (s *Service) DeleteAutoliftKeyword(ctx context.Context, pk int64) error {
	return s.deps.Store.DeleteAutoliftKeyword(ctx, pk)
}

// Ready reports whether the persistence backend answers.
func (s *Service) Ready(ctx context.Context) error {
	return s.deps.Store.Ping(ctx)
}
