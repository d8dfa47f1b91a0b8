package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tubealert/tubealert/internal/db"
	"github.com/tubealert/tubealert/internal/log"
	"github.com/tubealert/tubealert/internal/source"
)

// Registry errors surfaced to the API layer.
var (
	ErrNotMonitoring       = errors.New("channel is not being monitored")
	ErrMaxMonitorsExceeded = errors.New("maximum number of concurrent monitors reached")
)

// SetupOutcome says what Setup actually did.
type SetupOutcome string

const (
	OutcomeStarted           SetupOutcome = "started"
	OutcomeReplaced          SetupOutcome = "replaced"
	OutcomeAlreadyMonitoring SetupOutcome = "already_monitoring"
)

// Registry owns the set of live monitoring instances, keyed by normalized
// channel handle. All mutations go through the registry so that handle
// uniqueness and the concurrency cap hold.
type Registry struct {
	src         InstanceSourceFactory
	shortener   Shortener
	sender      WebhookSender
	store       Store
	scheduler   Scheduler
	maxErrors   int
	maxMonitors int

	mu        sync.Mutex
	instances map[string]*Instance
}

// InstanceSourceFactory yields the content source a new instance polls
// through. A plain Source-returning func keeps tests trivial to wire.
type InstanceSourceFactory func() source.Source

// NewRegistry builds an empty registry.
func NewRegistry(
	src InstanceSourceFactory,
	short Shortener,
	sender WebhookSender,
	store Store,
	scheduler Scheduler,
	maxErrors int,
	maxMonitors int,
) *Registry {
	return &Registry{
		src:         src,
		shortener:   short,
		sender:      sender,
		store:       store,
		scheduler:   scheduler,
		maxErrors:   maxErrors,
		maxMonitors: maxMonitors,
		instances:   make(map[string]*Instance),
	}
}

// Setup registers a channel for monitoring. The handle is normalized and
// the config validated before anything starts. Behavior on an existing
// handle depends on the config:
//   - identical config: no-op, OutcomeAlreadyMonitoring
//   - different config: the running instance is replaced; last-known
//     state is preserved for content types present in both configs
func (r *Registry) Setup(ctx context.Context, cfg *db.ChannelConfig) (SetupOutcome, error) {
	handle, err := db.NormalizeHandle(cfg.ChannelHandle)
	if err != nil {
		return "", err
	}
	cfg.ChannelHandle = handle

	if err := cfg.Validate(); err != nil {
		return "", err
	}

	r.mu.Lock()
	existing, ok := r.instances[handle]
	ok = ok && existing != nil
	if ok && existing.Config().Equal(cfg) {
		r.mu.Unlock()
		return OutcomeAlreadyMonitoring, nil
	}
	if !ok && r.maxMonitors > 0 && len(r.instances) >= r.maxMonitors {
		r.mu.Unlock()
		return "", ErrMaxMonitorsExceeded
	}
	// Reserve the slot before releasing the lock so concurrent Setup
	// calls for the same handle cannot both start.
	r.instances[handle] = nil
	r.mu.Unlock()

	outcome := OutcomeStarted
	if ok {
		outcome = OutcomeReplaced
		cfg.LastKnownState = carryState(existing, cfg)
		existing.Stop()
	}

	if err := r.store.Upsert(ctx, cfg); err != nil {
		// The previous instance (if any) is already stopped; the handle
		// is no longer monitored either way.
		r.remove(handle)
		return "", fmt.Errorf("persist channel config: %w", err)
	}

	in := r.newInstance(cfg)
	if err := in.Start(ctx); err != nil {
		r.remove(handle)
		return "", err
	}

	r.mu.Lock()
	// The immediate first check may already have auto-stopped it.
	if in.Status().State == StateRunning {
		r.instances[handle] = in
	} else {
		delete(r.instances, handle)
	}
	r.mu.Unlock()

	return outcome, nil
}

// carryState keeps snapshot fields only for content types both the old
// and the new config monitor; everything else resets so a re-added
// content type fires on its next observation.
func carryState(existing *Instance, cfg *db.ChannelConfig) db.LastKnownState {
	old := existing.LastKnownState()
	oldCfg := existing.Config()
	var state db.LastKnownState
	if cfg.HasContentType(db.ContentLive) && oldCfg.HasContentType(db.ContentLive) {
		state.Live = old.Live
	}
	if cfg.HasContentType(db.ContentVideos) && oldCfg.HasContentType(db.ContentVideos) {
		state.LatestVideoID = old.LatestVideoID
	}
	if cfg.HasContentType(db.ContentShorts) && oldCfg.HasContentType(db.ContentShorts) {
		state.LatestShortID = old.LatestShortID
	}
	return state
}

func (r *Registry) newInstance(cfg *db.ChannelConfig) *Instance {
	in := NewInstance(cfg, r.src(), r.shortener, r.sender, r.store, r.scheduler, r.maxErrors)
	in.onTerminate = r.remove
	return in
}

// remove drops an instance that terminated on its own (auto-stop).
func (r *Registry) remove(handle string) {
	r.mu.Lock()
	delete(r.instances, handle)
	r.mu.Unlock()
}

// Stop halts monitoring for a handle and removes its persisted config.
func (r *Registry) Stop(ctx context.Context, handle string) error {
	normalized, err := db.NormalizeHandle(handle)
	if err != nil {
		return err
	}

	r.mu.Lock()
	in, ok := r.instances[normalized]
	if ok {
		delete(r.instances, normalized)
	}
	r.mu.Unlock()

	if !ok || in == nil {
		return ErrNotMonitoring
	}

	in.Stop()

	if err := r.store.Delete(ctx, normalized); err != nil && !errors.Is(err, db.ErrChannelNotFound) {
		return fmt.Errorf("delete channel config: %w", err)
	}
	return nil
}

// StopAll halts every instance and removes all persisted configs.
// Returns the handles that were stopped.
func (r *Registry) StopAll(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	instances := make([]*Instance, 0, len(r.instances))
	for _, in := range r.instances {
		if in != nil {
			instances = append(instances, in)
		}
	}
	r.instances = make(map[string]*Instance)
	r.mu.Unlock()

	handles := make([]string, 0, len(instances))
	var firstErr error
	for _, in := range instances {
		in.Stop()
		handles = append(handles, in.Handle())
		if err := r.store.Delete(ctx, in.Handle()); err != nil && !errors.Is(err, db.ErrChannelNotFound) {
			if firstErr == nil {
				firstErr = fmt.Errorf("delete channel config for %s: %w", in.Handle(), err)
			}
		}
	}
	return handles, firstErr
}

// Restart stops and restarts a handle's instance with its existing
// config. When no in-memory instance exists the persisted config is
// used instead. State is carried over either way so the restart does
// not re-fire notifications for already-seen content.
func (r *Registry) Restart(ctx context.Context, handle string) error {
	normalized, err := db.NormalizeHandle(handle)
	if err != nil {
		return err
	}

	r.mu.Lock()
	in, ok := r.instances[normalized]
	r.mu.Unlock()

	var cfg *db.ChannelConfig
	if ok && in != nil {
		cfg = in.Config()
		cfg.LastKnownState = in.LastKnownState()
		in.Stop()
	} else {
		cfg, err = r.store.Get(ctx, normalized)
		if errors.Is(err, db.ErrChannelNotFound) {
			return ErrNotMonitoring
		}
		if err != nil {
			return fmt.Errorf("load channel config: %w", err)
		}
	}

	fresh := r.newInstance(cfg)
	if err := fresh.Start(ctx); err != nil {
		r.remove(normalized)
		return err
	}

	r.mu.Lock()
	if fresh.Status().State == StateRunning {
		r.instances[normalized] = fresh
	} else {
		delete(r.instances, normalized)
	}
	r.mu.Unlock()
	return nil
}

// Status returns the snapshot for one handle.
func (r *Registry) Status(handle string) (Status, error) {
	normalized, err := db.NormalizeHandle(handle)
	if err != nil {
		return Status{}, err
	}

	r.mu.Lock()
	in, ok := r.instances[normalized]
	r.mu.Unlock()
	if !ok || in == nil {
		return Status{}, ErrNotMonitoring
	}
	return in.Status(), nil
}

// List returns snapshots of every active instance.
func (r *Registry) List() []Status {
	r.mu.Lock()
	statuses := make([]Status, 0, len(r.instances))
	for _, in := range r.instances {
		if in != nil {
			statuses = append(statuses, in.Status())
		}
	}
	r.mu.Unlock()
	return statuses
}

// Count returns the number of active instances.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// ConfiguredChannel is one row of the live/persisted merge: every
// persisted config plus every in-memory instance, deduplicated by
// handle, with the in-memory view winning where both exist.
type ConfiguredChannel struct {
	ChannelHandle  string            `json:"channel"`
	IsActive       bool              `json:"is_active"`
	WebhookURL     string            `json:"webhook_url"`
	ContentTypes   []db.ContentType  `json:"content_types"`
	PollInterval   int64             `json:"monitor_interval_ms"`
	LastKnownState db.LastKnownState `json:"last_known_state"`
}

// ListConfigured merges active instances with persisted-but-inactive
// channel configs.
func (r *Registry) ListConfigured(ctx context.Context) ([]ConfiguredChannel, error) {
	configs, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channel configs: %w", err)
	}

	seen := make(map[string]bool)
	channels := make([]ConfiguredChannel, 0, len(configs))

	for _, st := range r.List() {
		seen[st.ChannelHandle] = true
		channels = append(channels, ConfiguredChannel{
			ChannelHandle:  st.ChannelHandle,
			IsActive:       st.IsActive,
			WebhookURL:     st.WebhookURL,
			ContentTypes:   st.ContentTypes,
			PollInterval:   st.PollInterval,
			LastKnownState: st.LastKnownState,
		})
	}
	for _, cfg := range configs {
		if seen[cfg.ChannelHandle] {
			continue
		}
		channels = append(channels, ConfiguredChannel{
			ChannelHandle:  cfg.ChannelHandle,
			IsActive:       false,
			WebhookURL:     cfg.WebhookURL,
			ContentTypes:   cfg.ContentTypes,
			PollInterval:   cfg.PollInterval.Milliseconds(),
			LastKnownState: cfg.LastKnownState,
		})
	}
	return channels, nil
}

// Restore loads every persisted channel config and starts an instance
// for each, seeded with its stored snapshot. A channel that fails to
// start is logged and skipped; the rest restore anyway.
func (r *Registry) Restore(ctx context.Context) error {
	configs, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list channel configs: %w", err)
	}

	restored := 0
	for _, cfg := range configs {
		if r.maxMonitors > 0 && r.Count() >= r.maxMonitors {
			log.Warn("monitor cap reached during restore, skipping remaining channels",
				zap.Int("restored", restored),
				zap.Int("total", len(configs)),
			)
			break
		}
		in := r.newInstance(cfg)
		if err := in.Start(ctx); err != nil {
			log.Error("failed to restore channel monitoring",
				zap.String("channel", cfg.ChannelHandle),
				zap.Error(err),
			)
			continue
		}
		r.mu.Lock()
		if in.Status().State == StateRunning {
			r.instances[cfg.ChannelHandle] = in
			restored++
		}
		r.mu.Unlock()
	}

	log.Info("channel monitoring restored",
		zap.Int("restored", restored),
		zap.Int("configured", len(configs)),
	)
	return nil
}

// Shutdown stops all instances and persists each snapshot so a restart
// resumes without duplicate notifications.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	instances := make([]*Instance, 0, len(r.instances))
	for _, in := range r.instances {
		if in != nil {
			instances = append(instances, in)
		}
	}
	r.instances = make(map[string]*Instance)
	r.mu.Unlock()

	for _, in := range instances {
		in.Stop()
		if err := r.store.UpdateState(ctx, in.Handle(), in.LastKnownState()); err != nil {
			log.Error("failed to persist state during shutdown",
				zap.String("channel", in.Handle()),
				zap.Error(err),
			)
		}
	}

	log.Info("all channel monitors stopped", zap.Int("count", len(instances)))
}
