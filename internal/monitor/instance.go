package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tubealert/tubealert/internal/db"
	"github.com/tubealert/tubealert/internal/ids"
	"github.com/tubealert/tubealert/internal/log"
	"github.com/tubealert/tubealert/internal/notify"
	"github.com/tubealert/tubealert/internal/shortener"
	"github.com/tubealert/tubealert/internal/source"
)

// State represents the instance's lifecycle state.
type State string

const (
	StateStopped      State = "stopped"
	StateRunning      State = "running"
	StateErrorStopped State = "error_stopped"
)

// cycleTimeout bounds one full poll cycle so a stalled upstream cannot
// stall the channel indefinitely.
const cycleTimeout = 60 * time.Second

// ErrAlreadyRunning is returned by Start on a running instance.
var ErrAlreadyRunning = errors.New("instance already running")

// Store is the durable channel config store the instance persists into.
type Store interface {
	Upsert(ctx context.Context, cfg *db.ChannelConfig) error
	UpdateState(ctx context.Context, handle string, state db.LastKnownState) error
	Get(ctx context.Context, handle string) (*db.ChannelConfig, error)
	List(ctx context.Context) ([]*db.ChannelConfig, error)
	Delete(ctx context.Context, handle string) error
}

// Shortener rewrites content links before notification.
type Shortener interface {
	Shorten(ctx context.Context, longURL string) shortener.Result
}

// WebhookSender delivers formatted messages.
type WebhookSender interface {
	Send(ctx context.Context, webhookURL string, msg *notify.Message) *notify.SendResult
}

// Instance monitors a single channel: it owns the poll loop, the
// last-known-state snapshot and the consecutive-error counter.
type Instance struct {
	cfg       *db.ChannelConfig
	src       source.Source
	shortener Shortener
	sender    WebhookSender
	store     Store
	scheduler Scheduler
	maxErrors int

	// onTerminate is invoked (outside the instance lock) when the
	// instance leaves the running state on its own, so the registry can
	// drop it.
	onTerminate func(handle string)

	mu                sync.Mutex
	state             State
	lastKnown         db.LastKnownState
	consecutiveErrors int
	lastCheckedAt     time.Time
	startedAt         time.Time
	cancel            CancelFunc
	checking          bool
}

// NewInstance creates a stopped instance seeded with the config's
// persisted last-known-state snapshot.
func NewInstance(
	cfg *db.ChannelConfig,
	src source.Source,
	short Shortener,
	sender WebhookSender,
	store Store,
	scheduler Scheduler,
	maxErrors int,
) *Instance {
	if maxErrors <= 0 {
		maxErrors = 5
	}
	return &Instance{
		cfg:       cfg,
		src:       src,
		shortener: short,
		sender:    sender,
		store:     store,
		scheduler: scheduler,
		maxErrors: maxErrors,
		state:     StateStopped,
		lastKnown: cfg.LastKnownState,
	}
}

// Config returns the instance's monitoring config.
func (in *Instance) Config() *db.ChannelConfig {
	return in.cfg
}

// Handle returns the normalized channel handle.
func (in *Instance) Handle() string {
	return in.cfg.ChannelHandle
}

// Start transitions Stopped -> Running: one immediate synchronous check,
// then a recurring timer. Starting a running instance fails.
func (in *Instance) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.state == StateRunning {
		in.mu.Unlock()
		return ErrAlreadyRunning
	}
	in.state = StateRunning
	in.startedAt = time.Now()
	in.consecutiveErrors = 0
	in.mu.Unlock()

	log.Info("monitoring started",
		zap.String("channel", in.cfg.ChannelHandle),
		zap.Duration("interval", in.cfg.PollInterval),
	)

	// Immediate check so the first notification does not wait a full
	// interval.
	in.runCycle(ctx)

	in.mu.Lock()
	if in.state != StateRunning {
		// The immediate check auto-stopped the instance.
		in.mu.Unlock()
		return nil
	}
	in.cancel = in.scheduler.Schedule(in.cfg.PollInterval, in.tick)
	in.mu.Unlock()
	return nil
}

// tick is the recurring timer callback. A tick that arrives while the
// previous cycle is still in flight is skipped: poll cycles for one
// handle never overlap.
func (in *Instance) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), cycleTimeout)
	defer cancel()
	in.runCycle(ctx)
}

func (in *Instance) runCycle(ctx context.Context) {
	in.mu.Lock()
	if in.state != StateRunning || in.checking {
		if in.checking {
			log.Debug("previous poll cycle still running, skipping tick",
				zap.String("channel", in.cfg.ChannelHandle))
		}
		in.mu.Unlock()
		return
	}
	in.checking = true
	types := in.cfg.ContentTypes
	in.mu.Unlock()

	defer func() {
		in.mu.Lock()
		in.checking = false
		in.lastCheckedAt = time.Now()
		in.mu.Unlock()
	}()

	// Each content-type check is independently fault-isolated: a failure
	// for one type never prevents checking the rest of the cycle.
	var cycleErr error
	for _, ct := range types {
		if !in.isRunning() {
			return
		}
		var err error
		switch ct {
		case db.ContentLive:
			err = in.checkLive(ctx)
		case db.ContentVideos:
			err = in.checkListing(ctx, db.ContentVideos)
		case db.ContentShorts:
			err = in.checkListing(ctx, db.ContentShorts)
		}
		if err != nil {
			cycleErr = err
			log.Warn("content check failed",
				zap.String("channel", in.cfg.ChannelHandle),
				zap.String("content_type", string(ct)),
				zap.Error(err),
			)
		}
	}

	if cycleErr != nil {
		in.recordCycleFailure(ctx, cycleErr)
		return
	}

	in.mu.Lock()
	in.consecutiveErrors = 0
	in.mu.Unlock()
}

// checkLive fires stream_started on a false->true transition and
// stream_ended on true->false; the snapshot is always overwritten with
// the fresh value.
func (in *Instance) checkLive(ctx context.Context) error {
	res, err := in.src.IsLive(ctx, in.cfg.ChannelHandle)
	if err != nil {
		return fmt.Errorf("live lookup: %w", err)
	}
	if !in.isRunning() {
		// Instance was stopped while the lookup was in flight; discard.
		return nil
	}

	in.mu.Lock()
	wasLive := in.lastKnown.Live
	in.lastKnown.Live = res.IsLive
	in.mu.Unlock()

	switch {
	case res.IsLive && !wasLive:
		in.emit(ctx, notify.Event{
			Type:      notify.EventStreamStarted,
			Channel:   in.cfg.ChannelHandle,
			Title:     res.Title,
			Thumbnail: res.Thumbnail,
		}, res.URL)
		in.persistState(ctx)
	case !res.IsLive && wasLive:
		in.emit(ctx, notify.Event{
			Type:    notify.EventStreamEnded,
			Channel: in.cfg.ChannelHandle,
		}, "")
		in.persistState(ctx)
	}
	return nil
}

// checkListing inspects only the single newest item. The first-ever
// observed id counts as new and fires.
func (in *Instance) checkListing(ctx context.Context, ct db.ContentType) error {
	var (
		res *source.ListResult
		err error
	)
	if ct == db.ContentShorts {
		res, err = in.src.LatestShorts(ctx, in.cfg.ChannelHandle, 1)
	} else {
		res, err = in.src.LatestVideos(ctx, in.cfg.ChannelHandle, 1)
	}
	if err != nil {
		return fmt.Errorf("%s lookup: %w", ct, err)
	}
	if !in.isRunning() {
		return nil
	}
	if len(res.Items) == 0 {
		// Indistinguishable from a failed lookup; nothing to diff.
		return nil
	}

	newest := res.Items[0]

	in.mu.Lock()
	var known *string
	if ct == db.ContentShorts {
		known = in.lastKnown.LatestShortID
	} else {
		known = in.lastKnown.LatestVideoID
	}
	changed := known == nil || *known != newest.ID
	id := newest.ID
	if ct == db.ContentShorts {
		in.lastKnown.LatestShortID = &id
	} else {
		in.lastKnown.LatestVideoID = &id
	}
	in.mu.Unlock()

	if !changed {
		return nil
	}

	eventType := notify.EventNewVideo
	if ct == db.ContentShorts {
		eventType = notify.EventNewShort
	}
	in.emit(ctx, notify.Event{
		Type:      eventType,
		Channel:   in.cfg.ChannelHandle,
		Title:     newest.Title,
		Thumbnail: newest.Thumbnail,
	}, newest.URL)
	in.persistState(ctx)
	return nil
}

// emit shortens the content URL, formats the event and delivers it.
// Shortening exhaustion and delivery failure are both non-fatal: the
// notification is attempted regardless and failures surface only in logs.
func (in *Instance) emit(ctx context.Context, event notify.Event, contentURL string) {
	if contentURL != "" {
		result := in.shortener.Shorten(ctx, contentURL)
		event.URL = result.ShortURL
		event.Shortened = result.Succeeded
	}
	event.EventID = ids.NewEventID()

	msg := notify.Format(event)
	result := in.sender.Send(ctx, in.cfg.WebhookURL, msg)
	if !result.Success {
		log.Warn("notification delivery failed",
			zap.String("channel", in.cfg.ChannelHandle),
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.EventID),
			zap.String("error", result.Error),
		)
		return
	}
	log.Info("notification delivered",
		zap.String("channel", in.cfg.ChannelHandle),
		zap.String("event_type", string(event.Type)),
		zap.String("event_id", event.EventID),
	)
}

// persistState writes the current snapshot to the store. A write error is
// logged and monitoring continues on in-memory state; the unsaved delta is
// lost on restart, which is accepted.
func (in *Instance) persistState(ctx context.Context) {
	in.mu.Lock()
	snapshot := in.lastKnown
	in.mu.Unlock()

	if err := in.store.UpdateState(ctx, in.cfg.ChannelHandle, snapshot); err != nil {
		log.Error("failed to persist channel state",
			zap.String("channel", in.cfg.ChannelHandle),
			zap.Error(err),
		)
	}
}

// recordCycleFailure bumps the consecutive-error counter and auto-stops
// the instance once the threshold is reached.
func (in *Instance) recordCycleFailure(ctx context.Context, err error) {
	in.mu.Lock()
	in.consecutiveErrors++
	count := in.consecutiveErrors
	shouldStop := count >= in.maxErrors && in.state == StateRunning
	if shouldStop {
		in.state = StateErrorStopped
		if in.cancel != nil {
			in.cancel()
			in.cancel = nil
		}
	}
	in.mu.Unlock()

	log.Warn("poll cycle failed",
		zap.String("channel", in.cfg.ChannelHandle),
		zap.Int("consecutive_errors", count),
		zap.Error(err),
	)

	if !shouldStop {
		return
	}

	log.Error("too many consecutive failures, stopping monitoring",
		zap.String("channel", in.cfg.ChannelHandle),
		zap.Int("consecutive_errors", count),
	)

	// Best-effort error notification, then drop the persisted config:
	// a stopped channel is an unconfigured channel.
	in.emit(ctx, notify.Event{
		Type:    notify.EventMonitoringError,
		Channel: in.cfg.ChannelHandle,
		Reason:  fmt.Sprintf("%d consecutive failed checks", count),
	}, "")

	if err := in.store.Delete(ctx, in.cfg.ChannelHandle); err != nil && !errors.Is(err, db.ErrChannelNotFound) {
		log.Error("failed to delete channel config after auto-stop",
			zap.String("channel", in.cfg.ChannelHandle),
			zap.Error(err),
		)
	}

	if in.onTerminate != nil {
		in.onTerminate(in.cfg.ChannelHandle)
	}
}

// Stop transitions Running -> Stopped: the timer is canceled and the
// error counter cleared. Persisted config cleanup is the registry's job.
func (in *Instance) Stop() {
	in.mu.Lock()
	if in.state == StateRunning {
		in.state = StateStopped
	}
	in.consecutiveErrors = 0
	cancel := in.cancel
	in.cancel = nil
	in.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	log.Info("monitoring stopped", zap.String("channel", in.cfg.ChannelHandle))
}

// LastKnownState returns a copy of the current snapshot.
func (in *Instance) LastKnownState() db.LastKnownState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.lastKnown
}

func (in *Instance) isRunning() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state == StateRunning
}

// Status is a point-in-time snapshot of an instance for the API.
type Status struct {
	ChannelHandle     string            `json:"channel"`
	State             State             `json:"state"`
	IsActive          bool              `json:"is_active"`
	WebhookURL        string            `json:"webhook_url"`
	ContentTypes      []db.ContentType  `json:"content_types"`
	PollInterval      int64             `json:"monitor_interval_ms"`
	LastKnownState    db.LastKnownState `json:"last_known_state"`
	ConsecutiveErrors int               `json:"consecutive_errors"`
	LastCheckedAt     *time.Time        `json:"last_checked_at,omitempty"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
}

// Status returns the current snapshot.
func (in *Instance) Status() Status {
	in.mu.Lock()
	defer in.mu.Unlock()

	s := Status{
		ChannelHandle:     in.cfg.ChannelHandle,
		State:             in.state,
		IsActive:          in.state == StateRunning,
		WebhookURL:        in.cfg.WebhookURL,
		ContentTypes:      in.cfg.ContentTypes,
		PollInterval:      in.cfg.PollInterval.Milliseconds(),
		LastKnownState:    in.lastKnown,
		ConsecutiveErrors: in.consecutiveErrors,
	}
	if !in.lastCheckedAt.IsZero() {
		t := in.lastCheckedAt
		s.LastCheckedAt = &t
	}
	if !in.startedAt.IsZero() {
		t := in.startedAt
		s.StartedAt = &t
	}
	return s
}
