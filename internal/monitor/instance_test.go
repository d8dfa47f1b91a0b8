package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tubealert/tubealert/internal/db"
	"github.com/tubealert/tubealert/internal/notify"
	"github.com/tubealert/tubealert/internal/shortener"
	"github.com/tubealert/tubealert/internal/source"
)

type stubSource struct {
	mu        sync.Mutex
	live      source.LiveResult
	liveErr   error
	videos    []string
	videosErr error
	shorts    []string
	shortsErr error
	onQuery   func()
}

func (s *stubSource) setLive(isLive bool) {
	s.mu.Lock()
	s.live = source.LiveResult{IsLive: isLive, URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", Title: "stream", SourceMethod: source.MethodAPI}
	s.mu.Unlock()
}

func (s *stubSource) setErr(err error) {
	s.mu.Lock()
	s.liveErr = err
	s.videosErr = err
	s.shortsErr = err
	s.mu.Unlock()
}

func (s *stubSource) setVideos(ids ...string) {
	s.mu.Lock()
	s.videos = ids
	s.mu.Unlock()
}

func (s *stubSource) setShorts(ids ...string) {
	s.mu.Lock()
	s.shorts = ids
	s.mu.Unlock()
}

func (s *stubSource) IsLive(ctx context.Context, handle string) (*source.LiveResult, error) {
	s.mu.Lock()
	live, err, hook := s.live, s.liveErr, s.onQuery
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return &live, nil
}

func (s *stubSource) LatestVideos(ctx context.Context, handle string, limit int) (*source.ListResult, error) {
	s.mu.Lock()
	ids, err := s.videos, s.videosErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return listResult(ids), nil
}

func (s *stubSource) LatestShorts(ctx context.Context, handle string, limit int) (*source.ListResult, error) {
	s.mu.Lock()
	ids, err := s.shorts, s.shortsErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return listResult(ids), nil
}

func listResult(ids []string) *source.ListResult {
	res := &source.ListResult{SourceMethod: source.MethodAPI}
	for _, id := range ids {
		res.Items = append(res.Items, source.ContentItem{ID: id, Title: "video " + id, URL: source.WatchURL(id)})
	}
	return res
}

type stubShortener struct {
	fail bool
}

func (s *stubShortener) Shorten(ctx context.Context, longURL string) shortener.Result {
	if s.fail {
		return shortener.Result{Succeeded: false, ShortURL: longURL}
	}
	return shortener.Result{Succeeded: true, ShortURL: "https://tinyurl.com/abc", Provider: "tinyurl"}
}

type captureSender struct {
	mu     sync.Mutex
	fail   bool
	calls  []*notify.Message
	urls   []string
	events []notify.EventType
}

func (c *captureSender) Send(ctx context.Context, url string, msg *notify.Message) *notify.SendResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, msg)
	c.urls = append(c.urls, url)
	if len(msg.Embeds) > 0 {
		c.events = append(c.events, eventTypeOf(msg))
	}
	if c.fail {
		return &notify.SendResult{Success: false, StatusCode: 500, Error: "HTTP 500"}
	}
	return &notify.SendResult{Success: true, StatusCode: 204}
}

// eventTypeOf recovers the event tag from the embed title since the
// formatted message does not carry the tag verbatim.
func eventTypeOf(msg *notify.Message) notify.EventType {
	title := msg.Embeds[0].Title
	switch {
	case strings.Contains(title, "is live"):
		return notify.EventStreamStarted
	case strings.Contains(title, "finished streaming"):
		return notify.EventStreamEnded
	case strings.Contains(title, "New video"):
		return notify.EventNewVideo
	case strings.Contains(title, "New short"):
		return notify.EventNewShort
	case strings.Contains(title, "Monitoring stopped"):
		return notify.EventMonitoringError
	case strings.Contains(title, "Webhook test"):
		return notify.EventTest
	}
	return notify.EventType("unknown")
}

func (c *captureSender) eventTypes() []notify.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.EventType, len(c.events))
	copy(out, c.events)
	return out
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type memoryStore struct {
	mu          sync.Mutex
	configs     map[string]*db.ChannelConfig
	stateWrites int
	upsertErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{configs: make(map[string]*db.ChannelConfig)}
}

func (m *memoryStore) Upsert(ctx context.Context, cfg *db.ChannelConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	copied := *cfg
	m.configs[cfg.ChannelHandle] = &copied
	return nil
}

func (m *memoryStore) UpdateState(ctx context.Context, handle string, state db.LastKnownState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[handle]
	if !ok {
		return db.ErrChannelNotFound
	}
	cfg.LastKnownState = state
	m.stateWrites++
	return nil
}

func (m *memoryStore) Get(ctx context.Context, handle string) (*db.ChannelConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[handle]
	if !ok {
		return nil, db.ErrChannelNotFound
	}
	copied := *cfg
	return &copied, nil
}

func (m *memoryStore) List(ctx context.Context) ([]*db.ChannelConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*db.ChannelConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		copied := *cfg
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memoryStore) Delete(ctx context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[handle]; !ok {
		return db.ErrChannelNotFound
	}
	delete(m.configs, handle)
	return nil
}

func (m *memoryStore) state(handle string) (db.LastKnownState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[handle]
	if !ok {
		return db.LastKnownState{}, false
	}
	return cfg.LastKnownState, true
}

func testConfig(types ...db.ContentType) *db.ChannelConfig {
	if len(types) == 0 {
		types = db.AllContentTypes()
	}
	return &db.ChannelConfig{
		ChannelHandle: "@example",
		WebhookURL:    "https://discord.com/api/webhooks/1/abc",
		ContentTypes:  types,
		PollInterval:  60 * time.Second,
	}
}

type instanceFixture struct {
	src    *stubSource
	sender *captureSender
	store  *memoryStore
	sched  *ManualScheduler
	in     *Instance
}

func newInstanceFixture(t *testing.T, cfg *db.ChannelConfig, maxErrors int) *instanceFixture {
	t.Helper()
	f := &instanceFixture{
		src:    &stubSource{},
		sender: &captureSender{},
		store:  newMemoryStore(),
		sched:  NewManualScheduler(),
	}
	if err := f.store.Upsert(context.Background(), cfg); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	f.in = NewInstance(cfg, f.src, &stubShortener{}, f.sender, f.store, f.sched, maxErrors)
	return f
}

func TestLiveTransitionsFireExactlyOnce(t *testing.T) {
	cfg := testConfig(db.ContentLive)
	f := newInstanceFixture(t, cfg, 5)
	f.src.setLive(false)

	if err := f.in.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if got := f.sender.count(); got != 0 {
		t.Fatalf("notifications after offline start = %d, want 0", got)
	}

	f.src.setLive(true)
	f.sched.Tick()
	if got := f.sender.eventTypes(); len(got) != 1 || got[0] != notify.EventStreamStarted {
		t.Fatalf("events after going live = %v, want [stream_started]", got)
	}

	// Repeated identical upstream responses never re-fire.
	f.sched.Tick()
	f.sched.Tick()
	if got := f.sender.count(); got != 1 {
		t.Fatalf("notifications after repeated live polls = %d, want 1", got)
	}

	f.src.setLive(false)
	f.sched.Tick()
	got := f.sender.eventTypes()
	if len(got) != 2 || got[1] != notify.EventStreamEnded {
		t.Fatalf("events after stream end = %v, want [stream_started stream_ended]", got)
	}

	state, ok := f.store.state("@example")
	if !ok || state.Live {
		t.Fatalf("persisted live state = %+v, want live=false", state)
	}
}

func TestFirstVideoObservationFires(t *testing.T) {
	cfg := testConfig(db.ContentVideos)
	f := newInstanceFixture(t, cfg, 5)
	f.src.setVideos("abc12345678")

	if err := f.in.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	got := f.sender.eventTypes()
	if len(got) != 1 || got[0] != notify.EventNewVideo {
		t.Fatalf("events after first observation = %v, want [new_video]", got)
	}

	state, _ := f.store.state("@example")
	if state.LatestVideoID == nil || *state.LatestVideoID != "abc12345678" {
		t.Fatalf("persisted latest video id = %v, want abc12345678", state.LatestVideoID)
	}

	f.sched.Tick()
	if f.sender.count() != 1 {
		t.Fatalf("notifications after unchanged poll = %d, want 1", f.sender.count())
	}

	f.src.setVideos("def12345678", "abc12345678")
	f.sched.Tick()
	got = f.sender.eventTypes()
	if len(got) != 2 || got[1] != notify.EventNewVideo {
		t.Fatalf("events after new upload = %v, want two new_video", got)
	}
}

func TestSeededStateSuppressesRefire(t *testing.T) {
	cfg := testConfig(db.ContentVideos, db.ContentShorts)
	known := "abc12345678"
	cfg.LastKnownState.LatestVideoID = &known
	shortKnown := "zzz12345678"
	cfg.LastKnownState.LatestShortID = &shortKnown

	f := newInstanceFixture(t, cfg, 5)
	f.src.setVideos(known)
	f.src.setShorts(shortKnown)

	if err := f.in.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if f.sender.count() != 0 {
		t.Fatalf("notifications with seeded state = %d, want 0", f.sender.count())
	}
}

func TestDeliveryFailureStillAdvancesState(t *testing.T) {
	cfg := testConfig(db.ContentVideos)
	f := newInstanceFixture(t, cfg, 5)
	f.sender.fail = true
	f.src.setVideos("abc12345678")

	if err := f.in.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if f.sender.count() != 1 {
		t.Fatalf("delivery attempts = %d, want 1", f.sender.count())
	}

	// State advanced despite the failed delivery, so the same video is
	// never re-notified.
	f.sched.Tick()
	if f.sender.count() != 1 {
		t.Fatalf("delivery attempts after re-poll = %d, want 1", f.sender.count())
	}

	state, _ := f.store.state("@example")
	if state.LatestVideoID == nil || *state.LatestVideoID != "abc12345678" {
		t.Fatalf("persisted latest video id = %v, want abc12345678", state.LatestVideoID)
	}
}

func TestAutoStopAfterConsecutiveErrors(t *testing.T) {
	cfg := testConfig(db.ContentLive)
	f := newInstanceFixture(t, cfg, 3)
	f.src.setErr(errors.New("upstream down"))

	var terminated string
	f.in.onTerminate = func(handle string) { terminated = handle }

	if err := f.in.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if f.sched.Active() != 1 {
		t.Fatalf("armed timers after start = %d, want 1", f.sched.Active())
	}

	f.sched.Tick()
	f.sched.Tick()

	status := f.in.Status()
	if status.State != StateErrorStopped {
		t.Fatalf("state = %v, want %v", status.State, StateErrorStopped)
	}
	if f.sched.Active() != 0 {
		t.Fatalf("armed timers after auto-stop = %d, want 0", f.sched.Active())
	}

	got := f.sender.eventTypes()
	if len(got) != 1 || got[0] != notify.EventMonitoringError {
		t.Fatalf("events after auto-stop = %v, want exactly one monitoring_error", got)
	}
	if terminated != "@example" {
		t.Fatalf("onTerminate handle = %q, want @example", terminated)
	}
	if _, err := f.store.Get(context.Background(), "@example"); !errors.Is(err, db.ErrChannelNotFound) {
		t.Fatalf("persisted config after auto-stop: err = %v, want ErrChannelNotFound", err)
	}

	// Further ticks on the dead timer are no-ops.
	f.sched.Tick()
	if f.sender.count() != 1 {
		t.Fatalf("notifications after dead tick = %d, want 1", f.sender.count())
	}
}

func TestSuccessfulCycleResetsErrorCounter(t *testing.T) {
	cfg := testConfig(db.ContentLive)
	f := newInstanceFixture(t, cfg, 3)
	f.src.setErr(errors.New("flaky upstream"))

	if err := f.in.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	f.sched.Tick() // 2 consecutive errors

	f.src.setErr(nil)
	f.src.setLive(false)
	f.sched.Tick() // resets to 0

	f.src.setErr(errors.New("flaky upstream"))
	f.sched.Tick()
	f.sched.Tick() // back to 2, still below threshold

	if status := f.in.Status(); status.State != StateRunning {
		t.Fatalf("state = %v, want running after counter reset", status.State)
	}
	if status := f.in.Status(); status.ConsecutiveErrors != 2 {
		t.Fatalf("consecutive errors = %d, want 2", status.ConsecutiveErrors)
	}
}

func TestContentTypeFaultIsolation(t *testing.T) {
	cfg := testConfig(db.ContentLive, db.ContentVideos)
	f := newInstanceFixture(t, cfg, 5)
	f.src.setVideos("abc12345678")
	f.src.mu.Lock()
	f.src.liveErr = errors.New("live endpoint down")
	f.src.mu.Unlock()

	if err := f.in.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	// The live failure must not stop the video check in the same cycle.
	got := f.sender.eventTypes()
	if len(got) != 1 || got[0] != notify.EventNewVideo {
		t.Fatalf("events = %v, want [new_video] despite live failure", got)
	}
	if status := f.in.Status(); status.ConsecutiveErrors != 1 {
		t.Fatalf("consecutive errors = %d, want 1", status.ConsecutiveErrors)
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	cfg := testConfig(db.ContentLive)
	f := newInstanceFixture(t, cfg, 5)
	f.src.setLive(false)

	if err := f.in.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	// Re-enter the scheduler from inside a poll: the nested cycle must be
	// skipped, not run concurrently.
	queries := 0
	f.src.mu.Lock()
	f.src.onQuery = func() {
		queries++
		if queries == 1 {
			f.sched.Tick()
		}
	}
	f.src.mu.Unlock()

	f.sched.Tick()
	if queries != 1 {
		t.Fatalf("source queries = %d, want 1 (nested tick skipped)", queries)
	}
}

func TestStopCancelsTimerAndClearsCounter(t *testing.T) {
	cfg := testConfig(db.ContentLive)
	f := newInstanceFixture(t, cfg, 5)
	f.src.setErr(errors.New("upstream down"))

	if err := f.in.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	f.in.Stop()

	if f.sched.Active() != 0 {
		t.Fatalf("armed timers after stop = %d, want 0", f.sched.Active())
	}
	status := f.in.Status()
	if status.State != StateStopped {
		t.Fatalf("state = %v, want %v", status.State, StateStopped)
	}
	if status.ConsecutiveErrors != 0 {
		t.Fatalf("consecutive errors after stop = %d, want 0", status.ConsecutiveErrors)
	}

	if err := f.in.Start(context.Background()); err != nil {
		t.Fatalf("restart returned error: %v", err)
	}
	if err := f.in.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v, want ErrAlreadyRunning", err)
	}
}

func TestShortenedLinkMarker(t *testing.T) {
	cfg := testConfig(db.ContentVideos)
	f := newInstanceFixture(t, cfg, 5)
	f.src.setVideos("abc12345678")

	// Exhausted shortener chain falls back to the original URL but the
	// notification still goes out.
	f.in.shortener = &stubShortener{fail: true}

	if err := f.in.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if f.sender.count() != 1 {
		t.Fatalf("notifications = %d, want 1", f.sender.count())
	}

	f.sender.mu.Lock()
	desc := f.sender.calls[0].Embeds[0].Description
	f.sender.mu.Unlock()
	if !strings.Contains(desc, "(link not shortened)") {
		t.Fatalf("description %q does not mark the unshortened link", desc)
	}
	if !strings.Contains(desc, source.WatchURL("abc12345678")) {
		t.Fatalf("description %q does not carry the original link", desc)
	}
}

func TestMonitoringErrorReasonNamesFailureCount(t *testing.T) {
	cfg := testConfig(db.ContentLive)
	f := newInstanceFixture(t, cfg, 2)
	f.src.setErr(errors.New("upstream down"))

	if err := f.in.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	f.sched.Tick()

	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	if len(f.sender.calls) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.sender.calls))
	}
	desc := f.sender.calls[0].Embeds[0].Description
	want := fmt.Sprintf("%d consecutive failed checks", 2)
	if !strings.Contains(desc, want) {
		t.Fatalf("description %q does not mention %q", desc, want)
	}
}
