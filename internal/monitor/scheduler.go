package monitor

import (
	"sync"
	"time"
)

// CancelFunc cancels a scheduled recurring task. Safe to call more than
// once.
type CancelFunc func()

// Scheduler arms a recurring task and hands back an opaque cancellation
// token, so instances never hold their own timer plumbing.
type Scheduler interface {
	Schedule(interval time.Duration, fn func()) CancelFunc
}

// TickerScheduler runs each scheduled task on its own goroutine ticker.
type TickerScheduler struct {
	wg sync.WaitGroup
}

// NewTickerScheduler creates a ticker-backed scheduler.
func NewTickerScheduler() *TickerScheduler {
	return &TickerScheduler{}
}

// Schedule arms a ticker firing fn every interval until canceled.
func (s *TickerScheduler) Schedule(interval time.Duration, fn func()) CancelFunc {
	stop := make(chan struct{})
	var once sync.Once

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()

	return func() {
		once.Do(func() { close(stop) })
	}
}

// Wait blocks until every canceled task's goroutine has exited.
func (s *TickerScheduler) Wait() {
	s.wg.Wait()
}

// ManualScheduler fires ticks only when told to, for tests.
type ManualScheduler struct {
	mu    sync.Mutex
	tasks map[int]func()
	next  int
}

// NewManualScheduler creates a manually driven scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{tasks: make(map[int]func())}
}

// Schedule registers fn without arming any timer.
func (s *ManualScheduler) Schedule(interval time.Duration, fn func()) CancelFunc {
	s.mu.Lock()
	id := s.next
	s.next++
	s.tasks[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.tasks, id)
		s.mu.Unlock()
	}
}

// Tick fires every registered task once, synchronously.
func (s *ManualScheduler) Tick() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.tasks))
	for _, fn := range s.tasks {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Active returns the number of armed tasks.
func (s *ManualScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
