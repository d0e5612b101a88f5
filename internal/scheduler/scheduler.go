// Package scheduler drives periodic offline and threshold checks. Every
// interval it starts one tick per configured device; a device whose
// previous tick is still running is skipped rather than queued.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/obsidianstack/devicealert/internal/alerts"
	"github.com/obsidianstack/devicealert/internal/metrics"
)

// Ticker runs the scheduled checks for one device.
type Ticker interface {
	HandleTick(ctx context.Context, deviceID string) alerts.Report
}

// Plan supplies the devices and interval; it is re-read after every tick
// so a config reload takes effect without a restart.
type Plan func() (devices []string, interval time.Duration)

// Scheduler fans schedule ticks out to devices.
type Scheduler struct {
	engine Ticker
	plan   Plan

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

// New creates a Scheduler.
func New(engine Ticker, plan Plan) *Scheduler {
	return &Scheduler{
		engine:   engine,
		plan:     plan,
		inflight: make(map[string]bool),
	}
}

// Run ticks until ctx is cancelled, then waits for running ticks to finish.
func (s *Scheduler) Run(ctx context.Context) {
	_, interval := s.plan()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.wg.Wait()

	slog.Info("scheduler: started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.TickAll(ctx)
			if _, next := s.plan(); next != interval && next > 0 {
				slog.Info("scheduler: interval changed", "from", interval, "to", next)
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// TickAll starts a tick for every device that is not already being
// checked and returns how many were started.
func (s *Scheduler) TickAll(ctx context.Context) int {
	devices, _ := s.plan()
	started := 0
	for _, id := range devices {
		if !s.tryStart(id) {
			slog.Debug("scheduler: previous tick still running, skipping", "device", id)
			metrics.SkippedTicks.Inc()
			continue
		}
		started++
		s.wg.Add(1)
		go func(id string) {
			defer s.wg.Done()
			defer s.finish(id)
			rep := s.engine.HandleTick(ctx, id)
			slog.Debug("scheduler: tick done", "device", id,
				"sent", rep.Sent, "failed", rep.Failed, "skipped", rep.Skipped)
		}(id)
	}
	return started
}

// Wait blocks until all started ticks have returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) tryStart(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

func (s *Scheduler) finish(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}
