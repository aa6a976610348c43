package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sakaguchi/xbot/sched"
)

// Feeder periodically enqueues one scrape job per monitored handle. Job ids
// derive from the handle and the truncated window, so overlapping feeders
// and restarts collapse to the same jobs.
type Feeder struct {
	enqueuer Enqueuer
	interval time.Duration
	log      *zap.SugaredLogger
	timeNow  func() time.Time

	mu      sync.Mutex
	handles []string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFeeder constructs a scrape feeder.
func NewFeeder(enqueuer Enqueuer, handles []string, interval time.Duration, log *zap.SugaredLogger) *Feeder {
	return &Feeder{
		enqueuer: enqueuer,
		handles:  handles,
		interval: interval,
		log:      log,
		timeNow:  time.Now,
	}
}

// SetHandles swaps the monitored handle list, e.g. after a config reload.
func (f *Feeder) SetHandles(handles []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handles = handles
}

// Start enqueues the current window immediately, then one window per
// interval until Stop.
func (f *Feeder) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()

		f.FeedWindow()

		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.FeedWindow()
			}
		}
	}()
}

// Stop halts the feeder and waits for the loop to exit.
func (f *Feeder) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

// FeedWindow enqueues one scrape job per handle for the current window.
func (f *Feeder) FeedWindow() {
	f.mu.Lock()
	handles := make([]string, len(f.handles))
	copy(handles, f.handles)
	f.mu.Unlock()

	now := f.timeNow().UTC()
	for _, handle := range handles {
		payload, err := json.Marshal(ScrapePayload{Handle: handle, Window: now})
		if err != nil {
			f.log.Errorw("failed to encode scrape payload", "handle", handle, "error", err)
			continue
		}
		job, err := f.enqueuer.Enqueue(sched.KindScrape, ScrapeKey(handle, now, f.interval), payload, now)
		if err != nil {
			f.log.Errorw("failed to enqueue scrape job", "handle", handle, "error", err)
			continue
		}
		f.log.Debugw("scrape window enqueued", "handle", handle, "job", job.ID)
	}
}
