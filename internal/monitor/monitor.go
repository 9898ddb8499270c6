// Package monitor runs one polling loop per registered feed, tracks a
// per-feed high-watermark, and delivers newly observed items oldest
// first to a handler.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/relaypan/internal/feed"
)

// Handler consumes one new item from a feed. A returned error is
// logged and must not affect subsequent items or other feeds.
type Handler interface {
	HandleItem(ctx context.Context, feedID string, item feed.Item) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, feedID string, item feed.Item) error

func (f HandlerFunc) HandleItem(ctx context.Context, feedID string, item feed.Item) error {
	return f(ctx, feedID, item)
}

// Monitor owns the watermark map. Each entry is mutated only by its
// own feed's goroutine; the mutex exists because the entries share one
// map, not because entries contend. There is no external mutation API.
type Monitor struct {
	interval time.Duration
	handler  Handler
	log      zerolog.Logger

	sources    []feed.Source
	watermarks map[string]int64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a monitor that polls every interval.
func New(handler Handler, interval time.Duration, log zerolog.Logger) *Monitor {
	return &Monitor{
		interval:   interval,
		handler:    handler,
		log:        log,
		watermarks: make(map[string]int64),
	}
}

// Register adds a feed to be polled once Start is called. Registering
// after Start has no effect until the next Start.
func (m *Monitor) Register(src feed.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, src)
	m.watermarks[src.FeedID()] = 0
}

// Start launches one polling goroutine per registered feed. Calling
// Start while already running is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	for _, src := range m.sources {
		m.wg.Add(1)
		go m.run(src)
	}
	m.log.Info().Int("feeds", len(m.sources)).Msg("monitor started")
}

// Stop signals all polling goroutines to exit at their next checkpoint
// and waits for them. An in-flight poll cycle completes first.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Info().Msg("monitor stopped")
}

func (m *Monitor) run(src feed.Source) {
	defer m.wg.Done()

	ctx := context.Background()
	m.baseline(ctx, src)

	for {
		if m.stopped() {
			return
		}
		if err := m.pollOnce(ctx, src); err != nil {
			m.log.Error().Err(err).Str("feed", src.FeedID()).Msg("poll cycle failed")
		}
		// Sleep in one-second slices so Stop takes effect quickly.
		remaining := m.interval
		for remaining > 0 {
			slice := time.Second
			if remaining < slice {
				slice = remaining
			}
			select {
			case <-m.stopCh:
				return
			case <-time.After(slice):
			}
			remaining -= slice
		}
	}
}

func (m *Monitor) stopped() bool {
	select {
	case <-m.stopCh:
		return true
	default:
		return false
	}
}

func (m *Monitor) watermark(feedID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermarks[feedID]
}

// advance raises the watermark, never lowers it.
func (m *Monitor) advance(feedID string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id > m.watermarks[feedID] {
		m.watermarks[feedID] = id
	}
}

// baseline records the newest identifier without emitting anything, so
// a (re)start never floods the handler with pre-existing history.
func (m *Monitor) baseline(ctx context.Context, src feed.Source) {
	items, err := src.Recent(ctx)
	if err != nil {
		m.log.Error().Err(err).Str("feed", src.FeedID()).Msg("baseline fetch failed")
		return
	}
	if len(items) > 0 {
		m.advance(src.FeedID(), items[0].ID)
	}
	m.log.Info().Str("feed", src.FeedID()).Int64("watermark", m.watermark(src.FeedID())).Msg("baseline set")
}

// pollOnce fetches the recent page, collects items strictly above the
// watermark (the page is newest-first, so the walk stops at the first
// item at or below it), advances the watermark, and replays the new
// items oldest first.
func (m *Monitor) pollOnce(ctx context.Context, src feed.Source) error {
	items, err := src.Recent(ctx)
	if err != nil {
		return err
	}

	id := src.FeedID()
	last := m.watermark(id)
	maxSeen := last

	var fresh []feed.Item
	for _, item := range items {
		if item.ID <= last {
			break
		}
		fresh = append(fresh, item)
		if item.ID > maxSeen {
			maxSeen = item.ID
		}
	}

	if maxSeen > last {
		m.advance(id, maxSeen)
	}

	for i := len(fresh) - 1; i >= 0; i-- {
		item := fresh[i]
		m.log.Info().Str("feed", id).Int64("item", item.ID).Str("kind", string(item.Kind)).Msg("new item")
		if err := m.handler.HandleItem(ctx, id, item); err != nil {
			m.log.Error().Err(err).Str("feed", id).Int64("item", item.ID).Msg("handler failed")
		}
	}
	return nil
}
