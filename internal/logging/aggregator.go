package logging

import (
	"log/slog"
	"sync"
	"time"
)

// Aggregator coalesces high-frequency events into periodic summary
// lines. Resolve queries arrive on the companion's poll cadence;
// logging each one individually would bury everything else in the
// debug log.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	tallies map[string]*eventTally

	stop chan struct{}
	wg   sync.WaitGroup
}

// eventTally counts one (component, event) pair within the current
// window, keeping the attrs of the most recent Record call as context.
type eventTally struct {
	component string
	event     string
	count     int64
	last      []slog.Attr
}

// NewAggregator creates an aggregator flushing every intervalSecs
// seconds. A nil logger drops the summaries, which keeps Record calls
// harmless in discard mode.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		tallies:  make(map[string]*eventTally),
		stop:     make(chan struct{}),
	}
}

// Start launches the background flush loop.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.flush()
			case <-a.stop:
				return
			}
		}
	}()
}

// Stop ends the flush loop and emits whatever the current window holds.
func (a *Aggregator) Stop() {
	close(a.stop)
	a.wg.Wait()
	a.flush()
}

// Record adds one occurrence of an event to the current window.
func (a *Aggregator) Record(component, event string, attrs ...slog.Attr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := component + "/" + event
	tally := a.tallies[key]
	if tally == nil {
		tally = &eventTally{component: component, event: event}
		a.tallies[key] = tally
	}
	tally.count++
	if len(attrs) > 0 {
		tally.last = attrs
	}
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	window := a.tallies
	a.tallies = make(map[string]*eventTally)
	a.mu.Unlock()

	if a.logger == nil {
		return
	}
	for _, tally := range window {
		args := []any{
			slog.String("component", tally.component),
			slog.String("event", tally.event),
			slog.Int64("count", tally.count),
			slog.Int("window_seconds", int(a.interval.Seconds())),
		}
		for _, attr := range tally.last {
			args = append(args, attr)
		}
		a.logger.Info("event_summary", args...)
	}
}
