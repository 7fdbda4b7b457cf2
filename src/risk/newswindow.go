package risk

import (
	"context"
	"sort"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradeengine/src/connectors"
)

// NewsWindowConfig sets the block window around each high-impact event.
type NewsWindowConfig struct {
	BlockBefore time.Duration
	BlockAfter  time.Duration
	Countries   []string
	// RefreshEvery bounds how often the calendar is re-fetched.
	RefreshEvery time.Duration
}

// GateDecision is the outcome of a news-window check.
type GateDecision struct {
	Allowed         bool
	Reason          string
	BlockingEvent   *connectors.CalendarEvent
	BlockWindowFrom time.Time
	BlockWindowTo   time.Time
	NextAllowedUTC  time.Time
}

// NewsGate blocks new entries around high-impact economic events. Exits and
// reduce-only orders are never gated; the engine only consults it for
// position-increasing orders.
type NewsGate struct {
	client *connectors.CalendarClient
	cfg    NewsWindowConfig

	mu          sync.Mutex
	events      []connectors.CalendarEvent
	refreshedAt time.Time
}

// NewNewsGate builds a gate over the given calendar client.
func NewNewsGate(client *connectors.CalendarClient, cfg NewsWindowConfig) *NewsGate {
	if cfg.BlockBefore <= 0 {
		cfg.BlockBefore = 15 * time.Minute
	}
	if cfg.BlockAfter <= 0 {
		cfg.BlockAfter = 15 * time.Minute
	}
	if len(cfg.Countries) == 0 {
		cfg.Countries = []string{"US"}
	}
	if cfg.RefreshEvery <= 0 {
		cfg.RefreshEvery = time.Hour
	}
	return &NewsGate{client: client, cfg: cfg}
}

// CanEnterTradeAt is the deterministic check used by tests and by the live
// path: it blocks when now falls inside [event-BlockBefore, event+BlockAfter]
// of any known high-impact event. Overlapping windows block until the latest
// one ends.
func CanEnterTradeAt(nowUTC time.Time, events []connectors.CalendarEvent, cfg NewsWindowConfig) GateDecision {
	type window struct {
		ev    connectors.CalendarEvent
		start time.Time
		end   time.Time
	}

	var active []window

	for _, ev := range events {
		evTime := ev.Date.Time.UTC()
		if evTime.IsZero() {
			continue
		}

		start := evTime.Add(-cfg.BlockBefore)
		end := evTime.Add(cfg.BlockAfter)

		if !nowUTC.Before(start) && !nowUTC.After(end) {
			active = append(active, window{ev: ev, start: start, end: end})
		}
	}

	if len(active) == 0 {
		return GateDecision{Allowed: true, Reason: "allowed"}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].end.Before(active[j].end)
	})
	block := active[len(active)-1]

	return GateDecision{
		Allowed:         false,
		Reason:          "blocked_by_news_window",
		BlockingEvent:   &block.ev,
		BlockWindowFrom: block.start,
		BlockWindowTo:   block.end,
		NextAllowedUTC:  block.end,
	}
}

// CheckEntry refreshes the calendar if stale and evaluates the gate at now.
// A calendar fetch failure fails open with a warning: stale news data must
// not halt trading.
func (g *NewsGate) CheckEntry(ctx context.Context, now time.Time) GateDecision {
	events := g.currentEvents(ctx, now)
	decision := CanEnterTradeAt(now.UTC(), events, g.cfg)

	if !decision.Allowed {
		logger.WithFields(map[string]interface{}{
			"component":    "NewsGate",
			"event":        decision.BlockingEvent.Title,
			"next_allowed": decision.NextAllowedUTC,
		}).Warn("Entry blocked by news window")
	}

	return decision
}

func (g *NewsGate) currentEvents(ctx context.Context, now time.Time) []connectors.CalendarEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Sub(g.refreshedAt) < g.cfg.RefreshEvery {
		return g.events
	}

	from := now.Add(-24 * time.Hour).UTC()
	to := now.Add(24 * time.Hour).UTC()

	events, err := g.client.FetchImportantEvents(ctx, from, to, g.cfg.Countries)
	if err != nil {
		logger.WithField("component", "NewsGate").
			WithError(err).Warn("Calendar fetch failed, keeping previous events")
		return g.events
	}

	g.events = events
	g.refreshedAt = now

	return g.events
}
