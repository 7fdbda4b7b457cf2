package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeengine/src/connectors"
)

func calendarEvent(title string, at time.Time) connectors.CalendarEvent {
	return connectors.CalendarEvent{
		ID:         title,
		Title:      title,
		Country:    "US",
		Importance: 1,
		Date:       connectors.CalendarTime{Time: at},
	}
}

func TestCanEnterTradeAtBlocksAroundEvent(t *testing.T) {
	cfg := NewsWindowConfig{BlockBefore: 15 * time.Minute, BlockAfter: 15 * time.Minute}
	eventAt := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	events := []connectors.CalendarEvent{calendarEvent("CPI", eventAt)}

	cases := []struct {
		name    string
		now     time.Time
		allowed bool
	}{
		{"well before", eventAt.Add(-time.Hour), true},
		{"window opens", eventAt.Add(-15 * time.Minute), false},
		{"at the event", eventAt, false},
		{"window closes", eventAt.Add(15 * time.Minute), false},
		{"just after", eventAt.Add(15*time.Minute + time.Second), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := CanEnterTradeAt(tc.now, events, cfg)
			assert.Equal(t, tc.allowed, decision.Allowed)
			if !tc.allowed {
				assert.Equal(t, "blocked_by_news_window", decision.Reason)
				require.NotNil(t, decision.BlockingEvent)
				assert.Equal(t, "CPI", decision.BlockingEvent.Title)
				assert.Equal(t, eventAt.Add(15*time.Minute), decision.NextAllowedUTC)
			}
		})
	}
}

func TestCanEnterTradeAtOverlappingWindows(t *testing.T) {
	cfg := NewsWindowConfig{BlockBefore: 15 * time.Minute, BlockAfter: 15 * time.Minute}
	first := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	second := first.Add(20 * time.Minute)
	events := []connectors.CalendarEvent{
		calendarEvent("CPI", first),
		calendarEvent("FOMC", second),
	}

	// Inside both windows, the block lasts until the later one ends.
	decision := CanEnterTradeAt(first.Add(10*time.Minute), events, cfg)
	require.False(t, decision.Allowed)
	assert.Equal(t, "FOMC", decision.BlockingEvent.Title)
	assert.Equal(t, second.Add(15*time.Minute), decision.NextAllowedUTC)
}

func TestCanEnterTradeAtIgnoresUndatedEvents(t *testing.T) {
	cfg := NewsWindowConfig{BlockBefore: 15 * time.Minute, BlockAfter: 15 * time.Minute}
	events := []connectors.CalendarEvent{calendarEvent("TBD", time.Time{})}

	decision := CanEnterTradeAt(time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC), events, cfg)
	assert.True(t, decision.Allowed)
}
