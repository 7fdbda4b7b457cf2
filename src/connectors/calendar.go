package connectors

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// CalendarEvent is one scheduled economic release. Importance 1 marks the
// high-impact events the news gate blocks around.
type CalendarEvent struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	Country    string       `json:"country"`
	Indicator  string       `json:"indicator"`
	Currency   string       `json:"currency"`
	Importance int          `json:"importance"`
	Date       CalendarTime `json:"date"`
}

type calendarResponse struct {
	Status string          `json:"status"`
	Result []CalendarEvent `json:"result"`
}

// CalendarTime handles calendar timestamps like:
// - "2025-12-08T16:00:00.000Z"
// - "2025-11-30T00:00:00Z"
type CalendarTime struct {
	time.Time
}

func (t *CalendarTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}

	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("CalendarTime: invalid json string: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	for _, layout := range []string{"2006-01-02T15:04:05.000Z", time.RFC3339} {
		parsed, parseErr := time.Parse(layout, s)
		if parseErr == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("CalendarTime: unrecognized timestamp %q", s)
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

// CalendarClient fetches upcoming economic events for the news-window risk
// gate.
type CalendarClient struct {
	http *resty.Client
}

func NewCalendarClient() *CalendarClient {
	return NewCalendarClientWithBaseURL(GetConfig().CalendarBaseURL)
}

// NewCalendarClientWithBaseURL builds a client against an explicit calendar
// host instead of the configured one.
func NewCalendarClientWithBaseURL(baseURL string) *CalendarClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(300 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(isRetryableResp)

	return &CalendarClient{http: httpClient}
}

// FetchImportantEvents returns the high-impact events scheduled between
// fromUTC and toUTC for the given countries.
func (c *CalendarClient) FetchImportantEvents(ctx context.Context, fromUTC, toUTC time.Time, countries []string) ([]CalendarEvent, error) {
	var decoded calendarResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"from":      fromUTC.UTC().Format("2006-01-02T15:04:05.000Z"),
			"to":        toUTC.UTC().Format("2006-01-02T15:04:05.000Z"),
			"countries": strings.Join(countries, ","),
		}).
		SetHeader("accept", "application/json").
		SetResult(&decoded).
		Get("/events")
	if err != nil {
		return nil, fmt.Errorf("fetch calendar events: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch calendar events: unexpected status %d", resp.StatusCode())
	}
	if decoded.Status != "ok" && decoded.Status != "" {
		return nil, fmt.Errorf("fetch calendar events: unexpected status field %q", decoded.Status)
	}

	out := make([]CalendarEvent, 0, len(decoded.Result))
	for _, ev := range decoded.Result {
		if ev.Importance == 1 {
			out = append(out, ev)
		}
	}

	logger.WithFields(map[string]interface{}{
		"fetched":    len(decoded.Result),
		"important":  len(out),
		"windowFrom": fromUTC,
		"windowTo":   toUTC,
	}).Debug("[connectors] calendar events fetched")

	return out, nil
}
