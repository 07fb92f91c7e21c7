package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/thientran01/weather-bot/internal/fetch"
)

func fp(v float64) *float64 { return &v }

func TestToQuote_StrikeMapping(t *testing.T) {
	tests := []struct {
		name     string
		m        APIMarket
		wantLow  *int
		wantHigh *int
	}{
		{
			name:    "greater",
			m:       APIMarket{StrikeType: "greater", FloorStrike: fp(79)},
			wantLow: ip(80),
		},
		{
			name:     "less",
			m:        APIMarket{StrikeType: "less", CapStrike: fp(60)},
			wantHigh: ip(60),
		},
		{
			name:     "less fractional cap",
			m:        APIMarket{StrikeType: "less", CapStrike: fp(59.5)},
			wantHigh: ip(60),
		},
		{
			name:     "between inclusive",
			m:        APIMarket{StrikeType: "between", FloorStrike: fp(48), CapStrike: fp(49)},
			wantLow:  ip(48),
			wantHigh: ip(50),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ToQuote(tt.m)
			if err != nil {
				t.Fatalf("ToQuote: %v", err)
			}
			if !eqPtr(q.LabelLow, tt.wantLow) || !eqPtr(q.LabelHigh, tt.wantHigh) {
				t.Errorf("label = %s, want low=%v high=%v", q.Label(), deref(tt.wantLow), deref(tt.wantHigh))
			}
		})
	}
}

func TestToQuote_Rejects(t *testing.T) {
	tests := []struct {
		name string
		m    APIMarket
	}{
		{"unknown strike type", APIMarket{StrikeType: "custom"}},
		{"greater without floor", APIMarket{StrikeType: "greater"}},
		{"less without cap", APIMarket{StrikeType: "less"}},
		{"between missing cap", APIMarket{StrikeType: "between", FloorStrike: fp(40)}},
		{"between inverted", APIMarket{StrikeType: "between", FloorStrike: fp(41), CapStrike: fp(40)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ToQuote(tt.m); !errors.Is(err, ErrUnknownStrike) {
				t.Errorf("ToQuote() error = %v, want ErrUnknownStrike", err)
			}
		})
	}
}

func TestToQuote_Prices(t *testing.T) {
	tests := []struct {
		name    string
		m       APIMarket
		wantYes float64
		wantNo  float64
		liquid  bool
	}{
		{"last trade", APIMarket{LastPrice: 73, NoBid: 25, Volume: 10}, 73, 25, true},
		{"midpoint fallback", APIMarket{YesBid: 20, YesAsk: 30, OpenInterest: 4}, 25, 75, true},
		{"no activity", APIMarket{}, 0, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.m.StrikeType, tt.m.FloorStrike = "greater", fp(80)
			q, err := ToQuote(tt.m)
			if err != nil {
				t.Fatalf("ToQuote: %v", err)
			}
			if q.YesPrice != tt.wantYes || q.NoPrice != tt.wantNo || q.Liquidity != tt.liquid {
				t.Errorf("got yes=%v no=%v liquid=%v, want %v/%v/%v",
					q.YesPrice, q.NoPrice, q.Liquidity, tt.wantYes, tt.wantNo, tt.liquid)
			}
		})
	}
}

func TestEventDate(t *testing.T) {
	got, err := EventDate("KXHIGHNY-26FEB18")
	if err != nil {
		t.Fatalf("EventDate: %v", err)
	}
	if want := time.Date(2026, 2, 18, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("EventDate() = %v, want %v", got, want)
	}

	for _, bad := range []string{"KXHIGHNY", "KXHIGHNY-", "KXHIGHNY-26XYZ18"} {
		if _, err := EventDate(bad); err == nil {
			t.Errorf("EventDate(%q) should fail", bad)
		}
	}
}

func TestFetchSeries_PaginatesAndGroups(t *testing.T) {
	count := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		q := r.URL.Query()
		if q.Get("series_ticker") != "KXHIGHNY" || q.Get("status") != "open" {
			t.Errorf("unexpected query: %v", q)
		}
		cursor := q.Get("cursor")

		switch {
		case count == 1 && cursor == "":
			json.NewEncoder(w).Encode(MarketsResponse{
				Markets: []APIMarket{
					{Ticker: "KXHIGHNY-26FEB19-T80", EventTicker: "KXHIGHNY-26FEB19", StrikeType: "greater", FloorStrike: fp(79), LastPrice: 12},
					{Ticker: "KXHIGHNY-26FEB18-B75", EventTicker: "KXHIGHNY-26FEB18", StrikeType: "between", FloorStrike: fp(70), CapStrike: fp(79), LastPrice: 55},
				},
				Cursor: "page2",
			})
		case count == 2 && cursor == "page2":
			json.NewEncoder(w).Encode(MarketsResponse{
				Markets: []APIMarket{
					{Ticker: "KXHIGHNY-26FEB18-T60", EventTicker: "KXHIGHNY-26FEB18", StrikeType: "less", CapStrike: fp(60), LastPrice: 1},
					{Ticker: "KXHIGHNY-26FEB18-X", EventTicker: "KXHIGHNY-26FEB18", StrikeType: "weird"},
				},
			})
		default:
			t.Errorf("unexpected request: count=%d cursor=%q", count, cursor)
		}
	}))
	defer server.Close()

	api := fetch.NewClient("kalshi", server.URL, fetch.WithRetries(0, 0), fetch.WithRateLimit(0, 0))
	events, err := NewClient(api, 100).FetchSeries(context.Background(), "KXHIGHNY")
	if err != nil {
		t.Fatalf("FetchSeries: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}

	first := events[0]
	if first.Ticker != "KXHIGHNY-26FEB18" {
		t.Errorf("events[0] = %s, want the earlier date first", first.Ticker)
	}
	if len(first.Quotes) != 2 || first.Skipped != 1 {
		t.Errorf("events[0] quotes=%d skipped=%d, want 2/1", len(first.Quotes), first.Skipped)
	}
	if *first.Quotes[0].LabelLow != 70 || *first.Quotes[0].LabelHigh != 80 {
		t.Errorf("between 70..79 should map to [70,80), got %s", first.Quotes[0].Label())
	}
	if events[1].Series != "KXHIGHNY" || len(events[1].Quotes) != 1 {
		t.Errorf("events[1] = %+v", events[1])
	}
}

func TestFetchSeries_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	api := fetch.NewClient("kalshi", server.URL, fetch.WithRetries(0, 0), fetch.WithRateLimit(0, 0))
	_, err := NewClient(api, 0).FetchSeries(context.Background(), "KXHIGHNY")
	var apiErr *fetch.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("FetchSeries() error = %v, want 403 APIError", err)
	}
}

func ip(v int) *int { return &v }

func eqPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
