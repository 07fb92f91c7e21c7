// Package kalshi reads temperature-range markets from the Kalshi trade API and
// turns them into raw quotes for the market snapshot parser.
package kalshi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/thientran01/weather-bot/internal/fetch"
	"github.com/thientran01/weather-bot/internal/logger"
	"github.com/thientran01/weather-bot/internal/market"
)

// DefaultBaseURL is the public Kalshi trade API.
const DefaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

// eventDateLayout parses the date suffix of an event ticker, e.g. "26FEB18".
const eventDateLayout = "06Jan02"

// ErrUnknownStrike is returned for markets whose strike type or strikes
// cannot be mapped to a bucket label.
var ErrUnknownStrike = errors.New("unsupported strike")

// Event is one settlement day of a series: every open market sharing an
// event ticker.
type Event struct {
	Ticker string
	Series string
	Date   time.Time
	Quotes []market.RawQuote

	// Skipped counts markets that could not be turned into quotes.
	Skipped int
}

// Client provides access to Kalshi market data.
type Client struct {
	api      *fetch.Client
	pageSize int
}

// NewClient creates a Kalshi client on top of a configured fetch client.
func NewClient(api *fetch.Client, pageSize int) *Client {
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 1000
	}
	return &Client{api: api, pageSize: pageSize}
}

// FetchSeries retrieves every open market of a series, grouped by event and
// ordered by event date.
func (c *Client) FetchSeries(ctx context.Context, series string) ([]Event, error) {
	markets, err := c.fetchMarkets(ctx, series)
	if err != nil {
		return nil, fmt.Errorf("fetch series %s: %w", series, err)
	}

	byTicker := make(map[string]*Event)
	var order []string
	for _, m := range markets {
		ev, ok := byTicker[m.EventTicker]
		if !ok {
			date, err := EventDate(m.EventTicker)
			if err != nil {
				logger.Warn("[%s] skipping market %s: %v", series, m.Ticker, err)
				continue
			}
			ev = &Event{Ticker: m.EventTicker, Series: series, Date: date}
			byTicker[m.EventTicker] = ev
			order = append(order, m.EventTicker)
		}

		q, err := ToQuote(m)
		if err != nil {
			logger.Warn("[%s] skipping market %s: %v", series, m.Ticker, err)
			ev.Skipped++
			continue
		}
		ev.Quotes = append(ev.Quotes, q)
	}

	events := make([]Event, 0, len(order))
	for _, t := range order {
		events = append(events, *byTicker[t])
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date.Before(events[j].Date)
	})
	return events, nil
}

func (c *Client) fetchMarkets(ctx context.Context, series string) ([]APIMarket, error) {
	var all []APIMarket
	cursor := ""

	for {
		query := url.Values{}
		query.Set("series_ticker", series)
		query.Set("status", "open")
		query.Set("limit", strconv.Itoa(c.pageSize))
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var resp MarketsResponse
		if err := c.api.GetJSON(ctx, "/markets", query, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Markets...)

		if resp.Cursor == "" || len(resp.Markets) == 0 {
			break
		}
		cursor = resp.Cursor
	}

	return all, nil
}

// EventDate parses the settlement date from an event ticker such as
// "KXHIGHNY-26FEB18".
func EventDate(eventTicker string) (time.Time, error) {
	i := strings.LastIndex(eventTicker, "-")
	if i < 0 || i == len(eventTicker)-1 {
		return time.Time{}, fmt.Errorf("event ticker %q has no date suffix", eventTicker)
	}
	d, err := time.Parse(eventDateLayout, eventTicker[i+1:])
	if err != nil {
		return time.Time{}, fmt.Errorf("event ticker %q: %w", eventTicker, err)
	}
	return d, nil
}

// ToQuote maps a market onto a half-open integer label and a cent price.
//
//	greater f     -> [floor(f)+1, +inf)
//	less c        -> (-inf, ceil(c))
//	between f..c  -> [ceil(f), floor(c)+1)
func ToQuote(m APIMarket) (market.RawQuote, error) {
	q := market.RawQuote{
		Ticker:    m.Ticker,
		Liquidity: m.Volume > 0 || m.OpenInterest > 0,
	}

	switch m.StrikeType {
	case "greater":
		if m.FloorStrike == nil {
			return q, fmt.Errorf("%w: greater market missing floor_strike", ErrUnknownStrike)
		}
		lo := int(math.Floor(*m.FloorStrike)) + 1
		q.LabelLow = &lo
	case "less":
		if m.CapStrike == nil {
			return q, fmt.Errorf("%w: less market missing cap_strike", ErrUnknownStrike)
		}
		hi := int(math.Ceil(*m.CapStrike))
		q.LabelHigh = &hi
	case "between":
		if m.FloorStrike == nil || m.CapStrike == nil {
			return q, fmt.Errorf("%w: between market missing floor_strike or cap_strike", ErrUnknownStrike)
		}
		lo := int(math.Ceil(*m.FloorStrike))
		hi := int(math.Floor(*m.CapStrike)) + 1
		if hi <= lo {
			return q, fmt.Errorf("%w: empty range %v..%v", ErrUnknownStrike, *m.FloorStrike, *m.CapStrike)
		}
		q.LabelLow, q.LabelHigh = &lo, &hi
	default:
		return q, fmt.Errorf("%w: strike_type %q", ErrUnknownStrike, m.StrikeType)
	}

	q.YesPrice = yesPrice(m)
	if m.NoBid > 0 {
		q.NoPrice = float64(m.NoBid)
	} else {
		q.NoPrice = market.DefaultPriceScale - q.YesPrice
	}
	return q, nil
}

// yesPrice is the last trade, or the bid/ask midpoint when nothing traded.
func yesPrice(m APIMarket) float64 {
	if m.LastPrice > 0 {
		return float64(m.LastPrice)
	}
	switch {
	case m.YesBid > 0 && m.YesAsk > 0:
		return float64(m.YesBid+m.YesAsk) / 2
	case m.YesAsk > 0:
		return float64(m.YesAsk) / 2
	default:
		return float64(m.YesBid)
	}
}
