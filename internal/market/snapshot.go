// Package market turns raw prediction-market quotes into a market-implied
// probability per canonical temperature bucket.
package market

import (
	"fmt"
	"math"
	"sort"

	"github.com/thientran01/weather-bot/internal/bucket"
)

// DefaultPriceScale is the native price scale of cent-denominated contracts.
const DefaultPriceScale = 100.0

// RawQuote is one market's quote as supplied by the market-data source.
// LabelLow and LabelHigh are the half-open boundaries the market states for
// its range; nil marks an open side.
type RawQuote struct {
	Ticker    string
	LabelLow  *int
	LabelHigh *int
	YesPrice  float64
	NoPrice   float64
	Liquidity bool
}

// Label renders the quote's stated range for logs.
func (q RawQuote) Label() string {
	lo, hi := "-inf", "+inf"
	if q.LabelLow != nil {
		lo = fmt.Sprint(*q.LabelLow)
	}
	if q.LabelHigh != nil {
		hi = fmt.Sprint(*q.LabelHigh)
	}
	return "[" + lo + "," + hi + ")"
}

// Dropped records a quote the parser refused, and why.
type Dropped struct {
	Quote  RawQuote
	Reason string
}

// Distribution maps every bucket of a schema to a market-implied probability
// or marks it absent. It is not required to sum to 1.
type Distribution struct {
	schema    bucket.Schema
	probs     []float64
	present   []bool
	liquidity []bool

	// Dropped lists quotes that could not be placed in the schema.
	Dropped []Dropped
}

// Empty returns a distribution over schema with every bucket absent.
func Empty(schema bucket.Schema) Distribution {
	return Distribution{
		schema:    schema,
		probs:     make([]float64, schema.Len()),
		present:   make([]bool, schema.Len()),
		liquidity: make([]bool, schema.Len()),
	}
}

// Schema returns the bucket schema the distribution is built over.
func (d Distribution) Schema() bucket.Schema {
	return d.schema
}

// Len returns the number of buckets.
func (d Distribution) Len() int {
	return len(d.probs)
}

// Prob returns the probability for bucket i and whether the market quoted it.
func (d Distribution) Prob(i int) (float64, bool) {
	if !d.present[i] {
		return 0, false
	}
	return d.probs[i], true
}

// Liquid reports whether the quote for bucket i carried volume or interest.
func (d Distribution) Liquid(i int) bool {
	return d.liquidity[i]
}

// Quoted returns the number of present buckets.
func (d Distribution) Quoted() int {
	n := 0
	for _, p := range d.present {
		if p {
			n++
		}
	}
	return n
}

// Parser normalizes native prices by PriceScale.
type Parser struct {
	PriceScale float64
}

// NewParser returns a Parser for the given native scale. A non-positive scale
// falls back to DefaultPriceScale.
func NewParser(scale float64) Parser {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		scale = DefaultPriceScale
	}
	return Parser{PriceScale: scale}
}

// Parse places each quote in its canonical bucket. Quotes whose label matches
// no bucket or whose normalized price is outside [0,1] are dropped and
// flagged; the rest of the snapshot is kept. When several valid quotes land
// in one bucket the liquid one wins, then the lowest ticker, then the lowest
// price, so the result does not depend on input order. The losers are
// dropped as duplicates. An empty quote list yields a distribution with
// every bucket absent.
func (p Parser) Parse(schema bucket.Schema, quotes []RawQuote) Distribution {
	scale := p.PriceScale
	if scale <= 0 {
		scale = DefaultPriceScale
	}

	d := Empty(schema)
	chosen := make([]RawQuote, schema.Len())
	for _, q := range quotes {
		i, ok := schema.Index(q.LabelLow, q.LabelHigh)
		if !ok {
			d.Dropped = append(d.Dropped, Dropped{Quote: q, Reason: "no matching bucket for " + q.Label()})
			continue
		}
		prob := q.YesPrice / scale
		if math.IsNaN(prob) || prob < 0 || prob > 1 {
			d.Dropped = append(d.Dropped, Dropped{Quote: q, Reason: fmt.Sprintf("price %v outside [0,%v]", q.YesPrice, scale)})
			continue
		}
		if d.present[i] {
			reason := "duplicate quote for " + schema.At(i).String()
			if !preferred(q, chosen[i]) {
				d.Dropped = append(d.Dropped, Dropped{Quote: q, Reason: reason})
				continue
			}
			d.Dropped = append(d.Dropped, Dropped{Quote: chosen[i], Reason: reason})
		}
		chosen[i] = q
		d.probs[i] = prob
		d.present[i] = true
		d.liquidity[i] = q.Liquidity
	}
	return d
}

// preferred reports whether a should replace b for the same bucket.
func preferred(a, b RawQuote) bool {
	if a.Liquidity != b.Liquidity {
		return a.Liquidity
	}
	if a.Ticker != b.Ticker {
		return a.Ticker < b.Ticker
	}
	return a.YesPrice < b.YesPrice
}

// Boundaries collects the distinct finite labels of the quotes in ascending
// order, suitable for building a market-supplied bucket schema.
func Boundaries(quotes []RawQuote) []int {
	seen := make(map[int]struct{})
	for _, q := range quotes {
		if q.LabelLow != nil {
			seen[*q.LabelLow] = struct{}{}
		}
		if q.LabelHigh != nil {
			seen[*q.LabelHigh] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
