package market

import (
	"math"
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/thientran01/weather-bot/internal/bucket"
)

func ip(v int) *int { return &v }

func nycSchema() bucket.Schema {
	return bucket.MustSchema(60, 70, 80)
}

func TestParse_SingleQuote(t *testing.T) {
	quotes := []RawQuote{
		{Ticker: "KXHIGHNY-26FEB18-B75", LabelLow: ip(70), LabelHigh: ip(80), YesPrice: 55, NoPrice: 45, Liquidity: true},
	}
	d := NewParser(100).Parse(nycSchema(), quotes)

	if d.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", d.Len())
	}
	for i := 0; i < d.Len(); i++ {
		p, ok := d.Prob(i)
		if i == 2 {
			if !ok || math.Abs(p-0.55) > 1e-12 {
				t.Errorf("bucket 2 = (%v, %v), want (0.55, true)", p, ok)
			}
			if !d.Liquid(i) {
				t.Error("bucket 2 should carry the liquidity flag")
			}
			continue
		}
		if ok {
			t.Errorf("bucket %d should be absent, got %v", i, p)
		}
	}
	if len(d.Dropped) != 0 {
		t.Errorf("unexpected dropped quotes: %v", d.Dropped)
	}
}

func TestParse_Empty(t *testing.T) {
	for _, quotes := range [][]RawQuote{nil, {}} {
		d := NewParser(100).Parse(nycSchema(), quotes)
		if d.Len() != 4 {
			t.Fatalf("Len() = %d, want 4", d.Len())
		}
		if d.Quoted() != 0 {
			t.Errorf("Quoted() = %d, want 0", d.Quoted())
		}
	}
}

func TestParse_DropsBadQuotes(t *testing.T) {
	quotes := []RawQuote{
		{Ticker: "good-low", LabelHigh: ip(60), YesPrice: 3},
		{Ticker: "unmatched", LabelLow: ip(65), LabelHigh: ip(70), YesPrice: 20},
		{Ticker: "good-mid", LabelLow: ip(60), LabelHigh: ip(70), YesPrice: 15},
		{Ticker: "duplicate", LabelLow: ip(60), LabelHigh: ip(70), YesPrice: 40},
		{Ticker: "overpriced", LabelLow: ip(70), LabelHigh: ip(80), YesPrice: 140},
		{Ticker: "negative", LabelLow: ip(80), YesPrice: -1},
		{Ticker: "nan", LabelLow: ip(80), YesPrice: math.NaN()},
	}
	d := NewParser(100).Parse(nycSchema(), quotes)

	if p, ok := d.Prob(0); !ok || math.Abs(p-0.03) > 1e-12 {
		t.Errorf("bucket 0 = (%v, %v), want (0.03, true)", p, ok)
	}
	if p, ok := d.Prob(1); !ok || math.Abs(p-0.40) > 1e-12 {
		t.Errorf("bucket 1 = (%v, %v), want lower ticker's 0.40", p, ok)
	}
	if _, ok := d.Prob(2); ok {
		t.Error("bucket 2 should be absent after its only quote was rejected")
	}
	if _, ok := d.Prob(3); ok {
		t.Error("bucket 3 should be absent after its quotes were rejected")
	}

	var dropped []string
	for _, dq := range d.Dropped {
		dropped = append(dropped, dq.Quote.Ticker)
	}
	want := []string{"unmatched", "good-mid", "overpriced", "negative", "nan"}
	if !reflect.DeepEqual(dropped, want) {
		t.Errorf("dropped = %v, want %v", dropped, want)
	}
}

func TestParse_DuplicatesIndependentOfOrder(t *testing.T) {
	quotes := []RawQuote{
		{Ticker: "B75-b", LabelLow: ip(70), LabelHigh: ip(80), YesPrice: 40},
		{Ticker: "B75-a", LabelLow: ip(70), LabelHigh: ip(80), YesPrice: 45},
		{Ticker: "B75-z", LabelLow: ip(70), LabelHigh: ip(80), YesPrice: 55, Liquidity: true},
		{Ticker: "T60-b", LabelHigh: ip(60), YesPrice: 3},
		{Ticker: "T60-a", LabelHigh: ip(60), YesPrice: 4},
	}

	rng := rand.New(rand.NewPCG(1, 2))
	for iter := 0; iter < 50; iter++ {
		shuffled := append([]RawQuote(nil), quotes...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		d := NewParser(100).Parse(nycSchema(), shuffled)
		if p, ok := d.Prob(2); !ok || math.Abs(p-0.55) > 1e-12 || !d.Liquid(2) {
			t.Fatalf("order %d: bucket 2 = (%v, %v), want the liquid quote 0.55", iter, p, ok)
		}
		if p, ok := d.Prob(0); !ok || math.Abs(p-0.04) > 1e-12 {
			t.Fatalf("order %d: bucket 0 = (%v, %v), want lower ticker 0.04", iter, p, ok)
		}
		if len(d.Dropped) != 3 {
			t.Fatalf("order %d: dropped %d quotes, want 3", iter, len(d.Dropped))
		}
	}
}

func TestParse_ScaleBoundaries(t *testing.T) {
	quotes := []RawQuote{
		{LabelHigh: ip(60), YesPrice: 0},
		{LabelLow: ip(80), YesPrice: 100},
	}
	d := NewParser(0).Parse(nycSchema(), quotes)
	if p, ok := d.Prob(0); !ok || p != 0 {
		t.Errorf("zero price should be present as 0, got (%v, %v)", p, ok)
	}
	if p, ok := d.Prob(3); !ok || p != 1 {
		t.Errorf("full price should be present as 1, got (%v, %v)", p, ok)
	}
}

// Every schema bucket appears exactly once, either present in [0,1] or absent.
func TestParse_EveryBucketAccountedFor(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	schema := bucket.MustSchema(40, 45, 50, 55, 60)
	for iter := 0; iter < 300; iter++ {
		var quotes []RawQuote
		for j := 0; j < rng.IntN(10); j++ {
			var lo, hi *int
			if rng.IntN(4) > 0 {
				lo = ip(35 + 5*rng.IntN(6))
			}
			if rng.IntN(4) > 0 {
				hi = ip(40 + 5*rng.IntN(6))
			}
			quotes = append(quotes, RawQuote{LabelLow: lo, LabelHigh: hi, YesPrice: rng.Float64()*120 - 10})
		}

		d := NewParser(100).Parse(schema, quotes)
		if d.Len() != schema.Len() {
			t.Fatalf("Len() = %d, want %d", d.Len(), schema.Len())
		}
		placed := 0
		for i := 0; i < d.Len(); i++ {
			if p, ok := d.Prob(i); ok {
				placed++
				if p < 0 || p > 1 {
					t.Fatalf("bucket %d probability %v outside [0,1]", i, p)
				}
			}
		}
		if placed+len(d.Dropped) != len(quotes) {
			t.Fatalf("placed %d + dropped %d != %d quotes", placed, len(d.Dropped), len(quotes))
		}
	}
}

func TestBoundaries(t *testing.T) {
	quotes := []RawQuote{
		{LabelLow: ip(70), LabelHigh: ip(72)},
		{LabelHigh: ip(66)},
		{LabelLow: ip(66), LabelHigh: ip(68)},
		{LabelLow: ip(68), LabelHigh: ip(70)},
		{LabelLow: ip(72)},
	}
	got := Boundaries(quotes)
	want := []int{66, 68, 70, 72}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Boundaries() = %v, want %v", got, want)
	}
	if got := Boundaries(nil); len(got) != 0 {
		t.Errorf("Boundaries(nil) = %v, want empty", got)
	}
}
