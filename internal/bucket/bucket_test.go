package bucket

import (
	"errors"
	"math"
	"math/rand/v2"
	"sort"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestNewSchema(t *testing.T) {
	s, err := NewSchema([]int{60, 70, 80})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	want := []string{"(-inf,60)", "[60,70)", "[70,80)", "[80,+inf)"}
	if s.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", s.Len(), len(want))
	}
	for i, w := range want {
		if got := s.At(i).String(); got != w {
			t.Errorf("bucket %d = %s, want %s", i, got, w)
		}
	}
}

func TestNewSchema_Errors(t *testing.T) {
	tests := []struct {
		name       string
		boundaries []int
	}{
		{"empty", nil},
		{"duplicate", []int{60, 60, 70}},
		{"decreasing", []int{70, 60}},
		{"unsorted tail", []int{50, 60, 55}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchema(tt.boundaries)
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("NewSchema(%v) error = %v, want *ConfigError", tt.boundaries, err)
			}
		})
	}
}

func TestNewSchema_DoesNotAliasInput(t *testing.T) {
	in := []int{10, 20}
	s := MustSchema(in...)
	in[0] = 15
	if s.At(0).High != 10 {
		t.Errorf("schema changed after caller mutated input: %v", s.At(0))
	}
}

// For any valid boundary list the buckets are sorted, contiguous, gapless and
// bounded by open tails.
func TestSchema_CoversRealLine(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.IntN(12)
		seen := map[int]bool{}
		var bs []int
		for len(bs) < n {
			v := rng.IntN(140) - 20
			if !seen[v] {
				seen[v] = true
				bs = append(bs, v)
			}
		}
		sort.Ints(bs)

		s, err := NewSchema(bs)
		if err != nil {
			t.Fatalf("NewSchema(%v): %v", bs, err)
		}
		if s.Len() != len(bs)+1 {
			t.Fatalf("Len() = %d, want %d", s.Len(), len(bs)+1)
		}
		if !s.At(0).OpenLow || s.At(0).OpenHigh {
			t.Fatalf("first bucket %v is not a lower tail", s.At(0))
		}
		last := s.At(s.Len() - 1)
		if !last.OpenHigh || last.OpenLow {
			t.Fatalf("last bucket %v is not an upper tail", last)
		}
		for i := 1; i < s.Len(); i++ {
			prev, cur := s.At(i-1), s.At(i)
			if prev.Upper() != cur.Lower() {
				t.Fatalf("gap between %v and %v", prev, cur)
			}
			if !prev.Less(cur) {
				t.Fatalf("buckets out of order: %v then %v", prev, cur)
			}
		}
	}
}

func TestSchema_Compatible(t *testing.T) {
	a := MustSchema(60, 70, 80)
	b := MustSchema(60, 70, 80)
	c := MustSchema(60, 70)
	d := MustSchema(61, 70, 80)

	if !a.Compatible(b) {
		t.Error("identical schemas should be compatible")
	}
	if a.Compatible(c) {
		t.Error("schemas with different lengths should not be compatible")
	}
	if a.Compatible(d) {
		t.Error("schemas with different boundaries should not be compatible")
	}
	if a.Compatible(Schema{}) {
		t.Error("non-empty schema should not be compatible with the empty schema")
	}
	if !(Schema{}).Compatible(Schema{}) {
		t.Error("empty schemas should be compatible with each other")
	}
}

func TestSchema_Index(t *testing.T) {
	s := MustSchema(60, 70, 80)
	tests := []struct {
		name      string
		low, high *int
		want      int
		ok        bool
	}{
		{"lower tail", nil, intPtr(60), 0, true},
		{"interior", intPtr(60), intPtr(70), 1, true},
		{"upper tail", intPtr(80), nil, 3, true},
		{"unknown range", intPtr(65), intPtr(70), -1, false},
		{"tail with wrong boundary", nil, intPtr(70), -1, false},
		{"both open", nil, nil, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.Index(tt.low, tt.high)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Index() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestSchema_Locate(t *testing.T) {
	s := MustSchema(60, 70)
	tests := []struct {
		temp float64
		want int
	}{
		{-40, 0},
		{59.999, 0},
		{60, 1},
		{69.5, 1},
		{70, 2},
		{math.Inf(1), -1},
		{math.NaN(), -1},
	}
	for _, tt := range tests {
		if got := s.Locate(tt.temp); got != tt.want {
			t.Errorf("Locate(%v) = %d, want %d", tt.temp, got, tt.want)
		}
	}
}

func TestBucket_Label(t *testing.T) {
	tests := []struct {
		b    Bucket
		want string
	}{
		{Bucket{High: 60, OpenLow: true}, "<60°"},
		{Bucket{Low: 60, High: 70}, "60–69°"},
		{Bucket{Low: 48, High: 49}, "48°"},
		{Bucket{Low: 80, OpenHigh: true}, "≥80°"},
	}
	for _, tt := range tests {
		if got := tt.b.Label(); got != tt.want {
			t.Errorf("%v.Label() = %q, want %q", tt.b, got, tt.want)
		}
	}
}

func TestBucket_Pointers(t *testing.T) {
	tail := Bucket{High: 60, OpenLow: true}
	if tail.LowPtr() != nil {
		t.Error("lower tail should have nil LowPtr")
	}
	if p := tail.HighPtr(); p == nil || *p != 60 {
		t.Errorf("HighPtr() = %v, want 60", p)
	}
}
