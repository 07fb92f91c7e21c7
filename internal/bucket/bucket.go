// Package bucket defines the canonical temperature-range bucketing used to
// align market quotes with forecast distributions.
package bucket

import (
	"fmt"
	"math"
	"strconv"
)

// Bucket is a half-open integer temperature range [Low, High) in degrees.
// OpenLow marks the lower tail (-inf, High); OpenHigh marks the upper tail
// [Low, +inf). Low and High are meaningless on an open side.
type Bucket struct {
	Low      int  `json:"low"`
	High     int  `json:"high"`
	OpenLow  bool `json:"open_low"`
	OpenHigh bool `json:"open_high"`
}

// Lower returns the lower boundary as a float, -Inf for the lower tail.
func (b Bucket) Lower() float64 {
	if b.OpenLow {
		return math.Inf(-1)
	}
	return float64(b.Low)
}

// Upper returns the upper boundary as a float, +Inf for the upper tail.
func (b Bucket) Upper() float64 {
	if b.OpenHigh {
		return math.Inf(1)
	}
	return float64(b.High)
}

// Contains reports whether t falls inside the bucket.
func (b Bucket) Contains(t float64) bool {
	return t >= b.Lower() && t < b.Upper()
}

// Less orders buckets by lower boundary, the lower tail first.
func (b Bucket) Less(o Bucket) bool {
	return b.Lower() < o.Lower()
}

// LowPtr returns the lower boundary, or nil for the lower tail.
func (b Bucket) LowPtr() *int {
	if b.OpenLow {
		return nil
	}
	v := b.Low
	return &v
}

// HighPtr returns the upper boundary, or nil for the upper tail.
func (b Bucket) HighPtr() *int {
	if b.OpenHigh {
		return nil
	}
	v := b.High
	return &v
}

// String renders the interval form, e.g. "(-inf,60)", "[60,70)", "[80,+inf)".
func (b Bucket) String() string {
	lo, hi := "(-inf", "+inf)"
	if !b.OpenLow {
		lo = "[" + strconv.Itoa(b.Low)
	}
	if !b.OpenHigh {
		hi = strconv.Itoa(b.High) + ")"
	}
	return lo + "," + hi
}

// Label renders the human form used in reports, e.g. "<60°", "60–69°", "≥80°".
func (b Bucket) Label() string {
	switch {
	case b.OpenLow && b.OpenHigh:
		return "any"
	case b.OpenLow:
		return fmt.Sprintf("<%d°", b.High)
	case b.OpenHigh:
		return fmt.Sprintf("≥%d°", b.Low)
	case b.High-b.Low == 1:
		return fmt.Sprintf("%d°", b.Low)
	default:
		return fmt.Sprintf("%d–%d°", b.Low, b.High-1)
	}
}

// ConfigError reports an invalid bucket schema.
type ConfigError struct {
	Boundaries []int
	Reason     string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid bucket schema %v: %s", e.Boundaries, e.Reason)
}

// Schema is an immutable ordered sequence of buckets covering the whole real
// line. The zero Schema is empty and is compatible only with another empty one.
type Schema struct {
	boundaries []int
	buckets    []Bucket
}

// NewSchema builds the bucket sequence for the given boundaries: a lower tail
// below the first, one bucket between each consecutive pair, and an upper tail
// from the last.
func NewSchema(boundaries []int) (Schema, error) {
	if len(boundaries) == 0 {
		return Schema{}, &ConfigError{Boundaries: boundaries, Reason: "at least one boundary is required"}
	}
	for i := 1; i < len(boundaries); i++ {
		if boundaries[i] == boundaries[i-1] {
			return Schema{}, &ConfigError{
				Boundaries: boundaries,
				Reason:     fmt.Sprintf("duplicate boundary %d", boundaries[i]),
			}
		}
		if boundaries[i] < boundaries[i-1] {
			return Schema{}, &ConfigError{
				Boundaries: boundaries,
				Reason:     fmt.Sprintf("boundary %d follows %d; must be strictly increasing", boundaries[i], boundaries[i-1]),
			}
		}
	}

	bs := make([]int, len(boundaries))
	copy(bs, boundaries)

	buckets := make([]Bucket, 0, len(bs)+1)
	buckets = append(buckets, Bucket{High: bs[0], OpenLow: true})
	for i := 1; i < len(bs); i++ {
		buckets = append(buckets, Bucket{Low: bs[i-1], High: bs[i]})
	}
	buckets = append(buckets, Bucket{Low: bs[len(bs)-1], OpenHigh: true})

	return Schema{boundaries: bs, buckets: buckets}, nil
}

// MustSchema is NewSchema for fixed, known-good boundaries. It panics on error.
func MustSchema(boundaries ...int) Schema {
	s, err := NewSchema(boundaries)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of buckets.
func (s Schema) Len() int {
	return len(s.buckets)
}

// Empty reports whether the schema has no buckets.
func (s Schema) Empty() bool {
	return len(s.buckets) == 0
}

// At returns the i-th bucket.
func (s Schema) At(i int) Bucket {
	return s.buckets[i]
}

// Buckets returns a copy of the ordered buckets.
func (s Schema) Buckets() []Bucket {
	out := make([]Bucket, len(s.buckets))
	copy(out, s.buckets)
	return out
}

// Boundaries returns a copy of the interior boundaries.
func (s Schema) Boundaries() []int {
	out := make([]int, len(s.boundaries))
	copy(out, s.boundaries)
	return out
}

// Compatible reports whether two schemas are identical ordered sequences of
// (low, high) pairs and can therefore be aligned bucket by bucket.
func (s Schema) Compatible(o Schema) bool {
	if len(s.buckets) != len(o.buckets) {
		return false
	}
	for i := range s.buckets {
		if s.buckets[i] != o.buckets[i] {
			return false
		}
	}
	return true
}

// Index finds the bucket whose boundaries match the given labels. A nil low
// matches only the lower tail and a nil high only the upper tail.
func (s Schema) Index(low, high *int) (int, bool) {
	for i, b := range s.buckets {
		if (low == nil) != b.OpenLow || (high == nil) != b.OpenHigh {
			continue
		}
		if low != nil && *low != b.Low {
			continue
		}
		if high != nil && *high != b.High {
			continue
		}
		return i, true
	}
	return -1, false
}

// Locate returns the index of the bucket containing temperature t.
func (s Schema) Locate(t float64) int {
	for i, b := range s.buckets {
		if b.Contains(t) {
			return i
		}
	}
	return -1
}
