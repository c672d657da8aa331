// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package reducer implements the GROUPBY accumulators: COUNT, SUM, MIN,
// MAX, AVG, TOLIST, STDDEV, QUANTILE, COUNT_DISTINCT(ISH), HLL, HLL_SUM,
// FIRST_VALUE, and RANDOM_SAMPLE.
//
// Every reducer follows the same two-level contract as the teacher's
// AggregateOpFn family: a Reducer value carries the settings common to
// every group (such as QUANTILE's quantile or RANDOM_SAMPLE's size; the
// source and output keys live in rproc.ReducerBinding), while NewInstance
// produces the per-group accumulator that actually sees rows. The GROUPER processor
// keeps one Instance per distinct group-key tuple.
package reducer

import (
	"fmt"
	"math"
	"sort"

	"github.com/RediSearch/RediSearch-sub005/ferr"
	"github.com/RediSearch/RediSearch-sub005/rval"
	"github.com/dchest/siphash"
)

// hashKey is shared by every reducer instance in a query so that COUNT
// DISTINCT/HLL hashing is reproducible within one execution; it is not a
// security-sensitive secret, only a decorrelation seed.
var hashKey0, hashKey1 uint64 = 0x5bd1e995, 0x9e3779b9

func hash64(b []byte) uint64 { return siphash.Hash(hashKey0, hashKey1, b) }

// explodeAdd feeds scalar values straight to add; an Array value is
// treated as a batch of prior observations (the shape the distribution
// rewriter's remote-side reducers hand to their local merge step) and
// its elements are fed one at a time instead.
func explodeAdd(v rval.Value, add func(rval.Value) error) error {
	if v.Kind() == rval.Array {
		arr, _ := v.Array()
		for _, elem := range arr {
			if err := explodeAdd(elem, add); err != nil {
				return err
			}
		}
		return nil
	}
	return add(v)
}

// Instance is the per-group accumulator created by Reducer.NewInstance.
type Instance interface {
	Add(v rval.Value) error
	Finalize() rval.Value
	Free()
}

// Reducer is the group-independent, group-step-scoped reducer
// descriptor: it knows how to mint new Instances but holds no
// accumulated state itself.
type Reducer interface {
	Name() string
	NewInstance() Instance
}

// RandomSampleSize is the fixed compile-time constant used by the
// distribution rewriter for STDDEV/QUANTILE's remote-side RANDOM_SAMPLE
// split (see distribute.splitReducers).
const RandomSampleSize = 500

// New constructs a Reducer by name (as it appears in a REDUCE token),
// validating the argument count up front the way the source's
// ReducerOptions.EnsureArgsConsumed does.
func New(name string, args []string) (Reducer, error) {
	switch name {
	case "COUNT":
		if len(args) != 0 {
			return nil, ferr.New(ferr.ParseArgs, "COUNT takes no arguments")
		}
		return countReducer{}, nil
	case "SUM":
		return numericReducer{kind: sumKind}, nil
	case "MIN":
		return numericReducer{kind: minKind}, nil
	case "MAX":
		return numericReducer{kind: maxKind}, nil
	case "AVG":
		return numericReducer{kind: avgKind}, nil
	case "TOLIST":
		return toListReducer{}, nil
	case "STDDEV":
		return stddevReducer{}, nil
	case "QUANTILE":
		if len(args) < 1 {
			return nil, ferr.New(ferr.ParseArgs, "QUANTILE requires a quantile argument")
		}
		var q float64
		if _, err := fmt.Sscanf(args[len(args)-1], "%g", &q); err != nil || q < 0 || q > 1 {
			return nil, ferr.New(ferr.BadVal, "QUANTILE argument must be in [0,1]")
		}
		return quantileReducer{q: q}, nil
	case "COUNT_DISTINCT":
		return countDistinctReducer{}, nil
	case "COUNT_DISTINCTISH":
		return hllReducer{merge: false}, nil
	case "HLL":
		return hllReducer{merge: false, raw: true}, nil
	case "HLL_SUM":
		return hllReducer{merge: true}, nil
	case "RANDOM_SAMPLE":
		n := RandomSampleSize
		if len(args) >= 2 {
			fmt.Sscanf(args[1], "%d", &n)
		}
		return sampleReducer{n: n}, nil
	case "FIRST_VALUE":
		return firstValueReducer{}, nil
	default:
		return nil, ferr.New(ferr.NoReducer, "unknown reducer %q", name)
	}
}

// --- COUNT ---

type countReducer struct{}

func (countReducer) Name() string        { return "COUNT" }
func (countReducer) NewInstance() Instance { return &countInstance{} }

type countInstance struct{ n int64 }

func (c *countInstance) Add(rval.Value) error    { c.n++; return nil }
func (c *countInstance) Finalize() rval.Value { return rval.NewNumber(float64(c.n)) }
func (c *countInstance) Free()                {}

// --- SUM/MIN/MAX/AVG ---

type numericKind int

const (
	sumKind numericKind = iota
	minKind
	maxKind
	avgKind
)

type numericReducer struct{ kind numericKind }

func (n numericReducer) Name() string {
	switch n.kind {
	case sumKind:
		return "SUM"
	case minKind:
		return "MIN"
	case maxKind:
		return "MAX"
	default:
		return "AVG"
	}
}

func (n numericReducer) NewInstance() Instance {
	return &numericInstance{kind: n.kind}
}

type numericInstance struct {
	kind    numericKind
	count   int64
	sum     float64
	min     float64
	max     float64
	seenAny bool
}

func (n *numericInstance) Add(v rval.Value) error {
	f, ok := v.Number()
	if !ok {
		// NO_PROP_VAL is soft: a non-numeric value is skipped, not an error.
		return nil
	}
	n.count++
	n.sum += f
	if !n.seenAny || f < n.min {
		n.min = f
	}
	if !n.seenAny || f > n.max {
		n.max = f
	}
	n.seenAny = true
	return nil
}

func (n *numericInstance) Finalize() rval.Value {
	switch n.kind {
	case sumKind:
		return rval.NewNumber(n.sum)
	case minKind:
		if !n.seenAny {
			return rval.NullValue()
		}
		return rval.NewNumber(n.min)
	case maxKind:
		if !n.seenAny {
			return rval.NullValue()
		}
		return rval.NewNumber(n.max)
	default: // avgKind
		if n.count == 0 {
			return rval.NullValue()
		}
		return rval.NewNumber(n.sum / float64(n.count))
	}
}

func (n *numericInstance) Free() {}

// --- TOLIST ---

type toListReducer struct{}

func (toListReducer) Name() string        { return "TOLIST" }
func (toListReducer) NewInstance() Instance { return &toListInstance{seen: make(map[uint64]struct{})} }

type toListInstance struct {
	seen map[uint64]struct{}
	out  []rval.Value
}

func (t *toListInstance) Add(v rval.Value) error {
	return explodeAdd(v, func(v rval.Value) error {
		h := rval.Hash(v, hash64)
		if _, ok := t.seen[h]; ok {
			return nil
		}
		t.seen[h] = struct{}{}
		t.out = append(t.out, v)
		return nil
	})
}

func (t *toListInstance) Finalize() rval.Value { return rval.NewArray(t.out) }
func (t *toListInstance) Free()                { t.seen = nil; t.out = nil }

// --- STDDEV (Welford's online algorithm) ---

type stddevReducer struct{}

func (stddevReducer) Name() string        { return "STDDEV" }
func (stddevReducer) NewInstance() Instance { return &stddevInstance{} }

type stddevInstance struct {
	n    int64
	mean float64
	m2   float64
}

func (s *stddevInstance) Add(v rval.Value) error {
	return explodeAdd(v, func(v rval.Value) error {
		f, ok := v.Number()
		if !ok {
			return nil
		}
		s.n++
		delta := f - s.mean
		s.mean += delta / float64(s.n)
		delta2 := f - s.mean
		s.m2 += delta * delta2
		return nil
	})
}

func (s *stddevInstance) Finalize() rval.Value {
	if s.n < 2 {
		return rval.NewNumber(0)
	}
	return rval.NewNumber(math.Sqrt(s.m2 / float64(s.n-1)))
}

func (s *stddevInstance) Free() {}

// --- QUANTILE (bounded reservoir + linear interpolation) ---

type quantileReducer struct{ q float64 }

func (r quantileReducer) Name() string { return "QUANTILE" }
func (r quantileReducer) NewInstance() Instance {
	return &quantileInstance{q: r.q}
}

type quantileInstance struct {
	q       float64
	samples []float64
	seen    int64
	rng     uint64
}

func (q *quantileInstance) Add(v rval.Value) error {
	return explodeAdd(v, func(v rval.Value) error {
		f, ok := v.Number()
		if !ok {
			return nil
		}
		q.seen++
		if len(q.samples) < RandomSampleSize {
			q.samples = append(q.samples, f)
			return nil
		}
		j := q.next(q.seen)
		if j < int64(RandomSampleSize) {
			q.samples[j] = f
		}
		return nil
	})
}

// next implements reservoir sampling's random index draw with a small
// xorshift PRNG seeded from the running count, avoiding a dependency on
// math/rand state shared across goroutines.
func (q *quantileInstance) next(n int64) int64 {
	if q.rng == 0 {
		q.rng = uint64(n)*2654435761 + 1
	}
	q.rng ^= q.rng << 13
	q.rng ^= q.rng >> 7
	q.rng ^= q.rng << 17
	return int64(q.rng % uint64(n))
}

func (q *quantileInstance) Finalize() rval.Value {
	if len(q.samples) == 0 {
		return rval.NullValue()
	}
	s := append([]float64(nil), q.samples...)
	sort.Float64s(s)
	pos := q.q * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return rval.NewNumber(s[lo])
	}
	frac := pos - float64(lo)
	return rval.NewNumber(s[lo]*(1-frac) + s[hi]*frac)
}

func (q *quantileInstance) Free() { q.samples = nil }

// --- COUNT_DISTINCT (exact) ---

type countDistinctReducer struct{}

func (countDistinctReducer) Name() string { return "COUNT_DISTINCT" }
func (countDistinctReducer) NewInstance() Instance {
	return &countDistinctInstance{seen: make(map[uint64]struct{})}
}

type countDistinctInstance struct{ seen map[uint64]struct{} }

func (c *countDistinctInstance) Add(v rval.Value) error {
	c.seen[rval.Hash(v, hash64)] = struct{}{}
	return nil
}
func (c *countDistinctInstance) Finalize() rval.Value { return rval.NewNumber(float64(len(c.seen))) }
func (c *countDistinctInstance) Free()                { c.seen = nil }

// --- FIRST_VALUE ---

type firstValueReducer struct{}

func (firstValueReducer) Name() string        { return "FIRST_VALUE" }
func (firstValueReducer) NewInstance() Instance { return &firstValueInstance{} }

type firstValueInstance struct {
	v    rval.Value
	seen bool
}

func (f *firstValueInstance) Add(v rval.Value) error {
	if !f.seen {
		f.v = v
		f.seen = true
	}
	return nil
}
func (f *firstValueInstance) Finalize() rval.Value {
	if !f.seen {
		return rval.NullValue()
	}
	return f.v
}
func (f *firstValueInstance) Free() {}

// --- RANDOM_SAMPLE ---

type sampleReducer struct{ n int }

func (r sampleReducer) Name() string { return "RANDOM_SAMPLE" }
func (r sampleReducer) NewInstance() Instance {
	return &sampleInstance{n: r.n}
}

type sampleInstance struct {
	n       int
	samples []rval.Value
	seen    int64
	rng     uint64
}

func (s *sampleInstance) Add(v rval.Value) error {
	s.seen++
	if len(s.samples) < s.n {
		s.samples = append(s.samples, v)
		return nil
	}
	s.rng ^= s.rng<<13 | uint64(s.seen)
	s.rng ^= s.rng >> 7
	s.rng ^= s.rng << 17
	j := int64(s.rng % uint64(s.seen))
	if j < int64(s.n) {
		s.samples[j] = v
	}
	return nil
}

func (s *sampleInstance) Finalize() rval.Value { return rval.NewArray(s.samples) }
func (s *sampleInstance) Free()                { s.samples = nil }
