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

package rproc

import (
	"github.com/RediSearch/RediSearch-sub005/reducer"
	"github.com/RediSearch/RediSearch-sub005/rlookup"
	"github.com/RediSearch/RediSearch-sub005/rval"
	"github.com/dchest/siphash"
)

// groupHashKey is a fixed siphash seed: group-key hashing only needs to
// be stable within one GROUPER's lifetime, not across queries.
var groupHashKey0, groupHashKey1 uint64 = 0xc3a5c85c97cb3127, 0xb492b66fbe98f273

func hashTuple(vals []rval.Value) uint64 {
	var h uint64 = 1469598103934665603
	for _, v := range vals {
		h ^= rval.Hash(v, func(b []byte) uint64 { return siphash.Hash(groupHashKey0, groupHashKey1, b) })
		h *= 1099511628211
	}
	return h
}

// ReducerBinding ties one GROUPBY reducer to the upstream field it reads
// and the output key its finalized value is written to.
type ReducerBinding struct {
	SourceKey *rlookup.Key
	OutKey    *rlookup.Key
	Factory   reducer.Reducer
}

type groupEntry struct {
	keyVals   []rval.Value
	instances []reducer.Instance
}

// Grouper accumulates one Group per distinct group-key tuple, matching
// the source's map-of-hash-to-Group with an accumulate pass followed by
// a yield pass. Array-valued group-by fields are expanded into the
// Cartesian product of their elements (spec.md §4.3); a missing/null
// group-by value contributes a single null element rather than being
// dropped.
type Grouper struct {
	base
	GroupByKeys []*rlookup.Key
	OutKeys     []*rlookup.Key // same length/order as GroupByKeys
	Reducers    []ReducerBinding

	groups    map[uint64]*groupEntry
	order     []uint64
	pos       int
	finalized bool
}

func NewGrouper(lookup *rlookup.Lookup, groupBy, outKeys []*rlookup.Key, reducers []ReducerBinding) *Grouper {
	return &Grouper{base: base{lookup: lookup}, GroupByKeys: groupBy, OutKeys: outKeys, Reducers: reducers}
}

func (g *Grouper) Next(row *rlookup.Row) Status {
	if !g.finalized {
		if st := g.accumulate(); st != StatusEOF {
			return st
		}
		g.finalized = true
	}
	if g.pos >= len(g.order) {
		return StatusEOF
	}
	e := g.groups[g.order[g.pos]]
	g.pos++
	for i, k := range g.OutKeys {
		row.WriteKey(k, e.keyVals[i])
	}
	for i, rb := range g.Reducers {
		row.WriteKey(rb.OutKey, e.instances[i].Finalize())
	}
	return StatusOK
}

func (g *Grouper) accumulate() Status {
	g.groups = make(map[uint64]*groupEntry)
	tmp := &rlookup.Row{}
	for {
		st := g.upstream.Next(tmp)
		if st == StatusEOF {
			return StatusEOF
		}
		if st != StatusOK {
			return st
		}
		for _, combo := range g.expand(tmp) {
			h := hashTuple(combo)
			e, ok := g.groups[h]
			if !ok {
				e = &groupEntry{keyVals: combo, instances: make([]reducer.Instance, len(g.Reducers))}
				for i, rb := range g.Reducers {
					e.instances[i] = rb.Factory.NewInstance()
				}
				g.groups[h] = e
				g.order = append(g.order, h)
			}
			for i, rb := range g.Reducers {
				e.instances[i].Add(getVal(tmp, rb.SourceKey))
			}
		}
		tmp.Clear()
	}
}

func (g *Grouper) expand(row *rlookup.Row) [][]rval.Value {
	lists := make([][]rval.Value, len(g.GroupByKeys))
	for i, k := range g.GroupByKeys {
		v := getVal(row, k)
		if v.Kind() == rval.Array {
			arr, _ := v.Array()
			if len(arr) == 0 {
				lists[i] = []rval.Value{rval.NullValue()}
			} else {
				lists[i] = arr
			}
		} else {
			lists[i] = []rval.Value{v}
		}
	}
	return cartesian(lists)
}

func cartesian(lists [][]rval.Value) [][]rval.Value {
	result := [][]rval.Value{{}}
	for _, l := range lists {
		var next [][]rval.Value
		for _, prefix := range result {
			for _, v := range l {
				combo := make([]rval.Value, len(prefix), len(prefix)+1)
				copy(combo, prefix)
				combo = append(combo, v)
				next = append(next, combo)
			}
		}
		result = next
	}
	return result
}
