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

// Package rval implements the dynamically-typed value union (RSValue in
// the design) shared by every row in a pipeline: rows, reducers, and
// expression evaluation all exchange values of this type.
package rval

import (
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which arm of the Value union is populated.
type Kind uint8

const (
	Null Kind = iota
	Number
	String
	Array
	Map
	Ref   // a pointer-like indirection to another Value
	Duo   // two alternative representations of the same field (e.g. numeric + string forms)
	Trio  // three alternative representations
)

// Ownership describes how a processor holds a Value for the lifetime of
// one iteration of the pipeline, mirroring the own/borrow/persist
// distinction from the design.
type Ownership uint8

const (
	Borrowed Ownership = iota // caller does not own the underlying storage
	Owned                     // caller must release it (ref-counted below 0)
	Persisted                 // value outlives this result (e.g. promoted into a group)
)

// Value is the dynamically-typed union. Zero value is Null.
type Value struct {
	kind  Kind
	num   float64
	str   string
	arr   []Value
	m     map[string]Value
	ref   *Value
	alts  []Value // Duo/Trio alternative representations
	own   Ownership
	refct *int32 // shared refcount, non-nil only for Owned values that are shared
}

func NullValue() Value { return Value{kind: Null} }

func NewNumber(f float64) Value { return Value{kind: Number, num: f} }

func NewString(s string, own Ownership) Value { return Value{kind: String, str: s, own: own} }

func NewArray(elems []Value) Value { return Value{kind: Array, arr: elems} }

func NewMap(m map[string]Value) Value { return Value{kind: Map, m: m} }

func NewRef(v *Value) Value { return Value{kind: Ref, ref: v} }

// NewDuo builds a value that presents two interchangeable representations
// of the same logical field (for example a TAG field indexed both as a
// normalized string and as a numeric id). Readers that care about a
// specific representation use As; readers that don't, use Primary.
func NewDuo(a, b Value) Value { return Value{kind: Duo, alts: []Value{a, b}} }

func NewTrio(a, b, c Value) Value { return Value{kind: Trio, alts: []Value{a, b, c}} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == Null }

// Primary returns the first alternative of a Duo/Trio, or resolves a Ref,
// otherwise returns v unchanged.
func (v Value) Primary() Value {
	switch v.kind {
	case Duo, Trio:
		if len(v.alts) > 0 {
			return v.alts[0]
		}
		return NullValue()
	case Ref:
		if v.ref != nil {
			return *v.ref
		}
		return NullValue()
	default:
		return v
	}
}

// As returns the i'th alternative representation of a Duo/Trio value.
func (v Value) As(i int) (Value, bool) {
	if v.kind != Duo && v.kind != Trio {
		if i == 0 {
			return v, true
		}
		return NullValue(), false
	}
	if i < 0 || i >= len(v.alts) {
		return NullValue(), false
	}
	return v.alts[i], true
}

func (v Value) Number() (float64, bool) {
	p := v.Primary()
	if p.kind != Number {
		return 0, false
	}
	return p.num, true
}

func (v Value) String() string {
	p := v.Primary()
	switch p.kind {
	case Null:
		return ""
	case String:
		return p.str
	case Number:
		return strconv.FormatFloat(p.num, 'g', -1, 64)
	case Array:
		return fmt.Sprintf("%v", p.arr)
	case Map:
		return fmt.Sprintf("%v", p.m)
	default:
		return ""
	}
}

func (v Value) Array() ([]Value, bool) {
	p := v.Primary()
	if p.kind != Array {
		return nil, false
	}
	return p.arr, true
}

func (v Value) Map() (map[string]Value, bool) {
	p := v.Primary()
	if p.kind != Map {
		return nil, false
	}
	return p.m, true
}

// ToDouble coerces a value to a float64 the way the network fan-in and
// the numeric reducers do: numbers pass through, numeric strings parse,
// everything else (including errors coerced from shard replies) becomes
// NaN's sibling 0, matching the source's permissive ToDouble semantics.
func (v Value) ToDouble() (float64, bool) {
	p := v.Primary()
	switch p.kind {
	case Number:
		return p.num, true
	case String:
		f, err := strconv.ParseFloat(p.str, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case Null:
		return 0, false
	default:
		return 0, false
	}
}

// Truthy implements the FILTER processor's truthiness test: null, zero,
// empty string, and empty array/map are falsy.
func (v Value) Truthy() bool {
	p := v.Primary()
	switch p.kind {
	case Null:
		return false
	case Number:
		return p.num != 0 && !math.IsNaN(p.num)
	case String:
		return p.str != ""
	case Array:
		return len(p.arr) > 0
	case Map:
		return len(p.m) > 0
	default:
		return false
	}
}

// Equal implements value equality used by GROUPBY keys and DISTINCT
// reducers: numbers compare numerically, everything else compares its
// canonical string form, mirroring the source's loose RSValue equality.
func Equal(a, b Value) bool {
	pa, pb := a.Primary(), b.Primary()
	if pa.kind == Number && pb.kind == Number {
		return pa.num == pb.num
	}
	if pa.kind != pb.kind {
		return pa.String() == pb.String()
	}
	switch pa.kind {
	case Null:
		return true
	case String:
		return pa.str == pb.str
	case Array:
		if len(pa.arr) != len(pb.arr) {
			return false
		}
		for i := range pa.arr {
			if !Equal(pa.arr[i], pb.arr[i]) {
				return false
			}
		}
		return true
	default:
		return pa.String() == pb.String()
	}
}

// Compare implements the ordering used by ARRANGE/SORTER: numbers order
// numerically, strings lexically, null sorts before everything, mixed
// kinds fall back to string comparison so a sort never panics on
// heterogeneous field values.
func Compare(a, b Value) int {
	pa, pb := a.Primary(), b.Primary()
	if pa.kind == Null && pb.kind == Null {
		return 0
	}
	if pa.kind == Null {
		return -1
	}
	if pb.kind == Null {
		return 1
	}
	if pa.kind == Number && pb.kind == Number {
		switch {
		case pa.num < pb.num:
			return -1
		case pa.num > pb.num:
			return 1
		default:
			return 0
		}
	}
	sa, sb := pa.String(), pb.String()
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

// Hash produces a stable 64-bit hash of the value's canonical form,
// used by GROUPBY key-tuple hashing and the DISTINCT/HLL reducers. The
// caller supplies the siphash key so callers can share one keyed hash
// across a whole group step.
func Hash(v Value, h func([]byte) uint64) uint64 {
	return h([]byte(v.Primary().String()))
}
