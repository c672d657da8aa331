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

// Package rlookup implements the named, slot-indexed field registry
// (RLookup) shared by every result processor in a pipeline, and the
// sparse row storage (RLookupRow) addressed by it.
//
// The registry is append-mostly: once a Key is handed out its slot index
// never changes, so a Row captured before a later GetOrCreate call
// remains valid. This mirrors the teacher's expr.Binding list, which is
// built once per plan step and never compacted mid-query.
package rlookup

import "golang.org/x/exp/slices"

// Flag bits on a Key.
type Flag uint16

const (
	// Hidden keys exist for internal bookkeeping (e.g. the remote COUNT
	// feeding a local AVG) and are never included in a reply's column set.
	Hidden Flag = 1 << iota
	// ExplicitReturn marks a key the caller explicitly asked to LOAD/return.
	ExplicitReturn
	// OverrideAllowed permits a later APPLY/LOAD to replace the key's
	// value instead of erroring on a name collision.
	OverrideAllowed
	// Unresolved marks a key created for a name that was not present in
	// the schema at bind time (resolved lazily against a document).
	Unresolved
	// SortVectorSource marks the key as the origin of a vector field used
	// by an ARRANGE/VECTOR_NORMALIZER step.
	SortVectorSource
	// NumericTyped hints that the field is known to be numeric, letting
	// the LOADER skip a type probe.
	NumericTyped
)

// Key names a single field in a Lookup and records where its value lives
// in a Row.
type Key struct {
	Name  string
	Path  []string // nested-document path segments, nil for a top-level field
	Flags Flag
	slot  int
}

// Slot returns the row-storage index assigned to this key.
func (k *Key) Slot() int { return k.slot }

func (k *Key) Has(f Flag) bool { return k.Flags&f != 0 }

// Lookup is an append-mostly, insertion-ordered registry of field names.
type Lookup struct {
	keys   []*Key
	byName map[string]*Key
}

// New creates an empty Lookup.
func New() *Lookup {
	return &Lookup{byName: make(map[string]*Key)}
}

// GetForRead returns the Key for name if it has already been registered,
// or nil if not. It never creates a new key, matching the read-only
// lookups performed by FILTER/SORTER against an upstream schema.
func (l *Lookup) GetForRead(name string) *Key {
	return l.byName[name]
}

// GetForWrite returns the Key for name, creating it (appended at the
// next free slot) if create is true and the name is not yet registered.
func (l *Lookup) GetForWrite(name string, create bool) *Key {
	if k, ok := l.byName[name]; ok {
		return k
	}
	if !create {
		return nil
	}
	k := &Key{Name: name, slot: len(l.keys)}
	l.keys = append(l.keys, k)
	l.byName[name] = k
	return k
}

// GetOrCreate is a convenience wrapper for GetForWrite(name, true).
func (l *Lookup) GetOrCreate(name string) *Key { return l.GetForWrite(name, true) }

// Len returns the number of registered keys.
func (l *Lookup) Len() int { return len(l.keys) }

// Keys returns the registered keys in insertion order. The slice must
// not be mutated by callers.
func (l *Lookup) Keys() []*Key { return l.keys }

// Iterate calls fn for every registered key in insertion order, stopping
// early if fn returns false.
func (l *Lookup) Iterate(fn func(*Key) bool) {
	for _, k := range l.keys {
		if !fn(k) {
			return
		}
	}
}

// CloneInto deep-copies every key of l into dst, preserving slot indices
// so that a Row built against l remains addressable by the clone. This
// is used when a DISTRIBUTE step hands the remote-produced schema to the
// local plan: the local lookup starts as a clone of the schema the
// remote side promises to produce.
func (l *Lookup) CloneInto(dst *Lookup) {
	for _, k := range l.keys {
		nk := &Key{Name: k.Name, Flags: k.Flags, slot: k.slot}
		if k.Path != nil {
			nk.Path = slices.Clone(k.Path)
		}
		dst.keys = append(dst.keys, nk)
		dst.byName[nk.Name] = nk
	}
}

// Row is the sparse column store addressed by Key.Slot. A Row is cheap
// to reset (Clear) because it never shrinks its backing array.
type Row struct {
	cols  []rval
	owned []bool
}

type rval = any

// ensure grows cols/owned so that slot is addressable.
func (r *Row) ensure(slot int) {
	if slot < len(r.cols) {
		return
	}
	grown := make([]rval, slot+1)
	copy(grown, r.cols)
	r.cols = grown
	grownOwned := make([]bool, slot+1)
	copy(grownOwned, r.owned)
	r.owned = grownOwned
}

// WriteKey stores v at k's slot without claiming ownership of it (the
// row borrows the value for the duration of this result).
func (r *Row) WriteKey(k *Key, v any) {
	r.ensure(k.slot)
	r.cols[k.slot] = v
	r.owned[k.slot] = false
}

// WriteOwnKey stores v at k's slot and marks the row as the owner,
// matching the RLookupRow.WriteOwnKey ownership-transfer semantics.
func (r *Row) WriteOwnKey(k *Key, v any) {
	r.ensure(k.slot)
	r.cols[k.slot] = v
	r.owned[k.slot] = true
}

// Get reads the value at k's slot, returning (nil, false) if never
// written or the row is shorter than k's slot.
func (r *Row) Get(k *Key) (any, bool) {
	if k.slot >= len(r.cols) {
		return nil, false
	}
	v := r.cols[k.slot]
	return v, v != nil
}

// Owns reports whether the row owns the value at k's slot.
func (r *Row) Owns(k *Key) bool {
	return k.slot < len(r.owned) && r.owned[k.slot]
}

// Clone makes an independent copy of the row, used whenever a processor
// (SORTER, the depleter, SAFE-LOADER) must retain a result past the next
// upstream Next call, which would otherwise overwrite it in place.
func (r *Row) Clone() *Row {
	cp := &Row{
		cols:  append([]rval(nil), r.cols...),
		owned: append([]bool(nil), r.owned...),
	}
	return cp
}

// Clear resets the row for reuse without shrinking its backing arrays.
func (r *Row) Clear() {
	for i := range r.cols {
		r.cols[i] = nil
		r.owned[i] = false
	}
}

// Width reports how many slots the row currently spans.
func (r *Row) Width() int { return len(r.cols) }
