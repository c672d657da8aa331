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
	"container/heap"

	"github.com/RediSearch/RediSearch-sub005/rlookup"
	"github.com/RediSearch/RediSearch-sub005/rval"
)

// ScoreFunc computes a result's score from its row (BM25, TF-IDF,
// DISMAX, document-score, HAMMING, vector-distance, or an
// extension-provided function all fit this one signature).
type ScoreFunc func(row *rlookup.Row) float64

// Scorer applies Score to every upstream row, writing the result at
// ScoreKey, and drops rows scoring below MinScore (decrementing the
// shared Parent's TotalResults so COUNTER/reply totals stay accurate).
type Scorer struct {
	base
	Score    ScoreFunc
	ScoreKey *rlookup.Key
	MinScore float64
}

func NewScorer(lookup *rlookup.Lookup, parent *Parent, scoreKey *rlookup.Key, score ScoreFunc, minScore float64) *Scorer {
	return &Scorer{base: base{lookup: lookup, parent: parent}, Score: score, ScoreKey: scoreKey, MinScore: minScore}
}

func (s *Scorer) Next(row *rlookup.Row) Status {
	for {
		st := s.upstream.Next(row)
		if st != StatusOK {
			return st
		}
		sc := s.Score(row)
		if sc < s.MinScore {
			if s.parent != nil {
				s.parent.TotalResults--
			}
			row.Clear()
			continue
		}
		row.WriteKey(s.ScoreKey, rval.NewNumber(sc))
		return StatusOK
	}
}

// SortKey is one ORDER BY column: a field plus its direction.
type SortKey struct {
	Field     *rlookup.Key
	Ascending bool
}

// Sorter is a bounded min/max-heap of size MaxResults (<=0 means
// unbounded): Next pulls upstream to EOF on its first call, inserting
// every row into the heap, then yields in sorted order with docId as
// the final tie-breaker. Two flavors per spec.md §4.3: ByFields (Keys
// set) and ByScore (a single descending key on the score field).
type Sorter struct {
	base
	Keys       []SortKey
	DocKey     *rlookup.Key
	MaxResults int

	drained bool
	out     []*rlookup.Row
	pos     int
}

func NewSorterByFields(lookup *rlookup.Lookup, keys []SortKey, docKey *rlookup.Key, maxResults int) *Sorter {
	return &Sorter{base: base{lookup: lookup}, Keys: keys, DocKey: docKey, MaxResults: maxResults}
}

func NewSorterByScore(lookup *rlookup.Lookup, scoreKey, docKey *rlookup.Key, maxResults int) *Sorter {
	return &Sorter{
		base:       base{lookup: lookup},
		Keys:       []SortKey{{Field: scoreKey, Ascending: false}},
		DocKey:     docKey,
		MaxResults: maxResults,
	}
}

func compareRows(a, b *rlookup.Row, keys []SortKey, docKey *rlookup.Key) int {
	for _, k := range keys {
		av, bv := getVal(a, k.Field), getVal(b, k.Field)
		c := rval.Compare(av, bv)
		if !k.Ascending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	if docKey != nil {
		return rval.Compare(getVal(a, docKey), getVal(b, docKey))
	}
	return 0
}

// sortHeap is a max-heap keeping the currently-worst row at index 0, so
// Sorter can evict it in O(log n) once MaxResults is exceeded.
type sortHeap struct {
	rows   []*rlookup.Row
	keys   []SortKey
	docKey *rlookup.Key
}

func (h *sortHeap) Len() int { return len(h.rows) }
func (h *sortHeap) Less(i, j int) bool {
	return compareRows(h.rows[i], h.rows[j], h.keys, h.docKey) > 0
}
func (h *sortHeap) Swap(i, j int) { h.rows[i], h.rows[j] = h.rows[j], h.rows[i] }
func (h *sortHeap) Push(x any)    { h.rows = append(h.rows, x.(*rlookup.Row)) }
func (h *sortHeap) Pop() any {
	old := h.rows
	n := len(old)
	v := old[n-1]
	h.rows = old[:n-1]
	return v
}

func (s *Sorter) Next(row *rlookup.Row) Status {
	if !s.drained {
		if st := s.drain(); st != StatusOK && st != StatusEOF {
			return st
		}
		s.drained = true
	}
	if s.pos >= len(s.out) {
		return StatusEOF
	}
	*row = *s.out[s.pos]
	s.pos++
	return StatusOK
}

func (s *Sorter) drain() Status {
	h := &sortHeap{keys: s.Keys, docKey: s.DocKey}
	heap.Init(h)
	tmp := &rlookup.Row{}
	for {
		st := s.upstream.Next(tmp)
		if st == StatusEOF {
			break
		}
		if st != StatusOK {
			return st
		}
		cloned := tmp.Clone()
		tmp.Clear()
		if s.MaxResults <= 0 || h.Len() < s.MaxResults {
			heap.Push(h, cloned)
		} else if compareRows(cloned, h.rows[0], s.Keys, s.DocKey) < 0 {
			heap.Pop(h)
			heap.Push(h, cloned)
		}
	}
	out := make([]*rlookup.Row, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(*rlookup.Row)
	}
	s.out = out
	return StatusEOF
}
