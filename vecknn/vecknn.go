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

// Package vecknn implements the HYBRID-VECTOR query iterator: top-k (or
// within-radius) documents by vector distance, optionally filtered by a
// child query iterator, executed in one of three modes chosen adaptively
// (spec.md §4.8). It is grounded on the source's hybrid_reader.c
// alternating-iterate / ad-hoc brute-force algorithms.
package vecknn

import (
	"container/heap"
	"math"

	"github.com/RediSearch/RediSearch-sub005/qiter"
)

// Mode selects how the iterator combines the filter with the vector
// index.
type Mode int

const (
	// StandardKNN runs with no filter (or an empty one): a single
	// TopKQuery call against the vector index.
	StandardKNN Mode = iota
	// HybridAdhocBF computes distance directly for every doc the filter
	// yields, keeping a bounded heap of the k best.
	HybridAdhocBF
	// HybridBatches alternates advancing the filter and a batch iterator
	// from the vector index until docIds align.
	HybridBatches
	// batchesToAdhocBF is an internal transitional state: BATCHES
	// degraded to BF mid-query because the observed yield ratio made it
	// the worse choice.
	batchesToAdhocBF
)

// VecSimIndex is the external vector index collaborator (spec.md §1):
// TopKQuery for the no-filter path, and Distance/batch iteration for the
// filtered paths.
type VecSimIndex interface {
	// TopKQuery returns up to k (docId, distance) pairs in ascending
	// distance order.
	TopKQuery(query []float32, k int) []Match
	// Distance computes the distance from query to the vector stored for
	// docId, returning ok=false if docId has no vector.
	Distance(query []float32, docID qiter.DocID) (float64, bool)
	// NewBatchIterator returns a function that yields successive
	// increasing-distance batches of size batchSize; it returns an empty
	// slice when exhausted.
	NewBatchIterator(query []float32, batchSize int) func() []Match
	// Size is the number of indexed vectors, used by the mode heuristic.
	Size() int64
	// IsCosine reports whether the index metric is cosine, triggering
	// query-vector normalization.
	IsCosine() bool
}

// Match is one vector index hit.
type Match struct {
	DocID    qiter.DocID
	Distance float64
}

// Params configures one KNN/RANGE query.
type Params struct {
	Query              []float32
	K                  int
	Radius             float64 // distance bound applied when IsRange is set
	IsRange            bool
	Filter             qiter.Iterator // nil or qiter.Empty{} means unfiltered
	ForcedMode         Mode
	ForceMode          bool
	CanTrimDeepResults bool
	InitialBatchSize   int
}

// Iterator is the HYBRID-VECTOR query iterator.
type Iterator struct {
	idx    VecSimIndex
	p      Params
	mode   Mode
	query  []float32

	results []Match // ascending distance, ready to emit
	pos     int
	done    bool

	// BATCHES state
	batchIter   func() []Match
	batchSize   int
	matchesSeen int
	batchesRun  int
}

func hasFilter(f qiter.Iterator) bool {
	if f == nil {
		return false
	}
	if _, ok := f.(qiter.Empty); ok {
		return false
	}
	return true
}

// New builds the iterator and chooses its execution mode.
func New(idx VecSimIndex, p Params) *Iterator {
	it := &Iterator{idx: idx, p: p}
	it.query = normalizeIfCosine(idx, p.Query)
	it.mode = chooseMode(idx, p)
	it.batchSize = p.InitialBatchSize
	if it.batchSize <= 0 {
		it.batchSize = defaultBatchSize(p.K)
	}
	it.run()
	return it
}

func normalizeIfCosine(idx VecSimIndex, q []float32) []float32 {
	if !idx.IsCosine() {
		return q
	}
	var norm float64
	for _, f := range q {
		norm += float64(f) * float64(f)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return q
	}
	out := make([]float32, len(q))
	for i, f := range q {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

func defaultBatchSize(k int) int {
	if k <= 0 {
		return 100
	}
	return k * 10
}

// chooseMode implements the heuristic on (estimated filter cardinality,
// k, index size): a highly selective filter favors brute force (too few
// candidates to justify batch overhead), a weak filter favors batches,
// and no filter always uses STANDARD_KNN.
func chooseMode(idx VecSimIndex, p Params) Mode {
	if p.ForceMode {
		return p.ForcedMode
	}
	if !hasFilter(p.Filter) {
		return StandardKNN
	}
	estimate := p.Filter.NumEstimated()
	indexSize := idx.Size()
	if indexSize <= 0 {
		return HybridAdhocBF
	}
	selectivity := float64(estimate) / float64(indexSize)
	// A filter expected to match only a small slice of the index is
	// cheaper to brute-force directly than to drive batched KNN queries
	// against, mirroring the source's selectivity-based mode choice.
	if selectivity < 0.01 || estimate <= int64(p.K)*2 {
		return HybridAdhocBF
	}
	return HybridBatches
}

func (it *Iterator) run() {
	switch it.mode {
	case StandardKNN:
		it.results = it.idx.TopKQuery(it.query, it.p.K)
	case HybridAdhocBF:
		it.results = it.runAdhocBF()
	case HybridBatches:
		it.results = it.runBatches()
	}
	if it.p.IsRange {
		filtered := it.results[:0]
		for _, m := range it.results {
			if m.Distance <= it.p.Radius {
				filtered = append(filtered, m)
			}
		}
		it.results = filtered
	}
}

// runAdhocBF computes the distance for every doc the filter yields,
// keeping a fixed-size max-heap of size k so the worst current member is
// always O(1) to find; ties break by docId ascending.
func (it *Iterator) runAdhocBF() []Match {
	h := &maxHeap{}
	heap.Init(h)
	it.p.Filter.Rewind()
	for {
		rec, st := it.p.Filter.Read()
		if st == qiter.EOF {
			break
		}
		if st == qiter.Abort {
			break
		}
		if st != qiter.OK {
			continue
		}
		d, ok := it.idx.Distance(it.query, rec.DocID)
		if !ok {
			continue
		}
		m := Match{DocID: rec.DocID, Distance: d}
		if h.Len() < it.p.K {
			heap.Push(h, m)
		} else if worse(m, (*h)[0]) {
			heap.Pop(h)
			heap.Push(h, m)
		}
	}
	out := make([]Match, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Match)
	}
	return out
}

// worse reports whether candidate m is a better match than the current
// worst w (i.e. should replace it): smaller distance, or equal distance
// with a smaller docId.
func worse(m, w Match) bool {
	if m.Distance != w.Distance {
		return m.Distance < w.Distance
	}
	return m.DocID < w.DocID
}

// runBatches alternates advancing the filter and the vector index's
// batch iterator until their docIds align, accumulating matches into a
// bounded heap; after each batch it re-evaluates the observed match
// ratio and may degrade to brute force mid-query.
func (it *Iterator) runBatches() []Match {
	h := &maxHeap{}
	heap.Init(h)
	it.p.Filter.Rewind()
	it.batchIter = it.idx.NewBatchIterator(it.query, it.batchSize)

	childRec, childStatus := it.p.Filter.Read()
	batch := it.batchIter()
	bpos := 0
	candidatesSeen := 0

	for childStatus == qiter.OK && (bpos < len(batch) || len(batch) > 0) {
		if bpos >= len(batch) {
			it.batchesRun++
			if it.shouldDegradeToBF(candidatesSeen) {
				it.mode = batchesToAdhocBF
				return it.runAdhocBF()
			}
			it.batchSize = it.nextBatchSize(candidatesSeen)
			batch = it.batchIter()
			bpos = 0
			candidatesSeen = 0
			if len(batch) == 0 {
				break
			}
		}
		cand := batch[bpos]
		switch {
		case cand.DocID == childRec.DocID:
			candidatesSeen++
			if h.Len() < it.p.K {
				heap.Push(h, cand)
			} else if worse(cand, (*h)[0]) {
				heap.Pop(h)
				heap.Push(h, cand)
			}
			bpos++
			childRec, childStatus = it.p.Filter.Read()
		case cand.DocID > childRec.DocID:
			childRec, childStatus = it.p.Filter.SkipTo(cand.DocID)
			if childStatus == qiter.NotFound {
				childStatus = qiter.OK
			}
		default:
			bpos++
		}
	}
	out := make([]Match, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Match)
	}
	return out
}

// shouldDegradeToBF compares the per-batch match yield against a fixed 1%
// threshold, starting from the second batch: a batch in which fewer than
// 1% of the candidates pass the filter switches over to brute force.
func (it *Iterator) shouldDegradeToBF(candidatesThisBatch int) bool {
	if it.batchesRun < 2 {
		return false
	}
	yieldRatio := float64(candidatesThisBatch) / float64(it.batchSize)
	return yieldRatio < 0.01
}

func (it *Iterator) nextBatchSize(candidatesThisBatch int) int {
	if candidatesThisBatch == 0 {
		return it.batchSize * 2
	}
	// aim for roughly k candidates per batch
	ratio := float64(it.batchSize) / float64(candidatesThisBatch+1)
	next := int(float64(it.p.K) * ratio)
	if next < it.batchSize {
		next = it.batchSize
	}
	if next > it.batchSize*4 {
		next = it.batchSize * 4
	}
	return next
}

// Mode reports the mode actually used (after any mid-query degradation).
func (it *Iterator) Mode() Mode { return it.mode }

// Read yields the next result in ascending distance order.
func (it *Iterator) Read() (Match, bool) {
	if it.pos >= len(it.results) {
		return Match{}, false
	}
	m := it.results[it.pos]
	it.pos++
	return m, true
}

func (it *Iterator) Rewind() { it.pos = 0 }

// maxHeap is a bounded max-heap over Match keyed by distance (worst on
// top), with docId-ascending tiebreak, matching spec.md's "fixed-size
// min-max heap... ties broken by docId ascending."
type maxHeap []Match

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool {
	if h[i].Distance != h[j].Distance {
		return h[i].Distance > h[j].Distance // max-heap on distance
	}
	return h[i].DocID > h[j].DocID // worst tie-break: larger docId "worse"
}
func (h maxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)   { *h = append(*h, x.(Match)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
