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

package vecknn

import (
	"math"
	"sort"
	"testing"

	"github.com/RediSearch/RediSearch-sub005/qiter"
	"github.com/stretchr/testify/require"
)

// fakeIndex is a tiny in-memory VecSimIndex: vectors are 1-dimensional
// and distance is absolute difference from the query.
type fakeIndex struct {
	vecs   map[qiter.DocID]float32
	cosine bool
}

func (f *fakeIndex) TopKQuery(query []float32, k int) []Match {
	var all []Match
	for id, v := range f.vecs {
		all = append(all, Match{DocID: id, Distance: math.Abs(float64(v - query[0]))})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Distance != all[j].Distance {
			return all[i].Distance < all[j].Distance
		}
		return all[i].DocID < all[j].DocID
	})
	if len(all) > k {
		all = all[:k]
	}
	return all
}

func (f *fakeIndex) Distance(query []float32, docID qiter.DocID) (float64, bool) {
	v, ok := f.vecs[docID]
	if !ok {
		return 0, false
	}
	return math.Abs(float64(v - query[0])), true
}

func (f *fakeIndex) NewBatchIterator(query []float32, batchSize int) func() []Match {
	all := f.TopKQuery(query, len(f.vecs))
	pos := 0
	return func() []Match {
		if pos >= len(all) {
			return nil
		}
		end := pos + batchSize
		if end > len(all) {
			end = len(all)
		}
		out := all[pos:end]
		pos = end
		return out
	}
}

func (f *fakeIndex) Size() int64   { return int64(len(f.vecs)) }
func (f *fakeIndex) IsCosine() bool { return f.cosine }

func newFakeIndex(n int) *fakeIndex {
	idx := &fakeIndex{vecs: make(map[qiter.DocID]float32)}
	for i := 1; i <= n; i++ {
		idx.vecs[qiter.DocID(i)] = float32(i)
	}
	return idx
}

func TestStandardKNNReturnsClosestKInOrder(t *testing.T) {
	idx := newFakeIndex(20)
	it := New(idx, Params{Query: []float32{10}, K: 3})
	require.Equal(t, StandardKNN, it.Mode())
	m, ok := it.Read()
	require.True(t, ok)
	require.Equal(t, qiter.DocID(10), m.DocID)
}

func TestAdhocBFHonorsFilterAndK(t *testing.T) {
	idx := newFakeIndex(100)
	filter := qiter.NewIDList([]qiter.DocID{5, 6, 7, 50, 51})
	it := New(idx, Params{Query: []float32{50}, K: 2, Filter: filter, ForceMode: true, ForcedMode: HybridAdhocBF})
	require.Equal(t, HybridAdhocBF, it.Mode())
	var ids []qiter.DocID
	for {
		m, ok := it.Read()
		if !ok {
			break
		}
		ids = append(ids, m.DocID)
	}
	require.ElementsMatch(t, []qiter.DocID{50, 51}, ids)
}

func TestRangeModeFiltersByRadius(t *testing.T) {
	idx := newFakeIndex(20)
	it := New(idx, Params{Query: []float32{10}, K: 20, IsRange: true, Radius: 2})
	for {
		m, ok := it.Read()
		if !ok {
			break
		}
		require.LessOrEqual(t, m.Distance, 2.0)
	}
}

func TestChooseModeFallsBackToStandardWithNoFilter(t *testing.T) {
	idx := newFakeIndex(5)
	require.Equal(t, StandardKNN, chooseMode(idx, Params{K: 1}))
}

func TestChooseModePicksBFForHighlySelectiveFilter(t *testing.T) {
	idx := newFakeIndex(10000)
	filter := qiter.NewIDList([]qiter.DocID{1, 2})
	require.Equal(t, HybridAdhocBF, chooseMode(idx, Params{K: 1, Filter: filter}))
}
