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

package hybrid

import (
	"testing"

	"github.com/RediSearch/RediSearch-sub005/rlookup"
	"github.com/RediSearch/RediSearch-sub005/rproc"
	"github.com/RediSearch/RediSearch-sub005/rval"
	"github.com/stretchr/testify/require"
)

// fakeSub is a minimal rproc.Processor standing in for a depleter that
// has already finished: it yields a fixed row list, then EOF.
type fakeSub struct {
	lookup *rlookup.Lookup
	rows   []map[string]rval.Value
	pos    int
	keys   map[string]*rlookup.Key
}

func (f *fakeSub) Next(row *rlookup.Row) rproc.Status {
	if f.pos >= len(f.rows) {
		return rproc.StatusEOF
	}
	for name, v := range f.rows[f.pos] {
		row.WriteKey(f.keys[name], v)
	}
	f.pos++
	return rproc.StatusOK
}
func (f *fakeSub) Lookup() *rlookup.Lookup     { return f.lookup }
func (f *fakeSub) SetUpstream(rproc.Processor) {}
func (f *fakeSub) Upstream() rproc.Processor   { return nil }
func (f *fakeSub) Free()                       {}

func setup() (*rlookup.Lookup, map[string]*rlookup.Key) {
	l := rlookup.New()
	keys := map[string]*rlookup.Key{
		"docId": l.GetOrCreate("docId"),
		"score": l.GetOrCreate("score"),
	}
	return l, keys
}

func TestMergerRRFPrefersDocsRankedWellByBothSources(t *testing.T) {
	l, keys := setup()
	search := &fakeSub{lookup: l, keys: keys, rows: []map[string]rval.Value{
		{"docId": rval.NewString("a", rval.Borrowed), "score": rval.NewNumber(9)},
		{"docId": rval.NewString("b", rval.Borrowed), "score": rval.NewNumber(8)},
	}}
	vsim := &fakeSub{lookup: l, keys: keys, rows: []map[string]rval.Value{
		{"docId": rval.NewString("b", rval.Borrowed), "score": rval.NewNumber(0.9)},
		{"docId": rval.NewString("a", rval.Borrowed), "score": rval.NewNumber(0.1)},
	}}
	outScore := l.GetOrCreate("hybrid_score")
	m := NewMerger(l, search, vsim, nil, keys["docId"], [2]*rlookup.Key{keys["score"], keys["score"]}, outScore, DefaultScoringContext())

	row := &rlookup.Row{}
	var order []string
	for {
		st := m.Next(row)
		if st == rproc.StatusEOF {
			break
		}
		require.Equal(t, rproc.StatusOK, st)
		v, _ := row.Get(keys["docId"])
		order = append(order, v.(rval.Value).String())
		sv, ok := row.Get(outScore)
		require.True(t, ok)
		merged, _ := sv.(rval.Value).Number()
		require.InDelta(t, 1.0/61+1.0/62, merged, 1e-9)
	}
	// "b" is ranked 1st by vsim and 2nd by search; "a" is ranked 1st by
	// search and 2nd by vsim -- by RRF symmetry they tie at
	// 1/(60+1)+1/(60+2). The loop asserts that merged score was written
	// on each row; the order of the two tied docs is not asserted, only
	// that both are present.
	require.ElementsMatch(t, []string{"a", "b"}, order)
}

func TestMergerRRFScoreFormula(t *testing.T) {
	sc := NewRRFScoringContext(60, 20)
	got := sc.score([2]int{1, 1}, [2]float64{}, [2]bool{true, true})
	want := 1.0/61.0 + 1.0/61.0
	require.InDelta(t, want, got, 1e-9)
}

func TestMergerLinearCombinesWeightedRawScores(t *testing.T) {
	l, keys := setup()
	search := &fakeSub{lookup: l, keys: keys, rows: []map[string]rval.Value{
		{"docId": rval.NewString("a", rval.Borrowed), "score": rval.NewNumber(10)},
	}}
	vsim := &fakeSub{lookup: l, keys: keys, rows: []map[string]rval.Value{
		{"docId": rval.NewString("a", rval.Borrowed), "score": rval.NewNumber(2)},
	}}
	outScore := l.GetOrCreate("hybrid_score")
	scoring := NewLinearScoringContext([]float64{0.7, 0.3}, 20)
	m := NewMerger(l, search, vsim, nil, keys["docId"], [2]*rlookup.Key{keys["score"], keys["score"]}, outScore, scoring)

	row := &rlookup.Row{}
	st := m.Next(row)
	require.Equal(t, rproc.StatusOK, st)
	v, _ := row.Get(outScore)
	f, _ := v.(rval.Value).Number()
	require.InDelta(t, 0.7*10+0.3*2, f, 1e-9)
}

func TestMergerOnlyInSearchResultsStillAppearsWithPartialScore(t *testing.T) {
	l, keys := setup()
	search := &fakeSub{lookup: l, keys: keys, rows: []map[string]rval.Value{
		{"docId": rval.NewString("only-search", rval.Borrowed), "score": rval.NewNumber(5)},
	}}
	vsim := &fakeSub{lookup: l, keys: keys}
	outScore := l.GetOrCreate("hybrid_score")
	m := NewMerger(l, search, vsim, nil, keys["docId"], [2]*rlookup.Key{keys["score"], keys["score"]}, outScore, DefaultScoringContext())

	row := &rlookup.Row{}
	st := m.Next(row)
	require.Equal(t, rproc.StatusOK, st)
	v, _ := row.Get(keys["docId"])
	require.Equal(t, "only-search", v.(rval.Value).String())
	require.Equal(t, rproc.StatusEOF, m.Next(row))
}
