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
	"testing"

	"github.com/RediSearch/RediSearch-sub005/aggplan"
	"github.com/RediSearch/RediSearch-sub005/reducer"
	"github.com/RediSearch/RediSearch-sub005/rlookup"
	"github.com/RediSearch/RediSearch-sub005/rval"
	"github.com/stretchr/testify/require"
)

// fakeSource is a test-only root processor yielding a fixed row set.
type fakeSource struct {
	base
	rows []map[string]rval.Value
	pos  int
	keys map[string]*rlookup.Key
}

func newFakeSource(l *rlookup.Lookup, keys map[string]*rlookup.Key, rows []map[string]rval.Value) *fakeSource {
	return &fakeSource{base: base{lookup: l}, rows: rows, keys: keys}
}

func (f *fakeSource) Next(row *rlookup.Row) Status {
	if f.pos >= len(f.rows) {
		return StatusEOF
	}
	for name, v := range f.rows[f.pos] {
		row.WriteKey(f.keys[name], v)
	}
	f.pos++
	return StatusOK
}

func setup() (*rlookup.Lookup, map[string]*rlookup.Key) {
	l := rlookup.New()
	keys := map[string]*rlookup.Key{
		"docId": l.GetOrCreate("docId"),
		"price": l.GetOrCreate("price"),
		"brand": l.GetOrCreate("brand"),
	}
	return l, keys
}

func TestPagerSkipsAndLimits(t *testing.T) {
	l, keys := setup()
	var rows []map[string]rval.Value
	for i := 1; i <= 10; i++ {
		rows = append(rows, map[string]rval.Value{"docId": rval.NewNumber(float64(i))})
	}
	src := newFakeSource(l, keys, rows)
	p := NewPager(l, 3, 4)
	p.SetUpstream(src)

	var got []float64
	row := &rlookup.Row{}
	for {
		st := p.Next(row)
		if st == StatusEOF {
			break
		}
		require.Equal(t, StatusOK, st)
		v, _ := row.Get(keys["docId"])
		f, _ := v.(rval.Value).Number()
		got = append(got, f)
	}
	require.Equal(t, []float64{4, 5, 6, 7}, got)
}

func TestSorterByFieldsAscending(t *testing.T) {
	l, keys := setup()
	rows := []map[string]rval.Value{
		{"docId": rval.NewNumber(1), "price": rval.NewNumber(30)},
		{"docId": rval.NewNumber(2), "price": rval.NewNumber(10)},
		{"docId": rval.NewNumber(3), "price": rval.NewNumber(20)},
	}
	src := newFakeSource(l, keys, rows)
	s := NewSorterByFields(l, []SortKey{{Field: keys["price"], Ascending: true}}, keys["docId"], 0)
	s.SetUpstream(src)

	var prices []float64
	row := &rlookup.Row{}
	for {
		st := s.Next(row)
		if st == StatusEOF {
			break
		}
		v, _ := row.Get(keys["price"])
		f, _ := v.(rval.Value).Number()
		prices = append(prices, f)
	}
	require.Equal(t, []float64{10, 20, 30}, prices)
}

func TestSorterBoundsToMaxResults(t *testing.T) {
	l, keys := setup()
	var rows []map[string]rval.Value
	for i := 1; i <= 20; i++ {
		rows = append(rows, map[string]rval.Value{"docId": rval.NewNumber(float64(i)), "price": rval.NewNumber(float64(i))})
	}
	src := newFakeSource(l, keys, rows)
	s := NewSorterByFields(l, []SortKey{{Field: keys["price"], Ascending: true}}, keys["docId"], 5)
	s.SetUpstream(src)

	var prices []float64
	row := &rlookup.Row{}
	for {
		st := s.Next(row)
		if st == StatusEOF {
			break
		}
		v, _ := row.Get(keys["price"])
		f, _ := v.(rval.Value).Number()
		prices = append(prices, f)
	}
	require.Equal(t, []float64{1, 2, 3, 4, 5}, prices)
}

func TestGrouperExpandsArrayValuedKeysAsCartesianProduct(t *testing.T) {
	l, keys := setup()
	sumReducer, err := reducer.New("SUM", nil)
	require.NoError(t, err)
	outLookup := rlookup.New()
	brandOut := outLookup.GetOrCreate("brand")
	totalOut := outLookup.GetOrCreate("total")

	rows := []map[string]rval.Value{
		{"brand": rval.NewArray([]rval.Value{rval.NewString("a", rval.Borrowed), rval.NewString("b", rval.Borrowed)}), "price": rval.NewNumber(10)},
		{"brand": rval.NewString("a", rval.Borrowed), "price": rval.NewNumber(5)},
	}
	src := newFakeSource(l, keys, rows)
	g := NewGrouper(outLookup, []*rlookup.Key{keys["brand"]}, []*rlookup.Key{brandOut},
		[]ReducerBinding{{SourceKey: keys["price"], OutKey: totalOut, Factory: sumReducer}})
	g.SetUpstream(src)

	totals := map[string]float64{}
	row := &rlookup.Row{}
	for {
		st := g.Next(row)
		if st == StatusEOF {
			break
		}
		require.Equal(t, StatusOK, st)
		bv, _ := row.Get(brandOut)
		tv, _ := row.Get(totalOut)
		f, _ := tv.(rval.Value).Number()
		totals[bv.(rval.Value).String()] = f
	}
	require.Equal(t, 15.0, totals["a"]) // 10 (from the array row) + 5 (scalar row)
	require.Equal(t, 10.0, totals["b"])
}

// fakeExpr/fakeEvaluator support the FILTER test without a real
// expression engine.
type fakeExpr struct{ field string }

func (f fakeExpr) String() string             { return f.field }
func (f fakeExpr) ReferencedFields() []string { return []string{f.field} }

type thresholdEvaluator struct {
	key *rlookup.Key
	min float64
}

func (e thresholdEvaluator) Eval(row *rlookup.Row, _ aggplan.Expr) (rval.Value, error) {
	v, _ := row.Get(e.key)
	f, _ := v.(rval.Value).Number()
	return rval.NewNumber(boolToFloat(f >= e.min)), nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func TestFilterDropsFalsyRowsAndDecrementsTotal(t *testing.T) {
	l, keys := setup()
	rows := []map[string]rval.Value{
		{"price": rval.NewNumber(5)},
		{"price": rval.NewNumber(50)},
		{"price": rval.NewNumber(3)},
	}
	src := newFakeSource(l, keys, rows)
	parent := &Parent{TotalResults: 3}
	f := NewFilter(l, parent, thresholdEvaluator{key: keys["price"], min: 10}, fakeExpr{field: "price"})
	f.SetUpstream(src)

	row := &rlookup.Row{}
	st := f.Next(row)
	require.Equal(t, StatusOK, st)
	v, _ := row.Get(keys["price"])
	fv, _ := v.(rval.Value).Number()
	require.Equal(t, 50.0, fv)
	require.Equal(t, StatusEOF, f.Next(row))
	require.EqualValues(t, 1, parent.TotalResults)
}

func TestCounterCountsWithoutYieldingRows(t *testing.T) {
	l, keys := setup()
	var rows []map[string]rval.Value
	for i := 0; i < 7; i++ {
		rows = append(rows, map[string]rval.Value{"docId": rval.NewNumber(float64(i))})
	}
	src := newFakeSource(l, keys, rows)
	parent := &Parent{}
	c := NewCounter(l, parent)
	c.SetUpstream(src)

	row := &rlookup.Row{}
	st := c.Next(row)
	require.Equal(t, StatusEOF, st)
	require.EqualValues(t, 7, c.Count())
	require.EqualValues(t, 7, parent.TotalResults)
}
