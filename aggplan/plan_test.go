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

package aggplan

import (
	"testing"

	"github.com/RediSearch/RediSearch-sub005/rlookup"
	"github.com/stretchr/testify/require"
)

type fakeExpr struct {
	text   string
	fields []string
}

func (f fakeExpr) String() string             { return f.text }
func (f fakeExpr) ReferencedFields() []string { return f.fields }

func TestPlanAddRemoveOrder(t *testing.T) {
	p := New(rlookup.New())
	load := NewLoad([]string{"cat", "val"}, false)
	filt := NewFilter(fakeExpr{text: "@val > 0", fields: []string{"val"}})
	arr := NewArrange([]string{"val"}, []bool{false}, 0, 10, true)

	p.AddStep(load)
	p.AddStep(filt)
	p.AddStep(arr)

	got := p.Steps()
	require.Len(t, got, 3)
	require.Equal(t, Load, got[0].Kind)
	require.Equal(t, Filter, got[1].Kind)
	require.Equal(t, Arrange, got[2].Kind)

	// AddBefore/AddAfter maintain doubly-linked invariants.
	apply := NewApply(fakeExpr{text: "@val*2"}, "doubled", false)
	p.AddBefore(arr, apply)
	got = p.Steps()
	require.Equal(t, []Kind{Load, Filter, Apply, Arrange}, kinds(got))

	popped := p.PopStep(filt)
	require.Equal(t, filt, popped)
	require.Nil(t, popped.input())
	got = p.Steps()
	require.Equal(t, []Kind{Load, Apply, Arrange}, kinds(got))
	require.Equal(t, arr, p.Tail())
}

func kinds(steps []*Step) []Kind {
	out := make([]Kind, len(steps))
	for i, s := range steps {
		out[i] = s.Kind
	}
	return out
}

func TestGetArrangeStepStopsAtGroup(t *testing.T) {
	p := New(rlookup.New())
	a1 := NewArrange([]string{"x"}, []bool{true}, 0, 5, true)
	p.AddStep(a1)
	g := NewGroup([]string{"cat"}, nil)
	p.AddStep(g)
	a2 := NewArrange([]string{"y"}, []bool{true}, 0, 5, true)
	p.AddStep(a2)

	require.Equal(t, a1, p.GetArrangeStep())
}

func TestGetOrCreateArrangeStepCreatesWhenMissing(t *testing.T) {
	p := New(rlookup.New())
	s := p.GetOrCreateArrangeStep()
	require.Equal(t, Arrange, s.Kind)
	require.Same(t, s, p.GetOrCreateArrangeStep())
}

func TestAddKNNArrangeStepIsFirstAfterRoot(t *testing.T) {
	p := New(rlookup.New())
	existing := NewLoad([]string{"f"}, false)
	p.AddStep(existing)

	p.AddKNNArrangeStep(10, "__vector_score")
	steps := p.Steps()
	require.Equal(t, Arrange, steps[0].Kind)
	require.True(t, steps[0].RunLocal)
	require.Equal(t, 10, steps[0].Limit)
	require.Equal(t, Load, steps[1].Kind)
}

func TestGetLookupModes(t *testing.T) {
	root := rlookup.New()
	root.GetOrCreate("cat")
	p := New(root)
	g := NewGroup([]string{"cat"}, nil)
	g.OutLookup.GetOrCreate("s")
	p.AddStep(g)
	trailingApply := NewApply(fakeExpr{text: "@s+1"}, "s2", false)
	p.AddStep(trailingApply)

	require.Same(t, root, p.GetLookup(trailingApply, First))
	require.Same(t, g.OutLookup, p.GetLookup(trailingApply, Prev))
	require.Same(t, g.OutLookup, p.GetLookup(trailingApply, Last))
}

func TestSerializeProducesWireTokens(t *testing.T) {
	p := New(rlookup.New())
	p.AddStep(NewLoad([]string{"cat", "val"}, false))
	p.AddStep(NewFilter(fakeExpr{text: "@val > 0"}))
	g := NewGroup([]string{"cat"}, []*ReducerStep{
		{Name: "SUM", Args: []string{"1", "@val"}, Alias: "s"},
	})
	p.AddStep(g)
	p.AddStep(NewArrange([]string{"s"}, []bool{false}, 0, 10, true))

	toks := p.Serialize()
	require.Equal(t, []string{
		"LOAD", "2", "@cat", "@val",
		"FILTER", "@val > 0",
		"GROUPBY", "1", "@cat", "REDUCE", "SUM", "2", "1", "@val", "AS", "s",
		"SORTBY", "2", "@s", "DESC", "LIMIT", "0", "10",
	}, toks)
}
