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

package profile

import (
	"testing"

	"github.com/RediSearch/RediSearch-sub005/qiter"
	"github.com/RediSearch/RediSearch-sub005/rlookup"
	"github.com/RediSearch/RediSearch-sub005/rproc"
	"github.com/stretchr/testify/require"
)

type fakeRoot struct {
	lookup *rlookup.Lookup
	n      int
}

func (f *fakeRoot) Next(row *rlookup.Row) rproc.Status {
	if f.n <= 0 {
		return rproc.StatusEOF
	}
	f.n--
	return rproc.StatusOK
}
func (f *fakeRoot) Lookup() *rlookup.Lookup    { return f.lookup }
func (f *fakeRoot) SetUpstream(rproc.Processor) {}
func (f *fakeRoot) Upstream() rproc.Processor  { return nil }
func (f *fakeRoot) Free()                      {}

func TestFromProcessorOrdersStagesRootFirst(t *testing.T) {
	l := rlookup.New()
	root := &fakeRoot{lookup: l, n: 3}
	rootProf := rproc.NewProfile(root, "INDEX")
	mid := rproc.NewProfile(rootProf, "SORTER")
	top := rproc.NewProfile(mid, "PAGER")

	row := &rlookup.Row{}
	for top.Next(row) == rproc.StatusOK {
	}

	nodes := FromProcessor(top)
	require.Len(t, nodes, 3)
	require.Equal(t, []string{"INDEX", "SORTER", "PAGER"}, []string{nodes[0].Label, nodes[1].Label, nodes[2].Label})
	for _, n := range nodes {
		require.EqualValues(t, 4, n.Calls) // 3 OK + 1 EOF
	}
}

func TestIterProfileCountsReadsAndSkips(t *testing.T) {
	w := qiter.NewWildcard(5)
	p := WrapIterator("WILDCARD", w)

	_, _ = p.Read()
	_, _ = p.Read()
	_, _ = p.SkipTo(4)

	snap := p.Snapshot()
	require.Equal(t, "WILDCARD", snap.Label)
	require.EqualValues(t, 3, snap.Calls)
}

func TestBuildAssemblesIteratorsAndProcessors(t *testing.T) {
	l := rlookup.New()
	root := &fakeRoot{lookup: l, n: 1}
	rootProf := rproc.NewProfile(root, "INDEX")
	row := &rlookup.Row{}
	for rootProf.Next(row) == rproc.StatusOK {
	}

	iterNode := Node{Label: "WILDCARD", Calls: 2}
	tree := Build(rootProf, iterNode)
	require.Equal(t, []Node{iterNode}, tree.Iterators)
	require.Len(t, tree.Processors, 1)
	require.Equal(t, "INDEX", tree.Processors[0].Label)
}
