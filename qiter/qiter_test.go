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

package qiter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func drain(it Iterator) []Record {
	it.Rewind()
	var out []Record
	for {
		r, st := it.Read()
		if st == EOF {
			return out
		}
		out = append(out, r)
	}
}

func TestWildcardProducesEveryDocIDInOrder(t *testing.T) {
	w := NewWildcard(5)
	recs := drain(w)
	require.Len(t, recs, 5)
	for i, r := range recs {
		require.Equal(t, DocID(i+1), r.DocID)
	}
}

func TestWildcardSkipTo(t *testing.T) {
	w := NewWildcard(10)
	r, st := w.SkipTo(7)
	require.Equal(t, OK, st)
	require.Equal(t, DocID(7), r.DocID)
}

func TestUnionIsSortedUnionOfChildren(t *testing.T) {
	a := NewIDList([]DocID{1, 3, 5})
	b := NewIDList([]DocID{2, 3, 8})
	u := NewUnion([]Iterator{a, b}, false)
	recs := drain(u)
	ids := make([]DocID, len(recs))
	for i, r := range recs {
		ids[i] = r.DocID
	}
	require.Equal(t, []DocID{1, 2, 3, 5, 8}, ids)
}

func TestIntersectionOnlyMatchesShared(t *testing.T) {
	a := NewIDList([]DocID{1, 2, 3, 4})
	b := NewIDList([]DocID{2, 4, 6})
	x := NewIntersection([]Iterator{a, b})
	recs := drain(x)
	ids := make([]DocID, len(recs))
	for i, r := range recs {
		ids[i] = r.DocID
	}
	require.Equal(t, []DocID{2, 4}, ids)
}

func TestOptionalProducesVirtualForNonMatches(t *testing.T) {
	child := NewIDList([]DocID{2, 4})
	o := NewOptional(child, 5, 0.5)
	recs := drain(o)
	require.Len(t, recs, 5)
	for _, r := range recs {
		if r.DocID == 2 || r.DocID == 4 {
			require.False(t, r.Virtual)
		} else {
			require.True(t, r.Virtual)
		}
	}
}

func TestEmptyIteratorNeverMatches(t *testing.T) {
	e := Empty{}
	_, st := e.Read()
	require.Equal(t, EOF, st)
}
