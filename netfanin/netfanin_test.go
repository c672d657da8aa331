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

package netfanin

import (
	"errors"
	"sync"
	"testing"

	"github.com/RediSearch/RediSearch-sub005/ferr"
	"github.com/RediSearch/RediSearch-sub005/rlookup"
	"github.com/RediSearch/RediSearch-sub005/rproc"
	"github.com/RediSearch/RediSearch-sub005/rval"
	"github.com/stretchr/testify/require"
)

// fakeTransport replays a scripted sequence of replies for one shard,
// keyed by call index, so tests can drive a multi-page cursor lifecycle
// without a real connection.
type fakeTransport struct {
	mu      sync.Mutex
	replies []Reply
	errs    []error
	call    int
}

func (f *fakeTransport) Exec(cmd []string) (Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.call
	f.call++
	if i >= len(f.replies) {
		return Reply{}, errors.New("fakeTransport: no more scripted replies")
	}
	return f.replies[i], f.errs[i]
}

func flatRow(kv ...rval.Value) rval.Value { return rval.NewArray(kv) }

func TestFanInStreamsRowsAcrossCursorPages(t *testing.T) {
	shard := &fakeTransport{
		replies: []Reply{
			{Kind: KindArray, Array: []rval.Value{
				rval.NewArray([]rval.Value{flatRow(rval.NewString("docId", rval.Borrowed), rval.NewNumber(1))}),
				rval.NewNumber(42),
			}},
			{Kind: KindArray, Array: []rval.Value{
				rval.NewArray([]rval.Value{flatRow(rval.NewString("docId", rval.Borrowed), rval.NewNumber(2))}),
				rval.NewNumber(0),
			}},
		},
		errs: []error{nil, nil},
	}
	lookup := rlookup.New()
	fi := New(lookup, "idx", nil, CommandOptions{CursorCount: 100}, PolicyFail, []Transport{shard})

	docKey := lookup.GetOrCreate("docId")
	var got []float64
	row := &rlookup.Row{}
	for {
		st := fi.Next(row)
		if st == rproc.StatusEOF {
			break
		}
		require.Equal(t, rproc.StatusOK, st)
		v, _ := row.Get(docKey)
		f, _ := v.(rval.Value).Number()
		got = append(got, f)
		row.Clear()
	}
	require.Equal(t, []float64{1, 2}, got)
}

func TestFanInReturnPolicyAcceptsTimeoutWarning(t *testing.T) {
	shard := &fakeTransport{
		replies: []Reply{
			{Kind: KindArray, Array: []rval.Value{
				rval.NewArray([]rval.Value{flatRow(rval.NewString("docId", rval.Borrowed), rval.NewNumber(1))}),
				rval.NewNumber(7),
			}},
			{},
		},
		errs: []error{nil, errors.New(ferr.TimeoutMessage)},
	}
	lookup := rlookup.New()
	fi := New(lookup, "idx", nil, CommandOptions{}, PolicyReturn, []Transport{shard})

	docKey := lookup.GetOrCreate("docId")
	row := &rlookup.Row{}
	st := fi.Next(row)
	require.Equal(t, rproc.StatusOK, st)
	v, _ := row.Get(docKey)
	f, _ := v.(rval.Value).Number()
	require.Equal(t, 1.0, f)

	st = fi.Next(row)
	require.Equal(t, rproc.StatusEOF, st)
	require.Contains(t, fi.Warnings, "TIMEDOUT")
}

func TestBuildMRCommandIncludesCursorAndDialect(t *testing.T) {
	cmd := buildMRCommand("idx", []string{"GROUPBY", "1", "@brand"}, CommandOptions{
		CursorCount: 500,
		Dialect:     2,
		AddScores:   true,
	})
	require.Equal(t, []string{
		"_FT.AGGREGATE", "idx", "GROUPBY", "1", "@brand",
		"WITHCURSOR", "COUNT", "500", "DIALECT", "2", "ADDSCORES",
	}, cmd)
}

func TestReplyCursorIDFromRESP3Map(t *testing.T) {
	r := Reply{Kind: KindMap, Map: map[string]rval.Value{
		"cursor":  rval.NewNumber(99),
		"format":  rval.NewString("EXPAND", rval.Borrowed),
		"results": rval.NewArray(nil),
	}}
	id, ok := r.CursorID()
	require.True(t, ok)
	require.EqualValues(t, 99, id)
	require.Equal(t, "EXPAND", r.Format())
}
