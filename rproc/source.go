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
	"github.com/RediSearch/RediSearch-sub005/qiter"
	"github.com/RediSearch/RediSearch-sub005/rlookup"
)

// Index is the root processor of a single-shard pipeline: it pulls
// matches directly from a qiter.Iterator and materializes each one into
// a row via Build.
type Index struct {
	base
	Iter     qiter.Iterator
	DocKey   *rlookup.Key
	ScoreKey *rlookup.Key
	// Build writes rec's fields into row; it is supplied by the caller
	// because the row's shape depends on the schema the request asked
	// for, not on anything the iterator itself knows.
	Build func(rec qiter.Record, row *rlookup.Row)
}

// NewIndex builds an INDEX processor over iter, producing rows against
// lookup.
func NewIndex(iter qiter.Iterator, lookup *rlookup.Lookup, build func(qiter.Record, *rlookup.Row)) *Index {
	return &Index{base: base{lookup: lookup}, Iter: iter, Build: build}
}

func (ix *Index) Next(row *rlookup.Row) Status {
	rec, st := ix.Iter.Read()
	switch st {
	case qiter.OK, qiter.NotFound:
		if ix.Build != nil {
			ix.Build(rec, row)
		}
		return StatusOK
	case qiter.Timeout:
		return StatusTimedOut
	case qiter.Abort:
		return StatusError
	default: // qiter.EOF
		return StatusEOF
	}
}

// ShardSource is the narrow surface the NETWORK processor needs from the
// fan-in iterator (§4.7): one row per call, already converted into the
// pipeline's row representation.
type ShardSource interface {
	Next(row *rlookup.Row) Status
	Lookup() *rlookup.Lookup
}

// Network is the root processor of a distributed pipeline: each Next
// call advances the fan-in iterator over shard cursor replies.
type Network struct {
	base
	Source ShardSource
}

// NewNetwork wraps src as the root of a pipeline.
func NewNetwork(src ShardSource) *Network {
	return &Network{base: base{lookup: src.Lookup()}, Source: src}
}

func (n *Network) Next(row *rlookup.Row) Status { return n.Source.Next(row) }
