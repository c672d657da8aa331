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

// Package rproc implements the pull-based result-processor chain: INDEX,
// SCORER, SORTER, PAGER, LOADER, SAFE-LOADER, GROUPER, PROJECTOR,
// FILTER, HIGHLIGHTER, METRICS, COUNTER, NETWORK, DEPLETER, and PROFILE.
// Every processor implements Next(row) -> Status and is chained to its
// upstream the way the teacher's vm.QuerySink chains WriteChunks calls;
// unlike that push model, here the consumer drives evaluation by pulling,
// matching the source's result-processor contract.
package rproc

import (
	"github.com/RediSearch/RediSearch-sub005/rlookup"
	"github.com/RediSearch/RediSearch-sub005/rval"
)

// Status is the outcome of one Next call.
type Status int

const (
	StatusOK Status = iota
	StatusEOF
	StatusPaused
	StatusTimedOut
	StatusError
	StatusDepleting
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusEOF:
		return "EOF"
	case StatusPaused:
		return "PAUSED"
	case StatusTimedOut:
		return "TIMEDOUT"
	case StatusError:
		return "ERROR"
	case StatusDepleting:
		return "DEPLETING"
	default:
		return "UNKNOWN"
	}
}

// Parent is the state shared by every processor in one pipeline: a
// running result count (decremented by SCORER/FILTER when they drop a
// row) and the minimum score SCORER enforces. It mirrors the teacher's
// pattern of a small shared struct threaded through a whole op chain
// rather than each stage keeping its own copy.
type Parent struct {
	TotalResults int64
	MinScore     float64
}

// Processor is one stage of the pull-based chain.
type Processor interface {
	// Next writes the next result into row and returns its status. A
	// non-OK, non-EOF status (PAUSED, TIMEDOUT, ERROR, DEPLETING) must be
	// propagated by every downstream stage unchanged.
	Next(row *rlookup.Row) Status
	// Lookup returns the schema this processor's output rows follow.
	Lookup() *rlookup.Lookup
	SetUpstream(Processor)
	Upstream() Processor
	// Free releases any resources the processor holds; it does not walk
	// upstream (Pipeline.Free does that).
	Free()
}

// base implements the bookkeeping every processor needs so concrete
// types only have to embed it and write Next.
type base struct {
	upstream Processor
	lookup   *rlookup.Lookup
	parent   *Parent
}

func (b *base) SetUpstream(u Processor)  { b.upstream = u }
func (b *base) Upstream() Processor      { return b.upstream }
func (b *base) Lookup() *rlookup.Lookup  { return b.lookup }
func (b *base) Free()                    {}

// Pipeline is a built chain of processors plus the shared Parent state.
type Pipeline struct {
	head   Processor // the processor Next ultimately reads from
	tail   Processor // the most recently pushed (first to run) processor
	Parent *Parent
}

// NewPipeline starts a pipeline at root (an INDEX or NETWORK processor).
func NewPipeline(root Processor) *Pipeline {
	return &Pipeline{head: root, tail: root, Parent: &Parent{}}
}

// Push appends rp to the pipeline, wiring it to read from the current
// tail, matching the source's PushRP(pipeline, rp) (rp.upstream =
// endProc; endProc = rp).
func (p *Pipeline) Push(rp Processor) {
	rp.SetUpstream(p.tail)
	p.tail = rp
}

// Next pulls one result through the whole chain.
func (p *Pipeline) Next(row *rlookup.Row) Status {
	return p.tail.Next(row)
}

// Lookup returns the schema of the pipeline's final output.
func (p *Pipeline) Lookup() *rlookup.Lookup { return p.tail.Lookup() }

// Tail returns the pipeline's current final processor, the one Next
// reads from.
func (p *Pipeline) Tail() Processor { return p.tail }

// ReplaceTail sets the pipeline's tail directly, for callers (such as
// command.Compile) that wire a stage's upstream link themselves -- e.g.
// to splice a PROFILE wrapper in after a stage without Push's automatic
// rp.SetUpstream(p.tail), which would otherwise sever the wrapper from
// the stage it profiles.
func (p *Pipeline) ReplaceTail(rp Processor) { p.tail = rp }

// Free walks the chain from tail to head, freeing every processor.
func (p *Pipeline) Free() {
	for cur := p.tail; cur != nil; {
		up := cur.Upstream()
		cur.Free()
		if cur == p.head {
			break
		}
		cur = up
	}
}

// getVal reads a key's value as an rval.Value, defaulting to null for an
// unset slot; every processor in this package stores row values as
// rval.Value so comparisons, hashing, and reducer feeding share one type.
func getVal(row *rlookup.Row, k *rlookup.Key) rval.Value {
	if k == nil {
		return rval.NullValue()
	}
	v, ok := row.Get(k)
	if !ok {
		return rval.NullValue()
	}
	rv, _ := v.(rval.Value)
	return rv
}
