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

// Package profile assembles the FT.PROFILE reply subtree: the
// accumulated duration and call counts of every rproc.Profile-wrapped
// pipeline stage, plus an iterator-side wrapper (IterProfile) for the
// qiter tree that sits upstream of the pipeline's INDEX/NETWORK root.
// The accumulation style (atomic counters read back through a Snapshot
// method) mirrors plan.ExecStats.atomicAdd in the teacher codebase.
package profile

import (
	"sync/atomic"
	"time"

	"github.com/RediSearch/RediSearch-sub005/qiter"
	"github.com/RediSearch/RediSearch-sub005/rproc"
)

// Node is one entry in the profile subtree a reply carries: a stage's
// label, its accumulated time, and how many times it ran.
type Node struct {
	Label   string
	Calls   int64
	Elapsed time.Duration
}

// FromProcessor walks p's upstream chain and collects every
// rproc.Profile wrapper's snapshot, ordered from the root (INDEX or
// NETWORK) to the final stage -- the order FT.PROFILE renders its
// processor subtree in.
func FromProcessor(p rproc.Processor) []Node {
	var stages []Node
	for cur := p; cur != nil; cur = cur.Upstream() {
		if pr, ok := cur.(*rproc.Profile); ok {
			r := pr.Snapshot()
			stages = append(stages, Node{Label: r.Label, Calls: r.Calls, Elapsed: r.Elapsed})
		}
	}
	for i, j := 0, len(stages)-1; i < j; i, j = i+1, j-1 {
		stages[i], stages[j] = stages[j], stages[i]
	}
	return stages
}

// IterProfile wraps a qiter.Iterator, accumulating the time spent and
// call counts across Read and SkipTo -- the iterator-side counterpart
// to rproc.Profile, since the query iterator tree sits below the
// pipeline and has its own interface shape.
type IterProfile struct {
	Label string
	Inner qiter.Iterator

	reads   int64
	skips   int64
	elapsed int64 // nanoseconds, accumulated with atomic.AddInt64
}

// WrapIterator wraps inner under label.
func WrapIterator(label string, inner qiter.Iterator) *IterProfile {
	return &IterProfile{Label: label, Inner: inner}
}

func (p *IterProfile) Read() (qiter.Record, qiter.Status) {
	start := time.Now()
	rec, st := p.Inner.Read()
	atomic.AddInt64(&p.elapsed, int64(time.Since(start)))
	atomic.AddInt64(&p.reads, 1)
	return rec, st
}

func (p *IterProfile) SkipTo(to qiter.DocID) (qiter.Record, qiter.Status) {
	start := time.Now()
	rec, st := p.Inner.SkipTo(to)
	atomic.AddInt64(&p.elapsed, int64(time.Since(start)))
	atomic.AddInt64(&p.skips, 1)
	return rec, st
}

func (p *IterProfile) Rewind()                  { p.Inner.Rewind() }
func (p *IterProfile) Revalidate() qiter.Status { return p.Inner.Revalidate() }
func (p *IterProfile) NumEstimated() int64      { return p.Inner.NumEstimated() }
func (p *IterProfile) Current() qiter.Record    { return p.Inner.Current() }

// Snapshot returns this iterator's accumulated profile; Calls counts
// both Read and SkipTo invocations together, matching how the source
// attributes a single cost to one iterator node regardless of which
// method drove it.
func (p *IterProfile) Snapshot() Node {
	return Node{
		Label:   p.Label,
		Calls:   atomic.LoadInt64(&p.reads) + atomic.LoadInt64(&p.skips),
		Elapsed: time.Duration(atomic.LoadInt64(&p.elapsed)),
	}
}

// Tree is the full subtree FT.PROFILE appends to a reply: the iterator
// stats feeding the pipeline's root, followed by the pipeline's own
// per-stage stats.
type Tree struct {
	Iterators  []Node
	Processors []Node
}

// Build assembles a Tree from a pipeline's tail processor and the
// iterator nodes that fed it (collected separately, since the iterator
// tree's shape is query-specific and walked by the caller that built it).
func Build(tail rproc.Processor, iterNodes ...Node) Tree {
	return Tree{Iterators: iterNodes, Processors: FromProcessor(tail)}
}
