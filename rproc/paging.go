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

import "github.com/RediSearch/RediSearch-sub005/rlookup"

// Pager skips Offset upstream results, yields up to Limit, then EOF. A
// Limit of 0 means unbounded.
type Pager struct {
	base
	Offset int
	Limit  int

	skipped int
	emitted int
}

func NewPager(lookup *rlookup.Lookup, offset, limit int) *Pager {
	return &Pager{base: base{lookup: lookup}, Offset: offset, Limit: limit}
}

func (p *Pager) Next(row *rlookup.Row) Status {
	for p.skipped < p.Offset {
		st := p.upstream.Next(row)
		if st != StatusOK {
			return st
		}
		row.Clear()
		p.skipped++
	}
	if p.Limit > 0 && p.emitted >= p.Limit {
		return StatusEOF
	}
	st := p.upstream.Next(row)
	if st == StatusOK {
		p.emitted++
	}
	return st
}

// Counter drains its upstream fully without yielding any rows; its only
// output is the count, left in the shared Parent's TotalResults and
// available via Count. It backs WITHOUT results / LIMIT 0 requests that
// only want a match count.
type Counter struct {
	base
	count int64
}

func NewCounter(lookup *rlookup.Lookup, parent *Parent) *Counter {
	return &Counter{base: base{lookup: lookup, parent: parent}}
}

func (c *Counter) Next(row *rlookup.Row) Status {
	for {
		st := c.upstream.Next(row)
		if st == StatusEOF {
			if c.parent != nil {
				c.parent.TotalResults = c.count
			}
			return StatusEOF
		}
		if st != StatusOK {
			return st
		}
		c.count++
		row.Clear()
	}
}

func (c *Counter) Count() int64 { return c.count }
