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
	"time"

	"github.com/RediSearch/RediSearch-sub005/rlookup"
)

// Profile wraps another processor, accumulating the cumulative time
// spent in its Next calls (including its whole upstream chain) and how
// many times it was called. One Profile per pipeline stage lets a
// FT.PROFILE reply attribute cost per stage rather than to the pipeline
// as a whole.
type Profile struct {
	base
	Label   string
	Calls   int64
	Elapsed time.Duration
}

// NewProfile wraps upstream under label.
func NewProfile(upstream Processor, label string) *Profile {
	p := &Profile{base: base{lookup: upstream.Lookup()}, Label: label}
	p.base.upstream = upstream
	return p
}

func (p *Profile) Next(row *rlookup.Row) Status {
	start := time.Now()
	st := p.upstream.Next(row)
	p.Elapsed += time.Since(start)
	p.Calls++
	return st
}

// Report is the read-only snapshot returned by Profile.Snapshot, the
// shape FT.PROFILE appends to a reply.
type Report struct {
	Label   string
	Calls   int64
	Elapsed time.Duration
}

// Snapshot returns this stage's accumulated profile.
func (p *Profile) Snapshot() Report {
	return Report{Label: p.Label, Calls: p.Calls, Elapsed: p.Elapsed}
}
