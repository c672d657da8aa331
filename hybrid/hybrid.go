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

// Package hybrid implements the FT.HYBRID tail: a HYBRID-MERGER processor
// that combines the two depleted sub-pipelines (SEARCH and VSIM, spec.md
// §4.6) into one descending-score result stream, using either Reciprocal
// Rank Fusion or a linear combination of raw scores.
package hybrid

import (
	"sort"

	"github.com/RediSearch/RediSearch-sub005/rlookup"
	"github.com/RediSearch/RediSearch-sub005/rproc"
	"github.com/RediSearch/RediSearch-sub005/rval"
)

// ScoringType selects how Merger combines the two subqueries' per-doc
// signals into one score.
type ScoringType int

const (
	ScoringRRF ScoringType = iota
	ScoringLinear
)

// Default window and RRF constant, matching HYBRID_DEFAULT_WINDOW and
// HYBRID_DEFAULT_RRF_CONSTANT.
const (
	DefaultWindow     = 20
	DefaultRRFConstant = 60.0
)

// ScoringContext configures Merger's combining function.
type ScoringContext struct {
	Type ScoringType

	// RRFConstant applies when Type is ScoringRRF. Window is recorded by
	// the constructors; Merger does not read it and does not truncate
	// either input.
	RRFConstant float64
	Window      int

	// LinearWeights apply when Type is ScoringLinear: LinearWeights[i]
	// scales subquery i's raw score. A missing weight defaults to 1.
	LinearWeights []float64
}

// NewRRFScoringContext builds an RRF context. window<=0 uses
// DefaultWindow.
func NewRRFScoringContext(constant float64, window int) ScoringContext {
	if window <= 0 {
		window = DefaultWindow
	}
	return ScoringContext{Type: ScoringRRF, RRFConstant: constant, Window: window}
}

// NewLinearScoringContext builds a linear-combination context.
func NewLinearScoringContext(weights []float64, window int) ScoringContext {
	if window <= 0 {
		window = DefaultWindow
	}
	return ScoringContext{Type: ScoringLinear, LinearWeights: weights, Window: window}
}

// DefaultScoringContext is RRF with the standard constant and window,
// used when the caller's HYBRID command omits a SCORER clause.
func DefaultScoringContext() ScoringContext {
	return NewRRFScoringContext(DefaultRRFConstant, DefaultWindow)
}

func (sc ScoringContext) weight(i int) float64 {
	if i < len(sc.LinearWeights) {
		return sc.LinearWeights[i]
	}
	return 1
}

// score combines one doc's per-subquery rank/score/presence triples into
// a single merged score.
func (sc ScoringContext) score(ranks [2]int, scores [2]float64, has [2]bool) float64 {
	switch sc.Type {
	case ScoringLinear:
		var s float64
		for i := 0; i < 2; i++ {
			if has[i] {
				s += sc.weight(i) * scores[i]
			}
		}
		return s
	default: // ScoringRRF
		var s float64
		for i := 0; i < 2; i++ {
			if has[i] {
				s += 1.0 / (sc.RRFConstant + float64(ranks[i]))
			}
		}
		return s
	}
}

type mergeEntry struct {
	row    *rlookup.Row
	scores [2]float64
	ranks  [2]int
	has    [2]bool
}

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

// Merger is the HYBRID-MERGER processor: its two inputs are the SEARCH
// and VSIM sub-pipelines' DEPLETERs rather than a single chained
// upstream, so unlike every other rproc.Processor it ignores
// SetUpstream/Upstream beyond reporting Sub[0] for chain-walking
// purposes (Free still needs to reach both).
type Merger struct {
	Sub         [2]rproc.Processor
	Sync        *rproc.DepleterSync
	DocKey      *rlookup.Key
	ScoreKeys   [2]*rlookup.Key
	OutScoreKey *rlookup.Key
	Scoring     ScoringContext

	lookup *rlookup.Lookup
	merged bool
	out    []*rlookup.Row
	pos    int
}

// NewMerger builds a Merger reading from the two depleters sub0/sub1,
// keyed on docKey, reading each subquery's raw score from scoreKeys[i]
// and writing the merged score to outScoreKey (if non-nil).
func NewMerger(lookup *rlookup.Lookup, sub0, sub1 rproc.Processor, sync *rproc.DepleterSync, docKey *rlookup.Key, scoreKeys [2]*rlookup.Key, outScoreKey *rlookup.Key, scoring ScoringContext) *Merger {
	return &Merger{
		Sub:         [2]rproc.Processor{sub0, sub1},
		Sync:        sync,
		DocKey:      docKey,
		ScoreKeys:   scoreKeys,
		OutScoreKey: outScoreKey,
		Scoring:     scoring,
		lookup:      lookup,
	}
}

func (m *Merger) Lookup() *rlookup.Lookup    { return m.lookup }
func (m *Merger) SetUpstream(rproc.Processor) {}
func (m *Merger) Upstream() rproc.Processor  { return m.Sub[0] }

func (m *Merger) Free() {
	m.Sub[0].Free()
	m.Sub[1].Free()
}

func (m *Merger) Next(row *rlookup.Row) rproc.Status {
	if !m.merged {
		if st := m.accumulate(); st != rproc.StatusOK {
			return st
		}
		m.merged = true
	}
	if m.pos >= len(m.out) {
		return rproc.StatusEOF
	}
	*row = *m.out[m.pos]
	m.pos++
	return rproc.StatusOK
}

func (m *Merger) accumulate() rproc.Status {
	tmp := &rlookup.Row{}
	entries := make(map[string]*mergeEntry)
	for i := 0; i < 2; i++ {
		if st := m.drain(i, tmp, entries); st != rproc.StatusOK {
			return st
		}
	}
	type scored struct {
		row   *rlookup.Row
		score float64
	}
	list := make([]scored, 0, len(entries))
	for _, e := range entries {
		sc := m.Scoring.score(e.ranks, e.scores, e.has)
		if m.OutScoreKey != nil {
			e.row.WriteKey(m.OutScoreKey, rval.NewNumber(sc))
		}
		list = append(list, scored{row: e.row, score: sc})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].score > list[j].score })
	out := make([]*rlookup.Row, len(list))
	for i, s := range list {
		out[i] = s.row
	}
	m.out = out
	return rproc.StatusOK
}

// drain pulls subquery i's depleter to completion, folding every row it
// produces into entries keyed by doc id. A DEPLETING status means the
// depleter's background goroutine hasn't finished; this blocks on the
// shared DepleterSync until either depleter makes progress rather than
// busy-polling.
func (m *Merger) drain(i int, tmp *rlookup.Row, entries map[string]*mergeEntry) rproc.Status {
	rank := 1
	var gen uint64
	for {
		st := m.Sub[i].Next(tmp)
		switch st {
		case rproc.StatusDepleting:
			if m.Sync != nil {
				gen, _ = m.Sync.WaitForProgress(gen)
			}
			continue
		case rproc.StatusEOF:
			return rproc.StatusOK
		case rproc.StatusOK:
			key := getVal(tmp, m.DocKey).String()
			e, ok := entries[key]
			if !ok {
				e = &mergeEntry{row: tmp.Clone()}
				entries[key] = e
			}
			if sv, ok2 := getVal(tmp, m.ScoreKeys[i]).Number(); ok2 {
				e.scores[i] = sv
				e.has[i] = true
			}
			e.ranks[i] = rank
			rank++
			tmp.Clear()
		default:
			return st
		}
	}
}
