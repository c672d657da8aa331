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

// Package command is the external command surface: it compiles an
// aggplan.Plan into a running rproc pipeline, drives FT.SEARCH/
// FT.AGGREGATE/FT.HYBRID/FT.CURSOR/FT.PROFILE to completion or a paused
// cursor, and shapes the result into the reply package's well-formed
// shapes. It plays the role of cmd/snellerd's HTTP handler layer,
// adapted from one-shot HTTP requests to a RESP-style command dispatcher
// with its own cursored continuations.
package command

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/RediSearch/RediSearch-sub005/aggplan"
	"github.com/RediSearch/RediSearch-sub005/config"
	"github.com/RediSearch/RediSearch-sub005/cursor"
	"github.com/RediSearch/RediSearch-sub005/extiface"
	"github.com/RediSearch/RediSearch-sub005/ferr"
	"github.com/RediSearch/RediSearch-sub005/hybrid"
	"github.com/RediSearch/RediSearch-sub005/profile"
	"github.com/RediSearch/RediSearch-sub005/reducer"
	"github.com/RediSearch/RediSearch-sub005/reply"
	"github.com/RediSearch/RediSearch-sub005/rlookup"
	"github.com/RediSearch/RediSearch-sub005/rproc"
	"github.com/RediSearch/RediSearch-sub005/rtimeout"
)

// CompileContext carries the external collaborators Compile needs to
// turn plan steps into live processors: an expression evaluator and a
// document store, both out of scope per spec.md §1 and represented as
// extiface interfaces.
type CompileContext struct {
	Eval    extiface.Evaluator
	Store   extiface.DocStore
	DocKey  *rlookup.Key
	Parent  *rproc.Parent
	Profile bool

	// Score, when set, wires an rproc.Scorer directly above root, before
	// any plan step -- matching the source's query_plan.c, which always
	// inserts SCORER right after the base iterator and ahead of any
	// AGGPlan step (APPLY/FILTER/ARRANGE/...), never as a step of the
	// plan itself. Nil means FT.HYBRID's VSIM leg or a request that
	// skips scoring entirely (NOSCORE).
	Score    rproc.ScoreFunc
	ScoreKey *rlookup.Key
	MinScore float64
}

// Compile optionally wires a SCORER directly above root (see cc.Score),
// then walks p's steps (excluding ROOT and DISTRIBUTE, which carry no
// processor of their own -- DISTRIBUTE's effect is that root is already
// an rproc.Network reading from the shard fan-in) and builds the
// corresponding rproc.Pipeline, one stage per step in plan order. When
// cc.Profile is set, every stage is wrapped in an rproc.Profile so
// profile.FromProcessor can report per-stage cost afterward.
func Compile(p *aggplan.Plan, root rproc.Processor, cc CompileContext) (*rproc.Pipeline, error) {
	parent := cc.Parent
	if parent == nil {
		parent = &rproc.Parent{}
	}

	cur := root
	if cc.Profile {
		cur = rproc.NewProfile(cur, p.Root().Kind.String())
	}
	pipe := rproc.NewPipeline(cur)
	pipe.Parent = parent

	if cc.Score != nil {
		scorer := rproc.NewScorer(root.Lookup(), parent, cc.ScoreKey, cc.Score, cc.MinScore)
		scorer.SetUpstream(cur)
		cur = scorer
		if cc.Profile {
			cur = rproc.NewProfile(cur, "SCORER")
		}
	}

	for _, s := range p.Steps() {
		var proc rproc.Processor
		lookup := p.GetLookup(s, aggplan.Prev)
		switch s.Kind {
		case aggplan.Apply:
			outKey := lookup.GetOrCreate(s.Alias)
			proc = rproc.NewProjector(lookup, cc.Eval, s.Expr, outKey)
		case aggplan.Filter:
			proc = rproc.NewFilter(lookup, parent, cc.Eval, s.Expr)
		case aggplan.Arrange:
			proc = buildArrange(lookup, s, cc.DocKey)
		case aggplan.Load:
			fields := resolveFields(lookup, s)
			proc = rproc.NewLoader(lookup, cc.Store, cc.DocKey, fields)
		case aggplan.Group:
			g, err := buildGroup(lookup, s)
			if err != nil {
				return nil, err
			}
			proc = g
		case aggplan.VectorNormalizer, aggplan.Distribute:
			// No standalone processor: VECTOR_NORMALIZER's distance field
			// is already present on the row by the time it reaches here
			// (written by the INDEX stage's Build callback), and
			// DISTRIBUTE's effect already happened by root being an
			// rproc.Network over the shard fan-in.
			continue
		default:
			continue
		}
		if proc == nil {
			// An ARRANGE with neither a sort key nor a limit contributes
			// nothing to the chain.
			continue
		}
		proc.SetUpstream(cur)
		cur = proc
		if cc.Profile {
			cur = rproc.NewProfile(cur, s.Kind.String())
		}
	}
	pipe.ReplaceTail(cur)
	return pipe, nil
}

// buildArrange compiles one ARRANGE step into a Sorter (if it carries
// sort keys) optionally chained into a Pager (if it carries an
// offset/limit window), matching how Serialize emits SORTBY and LIMIT
// as independent optional clauses of the same step.
func buildArrange(lookup *rlookup.Lookup, s *aggplan.Step, docKey *rlookup.Key) rproc.Processor {
	var sortProc *rproc.Sorter
	if len(s.SortKeys) > 0 {
		keys := make([]rproc.SortKey, len(s.SortKeys))
		for i, name := range s.SortKeys {
			asc := i < len(s.Ascending) && s.Ascending[i]
			keys[i] = rproc.SortKey{Field: lookup.GetForWrite(name, true), Ascending: asc}
		}
		maxResults := 0
		if s.IsLimited {
			maxResults = s.Offset + s.Limit
		}
		sortProc = rproc.NewSorterByFields(lookup, keys, docKey, maxResults)
	}
	if !s.IsLimited {
		if sortProc != nil {
			return sortProc
		}
		return nil
	}
	pager := rproc.NewPager(lookup, s.Offset, s.Limit)
	if sortProc != nil {
		pager.SetUpstream(sortProc)
		// Compile's loop calls SetUpstream on the processor returned here;
		// on the bare pager that would replace the sortProc link above, so
		// wrap both into a tiny two-stage sub-chain (pushPair) whose
		// SetUpstream rewires the sorter instead.
		return &pushPair{first: sortProc, last: pager}
	}
	return pager
}

// resolveFields resolves a LOAD step's field names against lookup,
// creating any that aren't already registered (a LOAD can name a field
// no prior step has touched yet).
func resolveFields(lookup *rlookup.Lookup, s *aggplan.Step) []*rlookup.Key {
	if s.Wildcard {
		return nil
	}
	fields := make([]*rlookup.Key, len(s.LoadFields))
	for i, f := range s.LoadFields {
		fields[i] = lookup.GetForWrite(f, true)
	}
	return fields
}

// buildGroup compiles a GROUP step's reducer list into rproc bindings,
// instantiating each named reducer via reducer.New.
func buildGroup(lookup *rlookup.Lookup, s *aggplan.Step) (*rproc.Grouper, error) {
	groupKeys := make([]*rlookup.Key, len(s.GroupBy))
	outKeys := make([]*rlookup.Key, len(s.GroupBy))
	for i, name := range s.GroupBy {
		groupKeys[i] = lookup.GetForWrite(name, true)
		outKeys[i] = s.OutLookup.GetOrCreate(name)
	}
	bindings := make([]rproc.ReducerBinding, len(s.Reducers))
	for i, r := range s.Reducers {
		factory, err := reducer.New(r.Name, r.Args)
		if err != nil {
			return nil, err
		}
		var source *rlookup.Key
		if len(r.Args) > 0 {
			source = lookup.GetForWrite(trimAt(r.Args[0]), true)
		}
		bindings[i] = rproc.ReducerBinding{
			SourceKey: source,
			OutKey:    s.OutLookup.GetOrCreate(r.Alias),
			Factory:   factory,
		}
	}
	return rproc.NewGrouper(s.OutLookup, groupKeys, outKeys, bindings), nil
}

// trimAt strips a leading "@" from a serialized field reference such as
// "@price", the form ReducerStep.Args uses for its source field.
func trimAt(s string) string {
	if len(s) > 0 && s[0] == '@' {
		return s[1:]
	}
	return s
}

// pushPair lets Compile push a two-stage ARRANGE (Sorter feeding a Pager)
// as a single rproc.Processor, so the rest of Compile's loop doesn't need
// to special-case multi-processor steps.
type pushPair struct {
	first rproc.Processor
	last  rproc.Processor
}

func (p *pushPair) Next(row *rlookup.Row) rproc.Status { return p.last.Next(row) }
func (p *pushPair) Lookup() *rlookup.Lookup             { return p.last.Lookup() }
func (p *pushPair) SetUpstream(u rproc.Processor) {
	p.first.SetUpstream(u)
}
func (p *pushPair) Upstream() rproc.Processor { return p.first.Upstream() }
func (p *pushPair) Free() {
	p.last.Free()
	p.first.Free()
}

// Request carries the per-command options common to FT.SEARCH,
// FT.AGGREGATE, and FT.HYBRID.
type Request struct {
	QueryID     uuid.UUID
	Policy      reply.Policy
	ProfileMode bool
	// CursorCount is the WITHCURSOR COUNT value; 0 means drain the whole
	// pipeline in one reply with no cursor opened.
	CursorCount int
	MaxIdle     time.Duration
	Deadline    *rtimeout.Ctx
}

// Reply is the assembled result of running a pipeline to completion or a
// pause point: reply.Result's total/warnings plus the rows gathered,
// the schema they follow, an optional cursor id to continue from, and
// (when profiling was requested) the accumulated profile subtree.
type Reply struct {
	reply.Result
	Rows     []*rlookup.Row
	Lookup   *rlookup.Lookup
	CursorID cursor.ID
	Profile  *profile.Tree
}

// pipelineRef adapts a live *rproc.Pipeline to cursor.SpecRef: the
// pipeline itself is the "spec" being kept alive across CURSOR READ
// calls, and it's always resolvable (nothing external can invalidate it
// the way an index spec can), so Resolve always reports ok.
type pipelineRef struct{ pipeline *rproc.Pipeline }

func (r *pipelineRef) Resolve() (any, bool) { return r.pipeline, true }

// Server owns the two cursor registries (coordinator and user) that
// every FT.AGGREGATE WITHCURSOR / FT.HYBRID request may park a
// continuation in, plus the configuration and logger every command
// consults.
type Server struct {
	Config      config.Config
	Coordinator *cursor.List
	Local       *cursor.List
	Logger      *log.Logger
}

// NewServer builds a Server with fresh cursor registries.
func NewServer(cfg config.Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		Config:      cfg,
		Coordinator: cursor.NewList(true),
		Local:       cursor.NewList(false),
		Logger:      logger,
	}
}

// RunAggregate drives pipe to completion or, if it yields req.CursorCount
// rows without reaching EOF, pauses it behind a new cursor and returns
// that cursor's id for a subsequent CURSOR READ.
func (s *Server) RunAggregate(pipe *rproc.Pipeline, req Request) (Reply, *ferr.Error) {
	rows, total, st := drain(pipe, req.CursorCount, req.Deadline)
	switch st {
	case rproc.StatusTimedOut:
		res, fe := reply.Timeout(req.Policy, total, req.ProfileMode)
		if fe != nil {
			return Reply{}, fe
		}
		return Reply{Result: res, Rows: rows, Lookup: pipe.Lookup()}, nil
	case rproc.StatusError:
		res, fe := reply.OOM(req.Policy, false)
		if fe != nil {
			return Reply{}, fe
		}
		return Reply{Result: res, Lookup: pipe.Lookup()}, nil
	}

	out := Reply{
		Result: reply.Result{TotalResults: total},
		Rows:   rows,
		Lookup: pipe.Lookup(),
	}
	if req.ProfileMode {
		tree := profile.Build(pipe.Tail())
		out.Profile = &tree
	}
	if st != rproc.StatusEOF && req.CursorCount > 0 {
		maxIdle := req.MaxIdle
		if maxIdle <= 0 {
			maxIdle = s.Config.DefaultCursorTimeout()
		}
		c := s.Coordinator.Reserve(&pipelineRef{pipeline: pipe}, maxIdle)
		c.ExecState = pipe
		s.Coordinator.Pause(c)
		out.CursorID = c.ID
	}
	return out, nil
}

// Continue resumes a previously-paused cursor, draining up to count more
// rows (0 means drain to completion) and pausing or freeing it again
// depending on whether the pipeline reached EOF.
func (s *Server) Continue(cid cursor.ID, count int, deadline *rtimeout.Ctx) (Reply, *ferr.Error) {
	c, err := s.Coordinator.TakeForExecution(cid)
	if err != nil {
		return Reply{}, reply.CursorNotFound()
	}
	pipe := c.ExecState.(*rproc.Pipeline)
	rows, total, st := drain(pipe, count, deadline)
	out := Reply{Result: reply.Result{TotalResults: total}, Rows: rows, Lookup: pipe.Lookup()}
	if st == rproc.StatusEOF {
		s.Coordinator.Free(c)
		return out, nil
	}
	s.Coordinator.Pause(c)
	out.CursorID = c.ID
	return out, nil
}

// Purge services a CURSOR DEL: an idle cursor is freed immediately, an
// active one (mid network round-trip) is only marked for deletion.
func (s *Server) Purge(cid cursor.ID) *ferr.Error {
	if err := s.Coordinator.Purge(cid); err != nil {
		return reply.CursorNotFound()
	}
	return nil
}

// RunHybrid drives a hybrid.Merger to completion: the merger's Next
// already handles both sub-pipelines' depleter synchronization
// internally, so draining it is identical to draining any other root
// processor.
func (s *Server) RunHybrid(m *hybrid.Merger, req Request) (Reply, *ferr.Error) {
	rows, total, st := drainProcessor(m, req.CursorCount, req.Deadline)
	if st == rproc.StatusTimedOut {
		res, fe := reply.Timeout(req.Policy, total, req.ProfileMode)
		if fe != nil {
			return Reply{}, fe
		}
		return Reply{Result: res, Rows: rows, Lookup: m.Lookup()}, nil
	}
	if st == rproc.StatusError {
		res, fe := reply.OOM(req.Policy, false)
		if fe != nil {
			return Reply{}, fe
		}
		return Reply{Result: res, Lookup: m.Lookup()}, nil
	}
	return Reply{Result: reply.Result{TotalResults: total}, Rows: rows, Lookup: m.Lookup()}, nil
}

// drainable is the minimal surface drainProcessor needs: both
// *rproc.Pipeline and any rproc.Processor (such as a *hybrid.Merger
// sitting at a pipeline's root) satisfy it, even though Pipeline itself
// is not a Processor (it has no upstream link of its own).
type drainable interface {
	Next(row *rlookup.Row) rproc.Status
}

// drain pulls up to limit rows (0 meaning unbounded) from pipe, checking
// deadline (if non-nil) before each pull so a long-running drain can be
// cut short with StatusTimedOut instead of blocking past its budget.
func drain(pipe *rproc.Pipeline, limit int, deadline *rtimeout.Ctx) ([]*rlookup.Row, int64, rproc.Status) {
	return drainProcessor(pipe, limit, deadline)
}

func drainProcessor(p drainable, limit int, deadline *rtimeout.Ctx) ([]*rlookup.Row, int64, rproc.Status) {
	var rows []*rlookup.Row
	var total int64
	for limit <= 0 || len(rows) < limit {
		if deadline.Poll() {
			return rows, total, rproc.StatusTimedOut
		}
		row := &rlookup.Row{}
		st := p.Next(row)
		if st == rproc.StatusOK {
			rows = append(rows, row)
			total++
			continue
		}
		return rows, total, st
	}
	return rows, total, rproc.StatusOK
}
