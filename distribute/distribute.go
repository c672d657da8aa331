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

// Package distribute rewrites a single-shard aggplan.Plan into a pair of
// plans: a remote sub-plan shipped to every shard, and a local plan that
// reads back each shard's partial results through a DISTRIBUTE step and
// finishes the computation. It is grounded on the teacher's plan-split
// machinery (plan/subplan.go, plan/multi.go's Substitute walk, and
// plan/tree.go's bottom-up rewrite), adapted from a columnar-query split
// to the reducer-by-reducer GROUPBY split spec.md describes.
package distribute

import (
	"fmt"

	"github.com/RediSearch/RediSearch-sub005/aggplan"
	"github.com/RediSearch/RediSearch-sub005/reducer"
	"github.com/RediSearch/RediSearch-sub005/rlookup"
)

// Result is the output of a successful Distribute call.
type Result struct {
	// Remote is the sub-plan every shard executes.
	Remote *aggplan.Plan
	// Local is the rewritten coordinator-side plan: a DISTRIBUTE step
	// stands in for every step that moved to Remote, followed by
	// whatever steps could not be pushed down.
	Local *aggplan.Plan
}

// split names the remote and local reducer a GROUPBY reducer is
// rewritten into, per spec.md's reducer distribution table. Reducers not
// present in splitTable and not one of the specially-handled names
// (AVG, STDDEV, QUANTILE, COUNT_DISTINCTISH) cannot be distributed.
type split struct {
	remoteName string
	localName  string
}

var splitTable = map[string]split{
	"COUNT":  {remoteName: "COUNT", localName: "SUM"},
	"SUM":    {remoteName: "SUM", localName: "SUM"},
	"MIN":    {remoteName: "MIN", localName: "MIN"},
	"MAX":    {remoteName: "MAX", localName: "MAX"},
	"TOLIST": {remoteName: "TOLIST", localName: "TOLIST"},
}

// distributable reports whether every reducer of a GROUP step has a
// distribution rule, without mutating anything; Distribute uses this as
// a precheck so a failed distribution never touches the input plan.
func distributable(step *aggplan.Step) bool {
	for _, r := range step.Reducers {
		switch r.Name {
		case "AVG", "STDDEV", "QUANTILE", "COUNT_DISTINCTISH":
			continue
		default:
			if _, ok := splitTable[r.Name]; !ok {
				return false
			}
		}
	}
	return true
}

// Distribute attempts to split p into a remote and local plan. ok is
// false if any GROUP step in p contains a reducer with no distribution
// rule (e.g. COUNT_DISTINCT, RANDOM_SAMPLE, FIRST_VALUE, HLL, HLL_SUM,
// taken directly rather than via the AVG/STDDEV/QUANTILE/
// COUNT_DISTINCTISH splits above); in that case the zero Result is
// returned, p is left unmodified, and the caller should fall back to running the whole plan per-shard
// with a plain merge, per spec.md's "abandon the whole rewrite" rule.
func Distribute(p *aggplan.Plan) (Result, bool) {
	for _, s := range p.Steps() {
		if s.Kind == aggplan.Group && !distributable(s) {
			return Result{}, false
		}
	}

	remoteLookup := rlookup.New()
	p.Root().RootLookup.CloneInto(remoteLookup)
	remote := aggplan.New(remoteLookup)

	local := aggplan.New(p.Root().RootLookup)
	var removed []*aggplan.Step
	seenGroup := false

	for _, s := range p.Steps() {
		switch s.Kind {
		case aggplan.Load, aggplan.Apply, aggplan.VectorNormalizer, aggplan.Filter:
			if seenGroup {
				local.AddStep(cloneStep(s))
				continue
			}
			remote.AddStep(cloneStep(s))
			removed = append(removed, s)
		case aggplan.Arrange:
			if s.RunLocal {
				local.AddStep(cloneStep(s))
				continue
			}
			if !seenGroup {
				remote.AddStep(cloneStep(s))
			}
			// A pre-GROUP sort/limit is also kept locally so the merged,
			// multi-shard result set is put back into the requested
			// order; a post-GROUP ARRANGE is always local-only.
			local.AddStep(cloneStep(s))
		case aggplan.Group:
			seenGroup = true
			remoteReducers, localReducers, applies := splitReducers(s.Reducers)
			remote.AddStep(aggplan.NewGroup(s.GroupBy, remoteReducers))
			localGroup := aggplan.NewGroup(s.GroupBy, localReducers)
			localGroup.Alias = s.Alias
			local.AddStep(localGroup)
			// AVG's local combiner needs a division the GROUP step itself
			// can't express (spec.md: "SUM(remote_count)=C, SUM(remote_sum)=S,
			// APPLY (S/C) AS avg"), so splitReducers hands back one synthesized
			// APPLY per AVG reducer to run immediately after the merge.
			for _, a := range applies {
				local.AddStep(a)
			}
			removed = append(removed, s)
		default:
			local.AddStep(cloneStep(s))
		}
	}

	distStep := newDistributeStep(remote, removed)
	local.Prepend(distStep)

	return Result{Remote: remote, Local: local}, true
}

// cloneStep makes a shallow copy of s suitable for appending to a second
// plan. Its unexported chain pointers come along in the copy but are
// always overwritten by the destination Plan's AddStep/Prepend before
// the step is read back, so they need no explicit reset here.
func cloneStep(s *aggplan.Step) *aggplan.Step {
	cp := *s
	return &cp
}

// newDistributeStep builds the DISTRIBUTE step that replaces every step
// pushed down to remote. RemoteLookup is populated by scanning the
// remote sub-plan bottom-up (Plan.GetLookup with mode Last) for the
// first step that contributes a schema, matching the column set the
// coordinator will actually receive from each shard.
func newDistributeStep(remote *aggplan.Plan, removed []*aggplan.Step) *aggplan.Step {
	s := &aggplan.Step{Kind: aggplan.Distribute}
	s.RemoteRoot = remote.Root()
	s.RemoteArgs = remote.Serialize()
	s.OldGroups = removed
	s.RemoteLookup = remote.GetLookup(remote.Root(), aggplan.Last)
	return s
}

// divExpr is the "@sum/@count" division spec.md's AVG distribution rule
// leaves for a coordinator-side APPLY step ("SUM(remote_count)=C,
// SUM(remote_sum)=S, APPLY (S/C) AS avg"). It implements aggplan.Expr
// the same minimal way the out-of-scope query parser's real expression
// nodes would, carrying just the two operand field names for whatever
// extiface.Evaluator the caller wires in to divide.
type divExpr struct {
	numerator   string
	denominator string
}

func (e divExpr) String() string { return "@" + e.numerator + "/@" + e.denominator }

func (e divExpr) ReferencedFields() []string { return []string{e.numerator, e.denominator} }

// splitReducers rewrites one GROUP step's reducer list into its remote
// and local halves. applies carries the APPLY steps (currently only ever
// produced by AVG) that must run immediately after the local GROUP step
// because their result can't be expressed as a reducer.
func splitReducers(in []*aggplan.ReducerStep) (remote, local []*aggplan.ReducerStep, applies []*aggplan.Step) {
	for _, r := range in {
		switch r.Name {
		case "AVG":
			sumAlias := r.Alias + "__avg_sum"
			countAlias := r.Alias + "__avg_count"
			remote = append(remote,
				&aggplan.ReducerStep{Name: "SUM", Args: r.Args, Alias: sumAlias, Hidden: true},
				&aggplan.ReducerStep{Name: "COUNT", Alias: countAlias, Hidden: true},
			)
			local = append(local,
				&aggplan.ReducerStep{Name: "SUM", Args: []string{"@" + sumAlias}, Alias: sumAlias, Hidden: true},
				&aggplan.ReducerStep{Name: "SUM", Args: []string{"@" + countAlias}, Alias: countAlias, Hidden: true},
			)
			applies = append(applies, aggplan.NewApply(divExpr{numerator: sumAlias, denominator: countAlias}, r.Alias, false))
		case "STDDEV", "QUANTILE":
			sampleAlias := r.Alias + "__sample"
			var field string
			if len(r.Args) > 0 {
				field = r.Args[0]
			}
			remote = append(remote, &aggplan.ReducerStep{
				Name:   "RANDOM_SAMPLE",
				Args:   []string{field, fmt.Sprint(reducer.RandomSampleSize)},
				Alias:  sampleAlias,
				Hidden: true,
			})
			localArgs := []string{"@" + sampleAlias}
			if r.Name == "QUANTILE" && len(r.Args) > 1 {
				localArgs = append(localArgs, r.Args[1:]...)
			}
			local = append(local, &aggplan.ReducerStep{
				Name:   r.Name,
				Args:   localArgs,
				Alias:  r.Alias,
				Hidden: r.Hidden,
			})
		case "COUNT_DISTINCTISH":
			sketchAlias := r.Alias + "__hll"
			remote = append(remote, &aggplan.ReducerStep{
				Name:   "HLL",
				Args:   r.Args,
				Alias:  sketchAlias,
				Hidden: true,
			})
			local = append(local, &aggplan.ReducerStep{
				Name:   "HLL_SUM",
				Args:   []string{"@" + sketchAlias},
				Alias:  r.Alias,
				Hidden: r.Hidden,
			})
		default:
			rule := splitTable[r.Name]
			remote = append(remote, &aggplan.ReducerStep{
				Name:   rule.remoteName,
				Args:   r.Args,
				Alias:  r.Alias,
				Hidden: r.Hidden,
			})
			local = append(local, &aggplan.ReducerStep{
				Name:   rule.localName,
				Args:   []string{"@" + r.Alias},
				Alias:  r.Alias,
				Hidden: r.Hidden,
			})
		}
	}
	return remote, local, applies
}
