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

// Package aggplan implements the AGGPlan: a doubly-linked list of typed
// plan steps produced by compiling an aggregation request, and later
// either executed directly (single shard) or rewritten by the
// distribution package into a remote/local pair.
package aggplan

import "github.com/RediSearch/RediSearch-sub005/rlookup"

// Kind identifies the payload carried by a Step.
type Kind int

const (
	Root Kind = iota
	Apply
	Filter
	Arrange
	Load
	Group
	VectorNormalizer
	Distribute
)

func (k Kind) String() string {
	switch k {
	case Root:
		return "ROOT"
	case Apply:
		return "APPLY"
	case Filter:
		return "FILTER"
	case Arrange:
		return "ARRANGE"
	case Load:
		return "LOAD"
	case Group:
		return "GROUP"
	case VectorNormalizer:
		return "VECTOR_NORMALIZER"
	case Distribute:
		return "DISTRIBUTE"
	default:
		return "UNKNOWN"
	}
}

// Expr is the minimal surface the plan needs from the (external, out of
// scope) parsed expression AST: a way to print it back out and a way to
// enumerate the field names it references. distribute's FILTER pushdown
// does not call ReferencedFields and adds no remote LOAD for them.
type Expr interface {
	String() string
	ReferencedFields() []string
}

// Step is one node of the plan's doubly-linked list. Exactly one of the
// payload fields below is meaningful, selected by Kind.
type Step struct {
	Kind  Kind
	Alias string

	prev, next *Step

	// ROOT
	RootLookup *rlookup.Lookup

	// APPLY / FILTER
	Expr       Expr
	OwnsResult bool // APPLY result replaces an existing key rather than creating one

	// ARRANGE
	SortKeys   []string
	SortLookup []*rlookup.Key
	Ascending  []bool // bit per sort key
	Offset     int
	Limit      int
	IsLimited  bool
	RunLocal   bool

	// LOAD
	LoadFields []string // nil/empty + Wildcard means LOAD *
	Wildcard   bool
	Resolved   []*rlookup.Key

	// GROUP
	GroupBy   []string
	Reducers  []*ReducerStep
	OutLookup *rlookup.Lookup

	// VECTOR_NORMALIZER
	VectorField   string
	DistanceAlias string

	// DISTRIBUTE
	RemoteRoot   *Step // head of the remote sub-plan's step chain
	RemoteArgs   []string
	OldGroups    []*Step
	RemoteLookup *rlookup.Lookup
}

// ReducerStep is the plan-level description of one GROUPBY reducer
// (before it is instantiated by the reducer package); it is intentionally
// a flat value type so the distribution rewriter can clone/replace it
// without reaching into the reducer package's accumulator state.
type ReducerStep struct {
	Name   string // COUNT, SUM, AVG, ...
	Args   []string
	Alias  string
	Hidden bool
}

// input/setinput mirror the teacher's Op chain accessors so the same
// walking helpers (describe, rewrite-adjacent code) can be reused if the
// plan is later embedded in a larger Op tree.
func (s *Step) input() *Step  { return s.prev }
func (s *Step) setinput(p *Step) { s.prev = p }

func newStep(k Kind) *Step { return &Step{Kind: k} }

func NewRoot(l *rlookup.Lookup) *Step {
	s := newStep(Root)
	s.RootLookup = l
	return s
}

func NewApply(e Expr, alias string, ownsResult bool) *Step {
	s := newStep(Apply)
	s.Expr = e
	s.Alias = alias
	s.OwnsResult = ownsResult
	return s
}

func NewFilter(e Expr) *Step {
	s := newStep(Filter)
	s.Expr = e
	return s
}

func NewArrange(sortKeys []string, ascending []bool, offset, limit int, isLimited bool) *Step {
	s := newStep(Arrange)
	s.SortKeys = sortKeys
	s.Ascending = ascending
	s.Offset = offset
	s.Limit = limit
	s.IsLimited = isLimited
	return s
}

func NewLoad(fields []string, wildcard bool) *Step {
	s := newStep(Load)
	s.LoadFields = fields
	s.Wildcard = wildcard
	return s
}

func NewGroup(by []string, reducers []*ReducerStep) *Step {
	s := newStep(Group)
	s.GroupBy = by
	s.Reducers = reducers
	s.OutLookup = rlookup.New()
	return s
}

func NewVectorNormalizer(field, distAlias string) *Step {
	s := newStep(VectorNormalizer)
	s.VectorField = field
	s.DistanceAlias = distAlias
	return s
}

// Lookup returns the lookup this step contributes to the schema, or nil
// if this step kind does not carry one. This is the "getLookup hook"
// referenced by Plan.GetLookup.
func (s *Step) Lookup() *rlookup.Lookup {
	switch s.Kind {
	case Root:
		return s.RootLookup
	case Group:
		return s.OutLookup
	case Distribute:
		return s.RemoteLookup
	default:
		return nil
	}
}
