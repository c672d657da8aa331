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

package aggplan

import "github.com/RediSearch/RediSearch-sub005/rlookup"

// Mode selects the walking direction for GetLookup.
type Mode int

const (
	First Mode = iota
	Prev
	Last
	Next
)

// Plan is the doubly-linked list of steps compiled from an aggregation
// request. Plan.root is a permanent sentinel: the first step is always
// Kind == Root and carries the schema the request starts with (the
// document's own fields).
type Plan struct {
	root *Step
	tail *Step
}

// New creates a Plan whose only step is the ROOT sentinel over l.
func New(l *rlookup.Lookup) *Plan {
	r := NewRoot(l)
	return &Plan{root: r, tail: r}
}

// Root returns the permanent ROOT step.
func (p *Plan) Root() *Step { return p.root }

// Tail returns the last step in the chain.
func (p *Plan) Tail() *Step { return p.tail }

// AddStep appends s to the end of the chain.
func (p *Plan) AddStep(s *Step) {
	s.prev = p.tail
	p.tail.next = s
	s.next = nil
	p.tail = s
}

// AddBefore inserts s immediately before at. at must not be the ROOT
// sentinel.
func (p *Plan) AddBefore(at, s *Step) {
	if at == p.root {
		panic("aggplan: cannot insert before ROOT")
	}
	prev := at.prev
	s.prev = prev
	s.next = at
	at.prev = s
	if prev != nil {
		prev.next = s
	}
}

// AddAfter inserts s immediately after at.
func (p *Plan) AddAfter(at, s *Step) {
	next := at.next
	s.prev = at
	s.next = next
	at.next = s
	if next != nil {
		next.prev = s
	}
	if at == p.tail {
		p.tail = s
	}
}

// Prepend inserts s immediately after the ROOT sentinel, i.e. as the
// first non-root step. AddKNNArrangeStep uses this to place the implicit
// KNN ordering ahead of any user-specified steps.
func (p *Plan) Prepend(s *Step) {
	p.AddAfter(p.root, s)
}

// PopStep removes s from the chain and returns it; s's own prev/next
// pointers are cleared so the caller can re-link it elsewhere (the
// distribution rewriter's rollback path does exactly this).
func (p *Plan) PopStep(s *Step) *Step {
	if s == p.root {
		panic("aggplan: cannot pop ROOT")
	}
	if s.prev != nil {
		s.prev.next = s.next
	}
	if s.next != nil {
		s.next.prev = s.prev
	} else {
		p.tail = s.prev
	}
	s.prev, s.next = nil, nil
	return s
}

// FreeSteps removes and discards every step after the ROOT sentinel.
func (p *Plan) FreeSteps() {
	p.root.next = nil
	p.tail = p.root
}

// HasStep reports whether any step of the given kind exists in the
// chain.
func (p *Plan) HasStep(k Kind) bool {
	return p.FindStep(p.root, nil, k) != nil
}

// FindStep scans the chain from begin (inclusive) to end (exclusive,
// nil meaning "to the tail") and returns the first step of kind k, or
// nil.
func (p *Plan) FindStep(begin, end *Step, k Kind) *Step {
	for s := begin; s != end && s != nil; s = s.next {
		if s.Kind == k {
			return s
		}
	}
	return nil
}

// GetArrangeStep returns the rightmost ARRANGE step that precedes any
// GROUP/reducer step, or nil if there is none. This is the ARRANGE a
// LIMIT/SORTBY clause attaches to before a GROUPBY is seen.
func (p *Plan) GetArrangeStep() *Step {
	var found *Step
	for s := p.root.next; s != nil; s = s.next {
		if s.Kind == Group {
			break
		}
		if s.Kind == Arrange {
			found = s
		}
	}
	return found
}

// GetOrCreateArrangeStep returns the step GetArrangeStep would, creating
// and appending an empty, unlimited ARRANGE at the tail if none exists.
func (p *Plan) GetOrCreateArrangeStep() *Step {
	if s := p.GetArrangeStep(); s != nil {
		return s
	}
	s := NewArrange(nil, nil, 0, 0, false)
	p.AddStep(s)
	return s
}

// GetLookup walks from at in the direction given by mode and returns the
// lookup of the first step whose Lookup() is non-nil.
//
//   - First: scans from the ROOT sentinel forward, ignoring at.
//   - Prev:  scans backward starting at at.prev.
//   - Last:  scans backward from the tail.
//   - Next:  scans forward starting at at.next.
func (p *Plan) GetLookup(at *Step, mode Mode) *rlookup.Lookup {
	var cur *Step
	var advance func(*Step) *Step
	switch mode {
	case First:
		cur = p.root
		advance = func(s *Step) *Step { return s.next }
	case Prev:
		cur = at.prev
		advance = func(s *Step) *Step { return s.prev }
	case Last:
		cur = p.tail
		advance = func(s *Step) *Step { return s.prev }
	case Next:
		cur = at.next
		advance = func(s *Step) *Step { return s.next }
	default:
		return nil
	}
	for cur != nil {
		if l := cur.Lookup(); l != nil {
			return l
		}
		cur = advance(cur)
	}
	return nil
}

// AddKNNArrangeStep inserts an ARRANGE immediately after ROOT ordering by
// distField ascending, limited to k results and marked RunLocal so the
// distribution rewriter never ships it to the remote side (the KNN
// iterator already produced a globally-correct top-k per shard).
func (p *Plan) AddKNNArrangeStep(k int, distField string) *Step {
	s := NewArrange([]string{distField}, []bool{true}, 0, k, true)
	s.RunLocal = true
	p.Prepend(s)
	return s
}

// Steps returns every step after ROOT, in order.
func (p *Plan) Steps() []*Step {
	var out []*Step
	for s := p.root.next; s != nil; s = s.next {
		out = append(out, s)
	}
	return out
}
