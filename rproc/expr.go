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
	"github.com/RediSearch/RediSearch-sub005/aggplan"
	"github.com/RediSearch/RediSearch-sub005/extiface"
	"github.com/RediSearch/RediSearch-sub005/rlookup"
	"github.com/RediSearch/RediSearch-sub005/rval"
)

// Projector evaluates Expr against every upstream row and writes the
// result to OutKey. A NO_PROP_VAL evaluation error is soft: the output
// becomes null and the row still passes through (spec.md's edge case
// list).
type Projector struct {
	base
	Eval   extiface.Evaluator
	Expr   aggplan.Expr
	OutKey *rlookup.Key
}

func NewProjector(lookup *rlookup.Lookup, eval extiface.Evaluator, expr aggplan.Expr, outKey *rlookup.Key) *Projector {
	return &Projector{base: base{lookup: lookup}, Eval: eval, Expr: expr, OutKey: outKey}
}

func (p *Projector) Next(row *rlookup.Row) Status {
	st := p.upstream.Next(row)
	if st != StatusOK {
		return st
	}
	v, err := p.Eval.Eval(row, p.Expr)
	if err != nil {
		v = rval.NullValue()
	}
	row.WriteKey(p.OutKey, v)
	return StatusOK
}

// Filter passes only rows whose Expr evaluates truthy, decrementing the
// shared Parent's TotalResults for every row it drops.
type Filter struct {
	base
	Eval extiface.Evaluator
	Expr aggplan.Expr
}

func NewFilter(lookup *rlookup.Lookup, parent *Parent, eval extiface.Evaluator, expr aggplan.Expr) *Filter {
	return &Filter{base: base{lookup: lookup, parent: parent}, Eval: eval, Expr: expr}
}

func (f *Filter) Next(row *rlookup.Row) Status {
	for {
		st := f.upstream.Next(row)
		if st != StatusOK {
			return st
		}
		v, err := f.Eval.Eval(row, f.Expr)
		if err == nil && v.Truthy() {
			return StatusOK
		}
		if f.parent != nil {
			f.parent.TotalResults--
		}
		row.Clear()
	}
}

// HighlightMode selects which of HIGHLIGHTER's two output shapes a field
// gets.
type HighlightMode int

const (
	HighlightTags HighlightMode = iota
	HighlightSynopsis
)

// Highlighter post-processes string fields using the index's offset
// vectors. Fields that are not full-text (not a string value) are left
// unchanged, and so is any field for which the collaborator returns an
// error, in both modes: this processor does no synopsis trimming of its
// own.
type Highlighter struct {
	base
	H                 extiface.Highlighter
	DocKey            *rlookup.Key
	Fields            []*rlookup.Key
	Mode              HighlightMode
	Tags              [2]string
	Fragments         int
	TokensPerFragment int
	Separator         string
}

func NewHighlighter(lookup *rlookup.Lookup, h extiface.Highlighter, docKey *rlookup.Key, fields []*rlookup.Key, mode HighlightMode) *Highlighter {
	return &Highlighter{base: base{lookup: lookup}, H: h, DocKey: docKey, Fields: fields, Mode: mode}
}

func (h *Highlighter) Next(row *rlookup.Row) Status {
	st := h.upstream.Next(row)
	if st != StatusOK {
		return st
	}
	docID := docIDOf(row, h.DocKey)
	for _, f := range h.Fields {
		v := getVal(row, f)
		if v.Kind() != rval.String {
			continue
		}
		text := v.String()
		var out string
		var err error
		if h.Mode == HighlightTags {
			out, err = h.H.Highlight(docID, f.Name, text, h.Tags)
		} else {
			out, err = h.H.Synopsis(docID, f.Name, text, h.Fragments, h.TokensPerFragment, h.Separator)
		}
		if err != nil {
			continue
		}
		row.WriteOwnKey(f, rval.NewString(out, rval.Owned))
	}
	return StatusOK
}
