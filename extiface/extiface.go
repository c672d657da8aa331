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

// Package extiface names the external collaborators this module depends
// on but deliberately does not implement: the query-language front end,
// the inverted index, the vector index library, the document store, and
// an embedding host runtime. Keeping them as interfaces here, rather
// than reaching into a concrete implementation, is what lets aggplan,
// rproc, and vecknn stay unit-testable against fakes.
package extiface

import (
	"github.com/RediSearch/RediSearch-sub005/aggplan"
	"github.com/RediSearch/RediSearch-sub005/qiter"
	"github.com/RediSearch/RediSearch-sub005/rlookup"
	"github.com/RediSearch/RediSearch-sub005/rval"
)

// QueryParser parses a query string into a plan-ready expression tree.
// The grammar and tokenizer belong to the query-language front end, not
// to the aggregation engine built here.
type QueryParser interface {
	Parse(query string) (aggplan.Expr, error)
}

// Evaluator evaluates a parsed expression against one row. APPLY,
// PROJECTOR, and FILTER all delegate to it rather than walking the
// expression tree themselves.
type Evaluator interface {
	Eval(row *rlookup.Row, expr aggplan.Expr) (rval.Value, error)
}

// DocStore loads field values for a document id from the primary
// document store (JSON or hash storage), independent of the inverted
// index that produced the matching docId set.
type DocStore interface {
	Load(docID qiter.DocID, fields []*rlookup.Key, row *rlookup.Row) error
}

// Highlighter rewrites or summarizes a text field using the index's
// stored term-offset vectors.
type Highlighter interface {
	// Highlight wraps every matched term occurrence in text with tags[0]
	// (open) and tags[1] (close), returning the whole field.
	Highlight(docID qiter.DocID, field, text string, tags [2]string) (string, error)
	// Synopsis returns up to fragments context windows of tokensPerFragment
	// tokens each, centered on matched terms and joined by separator.
	Synopsis(docID qiter.DocID, field, text string, fragments, tokensPerFragment int, separator string) (string, error)
}

// EmbeddingHost computes a vector embedding for ad-hoc query text, used
// when FT.HYBRID's VSIM clause is given text instead of a raw blob.
type EmbeddingHost interface {
	Embed(text string) ([]float32, error)
}
