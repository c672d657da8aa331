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

// Package ferr defines the catalogue of error kinds shared by the
// aggregation planner, the pipeline, and the command layer, along with
// the small set of warnings that can be attached to an otherwise
// successful reply.
package ferr

import "fmt"

// Kind enumerates the error categories a request can fail with. The set
// mirrors the kinds a client-facing command layer needs to distinguish
// (to pick a wire error name) independent of the internal Go error chain.
type Kind int

const (
	Generic Kind = iota
	Syntax
	ParseArgs
	AddArgs
	Expr
	Keyword
	NoResults
	BadAttr
	Inval
	BuildPlan
	ConstructPipeline
	NoReducer
	ReducerGeneric
	AggPlan
	CursorAlloc
	ReducerInit
	QString
	NoPropKey
	NoPropVal
	NoDoc
	NoOption
	RedisKeyType
	InvalPath
	IndexExists
	BadOption
	BadOrderOption
	Limit
	NoIndex
	DocExists
	DocNotAdded
	DupField
	GeoFormat
	NoDistribute
	UnsuppType
	NotNumeric
	TimedOut
	NoParam
	DupParam
	BadVal
	NonHybrid
	HybridNonExist
	AdhocWithBatchSize
	AdhocWithEFRuntime
	NonRange
	Missing
	Mismatch
	UnknownIndex
	DroppedBackground
	AliasConflict
	IndexBGOOMFail
	WeightNotAllowed
	VectorNotAllowed
	OutOfMemory
)

var names = map[Kind]string{
	Generic:            "GENERIC",
	Syntax:             "SYNTAX",
	ParseArgs:          "PARSE_ARGS",
	AddArgs:            "ADD_ARGS",
	Expr:               "EXPR",
	Keyword:            "KEYWORD",
	NoResults:          "NO_RESULTS",
	BadAttr:            "BAD_ATTR",
	Inval:              "INVAL",
	BuildPlan:          "BUILD_PLAN",
	ConstructPipeline:  "CONSTRUCT_PIPELINE",
	NoReducer:          "NO_REDUCER",
	ReducerGeneric:     "REDUCER_GENERIC",
	AggPlan:            "AGG_PLAN",
	CursorAlloc:        "CURSOR_ALLOC",
	ReducerInit:        "REDUCER_INIT",
	QString:            "Q_STRING",
	NoPropKey:          "NO_PROP_KEY",
	NoPropVal:          "NO_PROP_VAL",
	NoDoc:              "NO_DOC",
	NoOption:           "NO_OPTION",
	RedisKeyType:       "REDIS_KEY_TYPE",
	InvalPath:          "INVAL_PATH",
	IndexExists:        "INDEX_EXISTS",
	BadOption:          "BAD_OPTION",
	BadOrderOption:     "BAD_ORDER_OPTION",
	Limit:              "LIMIT",
	NoIndex:            "NO_INDEX",
	DocExists:          "DOC_EXISTS",
	DocNotAdded:        "DOC_NOT_ADDED",
	DupField:           "DUP_FIELD",
	GeoFormat:          "GEO_FORMAT",
	NoDistribute:       "NO_DISTRIBUTE",
	UnsuppType:         "UNSUPP_TYPE",
	NotNumeric:         "NOT_NUMERIC",
	TimedOut:           "TIMED_OUT",
	NoParam:            "NO_PARAM",
	DupParam:           "DUP_PARAM",
	BadVal:             "BAD_VAL",
	NonHybrid:          "NON_HYBRID",
	HybridNonExist:     "HYBRID_NON_EXIST",
	AdhocWithBatchSize: "ADHOC_WITH_BATCH_SIZE",
	AdhocWithEFRuntime: "ADHOC_WITH_EF_RUNTIME",
	NonRange:           "NON_RANGE",
	Missing:            "MISSING",
	Mismatch:           "MISMATCH",
	UnknownIndex:       "UNKNOWN_INDEX",
	DroppedBackground:  "DROPPED_BACKGROUND",
	AliasConflict:      "ALIAS_CONFLICT",
	IndexBGOOMFail:     "INDEX_BG_OOM_FAIL",
	WeightNotAllowed:   "WEIGHT_NOT_ALLOWED",
	VectorNotAllowed:   "VECTOR_NOT_ALLOWED",
	OutOfMemory:        "OUT_OF_MEMORY",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "GENERIC"
}

// Error is the typed error carried through the planner and pipeline. It
// keeps a machine-readable Kind (used to pick the wire error name) next
// to a user-safe message and an optional wrapped cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func Wrap(k Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Warning is a non-fatal condition carried alongside an otherwise
// successful reply.
type Warning string

const (
	WarnTimedOut             Warning = "TIMEDOUT"
	WarnMaxPrefixExpansions  Warning = "MAX_PREFIX_EXPANSIONS"
	WarnOOMCluster           Warning = "One or more shards failed to execute the query due to insufficient memory"
	WarnIndexingFailure      Warning = "indexing failure"
)

// OOMMessage and TimeoutMessage are the user-facing strings used verbatim
// in reply shapes and in -ERR lines; kept as constants so the command
// layer and the network fan-in agree on the exact text.
const (
	OOMMessage     = "Not enough memory available to execute the query"
	TimeoutMessage = "Timeout limit was reached"
)
