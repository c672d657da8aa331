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

// Package reply builds the well-formed empty/OOM/timeout/indexing-
// failure reply shapes the command layer falls back to instead of
// running a pipeline at all (spec.md §6's "exit-code-equivalents").
// These mirror the normal total_results+warnings shape a full reply
// would carry, just with zero rows.
package reply

import "github.com/RediSearch/RediSearch-sub005/ferr"

// Policy is the request-level choice between failing outright on a
// partial-failure precondition (OOM, timeout) or returning whatever
// would otherwise be salvageable with a warning attached.
type Policy int

const (
	PolicyFail Policy = iota
	PolicyReturn
)

// Result is a reply's running total and any warnings accumulated along
// the way; it carries no rows. The empty-reply shortcuts in this package
// return it alone, and callers assembling a real reply from a drained
// pipeline (command.Reply) embed it and carry the rows beside it.
type Result struct {
	TotalResults int64
	Warnings     []string
}

func empty(w ferr.Warning) Result {
	return Result{Warnings: []string{string(w)}}
}

// OOM builds the command-entry out-of-memory shortcut (spec.md: "if
// policy is Fail, reply with OUT_OF_MEMORY; if Return, reply with a
// well-formed empty result carrying the OOM warning"). cluster selects
// which OOM wording applies under Return.
func OOM(policy Policy, cluster bool) (Result, *ferr.Error) {
	if policy == PolicyFail {
		return Result{}, ferr.New(ferr.OutOfMemory, ferr.OOMMessage)
	}
	if cluster {
		return empty(ferr.WarnOOMCluster), nil
	}
	return Result{Warnings: []string{ferr.OOMMessage}}, nil
}

// Timeout builds the coordinator-side timeout shortcut for a request
// that has no partial rows to offer (or whose policy demands none be
// shown). total is the count of rows that did arrive before the
// deadline; under Fail it is discarded unless profile is set, in which
// case partial data is always returned regardless of policy.
func Timeout(policy Policy, total int64, profile bool) (Result, *ferr.Error) {
	if policy == PolicyFail && !profile {
		return Result{}, ferr.New(ferr.TimedOut, ferr.TimeoutMessage)
	}
	return Result{TotalResults: total, Warnings: []string{string(ferr.WarnTimedOut)}}, nil
}

// IndexingFailure builds the well-formed empty reply used when a
// background indexing failure is discovered at command entry.
func IndexingFailure() Result {
	return empty(ferr.WarnIndexingFailure)
}

// MaxPrefixExpansions builds the well-formed empty reply used when a
// query's wildcard/prefix term exceeded the configured expansion limit.
func MaxPrefixExpansions() Result {
	return empty(ferr.WarnMaxPrefixExpansions)
}

// CursorNotFound is the explicit error for a CURSOR READ/DEL against an
// id the registry no longer (or never did) recognize.
func CursorNotFound() *ferr.Error {
	return ferr.New(ferr.Generic, "Cursor not found")
}

// DroppedBackground is the error surfaced when a cursor's weak reference
// to its index spec fails to promote (the index was dropped while the
// cursor sat idle).
func DroppedBackground() *ferr.Error {
	return ferr.New(ferr.DroppedBackground, "index was dropped while the cursor was idle")
}
