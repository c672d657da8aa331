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

// Package netfanin implements the network fan-in iterator (spec.md §4.7):
// it drives one cursor per shard, pulls their replies through a shared
// bounded queue, converts remote values into rval.Value, and exposes the
// merged row stream as an rproc.ShardSource. The per-shard goroutine
// fan-out mirrors plan.Node.subexec in the teacher codebase; shard errors
// travel through the same bounded queue (rchan.Chan) as the replies.
package netfanin

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/RediSearch/RediSearch-sub005/ferr"
	"github.com/RediSearch/RediSearch-sub005/rchan"
	"github.com/RediSearch/RediSearch-sub005/rlookup"
	"github.com/RediSearch/RediSearch-sub005/rproc"
	"github.com/RediSearch/RediSearch-sub005/rval"
)

// Policy controls how a shard's timeout error is handled.
type Policy int

const (
	// PolicyFail propagates a shard timeout as a request-level error.
	PolicyFail Policy = iota
	// PolicyReturn accepts whatever rows already arrived, appending a
	// TIMEDOUT warning instead of failing the whole request.
	PolicyReturn
)

// ReplyKind distinguishes the two shapes a shard reply can take.
type ReplyKind int

const (
	// KindArray is the RESP2 shape: a flat [rows, cursor_id, profile?]
	// array, 2 or 3 elements long.
	KindArray ReplyKind = iota
	// KindMap is the RESP3 shape: a map carrying results/format/warning
	// (and, on the initial AGG reply, cursor/attributes) keys.
	KindMap
)

// Reply is one shard response, already decoded into rval.Value but not
// yet split into individual rows.
type Reply struct {
	Kind  ReplyKind
	Array []rval.Value
	Map   map[string]rval.Value
}

// Rows returns the reply's row values, each either a flat key/value
// Array (RESP2) or a field-map (RESP3).
func (r Reply) Rows() []rval.Value {
	switch r.Kind {
	case KindArray:
		if len(r.Array) == 0 {
			return nil
		}
		rows, _ := r.Array[0].Array()
		return rows
	case KindMap:
		rows, _ := r.Map["results"].Array()
		return rows
	}
	return nil
}

// CursorID returns the cursor id to continue reading from, and whether
// the reply carried one at all. 0 means the shard's cursor is exhausted.
func (r Reply) CursorID() (int64, bool) {
	switch r.Kind {
	case KindArray:
		if len(r.Array) < 2 {
			return 0, false
		}
		f, ok := r.Array[1].Number()
		return int64(f), ok
	case KindMap:
		v, ok := r.Map["cursor"]
		if !ok {
			return 0, false
		}
		f, ok := v.Number()
		return int64(f), ok
	}
	return 0, false
}

// Format returns the reply's FORMAT flag (EXPAND or STRING), if present.
func (r Reply) Format() string {
	if r.Kind != KindMap {
		return ""
	}
	return r.Map["format"].String()
}

// Warnings returns the reply's warning strings (TIMEDOUT,
// MAX_PREFIX_EXPANSIONS, ...), if any.
func (r Reply) Warnings() []string {
	if r.Kind != KindMap {
		return nil
	}
	arr, _ := r.Map["warning"].Array()
	out := make([]string, len(arr))
	for i, v := range arr {
		out[i] = v.String()
	}
	return out
}

// Transport issues one command against a shard and returns its decoded
// reply. Real implementations speak RESP over a connection pool; tests
// supply an in-memory fake.
type Transport interface {
	Exec(cmd []string) (Reply, error)
}

// CommandOptions are the optional trailing clauses buildMRCommand appends
// to the remote AGGREGATE command.
type CommandOptions struct {
	CursorCount int
	Dialect     int
	Format      string
	AddScores   bool
	Verbatim    bool
	Params      map[string]string
	Timeout     time.Duration
}

// buildMRCommand constructs the shard-facing command from spec.md §4.7:
// _FT.AGGREGATE <idx> <remote-serialized-args> WITHCURSOR [COUNT n]
// [DIALECT v] [FORMAT f] [ADDSCORES] [VERBATIM] [PARAMS ...] [TIMEOUT ms].
func buildMRCommand(idx string, remoteArgs []string, opts CommandOptions) []string {
	cmd := append([]string{"_FT.AGGREGATE", idx}, remoteArgs...)
	cmd = append(cmd, "WITHCURSOR")
	if opts.CursorCount > 0 {
		cmd = append(cmd, "COUNT", strconv.Itoa(opts.CursorCount))
	}
	if opts.Dialect > 0 {
		cmd = append(cmd, "DIALECT", strconv.Itoa(opts.Dialect))
	}
	if opts.Format != "" {
		cmd = append(cmd, "FORMAT", opts.Format)
	}
	if opts.AddScores {
		cmd = append(cmd, "ADDSCORES")
	}
	if opts.Verbatim {
		cmd = append(cmd, "VERBATIM")
	}
	if len(opts.Params) > 0 {
		cmd = append(cmd, "PARAMS", strconv.Itoa(len(opts.Params)*2))
		for k, v := range opts.Params {
			cmd = append(cmd, k, v)
		}
	}
	if opts.Timeout > 0 {
		cmd = append(cmd, "TIMEOUT", strconv.FormatInt(opts.Timeout.Milliseconds(), 10))
	}
	return cmd
}

type shardReply struct {
	shard int
	reply Reply
	err   error
}

// FanIn drives one cursor per shard and exposes the merged row stream as
// an rproc.ShardSource. It owns the current reply's row slice and a
// row-index cursor into it, matching the "current root reply / current
// rows / row-index" state spec.md §4.7 describes.
type FanIn struct {
	Transports []Transport
	Idx        string
	RemoteArgs []string
	Opts       CommandOptions
	Policy     Policy

	// Threshold bounds how many pre-buffered shard replies may sit in the
	// queue at once before shard goroutines pause issuing the next
	// CURSOR READ; it is checked against the total across every shard.
	Threshold int

	lookup *rlookup.Lookup

	queue        *rchan.Chan[shardReply]
	active       int32
	coordTimeout int32

	curRows  []rval.Value
	rowIdx   int
	drainErr error

	TotalResults int64
	Format       string
	Warnings     []string
}

// New builds a FanIn targeting the given shard transports and starts its
// per-shard worker goroutines. lookup is the destination schema; unknown
// field names seen in shard replies are registered into it lazily.
func New(lookup *rlookup.Lookup, idx string, remoteArgs []string, opts CommandOptions, policy Policy, transports []Transport) *FanIn {
	threshold := 64
	fi := &FanIn{
		Transports: transports,
		Idx:        idx,
		RemoteArgs: remoteArgs,
		Opts:       opts,
		Policy:     policy,
		Threshold:  threshold,
		lookup:     lookup,
		queue:      rchan.New[shardReply](threshold * 4),
		active:     int32(len(transports)),
	}
	for i := range transports {
		go fi.shardLoop(i)
	}
	return fi
}

// ArmCoordinatorTimeout causes every shard's next outbound command to be
// CURSOR DEL instead of CURSOR READ, so shard-side cursor resources are
// freed once the coordinator gives up on the request.
func (fi *FanIn) ArmCoordinatorTimeout() { atomic.StoreInt32(&fi.coordTimeout, 1) }

func (fi *FanIn) shardLoop(i int) {
	t := fi.Transports[i]
	cursorID := int64(-1)
	for {
		for fi.queue.Len() >= fi.Threshold {
			time.Sleep(time.Millisecond)
		}
		var cmd []string
		if cursorID < 0 {
			cmd = buildMRCommand(fi.Idx, fi.RemoteArgs, fi.Opts)
		} else {
			verb := "READ"
			if atomic.LoadInt32(&fi.coordTimeout) != 0 {
				verb = "DEL"
			}
			cmd = []string{"CURSOR", verb, fi.Idx, strconv.FormatInt(cursorID, 10)}
		}
		reply, err := t.Exec(cmd)
		if pushErr := fi.queue.Push(shardReply{shard: i, reply: reply, err: err}); pushErr != nil {
			break
		}
		if err != nil {
			break
		}
		next, ok := reply.CursorID()
		if !ok || next == 0 {
			break
		}
		cursorID = next
	}
	if atomic.AddInt32(&fi.active, -1) == 0 {
		fi.queue.Close()
	}
}

// Lookup returns the destination schema, satisfying rproc.ShardSource.
func (fi *FanIn) Lookup() *rlookup.Lookup { return fi.lookup }

// Next satisfies rproc.ShardSource, pulling from the current reply's row
// slice before popping the next one off the queue.
func (fi *FanIn) Next(row *rlookup.Row) rproc.Status {
	for {
		if fi.rowIdx < len(fi.curRows) {
			writeRow(fi.lookup, row, fi.curRows[fi.rowIdx])
			fi.rowIdx++
			fi.TotalResults++
			return rproc.StatusOK
		}
		if fi.drainErr != nil {
			return rproc.StatusError
		}
		sr, timedOut, err := fi.queue.Pop(time.Time{})
		if timedOut {
			return rproc.StatusTimedOut
		}
		if err == rchan.ErrClosed {
			return rproc.StatusEOF
		}
		if sr.err != nil {
			if sr.err.Error() == ferr.TimeoutMessage && fi.Policy == PolicyReturn {
				fi.Warnings = append(fi.Warnings, "TIMEDOUT")
				continue
			}
			fi.drainErr = sr.err
			continue
		}
		fi.ingest(sr.reply)
	}
}

func (fi *FanIn) ingest(r Reply) {
	fi.curRows = r.Rows()
	fi.rowIdx = 0
	if f := r.Format(); f != "" {
		fi.Format = f
	}
	fi.Warnings = append(fi.Warnings, r.Warnings()...)
}

// writeRow decodes one row value (a flat key/value Array for RESP2, or a
// field Map for RESP3) into dst, registering any field name not already
// known to lookup (the destination lookup's write-by-name operation).
func writeRow(lookup *rlookup.Lookup, dst *rlookup.Row, rowVal rval.Value) {
	switch rowVal.Kind() {
	case rval.Array:
		flat, _ := rowVal.Array()
		for i := 0; i+1 < len(flat); i += 2 {
			name := flat[i].String()
			k := lookup.GetForWrite(name, true)
			dst.WriteKey(k, flat[i+1])
		}
	case rval.Map:
		m, _ := rowVal.Map()
		for name, v := range m {
			k := lookup.GetForWrite(name, true)
			dst.WriteKey(k, v)
		}
	}
}
