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

// Package cursor implements the cursored-continuation registry
// (spec.md's "Cursor" / "Cursor list"): a paused pipeline is parked under
// an id, resumed by CURSOR READ, and reclaimed either explicitly (CURSOR
// DEL) or by an idle-timeout sweep. There are always exactly two
// registries, User and Coordinator, distinguished by id parity the way
// the source's GetGlobalCursor(cid) dispatches on cid%2.
package cursor

import (
	"errors"
	"sync"
	"time"
)

// SweepInterval mirrors RSCURSORS_SWEEP_INTERVAL: every Nth Reserve call
// triggers an idle-timeout sweep.
const SweepInterval = 500

// SweepThrottle mirrors RSCURSORS_SWEEP_THROTTLE: a sweep is skipped if
// the previous one ran more recently than this, even if the interval
// counter says it's due.
const SweepThrottle = time.Second

var (
	// ErrNotFound is returned when an id has no matching cursor.
	ErrNotFound = errors.New("cursor: not found")
	// ErrBusy is returned by TakeForExecution when the cursor exists but
	// is already active (not sitting in the idle list).
	ErrBusy = errors.New("cursor: already active")
)

// SpecRef stands in for the source's weak reference to an IndexSpec: Go
// has no weak pointers, so promotion is modeled as an explicit callback
// supplied by whatever owns the spec's lifetime.
type SpecRef interface {
	// Resolve promotes the weak reference to a usable spec handle. ok is
	// false once the index has been dropped, meaning the cursor should be
	// discarded rather than resumed.
	Resolve() (any, bool)
}

// Cursor is one paused pipeline/request.
type Cursor struct {
	ID           ID
	SpecRef      SpecRef
	ExecState    any
	IdleDeadline time.Time
	// pos is this cursor's index in its List's idle slice, or -1 while
	// active (taken for execution, or newly reserved and not yet paused).
	pos             int
	TimeoutInterval time.Duration
	IsCoordinator   bool
	DeleteMark      bool
}

// ID is a cursor identifier; odd ids belong to the coordinator registry,
// even ids to the user registry (GetGlobalCursor's cid%2 rule).
type ID uint64

// List is one of the two global cursor registries.
type List struct {
	isCoord bool

	mu               sync.Mutex
	byID             map[ID]*Cursor
	idle             []*Cursor
	idSeq            uint64
	counter          uint32
	lastCollect      time.Time
	nextIdleDeadline time.Time
}

// NewList creates an empty registry. isCoord selects the id parity this
// list hands out (odd for coordinator, even for user).
func NewList(isCoord bool) *List {
	return &List{isCoord: isCoord, byID: make(map[ID]*Cursor)}
}

func (l *List) nextID() ID {
	l.idSeq++
	if l.isCoord {
		return ID(2*l.idSeq - 1)
	}
	return ID(2 * l.idSeq)
}

// Reserve allocates a new, active (not-yet-paused) cursor bound to
// specRef, with the given idle timeout. Every SweepInterval'th call also
// opportunistically collects expired idle cursors (throttled to at most
// once per SweepThrottle).
func (l *List) Reserve(specRef SpecRef, timeout time.Duration) *Cursor {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counter++
	c := &Cursor{
		ID:              l.nextID(),
		SpecRef:         specRef,
		pos:             -1,
		TimeoutInterval: timeout,
		IsCoordinator:   l.isCoord,
	}
	l.byID[c.ID] = c
	if l.counter%SweepInterval == 0 {
		l.collectIdleLocked(time.Now(), false)
	}
	return c
}

// TakeForExecution locates cid, removes it from the idle list, and
// returns it ready to resume. It fails with ErrBusy if the cursor is
// already active (a concurrent CURSOR READ raced this one) and
// ErrNotFound if cid is unknown or was already freed.
func (l *List) TakeForExecution(cid ID) (*Cursor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.byID[cid]
	if !ok {
		return nil, ErrNotFound
	}
	if c.pos < 0 {
		return nil, ErrBusy
	}
	l.spliceIdleLocked(c.pos)
	c.pos = -1
	return c, nil
}

// Pause marks c idle, placing it back in the idle list with a fresh
// deadline computed from its TimeoutInterval. A cursor already marked
// for deletion (Purge raced a still-executing request) is freed outright
// instead of being paused.
func (l *List) Pause(c *Cursor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c.DeleteMark {
		l.freeLocked(c)
		return
	}
	c.IdleDeadline = time.Now().Add(c.TimeoutInterval)
	c.pos = len(l.idle)
	l.idle = append(l.idle, c)
	if l.nextIdleDeadline.IsZero() || c.IdleDeadline.Before(l.nextIdleDeadline) {
		l.nextIdleDeadline = c.IdleDeadline
	}
}

// Free removes c from the registry entirely, splicing it out of the
// idle list first if it was sitting there.
func (l *List) Free(c *Cursor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.freeLocked(c)
}

func (l *List) freeLocked(c *Cursor) {
	if c.pos >= 0 {
		l.spliceIdleLocked(c.pos)
		c.pos = -1
	}
	delete(l.byID, c.ID)
}

// Purge locates and frees the cursor with the given id. An active cursor
// (mid-execution) is only marked for deletion, so the in-flight pipeline
// can notice DeleteMark and unwind on its own rather than being freed out
// from under it; an idle cursor is freed immediately.
func (l *List) Purge(cid ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.byID[cid]
	if !ok {
		return ErrNotFound
	}
	if c.pos < 0 {
		c.DeleteMark = true
		return nil
	}
	l.freeLocked(c)
	return nil
}

// CollectIdle sweeps the idle list, freeing every cursor whose deadline
// has passed, and returns how many were reclaimed. Unlike the counter-
// triggered sweep inside Reserve, this ignores SweepThrottle: it is the
// explicit, caller-requested form (e.g. a dedicated background sweeper).
func (l *List) CollectIdle() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.collectIdleLocked(time.Now(), true)
}

func (l *List) collectIdleLocked(now time.Time, force bool) int {
	if !force && !l.lastCollect.IsZero() && now.Sub(l.lastCollect) < SweepThrottle {
		return 0
	}
	l.lastCollect = now
	n := 0
	for i := 0; i < len(l.idle); {
		c := l.idle[i]
		if now.Before(c.IdleDeadline) {
			i++
			continue
		}
		l.spliceIdleLocked(c.pos)
		delete(l.byID, c.ID)
		n++
		// spliceIdleLocked moved the last element into i; re-examine it.
	}
	l.recomputeNextDeadlineLocked()
	return n
}

// spliceIdleLocked removes the idle-list entry at pos by swapping in the
// last element, an O(1) splice matching the source's Array-based idle
// list (order within the idle list carries no meaning).
func (l *List) spliceIdleLocked(pos int) {
	last := len(l.idle) - 1
	if pos != last {
		l.idle[pos] = l.idle[last]
		l.idle[pos].pos = pos
	}
	l.idle = l.idle[:last]
}

func (l *List) recomputeNextDeadlineLocked() {
	l.nextIdleDeadline = time.Time{}
	for _, c := range l.idle {
		if l.nextIdleDeadline.IsZero() || c.IdleDeadline.Before(l.nextIdleDeadline) {
			l.nextIdleDeadline = c.IdleDeadline
		}
	}
}

// Empty clears the registry: idle cursors are freed outright, while
// active cursors are only marked for deletion so any work reading or
// writing their execState can unwind safely rather than being freed
// concurrently out from under it.
func (l *List) Empty() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, c := range l.byID {
		if c.pos < 0 {
			// Active: leave it in the registry, marked for deletion, so
			// the in-flight pipeline can notice DeleteMark and free it
			// itself once it next yields control.
			c.DeleteMark = true
			continue
		}
		delete(l.byID, id)
	}
	l.idle = l.idle[:0]
	l.nextIdleDeadline = time.Time{}
}

// Len reports how many cursors (active and idle) this list currently
// holds.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}

// IdleLen reports how many cursors are currently sitting idle.
func (l *List) IdleLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.idle)
}
