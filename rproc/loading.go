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
	"sync"

	"github.com/RediSearch/RediSearch-sub005/extiface"
	"github.com/RediSearch/RediSearch-sub005/qiter"
	"github.com/RediSearch/RediSearch-sub005/rlookup"
	"github.com/RediSearch/RediSearch-sub005/rval"
)

func docIDOf(row *rlookup.Row, docKey *rlookup.Key) qiter.DocID {
	v, ok := row.Get(docKey)
	if !ok {
		return 0
	}
	id, _ := v.(qiter.DocID)
	return id
}

// Loader loads requested field values from the document store into each
// upstream row, on the calling goroutine. It is the cheap path used when
// no other pipeline is contending for the document store's lock.
type Loader struct {
	base
	Store  extiface.DocStore
	DocKey *rlookup.Key
	Fields []*rlookup.Key
}

func NewLoader(lookup *rlookup.Lookup, store extiface.DocStore, docKey *rlookup.Key, fields []*rlookup.Key) *Loader {
	return &Loader{base: base{lookup: lookup}, Store: store, DocKey: docKey, Fields: fields}
}

func (l *Loader) Next(row *rlookup.Row) Status {
	st := l.upstream.Next(row)
	if st != StatusOK {
		return st
	}
	if err := l.Store.Load(docIDOf(row, l.DocKey), l.Fields, row); err != nil {
		return StatusError
	}
	return StatusOK
}

// SafeLoader buffers a batch of upstream results, takes Lock once for
// the whole batch, loads every buffered row, releases Lock, then yields
// them one at a time: BUFFERING -> YIELDING -> BUFFERING -> ... -> EOF.
// It trades per-row lock acquisition for per-batch, the source's
// justification for a dedicated "safe" loader on hot paths.
type SafeLoader struct {
	base
	Store     extiface.DocStore
	DocKey    *rlookup.Key
	Fields    []*rlookup.Key
	Lock      sync.Locker
	BatchSize int

	buf          []*rlookup.Row
	pos          int
	upstreamDone bool
}

func NewSafeLoader(lookup *rlookup.Lookup, store extiface.DocStore, docKey *rlookup.Key, fields []*rlookup.Key, lock sync.Locker, batchSize int) *SafeLoader {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &SafeLoader{base: base{lookup: lookup}, Store: store, DocKey: docKey, Fields: fields, Lock: lock, BatchSize: batchSize}
}

func (l *SafeLoader) Next(row *rlookup.Row) Status {
	if l.pos < len(l.buf) {
		*row = *l.buf[l.pos]
		l.pos++
		return StatusOK
	}
	if l.upstreamDone {
		return StatusEOF
	}
	if st := l.fillBatch(); st != StatusOK {
		return st
	}
	*row = *l.buf[0]
	l.pos = 1
	return StatusOK
}

func (l *SafeLoader) fillBatch() Status {
	l.buf = l.buf[:0]
	l.pos = 0
	tmp := &rlookup.Row{}
	for i := 0; i < l.BatchSize; i++ {
		st := l.upstream.Next(tmp)
		if st == StatusEOF {
			l.upstreamDone = true
			break
		}
		if st != StatusOK {
			return st
		}
		l.buf = append(l.buf, tmp.Clone())
		tmp.Clear()
	}
	if len(l.buf) == 0 {
		return StatusEOF
	}
	l.Lock.Lock()
	defer l.Lock.Unlock()
	for _, r := range l.buf {
		if err := l.Store.Load(docIDOf(r, l.DocKey), l.Fields, r); err != nil {
			return StatusError
		}
	}
	return StatusOK
}

// MetricsLoader copies a per-result metric value (e.g. a vector
// distance carried alongside the row by an upstream iterator) into the
// row at OutKey.
type MetricsLoader struct {
	base
	Source func(row *rlookup.Row) (rval.Value, bool)
	OutKey *rlookup.Key
}

func NewMetricsLoader(lookup *rlookup.Lookup, outKey *rlookup.Key, source func(*rlookup.Row) (rval.Value, bool)) *MetricsLoader {
	return &MetricsLoader{base: base{lookup: lookup}, Source: source, OutKey: outKey}
}

func (m *MetricsLoader) Next(row *rlookup.Row) Status {
	st := m.upstream.Next(row)
	if st != StatusOK {
		return st
	}
	if v, ok := m.Source(row); ok {
		row.WriteKey(m.OutKey, v)
	}
	return StatusOK
}
