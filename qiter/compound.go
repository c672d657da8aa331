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

package qiter

// Union yields the sorted union of its children's docIds. QuickExit, when
// set, stops advancing the remaining children once the minimum docId for
// this Read has been found and returned (the source's "quick exit"
// union, used when the caller only needs membership, not every weight).
type Union struct {
	Children  []Iterator
	QuickExit bool

	heads []headState
}

type headState struct {
	rec   Record
	valid bool
	done  bool
}

func NewUnion(children []Iterator, quickExit bool) *Union {
	return &Union{Children: children, QuickExit: quickExit, heads: make([]headState, len(children))}
}

func (u *Union) fill(i int) {
	if u.heads[i].done || u.heads[i].valid {
		return
	}
	rec, st := u.Children[i].Read()
	if st == EOF {
		u.heads[i].done = true
		return
	}
	u.heads[i].rec = rec
	u.heads[i].valid = true
}

func (u *Union) Read() (Record, Status) {
	for i := range u.Children {
		u.fill(i)
	}
	min, found := DocID(0), false
	for i := range u.heads {
		if !u.heads[i].valid {
			continue
		}
		if !found || u.heads[i].rec.DocID < min {
			min = u.heads[i].rec.DocID
			found = true
		}
	}
	if !found {
		return Record{}, EOF
	}
	var best Record
	haveBest := false
	for i := range u.heads {
		if !u.heads[i].valid || u.heads[i].rec.DocID != min {
			continue
		}
		if !haveBest || u.heads[i].rec.Weight > best.Weight {
			best = u.heads[i].rec
			haveBest = true
		}
		u.heads[i].valid = false
		if u.QuickExit {
			break
		}
	}
	return best, OK
}

func (u *Union) SkipTo(to DocID) (Record, Status) {
	found := false
	var best Record
	for i := range u.Children {
		if u.heads[i].done {
			continue
		}
		if u.heads[i].valid && u.heads[i].rec.DocID >= to {
			// already positioned past/at `to`
		} else {
			rec, st := u.Children[i].SkipTo(to)
			if st == EOF {
				u.heads[i].done = true
				u.heads[i].valid = false
				continue
			}
			u.heads[i].rec = rec
			u.heads[i].valid = true
		}
		if !found || u.heads[i].rec.DocID < best.DocID {
			best = u.heads[i].rec
			found = true
		}
	}
	if !found {
		return Record{}, EOF
	}
	for i := range u.heads {
		if u.heads[i].valid && u.heads[i].rec.DocID == best.DocID {
			u.heads[i].valid = false
		}
	}
	if best.DocID == to {
		return best, OK
	}
	return best, NotFound
}

func (u *Union) Rewind() {
	for _, c := range u.Children {
		c.Rewind()
	}
	for i := range u.heads {
		u.heads[i] = headState{}
	}
}

func (u *Union) Revalidate() Status {
	for _, c := range u.Children {
		if c.Revalidate() == Abort {
			return Abort
		}
	}
	return OK
}

func (u *Union) NumEstimated() int64 {
	var sum int64
	for _, c := range u.Children {
		sum += c.NumEstimated()
	}
	return sum
}

func (u *Union) Current() Record {
	var best Record
	found := false
	for i := range u.heads {
		if u.heads[i].valid && (!found || u.heads[i].rec.DocID < best.DocID) {
			best = u.heads[i].rec
			found = true
		}
	}
	return best
}

// Intersection yields only the docIds matched by every child, with the
// record's weight the sum of the children's weights (a simple, additive
// scoring combination consistent with the source's AND semantics).
type Intersection struct {
	Children []Iterator
	cur      Record
}

func NewIntersection(children []Iterator) *Intersection {
	return &Intersection{Children: children}
}

func (x *Intersection) Read() (Record, Status) {
	if len(x.Children) == 0 {
		return Record{}, EOF
	}
	rec, st := x.Children[0].Read()
	if st != OK {
		return Record{}, st
	}
	return x.SkipTo(rec.DocID)
}

func (x *Intersection) SkipTo(to DocID) (Record, Status) {
	if len(x.Children) == 0 {
		return Record{}, EOF
	}
	target := to
	for {
		allMatch := true
		var weight float64
		for _, c := range x.Children {
			rec, st := c.SkipTo(target)
			if st == EOF {
				return Record{}, EOF
			}
			if rec.DocID != target {
				target = rec.DocID
				allMatch = false
				break
			}
			weight += rec.Weight
		}
		if allMatch {
			x.cur = Record{DocID: target, Weight: weight}
			if target == to {
				return x.cur, OK
			}
			return x.cur, NotFound
		}
	}
}

func (x *Intersection) Rewind() {
	for _, c := range x.Children {
		c.Rewind()
	}
	x.cur = Record{}
}

func (x *Intersection) Revalidate() Status {
	for _, c := range x.Children {
		if c.Revalidate() == Abort {
			return Abort
		}
	}
	return OK
}

func (x *Intersection) NumEstimated() int64 {
	min := int64(-1)
	for _, c := range x.Children {
		n := c.NumEstimated()
		if min == -1 || n < min {
			min = n
		}
	}
	if min == -1 {
		return 0
	}
	return min
}

func (x *Intersection) Current() Record { return x.cur }

// Optional wraps a child iterator over a wildcard-sized universe: every
// docId in [1, MaxDocID] is produced, with the child's own record when it
// matches and a virtual record (weight only, spec.md §8.7) otherwise.
// OPTIONAL(WILDCARD) reduces to plain Wildcard at plan-build time, and
// OPTIONAL(EMPTY) reduces to Wildcard with every hit virtual (spec.md S6);
// both reductions are performed by the plan builder, not by this type.
type Optional struct {
	Child    Iterator
	MaxDocID DocID
	Weight   float64

	wildcard *Wildcard
	cur      Record
}

func NewOptional(child Iterator, maxDocID DocID, weight float64) *Optional {
	return &Optional{Child: child, MaxDocID: maxDocID, Weight: weight, wildcard: NewWildcard(maxDocID)}
}

func (o *Optional) Read() (Record, Status) {
	wrec, wst := o.wildcard.Read()
	if wst != OK {
		return Record{}, wst
	}
	return o.resolve(wrec.DocID)
}

func (o *Optional) SkipTo(to DocID) (Record, Status) {
	wrec, wst := o.wildcard.SkipTo(to)
	if wst != OK && wst != NotFound {
		return Record{}, wst
	}
	rec, _ := o.resolve(wrec.DocID)
	if wrec.DocID == to {
		return rec, OK
	}
	return rec, NotFound
}

func (o *Optional) resolve(id DocID) (Record, Status) {
	crec, cst := o.Child.SkipTo(id)
	if cst == OK && crec.DocID == id {
		crec.Weight = o.Weight
		o.cur = crec
		return o.cur, OK
	}
	o.cur = Record{DocID: id, Weight: o.Weight, Virtual: true}
	return o.cur, OK
}

func (o *Optional) Rewind() {
	o.wildcard.Rewind()
	o.Child.Rewind()
	o.cur = Record{}
}

func (o *Optional) Revalidate() Status { return o.Child.Revalidate() }
func (o *Optional) NumEstimated() int64 { return int64(o.MaxDocID) }
func (o *Optional) Current() Record     { return o.cur }
