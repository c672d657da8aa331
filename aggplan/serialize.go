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

import "strconv"

// Serialize walks p's steps in order and emits the equivalent textual
// command tokens (APPLY/FILTER/LIMIT/SORTBY/LOAD/GROUPBY+REDUCE) used to
// ship the remote sub-plan to a shard as part of an _FT.AGGREGATE
// command. The ROOT sentinel and DISTRIBUTE steps never serialize
// themselves (DISTRIBUTE's RemoteArgs are already the serialized form of
// its own remote sub-plan).
func (p *Plan) Serialize() []string {
	var out []string
	for s := p.root.next; s != nil; s = s.next {
		out = append(out, s.serialize()...)
	}
	return out
}

func (s *Step) serialize() []string {
	switch s.Kind {
	case Apply:
		toks := []string{"APPLY", s.Expr.String()}
		if s.Alias != "" {
			toks = append(toks, "AS", s.Alias)
		}
		return toks
	case Filter:
		return []string{"FILTER", s.Expr.String()}
	case Arrange:
		var toks []string
		if len(s.SortKeys) > 0 {
			toks = append(toks, "SORTBY", strconv.Itoa(2*len(s.SortKeys)))
			for i, k := range s.SortKeys {
				toks = append(toks, "@"+k)
				if i < len(s.Ascending) && s.Ascending[i] {
					toks = append(toks, "ASC")
				} else {
					toks = append(toks, "DESC")
				}
			}
		}
		if s.IsLimited {
			toks = append(toks, "LIMIT", strconv.Itoa(s.Offset), strconv.Itoa(s.Offset+s.Limit))
		}
		return toks
	case Load:
		if s.Wildcard {
			return []string{"LOAD", "*"}
		}
		toks := []string{"LOAD", strconv.Itoa(len(s.LoadFields))}
		for _, f := range s.LoadFields {
			toks = append(toks, "@"+f)
		}
		return toks
	case Group:
		toks := []string{"GROUPBY", strconv.Itoa(len(s.GroupBy))}
		for _, f := range s.GroupBy {
			toks = append(toks, "@"+f)
		}
		for _, r := range s.Reducers {
			toks = append(toks, "REDUCE", r.Name, strconv.Itoa(len(r.Args)))
			toks = append(toks, r.Args...)
			if r.Alias != "" {
				toks = append(toks, "AS", r.Alias)
			}
		}
		return toks
	case VectorNormalizer:
		// Internal bookkeeping step; it has no standalone wire token,
		// its effect is observed only via the distance alias it adds
		// to the schema (folded into the reducer/APPLY that uses it).
		return nil
	default:
		return nil
	}
}
