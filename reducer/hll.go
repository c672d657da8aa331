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

package reducer

import (
	"math"
	"math/bits"

	"github.com/RediSearch/RediSearch-sub005/rval"
)

// hllRegisterBits fixes the HyperLogLog precision at 2^14 registers, the
// standard choice (~0.81% relative error) used by COUNT_DISTINCTISH.
const hllRegisterBits = 14
const hllRegisterCount = 1 << hllRegisterBits

type hllSketch struct {
	registers [hllRegisterCount]uint8
}

func (s *hllSketch) add(h uint64) {
	idx := h >> (64 - hllRegisterBits)
	rest := h<<hllRegisterBits | (1 << (hllRegisterBits - 1))
	rho := uint8(bits.LeadingZeros64(rest) + 1)
	if rho > s.registers[idx] {
		s.registers[idx] = rho
	}
}

func (s *hllSketch) merge(o *hllSketch) {
	for i := range s.registers {
		if o.registers[i] > s.registers[i] {
			s.registers[i] = o.registers[i]
		}
	}
}

// estimate implements the standard HLL cardinality estimator with small-
// and large-range corrections.
func (s *hllSketch) estimate() float64 {
	m := float64(hllRegisterCount)
	sum := 0.0
	zeros := 0
	for _, r := range s.registers {
		sum += 1.0 / float64(uint64(1)<<r)
		if r == 0 {
			zeros++
		}
	}
	alpha := 0.7213 / (1 + 1.079/m)
	raw := alpha * m * m / sum

	switch {
	case raw <= 2.5*m && zeros > 0:
		return m * math.Log(m/float64(zeros))
	case raw > (1.0/30.0)*4294967296.0:
		return -4294967296.0 * math.Log(1-raw/4294967296.0)
	default:
		return raw
	}
}

func (s *hllSketch) encode() []byte {
	return append([]byte(nil), s.registers[:]...)
}

func decodeHLL(b []byte) *hllSketch {
	s := &hllSketch{}
	copy(s.registers[:], b)
	return s
}

// hllReducer implements both COUNT_DISTINCTISH (estimate directly from
// raw values), HLL (emit the raw register array for the coordinator to
// merge), and HLL_SUM (merge per-shard register arrays and estimate).
type hllReducer struct {
	merge bool // true: Add expects encoded sketches (HLL_SUM)
	raw   bool // true: Finalize emits the encoded sketch rather than an estimate (HLL)
}

func (r hllReducer) Name() string {
	switch {
	case r.merge:
		return "HLL_SUM"
	case r.raw:
		return "HLL"
	default:
		return "COUNT_DISTINCTISH"
	}
}

func (r hllReducer) NewInstance() Instance {
	return &hllInstance{merge: r.merge, raw: r.raw, sketch: &hllSketch{}}
}

type hllInstance struct {
	merge  bool
	raw    bool
	sketch *hllSketch
}

func (h *hllInstance) Add(v rval.Value) error {
	if h.merge {
		h.sketch.merge(decodeHLL([]byte(v.Primary().String())))
		return nil
	}
	h.sketch.add(hash64([]byte(v.Primary().String())))
	return nil
}

func (h *hllInstance) Finalize() rval.Value {
	if h.raw {
		return rval.NewString(string(h.sketch.encode()), rval.Owned)
	}
	return rval.NewNumber(h.sketch.estimate())
}

func (h *hllInstance) Free() { h.sketch = nil }
