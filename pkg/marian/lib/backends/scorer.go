// Copyright 2025 The Marian Go Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backends

import (
	"fmt"
	"sort"

	"github.com/codeaudit/marian/pkg/marian/lib/beam"
	"github.com/codeaudit/marian/pkg/marian/lib/mblas"
)

// BestHypotheses performs the survivor-selection half of scoring, shared by
// every backend: it expands each previous hypothesis with the scored
// vocabulary and keeps the top widths[i] candidates per sentence.
//
// prev holds one Beam per live sentence; the flattened prev hypotheses
// correspond one-to-one with the rows of logProbs. allowed, when non-empty,
// restricts expansion to that vocabulary subset. Ties break by candidate
// generation order (row-major, then ascending word id), which keeps output
// deterministic.
func BestHypotheses(prev []beam.Beam, logProbs *mblas.Matrix, widths []uint, allowed []uint32) ([]beam.Beam, error) {
	if len(prev) != len(widths) {
		return nil, fmt.Errorf("beam count %d does not match width count %d", len(prev), len(widths))
	}

	out := make([]beam.Beam, len(prev))
	row := 0
	for i, bm := range prev {
		var cands beam.Beam
		for _, ph := range bm {
			if row >= logProbs.Rows() {
				return nil, fmt.Errorf("log-prob rows exhausted at row %d", row)
			}
			lp := logProbs.Row(row)
			if len(allowed) > 0 {
				for _, w := range allowed {
					if int(w) >= len(lp) {
						continue
					}
					cands = append(cands, beam.NewHypothesis(ph, w, ph.Score+lp[w], row))
				}
			} else {
				for w := range lp {
					cands = append(cands, beam.NewHypothesis(ph, uint32(w), ph.Score+lp[w], row))
				}
			}
			row++
		}

		sort.SliceStable(cands, func(a, b int) bool {
			return cands[a].Score > cands[b].Score
		})
		k := int(widths[i])
		if k > len(cands) {
			k = len(cands)
		}
		out[i] = cands[:k:k]
	}

	if row != logProbs.Rows() {
		return nil, fmt.Errorf("scored %d rows, log-probs have %d", row, logProbs.Rows())
	}
	return out, nil
}
