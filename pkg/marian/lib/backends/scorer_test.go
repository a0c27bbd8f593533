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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeaudit/marian/pkg/marian/lib/beam"
	"github.com/codeaudit/marian/pkg/marian/lib/mblas"
)

func TestBestHypothesesSelectsTopK(t *testing.T) {
	root := beam.NewRootHypothesis(0, 0, 0)
	logProbs := mblas.FromRows([][]float32{
		{-3, -1, -2, -4},
	})

	beams, err := BestHypotheses([]beam.Beam{{root}}, logProbs, []uint{2}, nil)
	require.NoError(t, err)
	require.Len(t, beams, 1)
	require.Len(t, beams[0], 2)
	assert.Equal(t, uint32(1), beams[0][0].Word)
	assert.Equal(t, uint32(2), beams[0][1].Word)
	assert.Equal(t, float32(-1), beams[0][0].Score)
}

func TestBestHypothesesTieOrder(t *testing.T) {
	root := beam.NewRootHypothesis(0, 0, 0)
	// All words score equally; candidate generation order must decide.
	logProbs := mblas.FromRows([][]float32{
		{-1, -1, -1, -1},
	})

	beams, err := BestHypotheses([]beam.Beam{{root}}, logProbs, []uint{3}, nil)
	require.NoError(t, err)
	words := []uint32{beams[0][0].Word, beams[0][1].Word, beams[0][2].Word}
	assert.Equal(t, []uint32{0, 1, 2}, words, "ties break by ascending word id")
}

func TestBestHypothesesMultipleSentences(t *testing.T) {
	rootA := beam.NewRootHypothesis(0, 0, 0)
	hypA2 := beam.NewHypothesis(rootA, 1, -0.5, 0)
	rootB := beam.NewRootHypothesis(1, 0, 2)

	// Three rows: two hypotheses for sentence A, one for sentence B.
	logProbs := mblas.FromRows([][]float32{
		{-1, -5},
		{-2, -6},
		{-3, -1},
	})

	beams, err := BestHypotheses([]beam.Beam{{rootA, hypA2}, {rootB}}, logProbs, []uint{2, 1}, nil)
	require.NoError(t, err)
	require.Len(t, beams[0], 2)
	require.Len(t, beams[1], 1)

	// Sentence A's best extends the root (row 0), second best extends
	// hypA2 with its cumulative score carried forward.
	assert.Equal(t, 0, beams[0][0].PrevIndex)
	assert.Equal(t, float32(-1), beams[0][0].Score)
	assert.Equal(t, 1, beams[0][1].PrevIndex)
	assert.InDelta(t, -2.5, float64(beams[0][1].Score), 1e-6)

	// Sentence B scores from row 2.
	assert.Equal(t, 2, beams[1][0].PrevIndex)
	assert.Equal(t, uint32(1), beams[1][0].Word)
}

func TestBestHypothesesAllowedSubset(t *testing.T) {
	root := beam.NewRootHypothesis(0, 0, 0)
	logProbs := mblas.FromRows([][]float32{
		{-1, -2, -3, -4},
	})

	beams, err := BestHypotheses([]beam.Beam{{root}}, logProbs, []uint{4}, []uint32{2, 3})
	require.NoError(t, err)
	require.Len(t, beams[0], 2)
	assert.Equal(t, uint32(2), beams[0][0].Word)
	assert.Equal(t, uint32(3), beams[0][1].Word)
}

func TestBestHypothesesGeometryErrors(t *testing.T) {
	root := beam.NewRootHypothesis(0, 0, 0)
	logProbs := mblas.FromRows([][]float32{{-1, -2}})

	_, err := BestHypotheses([]beam.Beam{{root}}, logProbs, []uint{1, 1}, nil)
	assert.Error(t, err, "width count must match beam count")

	twoRows := mblas.FromRows([][]float32{{-1, -2}, {-3, -4}})
	_, err = BestHypotheses([]beam.Beam{{root}}, twoRows, []uint{1}, nil)
	assert.Error(t, err, "every log-prob row must belong to a hypothesis")
}
