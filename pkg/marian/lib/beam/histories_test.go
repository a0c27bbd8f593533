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

package beam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recordingWriter captures emitted results and their order.
type recordingWriter struct {
	results map[uint64]Result
	order   []uint64
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{results: make(map[uint64]Result)}
}

func (w *recordingWriter) Write(lineNum uint64, result Result) {
	if _, ok := w.results[lineNum]; ok {
		panic("duplicate write")
	}
	w.results[lineNum] = result
	w.order = append(w.order, lineNum)
}

const eos = uint32(0)

func TestHistoriesEmitOnEOS(t *testing.T) {
	w := newRecordingWriter()
	ht := NewHistories(w, eos, false, zaptest.NewLogger(t))

	encOut := testEncOut(3)
	ht.Init(encOut)
	bs := NewBeamSize()
	bs.Init(encOut)
	bs.SetAll(2)

	root := NewRootHypothesis(0, eos, 0)
	h1 := NewHypothesis(root, 5, -1.0, 0)
	h2 := NewHypothesis(root, 6, -1.5, 0)

	// One hypothesis finishes, one survives.
	fin := NewHypothesis(h1, eos, -1.2, 0)
	live := NewHypothesis(h2, 7, -2.0, 1)
	ht.Add([]Beam{{h1, h2}}, bs)
	surv := ht.Add([]Beam{{fin, live}}, bs)

	require.Len(t, surv, 1)
	assert.Equal(t, Beam{live}, surv[0])
	w1, _ := bs.Width(0)
	assert.Equal(t, uint(1), w1)
	assert.Empty(t, w.results, "sentence still open")

	// The last hypothesis finishes too; the sentence closes and is
	// emitted immediately.
	fin2 := NewHypothesis(live, eos, -2.5, 0)
	surv = ht.Add([]Beam{{fin2}}, bs)
	assert.Empty(t, surv[0])

	res, ok := w.results[0]
	require.True(t, ok)
	assert.True(t, res.StoppedAtEOS)
	// The trailing end symbol is stripped; the higher scoring finished
	// hypothesis wins.
	assert.Equal(t, []uint32{5}, res.Words)
	assert.Equal(t, float32(-1.2), res.Score)
	assert.Zero(t, ht.OpenCount())
}

func TestHistoriesStepBudgetForcesCompletion(t *testing.T) {
	w := newRecordingWriter()
	ht := NewHistories(w, eos, false, zaptest.NewLogger(t))

	// Source length 1 allows at most 3 decode steps.
	encOut := testEncOut(1)
	ht.Init(encOut)
	bs := NewBeamSize()
	bs.Init(encOut)

	cur := NewRootHypothesis(0, eos, 0)
	for step := 0; step < 3; step++ {
		cur = NewHypothesis(cur, uint32(10+step), -float32(step+1), 0)
		surv := ht.Add([]Beam{{cur}}, bs)
		if step < 2 {
			require.Len(t, surv[0], 1, "step %d should survive", step)
		} else {
			assert.Empty(t, surv[0], "budget exhausted at step %d", step)
		}
	}

	res, ok := w.results[0]
	require.True(t, ok)
	assert.False(t, res.StoppedAtEOS, "force-closed, not terminated at EOS")
	assert.Equal(t, []uint32{10, 11, 12}, res.Words, "partial path is kept")
	assert.Equal(t, uint(0), bs.Total())
}

func TestHistoriesEmptySentenceClosesImmediately(t *testing.T) {
	w := newRecordingWriter()
	ht := NewHistories(w, eos, false, zaptest.NewLogger(t))

	encOut := testEncOut(0)
	ht.Init(encOut)
	bs := NewBeamSize()
	bs.Init(encOut)

	root := NewRootHypothesis(0, eos, 0)
	hyp := NewHypothesis(root, 9, -0.5, 0)
	surv := ht.Add([]Beam{{hyp}}, bs)

	assert.Empty(t, surv[0])
	_, ok := w.results[0]
	assert.True(t, ok, "zero-length sentence emits on the first step")
}

func TestHistoriesScoreNormalization(t *testing.T) {
	w := newRecordingWriter()
	ht := NewHistories(w, eos, true, zaptest.NewLogger(t))

	encOut := testEncOut(4)
	ht.Init(encOut)
	bs := NewBeamSize()
	bs.Init(encOut)

	root := NewRootHypothesis(0, eos, 0)
	a := NewHypothesis(root, 5, -2.0, 0)
	b := NewHypothesis(a, 6, -4.0, 0)
	fin := NewHypothesis(b, eos, -6.0, 0)

	ht.Add([]Beam{{a}}, bs)
	ht.Add([]Beam{{b}}, bs)
	ht.Add([]Beam{{fin}}, bs)

	res := w.results[0]
	// Length 3 including the end symbol.
	assert.InDelta(t, -2.0, float64(res.Score), 1e-6)
}

func TestHistoriesCloseAll(t *testing.T) {
	w := newRecordingWriter()
	ht := NewHistories(w, eos, false, zaptest.NewLogger(t))

	encOut := testEncOut(5, 5)
	ht.Init(encOut)
	bs := NewBeamSize()
	bs.Init(encOut)

	rootA := NewRootHypothesis(0, eos, 0)
	rootB := NewRootHypothesis(1, eos, 1)
	hypA := NewHypothesis(rootA, 3, -1.0, 0)
	hypB := NewHypothesis(rootB, 4, -1.0, 1)
	ht.Add([]Beam{{hypA}, {hypB}}, bs)

	require.Equal(t, 2, ht.OpenCount())
	ht.CloseAll()
	assert.Zero(t, ht.OpenCount())

	for line := uint64(0); line < 2; line++ {
		res, ok := w.results[line]
		require.True(t, ok, "line %d emitted", line)
		assert.False(t, res.StoppedAtEOS)
		assert.NotEmpty(t, res.Words)
	}

	// Closing again is a no-op, not a double emission.
	ht.CloseAll()
	assert.Len(t, w.order, 2)
}

func TestHistoriesNarrowBeamShrinksWidth(t *testing.T) {
	w := newRecordingWriter()
	ht := NewHistories(w, eos, false, zaptest.NewLogger(t))

	encOut := testEncOut(4)
	ht.Init(encOut)
	bs := NewBeamSize()
	bs.Init(encOut)
	bs.SetAll(4)

	// A narrow vocabulary filter leaves only two candidates against a
	// tracked width of four. The width must follow the beam down so the
	// total keeps matching the surviving state rows.
	root := NewRootHypothesis(0, eos, 0)
	h1 := NewHypothesis(root, 5, -1.0, 0)
	h2 := NewHypothesis(root, 9, -1.5, 0)
	surv := ht.Add([]Beam{{h1, h2}}, bs)

	require.Len(t, surv[0], 2)
	width, _ := bs.Width(0)
	assert.Equal(t, uint(2), width)
	assert.Equal(t, uint(2), bs.Total())
	assert.Empty(t, w.results, "sentence still open")

	// One of the two finishes: the width decrements from the shrunken
	// value, not the original one.
	fin := NewHypothesis(h1, eos, -1.2, 0)
	live := NewHypothesis(h2, 9, -2.0, 1)
	surv = ht.Add([]Beam{{fin, live}}, bs)
	require.Len(t, surv[0], 1)
	width, _ = bs.Width(0)
	assert.Equal(t, uint(1), width)
}

func TestHistoriesAddUnknownLinePanics(t *testing.T) {
	ht := NewHistories(newRecordingWriter(), eos, false, zaptest.NewLogger(t))
	ht.Init(testEncOut(2))
	bs := NewBeamSize()
	bs.Init(testEncOut(2))

	ghost := NewRootHypothesis(42, eos, 0)
	hyp := NewHypothesis(ghost, 3, -1.0, 0)
	assert.Panics(t, func() { ht.Add([]Beam{{hyp}}, bs) })
}
