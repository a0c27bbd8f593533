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
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/codeaudit/marian/pkg/marian/lib/beam"
	"github.com/codeaudit/marian/pkg/marian/lib/mblas"
)

func init() {
	RegisterBackend(&cpuBackend{})
}

// cpuBackend is the always-available pure-Go backend. Weights are
// deterministic pseudo-random values derived from a hash, so the backend
// needs no model files and produces reproducible output. It exists as the
// reference implementation and as the fallback when no accelerated backend
// is built in.
type cpuBackend struct{}

func (b *cpuBackend) Type() BackendType { return BackendCPU }

func (b *cpuBackend) Name() string { return "Pure Go (reference)" }

func (b *cpuBackend) Available() bool { return true }

func (b *cpuBackend) Priority() int {
	// Accelerated backends outrank the reference implementation.
	return 10
}

func (b *cpuBackend) Load(cfg *DecoderConfig, logger *zap.Logger) (*ModelSet, error) {
	if cfg == nil {
		cfg = DefaultDecoderConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Loading pure-Go backend",
		zap.Int("vocab_size", cfg.VocabSize),
		zap.Int("hidden_size", cfg.HiddenSize))
	return &ModelSet{
		Encoder: &cpuEncoder{cfg: cfg},
		Model:   &cpuModel{cfg: cfg},
		Scorer:  &cpuScorer{cfg: cfg},
		Config:  cfg,
	}, nil
}

// Hash seeds for the three deterministic weight families.
const (
	seedSource    = 0x5301
	seedEmbedding = 0x7a11
	seedOutput    = 0xc0de
)

// hashWeight derives a reproducible pseudo-weight in [-0.5, 0.5).
func hashWeight(seed, i, j uint64) float32 {
	x := seed*0x9E3779B97F4A7C15 + i*0xBF58476D1CE4E5B9 + j*0x94D049BB133111EB
	x ^= x >> 31
	x *= 0xD6E8FEB86659FD93
	x ^= x >> 27
	return float32(x%2048)/2048.0 - 0.5
}

// cpuEncoder encodes each sentence as the mean of its hashed source word
// embeddings. The source representation has one row per sentence.
type cpuEncoder struct {
	cfg *DecoderConfig
}

var _ EncoderBackend = (*cpuEncoder)(nil)

func (e *cpuEncoder) Encode(ctx context.Context, batch *beam.Batch) (*beam.EncOut, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dim := e.cfg.HiddenSize
	sourceContext := mblas.New(batch.Size(), dim)
	for i := 0; i < batch.Size(); i++ {
		s := batch.Get(i)
		if s.Size() == 0 {
			continue
		}
		row := sourceContext.Row(i)
		for _, w := range s.Words {
			for j := 0; j < dim; j++ {
				row[j] += hashWeight(seedSource, uint64(w), uint64(j))
			}
		}
		inv := 1.0 / float32(s.Size())
		for j := 0; j < dim; j++ {
			row[j] *= inv
		}
	}
	return beam.NewEncOut(batch, sourceContext), nil
}

// cpuModel is the pure-Go recurrent step cell.
type cpuModel struct {
	cfg *DecoderConfig
}

var _ StepModel = (*cpuModel)(nil)

func (m *cpuModel) EmptyState(encOut *beam.EncOut) *State {
	ctx := encOut.SourceContext()
	hidden := mblas.New(ctx.Rows(), ctx.Cols())
	for i := 0; i < ctx.Rows(); i++ {
		src := ctx.Row(i)
		dst := hidden.Row(i)
		for j := range src {
			dst[j] = tanh32(src[j])
		}
	}
	return &State{
		Hidden:     hidden,
		Embeddings: m.EmptyEmbedding(ctx.Rows()),
	}
}

func (m *cpuModel) EmptyEmbedding(rows int) *mblas.Matrix {
	return mblas.New(rows, m.cfg.HiddenSize)
}

func (m *cpuModel) AdvanceState(state *State, context *mblas.Matrix) (*mblas.Matrix, error) {
	h, e := state.Hidden, state.Embeddings
	if h.Rows() != e.Rows() || h.Rows() != context.Rows() {
		return nil, Fatalf(FaultInternal, "row mismatch: hidden %d, embeddings %d, context %d",
			h.Rows(), e.Rows(), context.Rows())
	}
	if h.Cols() != e.Cols() || h.Cols() != context.Cols() {
		return nil, Fatalf(FaultInternal, "column mismatch: hidden %d, embeddings %d, context %d",
			h.Cols(), e.Cols(), context.Cols())
	}

	n := h.Cols()
	next := mblas.New(h.Rows(), n)
	for i := 0; i < h.Rows(); i++ {
		hr, er, cr, nr := h.Row(i), e.Row(i), context.Row(i), next.Row(i)
		for j := 0; j < n; j++ {
			// The column rotation on the context keeps the cell from
			// settling into a per-column fixpoint.
			nr[j] = tanh32(0.5*hr[j] + 0.3*er[j] + 0.2*cr[(j+1)%n])
		}
	}
	return next, nil
}

func (m *cpuModel) LookupEmbedding(ids []uint32) *mblas.Matrix {
	dim := m.cfg.HiddenSize
	out := mblas.New(len(ids), dim)
	for i, id := range ids {
		if int(id) >= m.cfg.VocabSize {
			id = m.cfg.UnknownTokenID
		}
		row := out.Row(i)
		for j := 0; j < dim; j++ {
			row[j] = hashWeight(seedEmbedding, uint64(id), uint64(j))
		}
	}
	return out
}

func (m *cpuModel) VocabSize() int { return m.cfg.VocabSize }

// cpuScorer projects the hidden state onto the vocabulary with hashed
// output weights and selects the best hypotheses.
type cpuScorer struct {
	cfg    *DecoderConfig
	filter []uint32
}

var _ Scorer = (*cpuScorer)(nil)

func (s *cpuScorer) ScoreCandidates(prev []beam.Beam, state *mblas.Matrix, widths []uint) ([]beam.Beam, error) {
	vocab := s.cfg.VocabSize
	logProbs := mblas.New(state.Rows(), vocab)
	for r := 0; r < state.Rows(); r++ {
		sr := state.Row(r)
		row := logProbs.Row(r)
		for v := 0; v < vocab; v++ {
			var dot float32
			for j, x := range sr {
				dot += x * hashWeight(seedOutput, uint64(j), uint64(v))
			}
			row[v] = dot
		}
		logSoftmax(row)
	}
	return BestHypotheses(prev, logProbs, widths, s.filter)
}

func (s *cpuScorer) Filter(ids []uint32) {
	if len(ids) == 0 {
		s.filter = nil
		return
	}
	s.filter = append([]uint32(nil), ids...)
}

// logSoftmax converts logits to log-probabilities in place.
func logSoftmax(row []float32) {
	maxVal := row[0]
	for _, v := range row[1:] {
		if v > maxVal {
			maxVal = v
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v - maxVal))
	}
	logSum := float32(math.Log(sum))
	for i := range row {
		row[i] = row[i] - maxVal - logSum
	}
}

func tanh32(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}
