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

package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/codeaudit/marian/pkg/marian/lib/backends"
	"github.com/codeaudit/marian/pkg/marian/lib/beam"
)

// SearchConfig configures the beam-search step loop.
type SearchConfig struct {
	// MaxBeamSize is the beam width every sentence fans out to after the
	// first step.
	MaxBeamSize uint

	// NormalizeScore divides emitted scores by output length.
	NormalizeScore bool

	// EOSTokenID is the end-of-sequence symbol; BOSTokenID seeds the
	// single start hypothesis of every sentence.
	EOSTokenID uint32
	BOSTokenID uint32
}

// Search is the decode engine: the single consumer of the EncOutBuffer.
// It pulls encoded batches, runs the beam-search step loop over each, and
// streams finished sentences to the output sink as they complete. One
// worker loop pipelines across consecutive batches; the recurrent state
// and the beam tracker are exclusively owned by that worker.
type Search struct {
	buffer *EncOutBuffer
	model  backends.StepModel
	scorer backends.Scorer
	writer beam.Writer
	cfg    SearchConfig
	logger *zap.Logger
}

// NewSearch creates a decode engine consuming from buffer.
func NewSearch(
	buffer *EncOutBuffer,
	model backends.StepModel,
	scorer backends.Scorer,
	writer beam.Writer,
	cfg SearchConfig,
	logger *zap.Logger,
) *Search {
	if cfg.MaxBeamSize == 0 {
		cfg.MaxBeamSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Search{
		buffer: buffer,
		model:  model,
		scorer: scorer,
		writer: writer,
		cfg:    cfg,
		logger: logger,
	}
}

// Run is the consumer loop. It pops batches until it observes the shutdown
// sentinel, which it only sees after all previously queued batches have
// been fully decoded (FIFO guarantee). Returns the context error when
// cancelled mid-wait.
func (s *Search) Run(ctx context.Context) error {
	for {
		encOut, err := s.buffer.Pop(ctx)
		if err != nil {
			return err
		}
		if encOut.Empty() {
			s.logger.Info("Decode worker received shutdown sentinel")
			return nil
		}
		s.decode(encOut)
	}
}

// decode runs the beam-search step loop over one batch.
func (s *Search) decode(encOut *beam.EncOut) {
	batch := encOut.Batch()
	s.logger.Debug("Decoding batch",
		zap.Int("sentences", batch.Size()),
		zap.Int("max_length", encOut.MaxLength()),
		zap.Uint("beam_size", s.cfg.MaxBeamSize))

	bs := beam.NewBeamSize()
	bs.Init(encOut)

	histories := beam.NewHistories(s.writer, s.cfg.EOSTokenID, s.cfg.NormalizeScore, s.logger)
	histories.Init(encOut)

	// Sentence index within the batch, by line number, for gathering the
	// per-row source context.
	lineToIndex := make(map[uint64]int, batch.Size())
	for i := 0; i < batch.Size(); i++ {
		lineToIndex[batch.Get(i).LineNum] = i
	}

	// One start hypothesis per sentence; row i belongs to sentence i.
	state := s.model.EmptyState(encOut)
	prev := make([]beam.Beam, batch.Size())
	rowSentence := make([]int, batch.Size())
	for i := 0; i < batch.Size(); i++ {
		prev[i] = beam.Beam{beam.NewRootHypothesis(batch.Get(i).LineNum, s.cfg.BOSTokenID, i)}
		rowSentence[i] = i
	}

	maxSteps := 3 * encOut.MaxLength()
	if maxSteps < 1 {
		// An all-empty batch still takes one step: every sentence emits
		// its start symbol and closes immediately.
		maxSteps = 1
	}

	step := 0
	for ; bs.Total() > 0 && step < maxSteps; step++ {
		// The central invariant: state rows track the live-hypothesis
		// count at the start of every step.
		if state.Rows() != int(bs.Total()) {
			panic(fmt.Sprintf("pipeline: state has %d rows, tracker total is %d", state.Rows(), bs.Total()))
		}

		srcContext := encOut.SourceContext().Assemble(rowSentence)
		nextHidden, err := s.model.AdvanceState(state, srcContext)
		if err != nil {
			s.fatal("model", err)
			return
		}

		// Step 0 only ever has one candidate per sentence; fan out to the
		// configured width before scoring.
		if step == 0 {
			bs.SetAll(s.cfg.MaxBeamSize)
		}

		beams, err := s.scorer.ScoreCandidates(prev, nextHidden, bs.Widths())
		if err != nil {
			s.fatal("scorer", err)
			return
		}

		survivors := histories.Add(beams, bs)
		if removed := bs.DeleteEmpty(); removed > 0 {
			s.logger.Debug("Sentences finished",
				zap.Int("finished", removed),
				zap.Int("remaining", bs.Size()),
				zap.Int("step", step))
		}
		if bs.Total() == 0 {
			break
		}

		// Reassemble the state for the survivors: gather their parent
		// rows from the freshly computed hidden state and look up the
		// embedding of each survivor's emitted token. The row indices,
		// words and sentence mapping are rebuilt together so the state
		// and the tracker never desynchronize.
		total := int(bs.Total())
		rows := make([]int, 0, total)
		words := make([]uint32, 0, total)
		rowSentence = make([]int, 0, total)
		next := make([]beam.Beam, 0, bs.Size())
		for _, surv := range survivors {
			if len(surv) == 0 {
				continue
			}
			next = append(next, surv)
			for _, h := range surv {
				rows = append(rows, h.PrevIndex)
				words = append(words, h.Word)
				rowSentence = append(rowSentence, lineToIndex[h.LineNum])
			}
		}
		state = &backends.State{
			Hidden:     nextHidden.Assemble(rows),
			Embeddings: s.model.LookupEmbedding(words),
		}
		prev = next
	}

	// Step budget exhausted with hypotheses still open: force-close and
	// emit partial paths, never drop silently.
	histories.CloseAll()

	s.logger.Debug("Batch decoded",
		zap.Int("sentences", batch.Size()),
		zap.Int("steps", step))
}

// fatal logs an unrecoverable collaborator fault with its classification
// and aborts the process. Sentences already written to the sink remain
// valid; no partial output is emitted for the batch in flight.
func (s *Search) fatal(stage string, err error) {
	if fe, ok := backends.AsFatal(err); ok {
		s.logger.Fatal("Unrecoverable backend fault",
			zap.String("stage", stage),
			zap.String("fault", fe.Kind.String()),
			zap.Error(err))
		return
	}
	s.logger.Fatal("Unrecoverable backend error",
		zap.String("stage", stage),
		zap.Error(err))
}
