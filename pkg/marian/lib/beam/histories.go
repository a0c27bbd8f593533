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
	"fmt"

	"go.uber.org/zap"
)

// Result is one finished translation handed to the output sink.
type Result struct {
	// LineNum is the original input line number.
	LineNum uint64
	// Words are the emitted target tokens, without the terminal end symbol.
	Words []uint32
	// Score is the hypothesis score, divided by output length when score
	// normalization is enabled.
	Score float32
	// StoppedAtEOS is false when the sentence was force-closed by the step
	// budget and Words is a partial path.
	StoppedAtEOS bool
}

// Writer is the output sink contract. Write may be called out of input
// order across line numbers; each line number is written exactly once.
type Writer interface {
	Write(lineNum uint64, result Result)
}

// history is the accumulated decode trace of one sentence.
type history struct {
	sentence  Sentence
	steps     []Beam // chosen hypotheses per step
	completed Beam   // hypotheses that emitted the end symbol
	closed    bool
	emitted   bool
}

// Histories owns the per-sentence decode traces, decides termination, and
// streams finished sentences to the output sink as soon as they complete.
type Histories struct {
	byLineNum map[uint64]*history
	writer    Writer
	eos       uint32
	normalize bool
	logger    *zap.Logger
}

// NewHistories creates a ledger writing finished sentences to w.
// normalize divides emitted scores by output length.
func NewHistories(w Writer, eosID uint32, normalize bool, logger *zap.Logger) *Histories {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Histories{
		byLineNum: make(map[uint64]*history),
		writer:    w,
		eos:       eosID,
		normalize: normalize,
		logger:    logger,
	}
}

// Init creates one open entry per sentence in the batch.
func (ht *Histories) Init(encOut *EncOut) {
	batch := encOut.Batch()
	ht.byLineNum = make(map[uint64]*history, batch.Size())
	for i := 0; i < batch.Size(); i++ {
		s := batch.Get(i)
		ht.byLineNum[s.LineNum] = &history{sentence: s}
	}
}

// Add appends the chosen hypotheses of one step. beams holds one Beam per
// live sentence, in tracker element order. Hypotheses that emitted the end
// symbol, or whose sentence exhausted its per-sentence step budget
// (3x source length), are terminal: they join the sentence's completed set
// and decrement its width in bs. A sentence whose width reaches 0 is closed
// and emitted immediately; other sentences in the same batch keep decoding.
//
// A beam may hold fewer hypotheses than the sentence's tracked width when
// the candidate pool cannot fill it, as under a narrow vocabulary filter.
// The width is shrunk to the actual count so the tracker stays in step
// with the state rows.
//
// The returned slice is aligned with beams: entry i holds the surviving
// hypotheses of sentence i (empty when the sentence closed).
func (ht *Histories) Add(beams []Beam, bs *BeamSize) []Beam {
	survivors := make([]Beam, len(beams))
	for i, bm := range beams {
		if len(bm) == 0 {
			continue
		}
		lineNum := bm[0].LineNum
		h, ok := ht.byLineNum[lineNum]
		if !ok || h.closed {
			panic(fmt.Sprintf("beam: Add for closed or unknown line %d", lineNum))
		}
		if w, _ := bs.Width(lineNum); int(w) > len(bm) {
			for n := int(w) - len(bm); n > 0; n-- {
				bs.Decr(lineNum)
			}
		}
		h.steps = append(h.steps, bm)
		budget := 3 * h.sentence.Size()

		var surv Beam
		for _, hyp := range bm {
			if hyp.Word == ht.eos || len(h.steps) >= budget {
				h.completed = append(h.completed, hyp)
				bs.Decr(lineNum)
				continue
			}
			surv = append(surv, hyp)
		}
		survivors[i] = surv

		if w, _ := bs.Width(lineNum); w == 0 {
			ht.close(h)
		}
	}
	return survivors
}

// CloseAll force-closes every still-open sentence and emits whatever
// partial path it has accumulated. Used when the batch-level step budget is
// exhausted before all sentences emitted an end symbol.
func (ht *Histories) CloseAll() {
	for _, h := range ht.byLineNum {
		if h.closed {
			continue
		}
		ht.logger.Debug("Force-closing sentence at step budget",
			zap.Uint64("line", h.sentence.LineNum),
			zap.Int("steps", len(h.steps)))
		ht.close(h)
	}
}

// close marks the entry closed and emits the best finished hypothesis,
// falling back to the best live hypothesis of the last step when the
// sentence never emitted an end symbol.
func (ht *Histories) close(h *history) {
	h.closed = true
	if h.emitted {
		panic(fmt.Sprintf("beam: double emission for line %d", h.sentence.LineNum))
	}

	best, stoppedAtEOS := ht.best(h)
	result := Result{
		LineNum:      h.sentence.LineNum,
		StoppedAtEOS: stoppedAtEOS,
	}
	if best != nil {
		words := best.Backtrace()
		if n := len(words); n > 0 && words[n-1] == ht.eos {
			words = words[:n-1]
		}
		result.Words = words
		result.Score = ht.finalScore(best)
	}

	h.emitted = true
	ht.writer.Write(result.LineNum, result)
	ht.logger.Debug("Emitted sentence",
		zap.Uint64("line", result.LineNum),
		zap.Int("words", len(result.Words)),
		zap.Float32("score", result.Score),
		zap.Bool("eos", result.StoppedAtEOS))
}

// best returns the highest scoring hypothesis to emit for h and whether it
// terminated at the end symbol.
func (ht *Histories) best(h *history) (*Hypothesis, bool) {
	pick := func(bm Beam) *Hypothesis {
		var best *Hypothesis
		for _, hyp := range bm {
			if best == nil || ht.finalScore(hyp) > ht.finalScore(best) {
				best = hyp
			}
		}
		return best
	}
	if len(h.completed) > 0 {
		best := pick(h.completed)
		return best, best.Word == ht.eos
	}
	if len(h.steps) > 0 {
		return pick(h.steps[len(h.steps)-1]), false
	}
	return nil, false
}

// finalScore applies optional length normalization.
func (ht *Histories) finalScore(h *Hypothesis) float32 {
	if !ht.normalize {
		return h.Score
	}
	n := h.Length()
	if n < 1 {
		n = 1
	}
	return h.Score / float32(n)
}

// OpenCount returns the number of sentences still decoding.
func (ht *Histories) OpenCount() int {
	n := 0
	for _, h := range ht.byLineNum {
		if !h.closed {
			n++
		}
	}
	return n
}
