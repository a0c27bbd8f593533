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

// Hypothesis is one candidate continuation of a sentence: the emitted word,
// the cumulative score, and a backpointer to the hypothesis it extends.
// PrevIndex is the row of the recurrent state tensor the parent occupied at
// scoring time; the engine gathers those rows to build the next state.
type Hypothesis struct {
	LineNum   uint64
	Word      uint32
	Score     float32
	PrevIndex int
	Prev      *Hypothesis
}

// NewHypothesis creates a hypothesis extending prev with word.
func NewHypothesis(prev *Hypothesis, word uint32, score float32, prevIndex int) *Hypothesis {
	h := &Hypothesis{
		Word:      word,
		Score:     score,
		PrevIndex: prevIndex,
		Prev:      prev,
	}
	if prev != nil {
		h.LineNum = prev.LineNum
	}
	return h
}

// NewRootHypothesis creates the initial single hypothesis for a sentence.
// Its word is the decoder start symbol and its PrevIndex is the row the
// sentence occupies in the initial state.
func NewRootHypothesis(lineNum uint64, startWord uint32, row int) *Hypothesis {
	return &Hypothesis{
		LineNum:   lineNum,
		Word:      startWord,
		PrevIndex: row,
	}
}

// Length returns the number of emitted words, excluding the root.
func (h *Hypothesis) Length() int {
	n := 0
	for cur := h; cur != nil && cur.Prev != nil; cur = cur.Prev {
		n++
	}
	return n
}

// Backtrace returns the emitted words from the first step to this
// hypothesis, excluding the root's start symbol.
func (h *Hypothesis) Backtrace() []uint32 {
	words := make([]uint32, 0, h.Length())
	for cur := h; cur != nil && cur.Prev != nil; cur = cur.Prev {
		words = append(words, cur.Word)
	}
	// Reverse into emission order.
	for i, j := 0, len(words)-1; i < j; i, j = i+1, j-1 {
		words[i], words[j] = words[j], words[i]
	}
	return words
}

// Beam is the set of hypotheses tracked for one sentence at one step.
type Beam []*Hypothesis
