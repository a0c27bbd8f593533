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
	"strings"
)

// sentenceElement tracks one live sentence: the EncOut that owns it, its
// index within that batch, and its current beam width.
type sentenceElement struct {
	encOut        *EncOut
	sentenceIndex int
	size          uint
}

func (e *sentenceElement) sentence() Sentence {
	return e.encOut.Batch().Get(e.sentenceIndex)
}

// BeamSize maps the ragged, shrinking set of live hypotheses onto the dense
// sentence-major row layout used by batched tensor operations. Rows are
// ordered by element order: element i owns the next Widths()[i] rows.
//
// Widths start at 1 (a single start hypothesis per sentence), fan out to the
// configured maximum after the first step, and thereafter only shrink. An
// element whose width reached 0 must be removed with DeleteEmpty before the
// next step.
type BeamSize struct {
	elements  []*sentenceElement
	byLineNum map[uint64]*sentenceElement
	total     uint
	maxLength int
}

// NewBeamSize creates an empty tracker.
func NewBeamSize() *BeamSize {
	return &BeamSize{byLineNum: make(map[uint64]*sentenceElement)}
}

// Init seeds one element per sentence in the batch with width 1.
// Any previous contents are discarded.
func (b *BeamSize) Init(encOut *EncOut) {
	batch := encOut.Batch()
	b.elements = make([]*sentenceElement, 0, batch.Size())
	b.byLineNum = make(map[uint64]*sentenceElement, batch.Size())
	b.total = 0
	b.maxLength = encOut.MaxLength()
	for i := 0; i < batch.Size(); i++ {
		el := &sentenceElement{encOut: encOut, sentenceIndex: i, size: 1}
		b.elements = append(b.elements, el)
		b.byLineNum[batch.Get(i).LineNum] = el
		b.total++
	}
}

// SetAll sets every live element's width to w. Called once per batch, after
// the first decode step, to fan out from 1 candidate per sentence to the
// configured maximum.
func (b *BeamSize) SetAll(w uint) {
	b.total = 0
	for _, el := range b.elements {
		el.size = w
		b.total += w
	}
}

// Decr reduces the width of the sentence with the given line number by 1.
// Decrementing a width that is already 0, or an unknown line number, is a
// programming error and panics.
func (b *BeamSize) Decr(lineNum uint64) {
	el, ok := b.byLineNum[lineNum]
	if !ok {
		panic(fmt.Sprintf("beam: Decr of unknown line %d", lineNum))
	}
	if el.size == 0 {
		panic(fmt.Sprintf("beam: Decr below zero for line %d", lineNum))
	}
	el.size--
	b.total--
}

// Width returns the current beam width for the given line number.
func (b *BeamSize) Width(lineNum uint64) (uint, bool) {
	el, ok := b.byLineNum[lineNum]
	if !ok {
		return 0, false
	}
	return el.size, true
}

// Widths returns the per-element widths in element order. The sum of the
// returned widths equals Total().
func (b *BeamSize) Widths() []uint {
	widths := make([]uint, len(b.elements))
	for i, el := range b.elements {
		widths[i] = el.size
	}
	return widths
}

// Total returns the sum of all live widths: the required row count of the
// recurrent state and of every per-step batched tensor.
func (b *BeamSize) Total() uint { return b.total }

// Size returns the number of live sentences.
func (b *BeamSize) Size() int { return len(b.elements) }

// GetSentence returns the i-th live sentence, in element order.
func (b *BeamSize) GetSentence(i int) Sentence { return b.elements[i].sentence() }

// GetByLineNum looks up a live sentence by original line number.
func (b *BeamSize) GetByLineNum(lineNum uint64) (Sentence, bool) {
	el, ok := b.byLineNum[lineNum]
	if !ok {
		return Sentence{}, false
	}
	return el.sentence(), true
}

// MaxLength returns the maximum source length of the current batch.
func (b *BeamSize) MaxLength() int { return b.maxLength }

// DeleteEmpty removes elements whose width reached 0 without disturbing the
// relative order of the remainder, and returns the number removed. The
// caller must rebuild state row indices after a non-zero return since the
// row geometry changed.
func (b *BeamSize) DeleteEmpty() int {
	kept := b.elements[:0]
	removed := 0
	for _, el := range b.elements {
		if el.size == 0 {
			delete(b.byLineNum, el.sentence().LineNum)
			removed++
			continue
		}
		kept = append(kept, el)
	}
	b.elements = kept
	return removed
}

// Debug returns a human readable dump. Verbosity 0 gives a one-line
// summary, higher values list per-sentence widths.
func (b *BeamSize) Debug(verbosity int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "BeamSize{sentences=%d total=%d maxLength=%d}", len(b.elements), b.total, b.maxLength)
	if verbosity > 0 {
		for _, el := range b.elements {
			fmt.Fprintf(&sb, "\n  line=%d ind=%d size=%d", el.sentence().LineNum, el.sentenceIndex, el.size)
		}
	}
	return sb.String()
}
