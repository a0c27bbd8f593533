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

// Package beam holds the data model of the decode pipeline: sentences and
// batches, the encoded-batch descriptor, hypotheses, the per-sentence beam
// size tracker and the per-sentence decode histories.
package beam

// Sentence is one input token sequence. LineNum is the stable original
// input line number used to route output back into input order.
type Sentence struct {
	LineNum uint64
	Words   []uint32
}

// Size returns the number of source tokens. A size of zero is legal: the
// sentence still produces a start symbol and then closes immediately.
func (s Sentence) Size() int { return len(s.Words) }

// Batch is an ordered group of sentences decoded together as one dense
// computation. The order is fixed at creation.
type Batch struct {
	sentences []Sentence
}

// NewBatch creates a batch from the given sentences.
func NewBatch(sentences ...Sentence) *Batch {
	return &Batch{sentences: sentences}
}

// Size returns the number of sentences in the batch.
func (b *Batch) Size() int { return len(b.sentences) }

// Get returns the i-th sentence.
func (b *Batch) Get(i int) Sentence { return b.sentences[i] }

// MaxLength returns the longest source length in the batch.
func (b *Batch) MaxLength() int {
	maxLen := 0
	for _, s := range b.sentences {
		if s.Size() > maxLen {
			maxLen = s.Size()
		}
	}
	return maxLen
}
