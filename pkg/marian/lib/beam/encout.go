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

import "github.com/codeaudit/marian/pkg/marian/lib/mblas"

// EncOut is the immutable result of encoding one batch: the sentence batch,
// the computed source representation and the batch's maximum source length.
// It is produced once by the encoder and then shared read-only by every
// hypothesis spawned from it.
type EncOut struct {
	batch         *Batch
	sourceContext *mblas.Matrix
	maxLength     int
}

// NewEncOut creates an EncOut for the given batch and source context.
func NewEncOut(batch *Batch, sourceContext *mblas.Matrix) *EncOut {
	return &EncOut{
		batch:         batch,
		sourceContext: sourceContext,
		maxLength:     batch.MaxLength(),
	}
}

// Sentinel returns the distinguished empty-batch value used to signal
// orderly pipeline shutdown.
func Sentinel() *EncOut {
	return &EncOut{batch: NewBatch()}
}

// Empty reports whether this is the shutdown sentinel (a batch with no
// sentences).
func (e *EncOut) Empty() bool { return e.batch.Size() == 0 }

// Batch returns the sentence batch.
func (e *EncOut) Batch() *Batch { return e.batch }

// SourceContext returns the encoded source representation.
func (e *EncOut) SourceContext() *mblas.Matrix { return e.sourceContext }

// MaxLength returns the longest source length in the batch.
func (e *EncOut) MaxLength() int { return e.maxLength }
