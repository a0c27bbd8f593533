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

// Package pipeline connects source encoding to step-wise decoding: a
// bounded FIFO buffer carries encoded batches to the single consumer that
// runs the beam-search loop and streams finished sentences to the output
// sink.
package pipeline

import (
	"context"

	"github.com/codeaudit/marian/pkg/marian/lib/beam"
)

// EncOutBuffer is the bounded, blocking producer/consumer queue between
// the encode path and the decode path. It is the sole backpressure
// mechanism: when decoding is slower, producers block on Push, capping
// memory growth to the buffer capacity.
type EncOutBuffer struct {
	ch chan *beam.EncOut
}

// DefaultBufferCapacity is the historical single-slot pipeline depth.
const DefaultBufferCapacity = 1

// NewEncOutBuffer creates a buffer with the given capacity.
// Capacities below 1 are clamped to DefaultBufferCapacity.
func NewEncOutBuffer(capacity int) *EncOutBuffer {
	if capacity < 1 {
		capacity = DefaultBufferCapacity
	}
	return &EncOutBuffer{ch: make(chan *beam.EncOut, capacity)}
}

// Push enqueues an encoded batch, blocking while the buffer is at
// capacity. Safe for concurrent use with Pop.
func (b *EncOutBuffer) Push(ctx context.Context, encOut *beam.EncOut) error {
	select {
	case b.ch <- encOut:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop dequeues the oldest batch, blocking while the buffer is empty.
// Batches come out in strict FIFO order: batch N+1 is never decoded
// before batch N in the single-consumer design.
func (b *EncOutBuffer) Pop(ctx context.Context) (*beam.EncOut, error) {
	select {
	case encOut := <-b.ch:
		return encOut, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cap returns the buffer capacity.
func (b *EncOutBuffer) Cap() int { return cap(b.ch) }

// Len returns the number of queued batches.
func (b *EncOutBuffer) Len() int { return len(b.ch) }
