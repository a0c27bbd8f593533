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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeaudit/marian/pkg/marian/lib/beam"
	"github.com/codeaudit/marian/pkg/marian/lib/mblas"
)

func encOutOfLengths(firstLine uint64, lengths ...int) *beam.EncOut {
	sentences := make([]beam.Sentence, len(lengths))
	for i, n := range lengths {
		words := make([]uint32, n)
		for j := range words {
			words[j] = uint32(2 + j)
		}
		sentences[i] = beam.Sentence{LineNum: firstLine + uint64(i), Words: words}
	}
	batch := beam.NewBatch(sentences...)
	return beam.NewEncOut(batch, mblas.New(batch.Size(), 4))
}

func TestBufferFIFO(t *testing.T) {
	ctx := context.Background()
	buf := NewEncOutBuffer(3)

	first := encOutOfLengths(0, 2)
	second := encOutOfLengths(1, 3)
	require.NoError(t, buf.Push(ctx, first))
	require.NoError(t, buf.Push(ctx, second))
	assert.Equal(t, 2, buf.Len())

	got, err := buf.Pop(ctx)
	require.NoError(t, err)
	assert.Same(t, first, got)

	got, err = buf.Pop(ctx)
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestBufferPushBlocksWhenFull(t *testing.T) {
	buf := NewEncOutBuffer(1)
	require.NoError(t, buf.Push(context.Background(), encOutOfLengths(0, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := buf.Push(ctx, encOutOfLengths(1, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBufferPopBlocksUntilPush(t *testing.T) {
	buf := NewEncOutBuffer(1)
	pushed := encOutOfLengths(0, 2)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = buf.Push(context.Background(), pushed)
	}()

	got, err := buf.Pop(context.Background())
	require.NoError(t, err)
	assert.Same(t, pushed, got)
}

func TestBufferPopRespectsCancel(t *testing.T) {
	buf := NewEncOutBuffer(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := buf.Pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBufferCapacityClamped(t *testing.T) {
	assert.Equal(t, DefaultBufferCapacity, NewEncOutBuffer(0).Cap())
	assert.Equal(t, DefaultBufferCapacity, NewEncOutBuffer(-5).Cap())
	assert.Equal(t, 3, NewEncOutBuffer(3).Cap())
}
