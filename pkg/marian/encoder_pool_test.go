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

package marian

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/codeaudit/marian/pkg/marian/lib/beam"
	"github.com/codeaudit/marian/pkg/marian/lib/mblas"
)

// countingEncoder records the peak number of concurrent Encode calls.
type countingEncoder struct {
	active  atomic.Int64
	peak    atomic.Int64
	entered chan struct{}
	release chan struct{}
}

func (e *countingEncoder) Encode(ctx context.Context, batch *beam.Batch) (*beam.EncOut, error) {
	n := e.active.Add(1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if e.entered != nil {
		e.entered <- struct{}{}
		<-e.release
	}
	e.active.Add(-1)
	return beam.NewEncOut(batch, mblas.New(batch.Size(), 2)), nil
}

func TestEncoderPoolBoundsConcurrency(t *testing.T) {
	enc := &countingEncoder{
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	pool := NewEncoderPool(enc, 2, zaptest.NewLogger(t))
	require.Equal(t, 2, pool.PoolSize())

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := pool.Encode(ctx, makeBatch(uint64(i), 2))
			assert.NoError(t, err)
		}(i)
	}

	// Two callers enter, the rest wait on the semaphore.
	<-enc.entered
	<-enc.entered
	assert.Equal(t, int64(2), enc.active.Load())
	close(enc.release)
	wg.Wait()

	assert.LessOrEqual(t, enc.peak.Load(), int64(2))
}

func TestEncoderPoolRespectsCancel(t *testing.T) {
	enc := &countingEncoder{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	pool := NewEncoderPool(enc, 1, zaptest.NewLogger(t))

	go func() {
		_, _ = pool.Encode(context.Background(), makeBatch(0, 1))
	}()
	<-enc.entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pool.Encode(ctx, makeBatch(1, 1))
	assert.Error(t, err)
	close(enc.release)
}

func TestEncoderPoolClampsSize(t *testing.T) {
	pool := NewEncoderPool(&countingEncoder{}, 0, nil)
	assert.Equal(t, 1, pool.PoolSize())
}
