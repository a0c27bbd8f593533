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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestQueueUnlimited(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{}, zaptest.NewLogger(t))
	assert.False(t, q.IsEnabled())

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	release()

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.TotalProcessed)
	assert.Zero(t, stats.CurrentActive)
}

func TestQueueAcquireRelease(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{MaxConcurrentRequests: 1}, zaptest.NewLogger(t))
	require.True(t, q.IsEnabled())

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), q.Stats().CurrentActive)

	release()
	assert.Zero(t, q.Stats().CurrentActive)
	assert.Equal(t, int64(1), q.Stats().TotalProcessed)
}

func TestQueueFullRejection(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: 1,
		MaxQueueSize:          1,
		RequestTimeout:        time.Second,
	}, zaptest.NewLogger(t))

	// Occupy the single slot.
	release, err := q.Acquire(context.Background())
	require.NoError(t, err)

	// Fill the single queue slot with a waiter.
	waiterErr := make(chan error, 1)
	go func() {
		rel, err := q.Acquire(context.Background())
		if err == nil {
			rel()
		}
		waiterErr <- err
	}()

	// Wait until the waiter is queued.
	require.Eventually(t, func() bool {
		return q.Stats().CurrentQueued == 1
	}, time.Second, 5*time.Millisecond)

	// The next caller finds the queue full.
	_, err = q.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), q.Stats().TotalRejected)

	release()
	require.NoError(t, <-waiterErr)
}

func TestQueueTimeout(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: 1,
		MaxQueueSize:          5,
		RequestTimeout:        20 * time.Millisecond,
	}, zaptest.NewLogger(t))

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = q.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, int64(1), q.Stats().TotalTimedOut)
}

func TestQueueRespectsCallerCancel(t *testing.T) {
	q := NewRequestQueue(RequestQueueConfig{MaxConcurrentRequests: 1}, zaptest.NewLogger(t))

	release, err := q.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = q.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
