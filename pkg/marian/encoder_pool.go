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
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/codeaudit/marian/pkg/marian/lib/backends"
	"github.com/codeaudit/marian/pkg/marian/lib/beam"
)

// Ensure EncoderPool implements the EncoderBackend interface
var _ backends.EncoderBackend = (*EncoderPool)(nil)

// EncoderPool wraps an encoder backend with a weighted semaphore so that at
// most poolSize batches run through the encoder at once. Backend sessions are
// not guaranteed to be safe for unbounded concurrent use.
type EncoderPool struct {
	encoder  backends.EncoderBackend
	sem      *semaphore.Weighted
	poolSize int
	logger   *zap.Logger
}

// NewEncoderPool creates a pool around enc with poolSize concurrent slots.
func NewEncoderPool(enc backends.EncoderBackend, poolSize int, logger *zap.Logger) *EncoderPool {
	if poolSize < 1 {
		poolSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EncoderPool{
		encoder:  enc,
		sem:      semaphore.NewWeighted(int64(poolSize)),
		poolSize: poolSize,
		logger:   logger,
	}
}

// Encode runs the batch through the underlying encoder, blocking while all
// slots are busy.
func (p *EncoderPool) Encode(ctx context.Context, batch *beam.Batch) (*beam.EncOut, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring encoder slot: %w", err)
	}
	defer p.sem.Release(1)

	p.logger.Debug("Encoding batch",
		zap.Int("sentences", batch.Size()),
		zap.Int("max_length", batch.MaxLength()))

	encOut, err := p.encoder.Encode(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}
	return encOut, nil
}

// PoolSize returns the number of concurrent encode slots.
func (p *EncoderPool) PoolSize() int {
	return p.poolSize
}
