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
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/codeaudit/marian/pkg/marian/lib/backends"
	"github.com/codeaudit/marian/pkg/marian/lib/beam"
	"github.com/codeaudit/marian/pkg/marian/lib/pipeline"
)

// ErrTranslatorClosed is returned by Encode after Shutdown has started.
var ErrTranslatorClosed = errors.New("translator is shut down")

// Translator owns the full encode/decode pipeline: a backend model set, a
// bounded encoder pool on the producer side, the pipeline buffer, and one
// decode worker consuming from it. Callers feed sentence batches through
// Encode from any number of goroutines; finished sentences stream to the
// writer in completion order, each tagged with its line number.
type Translator struct {
	cfg     Config
	set     *backends.ModelSet
	encoder *EncoderPool
	queue   *RequestQueue
	buffer  *pipeline.EncOutBuffer
	search  *pipeline.Search
	logger  *zap.Logger

	wg        sync.WaitGroup
	workerErr error

	// mu serializes Shutdown against in-flight Encodes: an Encode holds
	// the read lock from the closed check through its buffer push, so the
	// shutdown sentinel can never slip in front of an admitted batch.
	mu     sync.RWMutex
	closed bool
}

// NewTranslator loads the configured backend, wires the pipeline and starts
// the decode worker. The writer receives every finished sentence exactly
// once; it is called from the worker goroutine only.
func NewTranslator(cfg Config, writer beam.Writer, logger *zap.Logger) (*Translator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	backend, err := backends.SelectBackend(backends.BackendType(cfg.Backend))
	if err != nil {
		return nil, fmt.Errorf("selecting backend: %w", err)
	}

	dcfg := backends.DefaultDecoderConfig()
	dcfg.ModelPath = cfg.ModelPath
	if cfg.VocabSize > 0 {
		dcfg.VocabSize = cfg.VocabSize
	}
	if cfg.HiddenSize > 0 {
		dcfg.HiddenSize = cfg.HiddenSize
	}

	set, err := backend.Load(dcfg, logger)
	if err != nil {
		return nil, fmt.Errorf("loading backend %q: %w", backend.Name(), err)
	}
	logger.Info("Backend loaded",
		zap.String("backend", backend.Name()),
		zap.Int("vocab_size", set.Config.VocabSize),
		zap.Int("hidden_size", set.Config.HiddenSize))

	buffer := pipeline.NewEncOutBuffer(cfg.BufferCapacity)
	searchCfg := pipeline.SearchConfig{
		MaxBeamSize:    cfg.BeamSize,
		NormalizeScore: cfg.NormalizeScore,
		EOSTokenID:     set.Config.EOSTokenID,
		BOSTokenID:     set.Config.BOSTokenID,
	}
	search := pipeline.NewSearch(buffer, set.Model, set.Scorer, writer, searchCfg, logger)

	t := &Translator{
		cfg:     cfg,
		set:     set,
		encoder: NewEncoderPool(set.Encoder, cfg.MaxConcurrentEncodes, logger),
		queue: NewRequestQueue(RequestQueueConfig{
			MaxConcurrentRequests: cfg.MaxConcurrentRequests,
			MaxQueueSize:          cfg.MaxQueueSize,
			RequestTimeout:        cfg.RequestTimeout,
		}, logger),
		buffer: buffer,
		search: search,
		logger: logger,
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		// The worker runs detached from any caller context; it stops on
		// the shutdown sentinel pushed by Shutdown.
		t.workerErr = t.search.Run(context.Background())
	}()

	return t, nil
}

// Encode admits the batch through the request queue, runs it through the
// encoder pool and hands the result to the decode worker. Blocks while the
// pipeline buffer is full; that backpressure is what bounds memory when
// decoding lags behind encoding.
func (t *Translator) Encode(ctx context.Context, batch *beam.Batch) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrTranslatorClosed
	}
	if batch == nil || batch.Size() == 0 {
		return errors.New("empty batch")
	}

	release, err := t.queue.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	encOut, err := t.encoder.Encode(ctx, batch)
	if err != nil {
		return err
	}
	return t.buffer.Push(ctx, encOut)
}

// Shutdown pushes the shutdown sentinel and waits for the decode worker to
// drain every batch queued before it. Safe to call once; Encode calls after
// Shutdown return ErrTranslatorClosed.
func (t *Translator) Shutdown(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTranslatorClosed
	}
	t.closed = true
	// Pushing under the write lock means every Encode that passed the
	// closed check has already pushed its batch; the sentinel is last.
	err := t.buffer.Push(ctx, beam.Sentinel())
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("pushing shutdown sentinel: %w", err)
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return t.workerErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Filter narrows scoring to a vocabulary subset until changed. Must not be
// called while batches are in flight.
func (t *Translator) Filter(ids []uint32) {
	t.set.Scorer.Filter(ids)
}

// Config returns the decoder-level constants of the loaded backend.
func (t *Translator) Config() *backends.DecoderConfig {
	return t.set.Config
}

// QueueStats returns admission-queue statistics.
func (t *Translator) QueueStats() QueueStats {
	return t.queue.Stats()
}
