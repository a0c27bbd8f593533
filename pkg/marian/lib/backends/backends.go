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

// Package backends defines the contracts between the decode pipeline and
// the numeric model layer: source encoding, the recurrent step model, and
// the best-hypotheses scorer. Backends register themselves and are selected
// by priority, so accelerated implementations (ONNX Runtime) take over from
// the always-available pure-Go one when built in.
package backends

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/codeaudit/marian/pkg/marian/lib/beam"
	"github.com/codeaudit/marian/pkg/marian/lib/mblas"
)

// State is the opaque per-step recurrent model state: the hidden
// representation plus the embedding of each row's last emitted token.
// Its row count always equals the current total live-hypothesis count.
type State struct {
	Hidden     *mblas.Matrix
	Embeddings *mblas.Matrix
}

// Rows returns the live-hypothesis row count.
func (s *State) Rows() int { return s.Hidden.Rows() }

// EncoderBackend encodes a sentence batch into an EncOut.
// Encode is pure: it reads no shared mutable state.
type EncoderBackend interface {
	Encode(ctx context.Context, batch *beam.Batch) (*beam.EncOut, error)
}

// StepModel is the recurrent decoder cell. All operations are pure
// functions of their inputs; AdvanceState preserves the row count.
type StepModel interface {
	// EmptyState builds the initial state, one row per sentence in the
	// batch, derived from the encoded source context.
	EmptyState(encOut *beam.EncOut) *State

	// EmptyEmbedding returns a zeroed embedding matrix with the given rows.
	EmptyEmbedding(rows int) *mblas.Matrix

	// AdvanceState computes the next hidden state from the current state
	// and the per-row source context. context must be row-aligned with
	// state (the engine gathers it from the EncOut source representation).
	AdvanceState(state *State, context *mblas.Matrix) (*mblas.Matrix, error)

	// LookupEmbedding returns one embedding row per token id.
	// Out-of-vocabulary ids map to the reserved unknown id.
	LookupEmbedding(ids []uint32) *mblas.Matrix

	// VocabSize returns the target vocabulary size.
	VocabSize() int
}

// Scorer produces the per-sentence top candidates for one step.
type Scorer interface {
	// ScoreCandidates expands every previous hypothesis with the scored
	// vocabulary and returns the best candidates per sentence. prev holds
	// one Beam per live sentence in tracker order; the flattened prev
	// hypotheses correspond one-to-one with the rows of state. widths[i]
	// is a hard cap on candidates returned for sentence i; fewer may come
	// back when a vocabulary filter leaves too small a pool. Ties break
	// by candidate-generation order so output is reproducible.
	ScoreCandidates(prev []beam.Beam, state *mblas.Matrix, widths []uint) ([]beam.Beam, error)

	// Filter narrows scoring to a vocabulary subset until changed.
	// A nil or empty set restores the full vocabulary.
	Filter(ids []uint32)
}

// ModelSet bundles the three collaborators a backend provides, plus the
// config they were loaded with.
type ModelSet struct {
	Encoder EncoderBackend
	Model   StepModel
	Scorer  Scorer
	Config  *DecoderConfig
}

// DecoderConfig holds the model-level constants the pipeline needs.
type DecoderConfig struct {
	VocabSize  int
	HiddenSize int

	// Reserved token ids, following the marian vocabulary convention:
	// 0 is the end symbol </s>, 1 is <unk>.
	EOSTokenID     uint32
	BOSTokenID     uint32
	UnknownTokenID uint32

	// ModelPath points at the model directory for backends that load
	// weights from disk. The pure-Go backend ignores it.
	ModelPath string
}

// DefaultDecoderConfig returns sensible defaults for the pure-Go backend.
func DefaultDecoderConfig() *DecoderConfig {
	return &DecoderConfig{
		VocabSize:      256,
		HiddenSize:     32,
		EOSTokenID:     0,
		BOSTokenID:     0,
		UnknownTokenID: 1,
	}
}

// BackendType identifies a backend implementation.
type BackendType string

const (
	BackendCPU  BackendType = "cpu"
	BackendONNX BackendType = "onnx"
)

// Backend creates ModelSets for one implementation.
type Backend interface {
	// Type returns the backend identifier.
	Type() BackendType

	// Name returns a human readable name for logging.
	Name() string

	// Available reports whether the backend can run in this build.
	Available() bool

	// Priority orders backend auto-selection; higher wins.
	Priority() int

	// Load builds the collaborator set for the given config.
	Load(cfg *DecoderConfig, logger *zap.Logger) (*ModelSet, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[BackendType]Backend{}
)

// RegisterBackend registers a backend implementation. Called from backend
// init functions.
func RegisterBackend(b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[b.Type()] = b
}

// SelectBackend returns the backend with the given type, or, when requested
// is empty, the highest-priority available backend.
func SelectBackend(requested BackendType) (Backend, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if requested != "" {
		b, ok := registry[requested]
		if !ok {
			return nil, fmt.Errorf("unknown backend %q", requested)
		}
		if !b.Available() {
			return nil, fmt.Errorf("backend %q not available in this build", requested)
		}
		return b, nil
	}

	candidates := make([]Backend, 0, len(registry))
	for _, b := range registry {
		if b.Available() {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no backend available")
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Priority() > candidates[j].Priority()
	})
	return candidates[0], nil
}
