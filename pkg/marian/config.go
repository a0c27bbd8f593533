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

// Package marian is the translation service: it wires a model backend,
// the encode/decode pipeline and an output sink together, and bounds the
// concurrency of incoming encode requests.
package marian

import "time"

// Config holds the translator service configuration.
type Config struct {
	// Backend selects the model backend ("cpu", "onnx"); empty picks the
	// highest-priority available one.
	Backend string

	// ModelPath points at the model directory for file-backed backends.
	ModelPath string

	// SourceVocab and TargetVocab are vocabulary paths (plain text or
	// tokenizer.json). Optional for the pure-Go backend.
	SourceVocab string
	TargetVocab string

	// BeamSize is the maximum beam width per sentence.
	BeamSize uint

	// NormalizeScore divides emitted scores by output length.
	NormalizeScore bool

	// BufferCapacity bounds the encode-to-decode pipeline buffer
	// (historically 1-3 slots).
	BufferCapacity int

	// MiniBatchSize is the number of sentences encoded together.
	MiniBatchSize int

	// MaxConcurrentEncodes bounds parallel encoder invocations.
	MaxConcurrentEncodes int

	// Admission queue limits for Encode callers; zero values disable the
	// respective limit.
	MaxConcurrentRequests int
	MaxQueueSize          int
	RequestTimeout        time.Duration

	// Model geometry for backends without a config file on disk.
	VocabSize  int
	HiddenSize int
}

// DefaultConfig returns the marian defaults.
func DefaultConfig() Config {
	return Config{
		BeamSize:             12,
		NormalizeScore:       true,
		BufferCapacity:       1,
		MiniBatchSize:        64,
		MaxConcurrentEncodes: 1,
		VocabSize:            256,
		HiddenSize:           32,
	}
}
