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
	"fmt"
	"io"
	"sync"

	"github.com/codeaudit/marian/pkg/marian/lib/beam"
)

// CollectorWriter is an output sink that retains every result in memory,
// keyed by line number, and records the emission order. It tolerates
// out-of-order writes and rejects duplicates.
type CollectorWriter struct {
	mu      sync.Mutex
	results map[uint64]beam.Result
	order   []uint64
}

var _ beam.Writer = (*CollectorWriter)(nil)

// NewCollectorWriter creates an empty collector.
func NewCollectorWriter() *CollectorWriter {
	return &CollectorWriter{results: make(map[uint64]beam.Result)}
}

// Write records one result. A second write for the same line number is a
// programming error and panics: each line is emitted exactly once.
func (w *CollectorWriter) Write(lineNum uint64, result beam.Result) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.results[lineNum]; ok {
		panic(fmt.Sprintf("pipeline: duplicate write for line %d", lineNum))
	}
	w.results[lineNum] = result
	w.order = append(w.order, lineNum)
}

// Result returns the recorded result for a line number.
func (w *CollectorWriter) Result(lineNum uint64) (beam.Result, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.results[lineNum]
	return r, ok
}

// Count returns the number of recorded results.
func (w *CollectorWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.results)
}

// EmissionOrder returns the line numbers in the order they were written.
func (w *CollectorWriter) EmissionOrder() []uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]uint64(nil), w.order...)
}

// FormatFunc serializes one result into an output line.
type FormatFunc func(beam.Result) string

// OrderedWriter streams results to an io.Writer in original input order.
// Results may arrive out of order across line numbers; each one is held
// until every earlier line has been written, then flushed immediately.
// Line numbers are assumed contiguous from firstLine.
type OrderedWriter struct {
	mu      sync.Mutex
	out     io.Writer
	format  FormatFunc
	pending map[uint64]beam.Result
	next    uint64
}

var _ beam.Writer = (*OrderedWriter)(nil)

// NewOrderedWriter creates a writer emitting from firstLine upward.
func NewOrderedWriter(out io.Writer, firstLine uint64, format FormatFunc) *OrderedWriter {
	if format == nil {
		format = func(r beam.Result) string {
			return fmt.Sprint(r.Words)
		}
	}
	return &OrderedWriter{
		out:     out,
		format:  format,
		pending: make(map[uint64]beam.Result),
		next:    firstLine,
	}
}

// Write buffers the result and flushes every contiguously available line.
func (w *OrderedWriter) Write(lineNum uint64, result beam.Result) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if lineNum < w.next {
		panic(fmt.Sprintf("pipeline: duplicate write for line %d", lineNum))
	}
	w.pending[lineNum] = result
	for {
		r, ok := w.pending[w.next]
		if !ok {
			return
		}
		fmt.Fprintln(w.out, w.format(r))
		delete(w.pending, w.next)
		w.next++
	}
}

// Pending returns the number of results still waiting on earlier lines.
func (w *OrderedWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
