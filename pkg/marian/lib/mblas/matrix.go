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

// Package mblas provides the dense matrix support used by the decode
// pipeline: the recurrent state, embeddings and source context are all
// row-major float32 matrices, and survivor selection is expressed as a
// row gather (Assemble).
package mblas

import "fmt"

// Matrix is a dense row-major float32 matrix.
// A row corresponds to one live hypothesis throughout the decode pipeline.
type Matrix struct {
	rows int
	cols int
	data []float32
}

// New creates a zeroed rows x cols matrix.
func New(rows, cols int) *Matrix {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("mblas: invalid shape %dx%d", rows, cols))
	}
	return &Matrix{
		rows: rows,
		cols: cols,
		data: make([]float32, rows*cols),
	}
}

// FromRows creates a matrix from a slice of equally sized rows.
func FromRows(rows [][]float32) *Matrix {
	if len(rows) == 0 {
		return New(0, 0)
	}
	m := New(len(rows), len(rows[0]))
	for i, row := range rows {
		if len(row) != m.cols {
			panic(fmt.Sprintf("mblas: ragged row %d: got %d columns, want %d", i, len(row), m.cols))
		}
		copy(m.data[i*m.cols:], row)
	}
	return m
}

// Rows returns the row count.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the column count.
func (m *Matrix) Cols() int { return m.cols }

// At returns the element at (i, j).
func (m *Matrix) At(i, j int) float32 {
	m.check(i, j)
	return m.data[i*m.cols+j]
}

// Set stores v at (i, j).
func (m *Matrix) Set(i, j int, v float32) {
	m.check(i, j)
	m.data[i*m.cols+j] = v
}

// Row returns row i as a slice sharing the matrix's storage.
func (m *Matrix) Row(i int) []float32 {
	if i < 0 || i >= m.rows {
		panic(fmt.Sprintf("mblas: row %d out of range [0,%d)", i, m.rows))
	}
	return m.data[i*m.cols : (i+1)*m.cols]
}

// Data returns the backing slice in row-major order.
func (m *Matrix) Data() []float32 { return m.data }

// Fill sets every element to v.
func (m *Matrix) Fill(v float32) {
	for i := range m.data {
		m.data[i] = v
	}
}

// Resize reallocates the matrix to rows x cols, zeroing all elements.
// The previous contents are discarded.
func (m *Matrix) Resize(rows, cols int) {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("mblas: invalid shape %dx%d", rows, cols))
	}
	m.rows = rows
	m.cols = cols
	m.data = make([]float32, rows*cols)
}

// Copy returns a deep copy of the matrix.
func (m *Matrix) Copy() *Matrix {
	out := New(m.rows, m.cols)
	copy(out.data, m.data)
	return out
}

// Assemble gathers the given rows into a fresh matrix, in index order.
// An index may repeat (a surviving hypothesis set can extend the same
// parent row more than once). Out-of-range indices are a programming
// error and panic.
func (m *Matrix) Assemble(indices []int) *Matrix {
	out := New(len(indices), m.cols)
	for i, idx := range indices {
		if idx < 0 || idx >= m.rows {
			panic(fmt.Sprintf("mblas: assemble index %d out of range [0,%d)", idx, m.rows))
		}
		copy(out.data[i*m.cols:(i+1)*m.cols], m.data[idx*m.cols:(idx+1)*m.cols])
	}
	return out
}

func (m *Matrix) check(i, j int) {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		panic(fmt.Sprintf("mblas: index (%d,%d) out of range %dx%d", i, j, m.rows, m.cols))
	}
}
