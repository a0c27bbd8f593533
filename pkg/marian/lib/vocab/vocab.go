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

// Package vocab converts between text and token ids. It supports the
// classic marian plain-text vocabulary (one token per line) and
// HuggingFace tokenizer.json files.
package vocab

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Reserved marian vocabulary ids.
const (
	EOSID       uint32 = 0
	UnknownID   uint32 = 1
	EOSText            = "</s>"
	UnknownText        = "<unk>"
)

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	Encode(text string) []uint32
	Decode(ids []uint32) string
}

// Vocab is a plain-text vocabulary: one token per line, the id being the
// line index. Encoding splits on whitespace; unknown tokens map to
// UnknownID.
type Vocab struct {
	words []string
	ids   map[string]uint32
}

var _ Tokenizer = (*Vocab)(nil)

// New creates a vocabulary from an ordered word list.
func New(words []string) *Vocab {
	v := &Vocab{
		words: words,
		ids:   make(map[string]uint32, len(words)),
	}
	for i, w := range words {
		if _, ok := v.ids[w]; !ok {
			v.ids[w] = uint32(i)
		}
	}
	return v
}

// LoadVocab reads a plain-text vocabulary file.
func LoadVocab(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening vocabulary: %w", err)
	}
	defer func() { _ = f.Close() }()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		words = append(words, strings.TrimRight(scanner.Text(), "\r\n"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading vocabulary: %w", err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("empty vocabulary file %s", path)
	}
	return New(words), nil
}

// Size returns the vocabulary size.
func (v *Vocab) Size() int { return len(v.words) }

// Encode splits text on whitespace and maps each token to its id.
func (v *Vocab) Encode(text string) []uint32 {
	fields := strings.Fields(text)
	ids := make([]uint32, len(fields))
	for i, w := range fields {
		id, ok := v.ids[w]
		if !ok {
			id = UnknownID
		}
		ids[i] = id
	}
	return ids
}

// Decode joins the word of each id with spaces. Out-of-range ids render
// as the unknown token.
func (v *Vocab) Decode(ids []uint32) string {
	var sb strings.Builder
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if int(id) < len(v.words) {
			sb.WriteString(v.words[id])
		} else {
			sb.WriteString(UnknownText)
		}
	}
	return sb.String()
}

// Word returns the token text for an id.
func (v *Vocab) Word(id uint32) string {
	if int(id) < len(v.words) {
		return v.words[id]
	}
	return UnknownText
}
