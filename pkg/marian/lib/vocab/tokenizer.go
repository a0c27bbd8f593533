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

package vocab

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/go-huggingface/tokenizers/hftokenizer"
)

// Load auto-detects the tokenizer format from the path: a .json file loads
// as a HuggingFace tokenizer.json, anything else as a plain-text marian
// vocabulary.
func Load(path string) (Tokenizer, error) {
	if strings.HasSuffix(path, ".json") {
		return loadHuggingFace(path)
	}
	return LoadVocab(path)
}

// loadHuggingFace loads a HuggingFace Tokenizers file (BPE, WordPiece,
// etc.), reading tokenizer_config.json from the same directory when
// present.
func loadHuggingFace(path string) (Tokenizer, error) {
	var config *api.Config
	configPath := filepath.Join(filepath.Dir(path), "tokenizer_config.json")
	if _, err := os.Stat(configPath); err == nil {
		config, err = api.ParseConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("parsing tokenizer config: %w", err)
		}
	}

	tok, err := hftokenizer.NewFromFile(config, path)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer.json: %w", err)
	}
	return &hfTokenizer{tok: tok}, nil
}

// hfTokenizer adapts a go-huggingface tokenizer to the Tokenizer
// interface.
type hfTokenizer struct {
	tok tokenizers.Tokenizer
}

var _ Tokenizer = (*hfTokenizer)(nil)

func (t *hfTokenizer) Encode(text string) []uint32 {
	tokens := t.tok.Encode(text)
	ids := make([]uint32, len(tokens))
	for i, id := range tokens {
		ids[i] = uint32(id)
	}
	return ids
}

func (t *hfTokenizer) Decode(ids []uint32) string {
	ints := make([]int, len(ids))
	for i, id := range ids {
		ints[i] = int(id)
	}
	return t.tok.Decode(ints)
}
