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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVocab() *Vocab {
	return New([]string{EOSText, UnknownText, "the", "cat", "sat"})
}

func TestVocabEncode(t *testing.T) {
	v := testVocab()
	assert.Equal(t, []uint32{2, 3, 4}, v.Encode("the cat sat"))
	assert.Equal(t, []uint32{2, UnknownID, 4}, v.Encode("the dog sat"),
		"unknown tokens map to the reserved unknown id")
	assert.Empty(t, v.Encode("   "))
}

func TestVocabDecode(t *testing.T) {
	v := testVocab()
	assert.Equal(t, "the cat", v.Decode([]uint32{2, 3}))
	assert.Equal(t, "the <unk>", v.Decode([]uint32{2, 99}), "out-of-range ids render as unknown")
	assert.Empty(t, v.Decode(nil))
}

func TestVocabWord(t *testing.T) {
	v := testVocab()
	assert.Equal(t, EOSText, v.Word(EOSID))
	assert.Equal(t, "sat", v.Word(4))
	assert.Equal(t, UnknownText, v.Word(100))
}

func TestLoadVocabFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte("</s>\n<unk>\nhello\nworld\n"), 0o644))

	v, err := LoadVocab(path)
	require.NoError(t, err)
	assert.Equal(t, 4, v.Size())
	assert.Equal(t, []uint32{2, 3}, v.Encode("hello world"))
}

func TestLoadVocabErrors(t *testing.T) {
	_, err := LoadVocab(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = LoadVocab(empty)
	assert.Error(t, err)
}

func TestLoadDetectsFormat(t *testing.T) {
	// A non-json path loads as a plain-text vocabulary.
	path := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte("</s>\n<unk>\na\n"), 0o644))

	tok, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2}, tok.Encode("a"))
}
