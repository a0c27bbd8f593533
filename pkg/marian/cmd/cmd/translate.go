// Copyright 2025 The Marian Go Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/codeaudit/marian/pkg/marian"
	"github.com/codeaudit/marian/pkg/marian/lib/beam"
	"github.com/codeaudit/marian/pkg/marian/lib/pipeline"
	"github.com/codeaudit/marian/pkg/marian/lib/vocab"
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate text line by line",
	Long: `Read sentences from a file or stdin, decode them with beam search
and write one translation per input line, in input order.`,
	RunE: runTranslate,
}

func init() {
	rootCmd.AddCommand(translateCmd)

	// Translate command flags
	translateCmd.Flags().String("input", "", "input file (default: stdin)")
	translateCmd.Flags().String("output", "", "output file (default: stdout)")
	translateCmd.Flags().StringP("source-vocab", "s", "", "source vocabulary (plain text or tokenizer.json)")
	translateCmd.Flags().StringP("target-vocab", "t", "", "target vocabulary (plain text or tokenizer.json)")
	translateCmd.Flags().Uint("beam-size", 12, "beam width per sentence")
	translateCmd.Flags().Bool("normalize", true, "divide scores by output length")
	translateCmd.Flags().Int("mini-batch", 64, "sentences per encode batch")
	translateCmd.Flags().Int("buffer-capacity", 1, "encode-to-decode pipeline depth")
	translateCmd.Flags().Bool("n-best", false, "print scores alongside translations")

	mustBindPFlag("input", translateCmd.Flags().Lookup("input"))
	mustBindPFlag("output", translateCmd.Flags().Lookup("output"))
	mustBindPFlag("source_vocab", translateCmd.Flags().Lookup("source-vocab"))
	mustBindPFlag("target_vocab", translateCmd.Flags().Lookup("target-vocab"))
	mustBindPFlag("beam_size", translateCmd.Flags().Lookup("beam-size"))
	mustBindPFlag("normalize", translateCmd.Flags().Lookup("normalize"))
	mustBindPFlag("mini_batch", translateCmd.Flags().Lookup("mini-batch"))
	mustBindPFlag("buffer_capacity", translateCmd.Flags().Lookup("buffer-capacity"))
	mustBindPFlag("n_best", translateCmd.Flags().Lookup("n-best"))
}

func runTranslate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Create logger from config
	logger := newLogger(viper.GetString("log.level"), viper.GetString("log.style"))
	defer func() {
		_ = logger.Sync()
	}()

	// Build translator config from viper/env
	cfg := marian.DefaultConfig()
	cfg.Backend = viper.GetString("backend")
	cfg.ModelPath = viper.GetString("model")
	cfg.SourceVocab = viper.GetString("source_vocab")
	cfg.TargetVocab = viper.GetString("target_vocab")
	cfg.BeamSize = viper.GetUint("beam_size")
	cfg.NormalizeScore = viper.GetBool("normalize")
	cfg.MiniBatchSize = viper.GetInt("mini_batch")
	cfg.BufferCapacity = viper.GetInt("buffer_capacity")

	in, closeIn, err := openInput(viper.GetString("input"))
	if err != nil {
		return err
	}
	defer closeIn()

	out, closeOut, err := openOutput(viper.GetString("output"))
	if err != nil {
		return err
	}
	defer closeOut()

	encode, decode, err := loadVocabs(cfg, logger)
	if err != nil {
		return err
	}

	nBest := viper.GetBool("n_best")
	writer := pipeline.NewOrderedWriter(out, 0, func(r beam.Result) string {
		line := decode(r.Words)
		if nBest {
			return fmt.Sprintf("%s ||| %.4f", line, r.Score)
		}
		return line
	})

	translator, err := marian.NewTranslator(cfg, writer, logger)
	if err != nil {
		return err
	}

	if err := feedBatches(ctx, translator, in, encode, cfg.MiniBatchSize, logger); err != nil {
		return err
	}

	if err := translator.Shutdown(ctx); err != nil {
		return fmt.Errorf("draining pipeline: %w", err)
	}
	logger.Info("Translation complete",
		zap.Int64("batches", translator.QueueStats().TotalProcessed))
	return nil
}

// feedBatches reads input lines, groups them into mini-batches and pushes
// each through the translator. Line numbers run from zero in input order.
func feedBatches(
	ctx context.Context,
	translator *marian.Translator,
	in io.Reader,
	encode func(string) []uint32,
	batchSize int,
	logger *zap.Logger,
) error {
	if batchSize < 1 {
		batchSize = 1
	}

	var (
		lineNum   uint64
		sentences []beam.Sentence
	)
	flush := func() error {
		if len(sentences) == 0 {
			return nil
		}
		batch := beam.NewBatch(sentences...)
		sentences = nil
		return translator.Encode(ctx, batch)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		sentences = append(sentences, beam.Sentence{
			LineNum: lineNum,
			Words:   encode(scanner.Text()),
		})
		lineNum++
		if len(sentences) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	if err := flush(); err != nil {
		return err
	}
	logger.Info("Input consumed", zap.Uint64("lines", lineNum))
	return nil
}

// loadVocabs returns the source encode and target decode functions. Without
// vocabulary files, tokens map to stable hashed ids and output prints ids;
// that mode exercises the pipeline with the built-in backend.
func loadVocabs(cfg marian.Config, logger *zap.Logger) (func(string) []uint32, func([]uint32) string, error) {
	encode := hashEncode(cfg.VocabSize)
	decode := func(ids []uint32) string {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = strconv.FormatUint(uint64(id), 10)
		}
		return strings.Join(parts, " ")
	}

	if cfg.SourceVocab != "" {
		tok, err := vocab.Load(cfg.SourceVocab)
		if err != nil {
			return nil, nil, fmt.Errorf("loading source vocabulary: %w", err)
		}
		encode = tok.Encode
		logger.Info("Source vocabulary loaded", zap.String("path", cfg.SourceVocab))
	}
	if cfg.TargetVocab != "" {
		tok, err := vocab.Load(cfg.TargetVocab)
		if err != nil {
			return nil, nil, fmt.Errorf("loading target vocabulary: %w", err)
		}
		decode = tok.Decode
		logger.Info("Target vocabulary loaded", zap.String("path", cfg.TargetVocab))
	}
	return encode, decode, nil
}

// hashEncode maps whitespace tokens to stable ids above the reserved range.
func hashEncode(vocabSize int) func(string) []uint32 {
	if vocabSize < 3 {
		vocabSize = 3
	}
	return func(line string) []uint32 {
		fields := strings.Fields(line)
		ids := make([]uint32, len(fields))
		for i, f := range fields {
			h := fnv.New32a()
			_, _ = h.Write([]byte(f))
			// Reserve 0 (</s>) and 1 (<unk>).
			ids[i] = 2 + h.Sum32()%uint32(vocabSize-2)
		}
		return ids
	}
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
