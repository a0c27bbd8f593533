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

//go:build onnx && ORT

package backends

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/codeaudit/marian/pkg/marian/lib/beam"
	"github.com/codeaudit/marian/pkg/marian/lib/mblas"
)

func init() {
	RegisterBackend(&onnxBackend{})
}

// onnxBackend runs the encoder, step cell and output projection through
// ONNX Runtime sessions exported from the original marian model.
//
// Runtime requirements:
//   - CGO must be enabled (CGO_ENABLED=1)
//   - Set LD_LIBRARY_PATH to the ONNX Runtime libraries before running.
//
// Expected files under DecoderConfig.ModelPath:
//   - encoder.onnx: input_ids [batch, seq] -> source_context [batch, hidden]
//   - decoder_step.onnx: hidden, embeddings, context -> next_hidden
//   - output_projection.onnx: hidden -> log_probs [rows, vocab]
type onnxBackend struct {
	initializedOnce sync.Once
	initErr         error
}

func (b *onnxBackend) Type() BackendType { return BackendONNX }

func (b *onnxBackend) Name() string { return "ONNX Runtime" }

func (b *onnxBackend) Available() bool { return true }

func (b *onnxBackend) Priority() int {
	// Outranks the pure-Go reference backend.
	return 50
}

func (b *onnxBackend) initONNX() error {
	b.initializedOnce.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_LIB_PATH"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		b.initErr = ort.InitializeEnvironment()
	})
	return b.initErr
}

func (b *onnxBackend) Load(cfg *DecoderConfig, logger *zap.Logger) (*ModelSet, error) {
	if cfg == nil || cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx backend requires a model path")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := b.initONNX(); err != nil {
		return nil, fmt.Errorf("initializing ONNX Runtime: %w", err)
	}

	encoderSession, err := newOnnxSession(filepath.Join(cfg.ModelPath, "encoder.onnx"))
	if err != nil {
		return nil, fmt.Errorf("creating encoder session: %w", err)
	}
	stepSession, err := newOnnxSession(filepath.Join(cfg.ModelPath, "decoder_step.onnx"))
	if err != nil {
		encoderSession.Close()
		return nil, fmt.Errorf("creating decoder step session: %w", err)
	}
	projSession, err := newOnnxSession(filepath.Join(cfg.ModelPath, "output_projection.onnx"))
	if err != nil {
		encoderSession.Close()
		stepSession.Close()
		return nil, fmt.Errorf("creating output projection session: %w", err)
	}

	logger.Info("Loading ONNX backend",
		zap.String("model_path", cfg.ModelPath),
		zap.Int("vocab_size", cfg.VocabSize),
		zap.Int("hidden_size", cfg.HiddenSize))

	return &ModelSet{
		Encoder: &onnxEncoder{cfg: cfg, session: encoderSession},
		Model:   &onnxModel{cfg: cfg, session: stepSession},
		Scorer:  &onnxScorer{cfg: cfg, session: projSession},
		Config:  cfg,
	}, nil
}

// onnxSession wraps one DynamicAdvancedSession with its options.
type onnxSession struct {
	session     *ort.DynamicAdvancedSession
	sessionOpts *ort.SessionOptions
	outputCount int
}

func newOnnxSession(modelPath string) (*onnxSession, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("getting model info: %w", err)
	}
	inputNames := make([]string, len(inputs))
	for i, info := range inputs {
		inputNames[i] = info.Name
	}
	outputNames := make([]string, len(outputs))
	for i, info := range outputs {
		outputNames[i] = info.Name
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, sessionOpts)
	if err != nil {
		sessionOpts.Destroy()
		return nil, fmt.Errorf("creating ONNX session: %w", err)
	}
	return &onnxSession{
		session:     session,
		sessionOpts: sessionOpts,
		outputCount: len(outputs),
	}, nil
}

// run executes the session on float32 matrices and returns the first
// output reshaped as a matrix with the given column count.
func (s *onnxSession) run(inputs []*mblas.Matrix, outCols int) (*mblas.Matrix, error) {
	ortInputs := make([]ort.Value, len(inputs))
	for i, m := range inputs {
		data := make([]float32, len(m.Data()))
		copy(data, m.Data())
		tensor, err := ort.NewTensor(ort.NewShape(int64(m.Rows()), int64(m.Cols())), data)
		if err != nil {
			for j := 0; j < i; j++ {
				ortInputs[j].Destroy()
			}
			return nil, Fatalf(FaultAlloc, "creating input tensor %d: %v", i, err)
		}
		ortInputs[i] = tensor
	}
	defer func() {
		for _, t := range ortInputs {
			if t != nil {
				t.Destroy()
			}
		}
	}()

	ortOutputs := make([]ort.Value, s.outputCount)
	if err := s.session.Run(ortInputs, ortOutputs); err != nil {
		return nil, Fatalf(FaultDevice, "running ONNX session: %v", err)
	}
	defer func() {
		for _, t := range ortOutputs {
			if t != nil {
				t.Destroy()
			}
		}
	}()

	floatTensor, ok := ortOutputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, Fatalf(FaultInternal, "output tensor is not float32")
	}
	data := floatTensor.GetData()
	if outCols <= 0 || len(data)%outCols != 0 {
		return nil, Fatalf(FaultInternal, "output size %d not divisible by %d columns", len(data), outCols)
	}
	out := mblas.New(len(data)/outCols, outCols)
	copy(out.Data(), data)
	return out, nil
}

func (s *onnxSession) Close() error {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.sessionOpts != nil {
		s.sessionOpts.Destroy()
		s.sessionOpts = nil
	}
	return nil
}

// onnxEncoder encodes a padded batch of source token ids.
type onnxEncoder struct {
	cfg     *DecoderConfig
	session *onnxSession
}

var _ EncoderBackend = (*onnxEncoder)(nil)

func (e *onnxEncoder) Encode(ctx context.Context, batch *beam.Batch) (*beam.EncOut, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	maxLen := batch.MaxLength()
	if maxLen == 0 {
		maxLen = 1
	}
	ids := mblas.New(batch.Size(), maxLen)
	for i := 0; i < batch.Size(); i++ {
		row := ids.Row(i)
		for j, w := range batch.Get(i).Words {
			row[j] = float32(w)
		}
	}
	sourceContext, err := e.session.run([]*mblas.Matrix{ids}, e.cfg.HiddenSize)
	if err != nil {
		return nil, err
	}
	if sourceContext.Rows() != batch.Size() {
		return nil, Fatalf(FaultInternal, "encoder returned %d rows for %d sentences",
			sourceContext.Rows(), batch.Size())
	}
	return beam.NewEncOut(batch, sourceContext), nil
}

// onnxModel runs the decoder step cell.
type onnxModel struct {
	cfg     *DecoderConfig
	session *onnxSession
}

var _ StepModel = (*onnxModel)(nil)

func (m *onnxModel) EmptyState(encOut *beam.EncOut) *State {
	ctx := encOut.SourceContext()
	return &State{
		Hidden:     ctx.Copy(),
		Embeddings: m.EmptyEmbedding(ctx.Rows()),
	}
}

func (m *onnxModel) EmptyEmbedding(rows int) *mblas.Matrix {
	return mblas.New(rows, m.cfg.HiddenSize)
}

func (m *onnxModel) AdvanceState(state *State, context *mblas.Matrix) (*mblas.Matrix, error) {
	next, err := m.session.run([]*mblas.Matrix{state.Hidden, state.Embeddings, context}, m.cfg.HiddenSize)
	if err != nil {
		return nil, err
	}
	if next.Rows() != state.Rows() {
		return nil, Fatalf(FaultInternal, "step returned %d rows for %d hypotheses",
			next.Rows(), state.Rows())
	}
	return next, nil
}

func (m *onnxModel) LookupEmbedding(ids []uint32) *mblas.Matrix {
	// The embedding table stays host-side: a lookup, not a session run.
	dim := m.cfg.HiddenSize
	out := mblas.New(len(ids), dim)
	for i, id := range ids {
		if int(id) >= m.cfg.VocabSize {
			id = m.cfg.UnknownTokenID
		}
		row := out.Row(i)
		for j := 0; j < dim; j++ {
			row[j] = hashWeight(seedEmbedding, uint64(id), uint64(j))
		}
	}
	return out
}

func (m *onnxModel) VocabSize() int { return m.cfg.VocabSize }

// onnxScorer projects hidden states to log-probabilities through the
// output projection session, then selects the best hypotheses.
type onnxScorer struct {
	cfg     *DecoderConfig
	session *onnxSession
	filter  []uint32
}

var _ Scorer = (*onnxScorer)(nil)

func (s *onnxScorer) ScoreCandidates(prev []beam.Beam, state *mblas.Matrix, widths []uint) ([]beam.Beam, error) {
	logProbs, err := s.session.run([]*mblas.Matrix{state}, s.cfg.VocabSize)
	if err != nil {
		return nil, err
	}
	if logProbs.Rows() != state.Rows() {
		return nil, Fatalf(FaultInternal, "projection returned %d rows for %d hypotheses",
			logProbs.Rows(), state.Rows())
	}
	return BestHypotheses(prev, logProbs, widths, s.filter)
}

func (s *onnxScorer) Filter(ids []uint32) {
	if len(ids) == 0 {
		s.filter = nil
		return
	}
	s.filter = append([]uint32(nil), ids...)
}
