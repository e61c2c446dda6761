//go:build eou

package eou

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

const modelFileRel = "onnx/model_q8.onnx"

var (
	ortOnce    sync.Once
	ortInitErr error
)

// ensureOrtEnv initializes the ONNX runtime environment exactly once per
// process, so concurrent detectors do not race schema registration.
func ensureOrtEnv() error {
	ortOnce.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_LIB"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		} else if runtime.GOOS == "darwin" {
			ort.SetSharedLibraryPath("/opt/homebrew/lib/libonnxruntime.dylib")
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ONNXDetector scores end-of-utterance with a quantized transformer over
// the running user transcript. Session and tokenizer load lazily on first
// use.
type ONNXDetector struct {
	modelPath string

	tokenizer     *tokenizer.Tokenizer
	tokenizerOnce sync.Once
	tokenizerErr  error
}

// NewONNXDetector creates a detector rooted at modelPath, which must hold
// onnx/model_q8.onnx and tokenizer.json.
func NewONNXDetector(modelPath string) (*ONNXDetector, error) {
	if modelPath == "" {
		modelPath = defaultModelPath()
	}
	if _, err := os.Stat(filepath.Join(modelPath, modelFileRel)); err != nil {
		return nil, fmt.Errorf("end-of-utterance model not found under %s: %w", modelPath, err)
	}
	return &ONNXDetector{modelPath: modelPath}, nil
}

// EndOfUtterance implements Detector.
func (d *ONNXDetector) EndOfUtterance(ctx context.Context, text string) (float64, error) {
	if err := ensureOrtEnv(); err != nil {
		return 0, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	if err := d.loadTokenizer(); err != nil {
		return 0, err
	}

	tokens, err := d.tokenize(text)
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0.5, nil
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	inputData := make([]float32, len(tokens))
	for i, tok := range tokens {
		inputData[i] = float32(tok)
	}
	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(tokens))), inputData)
	if err != nil {
		return 0, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	options, err := ort.NewSessionOptions()
	if err != nil {
		return 0, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()
	if err := options.SetIntraOpNumThreads(maxInt(1, runtime.NumCPU()/2)); err != nil {
		return 0, fmt.Errorf("failed to set intra-op threads: %w", err)
	}

	session, err := ort.NewSession[float32](
		filepath.Join(d.modelPath, modelFileRel),
		[]string{"input_ids"},
		[]string{"logits"},
		[]*ort.Tensor[float32]{inputTensor},
		[]*ort.Tensor[float32]{outputTensor},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	defer session.Destroy()

	if err := session.Run(); err != nil {
		return 0, fmt.Errorf("ONNX inference failed: %w", err)
	}

	out := outputTensor.GetData()
	if len(out) == 0 {
		return 0, fmt.Errorf("empty output tensor")
	}
	prob := float64(out[0])
	if prob < 0 {
		prob = 0
	} else if prob > 1 {
		prob = 1
	}
	return prob, nil
}

func (d *ONNXDetector) loadTokenizer() error {
	d.tokenizerOnce.Do(func() {
		file := filepath.Join(d.modelPath, "tokenizer.json")
		if _, err := os.Stat(file); err != nil {
			d.tokenizerErr = fmt.Errorf("tokenizer not found: %w", err)
			return
		}
		tk, err := pretrained.FromFile(file)
		if err != nil {
			d.tokenizerErr = fmt.Errorf("failed to load tokenizer: %w", err)
			return
		}
		d.tokenizer = tk
	})
	return d.tokenizerErr
}

// tokenize encodes the utterance with the model's chat template, left
// truncated to the 128 most recent tokens.
func (d *ONNXDetector) tokenize(text string) ([]int32, error) {
	encoding, err := d.tokenizer.EncodeSingle(fmt.Sprintf("<|im_start|><|user|>%s<|im_end|>", text), false)
	if err != nil {
		return nil, fmt.Errorf("tokenization failed: %w", err)
	}
	ids := encoding.GetIds()
	if len(ids) > 128 {
		ids = ids[len(ids)-128:]
	}
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out, nil
}

func defaultModelPath() string {
	if path := os.Getenv("VOXTIDE_MODEL_PATH"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/voxtide-models"
	}
	return filepath.Join(home, ".voxtide", "models")
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
