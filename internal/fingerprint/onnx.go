//go:build cgo

package fingerprint

import (
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig locates the runtime and model and describes the model's I/O.
type ONNXConfig struct {
	// LibraryPath points at libonnxruntime; empty uses the platform default.
	LibraryPath string
	ModelPath   string
	InputSize   int
	Dimensions  int
	InputName   string
	OutputName  string
}

// ONNXEngine runs an image model through ONNX Runtime with preallocated
// tensors. Inference calls are serialized.
type ONNXEngine struct {
	cfg     ONNXConfig
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	mu      sync.Mutex
}

var ortInitMu sync.Mutex

// NewONNXEngine loads the model. A missing runtime or model is an error;
// callers then run without the embedding modality.
func NewONNXEngine(cfg ONNXConfig) (*ONNXEngine, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx: no model path configured")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("onnx: model not readable: %w", err)
	}
	if cfg.InputSize < 1 || cfg.Dimensions < 1 {
		return nil, fmt.Errorf("onnx: invalid input size %d or dimensions %d", cfg.InputSize, cfg.Dimensions)
	}

	ortInitMu.Lock()
	if !ort.IsInitialized() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortInitMu.Unlock()
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	ortInitMu.Unlock()

	s := int64(cfg.InputSize)
	input, err := ort.NewTensor(ort.NewShape(1, 3, s, s), make([]float32, 3*s*s))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	output, err := ort.NewTensor(ort.NewShape(1, int64(cfg.Dimensions)), make([]float32, cfg.Dimensions))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEngine{cfg: cfg, session: session, input: input, output: output}, nil
}

// Infer copies input into the session tensor and runs the model.
func (e *ONNXEngine) Infer(input []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, errors.New("onnx: engine closed")
	}
	dst := e.input.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("onnx: input has %d values, want %d", len(input), len(dst))
	}
	copy(dst, input)

	if err := e.session.Run(); err != nil {
		return nil, err
	}
	out := make([]float32, e.cfg.Dimensions)
	copy(out, e.output.GetData())
	return out, nil
}

// InputSize returns the square input side.
func (e *ONNXEngine) InputSize() int { return e.cfg.InputSize }

// Dimensions returns the embedding length.
func (e *ONNXEngine) Dimensions() int { return e.cfg.Dimensions }

// Close destroys the session and tensors.
func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.input != nil {
		_ = e.input.Destroy()
		e.input = nil
	}
	if e.output != nil {
		_ = e.output.Destroy()
		e.output = nil
	}
	return err
}
