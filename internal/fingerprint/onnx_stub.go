//go:build !cgo

package fingerprint

import "errors"

// ONNXConfig locates the runtime and model (unused without CGO).
type ONNXConfig struct {
	LibraryPath string
	ModelPath   string
	InputSize   int
	Dimensions  int
	InputName   string
	OutputName  string
}

// ONNXEngine stub type when built without CGO (see onnx.go).
type ONNXEngine struct{}

// NewONNXEngine returns an error when built without CGO.
func NewONNXEngine(ONNXConfig) (*ONNXEngine, error) {
	return nil, errors.New("onnx: embedding engine requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

func (*ONNXEngine) Infer([]float32) ([]float32, error) { return nil, errors.New("onnx: unavailable") }
func (*ONNXEngine) InputSize() int { return 0 }
func (*ONNXEngine) Dimensions() int { return 0 }
func (*ONNXEngine) Close() error { return nil }
