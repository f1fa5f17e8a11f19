//go:build !onnx
// +build !onnx

package features

import (
	"context"
	"fmt"

	"github.com/matt-peters/bert/bert/encode"
)

// onnxEncoder is a stub used when built without the "onnx" build tag.
type onnxEncoder struct{}

func NewONNXEncoder(modelPath string, modelCfg *ModelConfig) Encoder { return &onnxEncoder{} }

func (p *onnxEncoder) Encode(ctx context.Context, batch []*encode.InputFeatures) ([]*LayerActivations, error) {
	return nil, fmt.Errorf("onnx encoder not available: build with -tags onnx and provide an exported model")
}
