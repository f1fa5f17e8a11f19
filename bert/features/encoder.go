package features

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/matt-peters/bert/bert/encode"

	"gonum.org/v1/gonum/mat"
)

// LayerActivations holds the per-layer, per-position activations the model
// produced for one example. Layers[0] is the embedding output; Layers[1..n]
// are the encoder layers in order. Each matrix is (seqLength, width). The
// layer count travels with the result instead of living in process-wide
// state, so the gatherer never has to guess how many layers the model has.
type LayerActivations struct {
	UniqueID int
	Layers   []*mat.Dense
}

// NumLayers returns the number of activation layers, embedding included.
func (l *LayerActivations) NumLayers() int { return len(l.Layers) }

// Encoder runs the external model over a batch of encoded examples.
// Results may come back in any order; callers match them to their
// alignment records by UniqueID, never by position.
type Encoder interface {
	Encode(ctx context.Context, batch []*encode.InputFeatures) ([]*LayerActivations, error)
}

// ModelConfig is the subset of bert_config.json the pipeline needs.
type ModelConfig struct {
	HiddenSize            int `json:"hidden_size"`
	NumHiddenLayers       int `json:"num_hidden_layers"`
	VocabSize             int `json:"vocab_size"`
	MaxPositionEmbeddings int `json:"max_position_embeddings"`
}

// LoadModelConfig reads a bert_config.json.
func LoadModelConfig(path string) (*ModelConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model config: %w", err)
	}
	var cfg ModelConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse model config: %w", err)
	}
	if cfg.HiddenSize <= 0 || cfg.NumHiddenLayers <= 0 {
		return nil, fmt.Errorf("model config %s: hidden_size=%d num_hidden_layers=%d", path, cfg.HiddenSize, cfg.NumHiddenLayers)
	}
	return &cfg, nil
}
