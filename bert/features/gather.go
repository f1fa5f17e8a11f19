package features

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// FeatureTensor is the terminal per-sentence output: one row per original
// word per layer, selected at the word-start positions. Data is row-major
// (layers, words, width) float32, produced once and immutable thereafter.
type FeatureTensor struct {
	UniqueID int
	Layers   int
	Words    int
	Width    int
	Data     []float32
}

// At returns the value at (layer, word, dim).
func (t *FeatureTensor) At(layer, word, dim int) float32 {
	return t.Data[(layer*t.Words+word)*t.Width+dim]
}

// Row returns the (layer, word) embedding vector. The returned slice
// aliases the tensor.
func (t *FeatureTensor) Row(layer, word int) []float32 {
	off := (layer*t.Words + word) * t.Width
	return t.Data[off : off+t.Width]
}

// WordCountMismatchError reports a gathered row count that disagrees with
// the expected word count; the full word list is carried for debugging.
type WordCountMismatchError struct {
	UniqueID int
	Got      int
	Want     int
	Words    []string
}

func (e *WordCountMismatchError) Error() string {
	return fmt.Sprintf("word count mismatch for example %d: gathered %d rows for %d words %q",
		e.UniqueID, e.Got, e.Want, e.Words)
}

// Gather selects, per layer, the activation rows at the given start
// indices, stacking them into a (layers, words, width) tensor. starts must
// be ascending; the selection must yield exactly expectedWordCount rows.
// words is the surviving original word list, carried into the mismatch
// error for debugging (nil in positional mode). For sentence pairs Gather
// runs once per sentence with that sentence's index set.
func Gather(act *LayerActivations, starts []int, expectedWordCount int, words []string) (*FeatureTensor, error) {
	if len(starts) != expectedWordCount {
		return nil, &WordCountMismatchError{UniqueID: act.UniqueID, Got: len(starts), Want: expectedWordCount, Words: words}
	}
	if act.NumLayers() == 0 {
		return nil, fmt.Errorf("example %d: encoder returned no layers", act.UniqueID)
	}

	seqLen, width := act.Layers[0].Dims()
	for l, layer := range act.Layers {
		r, c := layer.Dims()
		if r != seqLen || c != width {
			return nil, fmt.Errorf("example %d: layer %d is %dx%d, want %dx%d", act.UniqueID, l, r, c, seqLen, width)
		}
	}
	for _, idx := range starts {
		if idx < 0 || idx >= seqLen {
			return nil, fmt.Errorf("example %d: start index %d outside sequence of length %d", act.UniqueID, idx, seqLen)
		}
	}

	t := &FeatureTensor{
		UniqueID: act.UniqueID,
		Layers:   act.NumLayers(),
		Words:    len(starts),
		Width:    width,
		Data:     make([]float32, act.NumLayers()*len(starts)*width),
	}
	for l, layer := range act.Layers {
		for w, idx := range starts {
			row := mat.Row(nil, idx, layer)
			dst := t.Row(l, w)
			for d, v := range row {
				dst[d] = float32(v)
			}
		}
	}
	return t, nil
}
