package encode

import (
	"strings"

	internal "github.com/matt-peters/bert/bert"
	"github.com/matt-peters/bert/bert/tokenizer"

	"github.com/RoaringBitmap/roaring"
)

// Alignment maps each original whitespace-delimited word of an example to
// the position of its first sub-token in the assembled sequence. Words that
// tokenize to zero sub-tokens are dropped, so len(Words) always equals the
// cardinality of Starts. Tokens is the full reconstructed sub-token
// sequence including [CLS] and the trailing [SEP] markers; for pairs the
// second sentence's indices continue past the first [SEP].
type Alignment struct {
	UniqueID int
	Words    []string
	Starts   *roaring.Bitmap
	WordsB   []string
	StartsB  *roaring.Bitmap // nil for single sentences
	Tokens   []string
}

// TrackAlignment walks the same per-word tokenization as the sequence
// builder and records word-start positions. No truncation is applied here;
// callers that allow truncation must not rely on these indices for the
// truncated region.
func (c *Converter) TrackAlignment(ex Example) *Alignment {
	a := &Alignment{UniqueID: ex.UniqueID, Starts: roaring.New()}

	acc := []string{internal.ClsToken}
	a.Words, acc = trackSentence(ex.TextA, c.tok, a.Starts, acc)
	acc = append(acc, internal.SepToken)

	if ex.IsPair() {
		startsB := roaring.New()
		wordsB, accB := trackSentence(ex.TextB, c.tok, startsB, acc)
		// A second sentence with no sub-tokens falls back to the
		// single-sentence layout, mirroring the sequence builder.
		if len(accB) > len(acc) {
			a.WordsB, a.StartsB = wordsB, startsB
			acc = append(accB, internal.SepToken)
		}
	}

	a.Tokens = acc
	return a
}

// trackSentence tokenizes one sentence word by word, appending sub-tokens
// to acc and recording each surviving word's start offset in starts. Words
// with no sub-tokens are dropped from the returned word list.
func trackSentence(text string, tok tokenizer.Tokenizer, starts *roaring.Bitmap, acc []string) ([]string, []string) {
	originalWords := strings.Fields(strings.TrimSpace(text))
	words := originalWords[:0:0]
	for _, word := range originalWords {
		pieces := tok.Tokenize(word)
		if len(pieces) == 0 {
			continue
		}
		starts.Add(uint32(len(acc)))
		acc = append(acc, pieces...)
		words = append(words, word)
	}
	return words, acc
}

// StartIndices returns the first sentence's word-start positions in
// ascending order.
func (a *Alignment) StartIndices() []int {
	return bitmapToInts(a.Starts)
}

// StartIndicesB returns the second sentence's word-start positions in
// ascending order, nil for single sentences.
func (a *Alignment) StartIndicesB() []int {
	if a.StartsB == nil {
		return nil
	}
	return bitmapToInts(a.StartsB)
}

func bitmapToInts(bm *roaring.Bitmap) []int {
	out := make([]int, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}
