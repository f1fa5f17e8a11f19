package encode

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	internal "github.com/matt-peters/bert/bert"
	"github.com/matt-peters/bert/bert/tokenizer"

	assert "github.com/ZanzyTHEbar/assert-lib"
)

// InputFeatures is the model-ready encoding of one example. The three id
// arrays are always exactly maxSeqLength long; Tokens keeps the unpadded
// sub-token sequence for validation and debugging.
type InputFeatures struct {
	UniqueID   int
	Tokens     []string
	InputIDs   []int64
	InputMask  []int64
	SegmentIDs []int64
	// Truncated records whether the greedy truncation removed any tokens,
	// which invalidates sequence comparison against the alignment tracker.
	Truncated bool
}

// ErrTruncationPrecondition is returned when maxSeqLength cannot hold the
// mandatory delimiter tokens ([CLS] plus one [SEP] per sentence).
var ErrTruncationPrecondition = fmt.Errorf("max sequence length too small for delimiter tokens")

// Converter builds InputFeatures and alignment records from examples.
// Converters are stateless after construction and safe for concurrent use.
type Converter struct {
	tok          tokenizer.Tokenizer
	maxSeqLength int
	asserts      *assert.AssertHandler
}

// NewConverter creates a converter for the given tokenizer and fixed
// sequence width.
func NewConverter(tok tokenizer.Tokenizer, maxSeqLength int, assertHandler *assert.AssertHandler) *Converter {
	if assertHandler == nil {
		assertHandler = assert.NewAssertHandler()
	}
	return &Converter{
		tok:          tok,
		maxSeqLength: maxSeqLength,
		asserts:      assertHandler,
	}
}

// Convert encodes one example: word-by-word tokenization of TextA,
// whole-string tokenization of TextB, greedy truncation, [CLS]/[SEP]
// assembly, id lookup, and zero-padding to maxSeqLength.
func (c *Converter) Convert(ex Example) (*InputFeatures, error) {
	// Split words independently so that sub-token positions line up with
	// the alignment tracker's bookkeeping.
	var tokensA []string
	for _, word := range strings.Fields(ex.TextA) {
		tokensA = append(tokensA, c.tok.Tokenize(word)...)
	}

	var tokensB []string
	if ex.IsPair() {
		tokensB = c.tok.Tokenize(ex.TextB)
	}

	truncated := false
	if len(tokensB) > 0 {
		// Account for [CLS], [SEP], [SEP] with "- 3"
		if c.maxSeqLength < 3 {
			return nil, fmt.Errorf("%w: need 3 for a sentence pair, have %d", ErrTruncationPrecondition, c.maxSeqLength)
		}
		tokensA, tokensB, truncated = truncateSeqPair(tokensA, tokensB, c.maxSeqLength-3)
	} else {
		// Account for [CLS] and [SEP] with "- 2"
		if c.maxSeqLength < 2 {
			return nil, fmt.Errorf("%w: need 2 for a single sentence, have %d", ErrTruncationPrecondition, c.maxSeqLength)
		}
		if len(tokensA) > c.maxSeqLength-2 {
			tokensA = tokensA[:c.maxSeqLength-2]
			truncated = true
		}
	}

	// Sequence convention: [CLS] a [SEP] with segment id 0, then for pairs
	// b [SEP] with segment id 1.
	tokens := make([]string, 0, len(tokensA)+len(tokensB)+3)
	segmentIDs := make([]int64, 0, cap(tokens))
	tokens = append(tokens, internal.ClsToken)
	segmentIDs = append(segmentIDs, 0)
	for _, t := range tokensA {
		tokens = append(tokens, t)
		segmentIDs = append(segmentIDs, 0)
	}
	tokens = append(tokens, internal.SepToken)
	segmentIDs = append(segmentIDs, 0)
	if len(tokensB) > 0 {
		for _, t := range tokensB {
			tokens = append(tokens, t)
			segmentIDs = append(segmentIDs, 1)
		}
		tokens = append(tokens, internal.SepToken)
		segmentIDs = append(segmentIDs, 1)
	}

	inputIDs := c.tok.ConvertTokensToIDs(tokens)

	// The mask has 1 for real tokens and 0 for padding tokens.
	inputMask := make([]int64, len(inputIDs))
	for i := range inputMask {
		inputMask[i] = 1
	}

	// Zero-pad up to the sequence length.
	for len(inputIDs) < c.maxSeqLength {
		inputIDs = append(inputIDs, internal.PadID)
		inputMask = append(inputMask, 0)
		segmentIDs = append(segmentIDs, 0)
	}

	c.asserts.Assert(context.Background(),
		len(inputIDs) == c.maxSeqLength && len(inputMask) == c.maxSeqLength && len(segmentIDs) == c.maxSeqLength,
		"padded arrays must all equal the max sequence length",
		"unique_id", ex.UniqueID,
		"input_ids", len(inputIDs), "input_mask", len(inputMask), "segment_ids", len(segmentIDs),
		"max_seq_length", c.maxSeqLength)

	return &InputFeatures{
		UniqueID:   ex.UniqueID,
		Tokens:     tokens,
		InputIDs:   inputIDs,
		InputMask:  inputMask,
		SegmentIDs: segmentIDs,
		Truncated:  truncated,
	}, nil
}

// LogExample emits the reference-style dump of a converted example.
func (f *InputFeatures) LogExample() {
	slog.Info("*** Example ***",
		"unique_id", f.UniqueID,
		"tokens", strings.Join(f.Tokens, " "),
		"input_ids", fmt.Sprint(f.InputIDs),
		"input_mask", fmt.Sprint(f.InputMask),
		"segment_ids", fmt.Sprint(f.SegmentIDs))
}

// truncateSeqPair trims a sequence pair to maxLength total tokens by
// repeatedly dropping the last token of whichever sequence is currently
// longer, ties from b. Truncating the longer one token at a time beats
// cutting an equal fraction from each: a short sequence loses more
// information per dropped token.
func truncateSeqPair(tokensA, tokensB []string, maxLength int) (a, b []string, truncated bool) {
	a, b = tokensA, tokensB
	for len(a)+len(b) > maxLength {
		if len(a) > len(b) {
			a = a[:len(a)-1]
		} else {
			b = b[:len(b)-1]
		}
		truncated = true
	}
	return a, b, truncated
}
