package tokenizer

import (
	"fmt"
)

// Tokenizer converts raw text to ordered sub-word tokens and maps token
// strings back to vocabulary ids. Implementations must be deterministic:
// tokenizing the same string always yields the same pieces, and tokenizing
// a whitespace-joined text equals the concatenation of tokenizing its
// words one at a time. The alignment tracker depends on that property.
type Tokenizer interface {
	Tokenize(text string) []string
	ConvertTokensToIDs(tokens []string) []int64
	// LowerCases reports whether the tokenizer case-folds its input, which
	// the alignment validator needs for its prefix check.
	LowerCases() bool
}

// ErrUnsupported indicates the tokenizer could not be initialized
var ErrUnsupported = fmt.Errorf("unsupported tokenizer configuration")
