package encode

import (
	"fmt"
	"strings"
)

// AlignmentMismatchError reports a disagreement between the sequence
// builder and the alignment tracker for one example. Both sequences are
// carried for debugging.
type AlignmentMismatchError struct {
	UniqueID int
	Reason   string
	Built    []string
	Tracked  []string
}

func (e *AlignmentMismatchError) Error() string {
	return fmt.Sprintf("alignment mismatch for example %d: %s (built=%q tracked=%q)",
		e.UniqueID, e.Reason, strings.Join(e.Built, " "), strings.Join(e.Tracked, " "))
}

// PrefixMismatchError reports a word-start index that does not point at a
// sub-token which prefixes its source word.
type PrefixMismatchError struct {
	UniqueID int
	Word     string
	Token    string
	Index    int
}

func (e *PrefixMismatchError) Error() string {
	return fmt.Sprintf("prefix mismatch for example %d: token %q at index %d is not a prefix of word %q",
		e.UniqueID, e.Token, e.Index, e.Word)
}

// Validate cross-checks an encoded example against its alignment record:
// the tracker's reconstructed sequence must equal the builder's tokens
// (skipped when truncation occurred, which invalidates the comparison),
// word and index counts must agree per sentence, and each recorded start
// index must point at a sub-token that prefixes its word. Sentence pairs
// are validated the same way; the tracker accumulates both sentences into
// one sequence, so the equality check covers them too.
func Validate(f *InputFeatures, a *Alignment, lowerCased bool) error {
	if !f.Truncated {
		if !equalTokens(a.Tokens, f.Tokens) {
			return &AlignmentMismatchError{
				UniqueID: f.UniqueID,
				Reason:   "reconstructed token sequence differs",
				Built:    f.Tokens,
				Tracked:  a.Tokens,
			}
		}
	}

	if n, m := len(a.Words), int(a.Starts.GetCardinality()); n != m {
		return &AlignmentMismatchError{
			UniqueID: f.UniqueID,
			Reason:   fmt.Sprintf("%d words but %d start indices", n, m),
			Built:    f.Tokens,
			Tracked:  a.Tokens,
		}
	}
	if a.StartsB != nil {
		if n, m := len(a.WordsB), int(a.StartsB.GetCardinality()); n != m {
			return &AlignmentMismatchError{
				UniqueID: f.UniqueID,
				Reason:   fmt.Sprintf("%d second-sentence words but %d start indices", n, m),
				Built:    f.Tokens,
				Tracked:  a.Tokens,
			}
		}
	}

	if err := checkPrefixes(f.UniqueID, a.Words, a.StartIndices(), a.Tokens, lowerCased); err != nil {
		return err
	}
	if a.StartsB != nil {
		if err := checkPrefixes(f.UniqueID, a.WordsB, a.StartIndicesB(), a.Tokens, lowerCased); err != nil {
			return err
		}
	}
	return nil
}

// checkPrefixes verifies that the sub-token at each word's start index is a
// case-appropriate prefix of the word. An out-of-vocabulary word whose
// first sub-token is [UNK] fails here, as in the reference behavior.
func checkPrefixes(uniqueID int, words []string, starts []int, tokens []string, lowerCased bool) error {
	for i, idx := range starts {
		if idx >= len(tokens) {
			return &PrefixMismatchError{UniqueID: uniqueID, Word: words[i], Token: "", Index: idx}
		}
		word := words[i]
		if lowerCased {
			word = strings.ToLower(word)
		}
		tok := tokens[idx]
		if !strings.HasPrefix(word, tok) {
			return &PrefixMismatchError{UniqueID: uniqueID, Word: words[i], Token: tok, Index: idx}
		}
	}
	return nil
}

func equalTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
