package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	internal "github.com/matt-peters/bert/bert"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
)

// SugarWordPiece wraps sugarme/tokenizer WordPiece (BERT-style). The
// sugarme pipeline does the sub-word splitting; id lookups go through our
// own copy of the vocab so [CLS]/[SEP] resolve to their file ids.
type SugarWordPiece struct {
	t           *tk.Tokenizer
	vocab       map[string]int64
	unkID       int64
	doLowerCase bool
}

// NewSugarWordPiece loads vocab.txt and builds a BERT WordPiece tokenizer
func NewSugarWordPiece(vocabPath string, doLowerCase bool) (*SugarWordPiece, error) {
	wp, err := wordpiece.NewWordPieceFromFile(vocabPath, internal.UnkToken)
	if err != nil {
		return nil, fmt.Errorf("load wordpiece vocab: %w", err)
	}

	t := tk.NewTokenizer(wp)
	// Basic normalizer and pre-tokenizer similar to BERT
	t.WithNormalizer(normalizer.NewBertNormalizer(true, doLowerCase, true, doLowerCase))
	t.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())

	vocab, err := readVocabFile(vocabPath)
	if err != nil {
		return nil, err
	}
	s := &SugarWordPiece{t: t, vocab: vocab, doLowerCase: doLowerCase}
	if id, ok := vocab[internal.UnkToken]; ok {
		s.unkID = id
	} else {
		s.unkID = 100
	}
	return s, nil
}

func (s *SugarWordPiece) LowerCases() bool { return s.doLowerCase }

// Tokenize returns the sub-word pieces of text with no special tokens
// added; the sequence builder inserts [CLS] and [SEP] itself.
func (s *SugarWordPiece) Tokenize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	enc, err := s.t.Encode(tk.NewSingleEncodeInput(tk.NewInputSequence(text)), false)
	if err != nil {
		// Deterministic tokenizers only fail on malformed input; treat the
		// word as unknown rather than poisoning the whole sequence.
		return []string{internal.UnkToken}
	}
	return enc.GetTokens()
}

func (s *SugarWordPiece) ConvertTokensToIDs(tokens []string) []int64 {
	ids := make([]int64, len(tokens))
	for i, tok := range tokens {
		id, ok := s.vocab[tok]
		if !ok {
			id = s.unkID
		}
		ids[i] = id
	}
	return ids
}

func readVocabFile(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vocab := make(map[string]int64, 60000)
	var idx int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tok := strings.TrimRight(scanner.Text(), "\r\n")
		if tok == "" {
			continue
		}
		vocab[tok] = idx
		idx++
	}
	return vocab, scanner.Err()
}
