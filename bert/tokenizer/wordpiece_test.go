package tokenizer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeVocab(t *testing.T, tokens []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocab.txt")
	var buf []byte
	for _, tok := range tokens {
		buf = append(buf, tok...)
		buf = append(buf, '\n')
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

var testVocab = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]",
	"un", "##believ", "##ably",
	"new", "york", "big", "city", "the", "dog",
	",", ".",
}

func TestWordPieceGreedyMatch(t *testing.T) {
	wp, err := LoadWordPieceFromVocab(writeVocab(t, testVocab), true)
	require.NoError(t, err)

	assert.Equal(t, []string{"un", "##believ", "##ably"}, wp.Tokenize("unbelievably"))
	assert.Equal(t, []string{"new", "york"}, wp.Tokenize("New York"))
}

func TestWordPieceUnknownWord(t *testing.T) {
	wp, err := LoadWordPieceFromVocab(writeVocab(t, testVocab), true)
	require.NoError(t, err)

	// no piece covers "q", the whole chunk collapses to [UNK]
	assert.Equal(t, []string{"[UNK]"}, wp.Tokenize("qqq"))
	// a partial match that cannot finish also collapses
	assert.Equal(t, []string{"[UNK]"}, wp.Tokenize("unx"))
}

func TestWordPiecePunctuationSplit(t *testing.T) {
	wp, err := LoadWordPieceFromVocab(writeVocab(t, testVocab), true)
	require.NoError(t, err)

	assert.Equal(t, []string{"dog", ","}, wp.Tokenize("dog,"))
	assert.Equal(t, []string{"the", "dog", "."}, wp.Tokenize("the dog."))
}

func TestWordPieceStripsAccentsWhenLowerCasing(t *testing.T) {
	wp, err := LoadWordPieceFromVocab(writeVocab(t, testVocab), true)
	require.NoError(t, err)

	assert.Equal(t, []string{"dog"}, wp.Tokenize("dóg"))
}

func TestWordPieceEmptyResult(t *testing.T) {
	wp, err := LoadWordPieceFromVocab(writeVocab(t, testVocab), true)
	require.NoError(t, err)

	// a bare combining mark cleans down to nothing: zero sub-tokens
	assert.Empty(t, wp.Tokenize("́"))
	assert.Empty(t, wp.Tokenize("   "))
}

func TestWordPieceCasedModel(t *testing.T) {
	vocab := append([]string{}, testVocab...)
	vocab = append(vocab, "New")
	wp, err := LoadWordPieceFromVocab(writeVocab(t, vocab), false)
	require.NoError(t, err)

	assert.False(t, wp.LowerCases())
	assert.Equal(t, []string{"New"}, wp.Tokenize("New"))
	// lower-case "new" still resolves through its own vocab entry
	assert.Equal(t, []string{"new"}, wp.Tokenize("new"))
}

func TestConvertTokensToIDs(t *testing.T) {
	wp, err := LoadWordPieceFromVocab(writeVocab(t, testVocab), true)
	require.NoError(t, err)

	ids := wp.ConvertTokensToIDs([]string{"[CLS]", "un", "##believ", "##ably", "[SEP]", "zzz"})
	assert.Equal(t, []int64{2, 4, 5, 6, 3, 1}, ids)
}
