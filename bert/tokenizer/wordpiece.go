package tokenizer

import (
	"bufio"
	"os"
	"strings"
	"unicode"

	internal "github.com/matt-peters/bert/bert"

	"github.com/armon/go-radix"
	"golang.org/x/text/unicode/norm"
)

// maxWordPieceChars guards the greedy matcher against pathological words.
// Words longer than this map straight to [UNK], as in the reference vocab.
const maxWordPieceChars = 200

// WordPiece is a self-contained BERT-style WordPiece tokenizer: basic
// cleanup and punctuation splitting followed by greedy longest-match
// against the vocabulary. The vocabulary is held twice: a map for id
// lookups and a patricia tree for longest-prefix matching.
type WordPiece struct {
	vocab       map[string]int64
	trie        *radix.Tree
	unkID       int64
	doLowerCase bool
}

// LoadWordPieceFromVocab reads a vocab.txt (one token per line, line number
// = id) and builds the tokenizer.
func LoadWordPieceFromVocab(path string, doLowerCase bool) (*WordPiece, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vocab := make(map[string]int64, 60000)
	trie := radix.New()
	var idx int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tok := strings.TrimRight(scanner.Text(), "\r\n")
		if tok == "" {
			continue
		}
		vocab[tok] = idx
		trie.Insert(tok, idx)
		idx++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	wp := &WordPiece{vocab: vocab, trie: trie, doLowerCase: doLowerCase}
	if id, ok := vocab[internal.UnkToken]; ok {
		wp.unkID = id
	} else {
		wp.unkID = 100
	}
	return wp, nil
}

func (w *WordPiece) LowerCases() bool { return w.doLowerCase }

// Tokenize splits text on whitespace, applies basic cleanup and punctuation
// splitting, then wordpieces each chunk. A word that cleans down to nothing
// (control characters, bare combining marks under lower-casing) yields an
// empty slice.
func (w *WordPiece) Tokenize(text string) []string {
	var out []string
	for _, word := range strings.Fields(text) {
		for _, chunk := range w.basicSplit(word) {
			out = append(out, w.wordpiece(chunk)...)
		}
	}
	return out
}

// ConvertTokensToIDs maps token strings to vocabulary ids, [UNK] for
// anything out of vocabulary.
func (w *WordPiece) ConvertTokensToIDs(tokens []string) []int64 {
	ids := make([]int64, len(tokens))
	for i, tok := range tokens {
		id, ok := w.vocab[tok]
		if !ok {
			id = w.unkID
		}
		ids[i] = id
	}
	return ids
}

// basicSplit cleans a single whitespace-delimited word and splits it on
// punctuation, so "don't." becomes ["don", "'", "t", "."].
func (w *WordPiece) basicSplit(word string) []string {
	if w.doLowerCase {
		// Decompose so accents become combining marks the loop can strip.
		word = norm.NFD.String(strings.ToLower(word))
	}
	var chunks []string
	var cur strings.Builder
	for _, r := range word {
		switch {
		case r == 0 || r == 0xFFFD || unicode.IsControl(r):
			continue
		case w.doLowerCase && unicode.Is(unicode.Mn, r):
			// strip accents for lower-cased (uncased) models
			continue
		case isPunct(r):
			if cur.Len() > 0 {
				chunks = append(chunks, cur.String())
				cur.Reset()
			}
			chunks = append(chunks, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// wordpiece runs greedy longest-match segmentation of one cleaned chunk.
// If any position fails to match, the whole chunk collapses to [UNK].
func (w *WordPiece) wordpiece(chunk string) []string {
	if chunk == "" {
		return nil
	}
	runes := []rune(chunk)
	if len(runes) > maxWordPieceChars {
		return []string{internal.UnkToken}
	}
	var pieces []string
	start := 0
	for start < len(runes) {
		query := string(runes[start:])
		if start > 0 {
			query = "##" + query
		}
		match, _, ok := w.trie.LongestPrefix(query)
		minLen := 0
		if start > 0 {
			minLen = 2 // a continuation match must cover more than the "##"
		}
		if !ok || len(match) <= minLen {
			return []string{internal.UnkToken}
		}
		pieces = append(pieces, match)
		start += len([]rune(match)) - minLen
	}
	return pieces
}

func isPunct(r rune) bool {
	// Treat all non-letter, non-digit ASCII as punctuation, matching the
	// reference tokenizer's handling of characters like $ and ~.
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}
