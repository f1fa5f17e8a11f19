package encode

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
)

// Example is one input unit: a sentence, or a sentence pair when the input
// line carried a " ||| " separator. UniqueID is the zero-based line index.
// Examples are immutable once read.
type Example struct {
	UniqueID int
	TextA    string
	TextB    string // empty when the line held a single sentence
}

// IsPair reports whether the example carries a second sentence.
func (e Example) IsPair() bool { return e.TextB != "" }

var pairLine = regexp.MustCompile(`^(.*) \|\|\| (.*)$`)

// ReadExamples reads one example per line. A line matching
// "<A> ||| <B>" yields a sentence pair; any other line a single sentence.
func ReadExamples(r io.Reader) ([]Example, error) {
	var examples []Example
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	uniqueID := 0
	for scanner.Scan() {
		line := scanner.Text()
		ex := Example{UniqueID: uniqueID}
		if m := pairLine.FindStringSubmatch(line); m != nil {
			ex.TextA = m[1]
			ex.TextB = m[2]
		} else {
			ex.TextA = line
		}
		examples = append(examples, ex)
		uniqueID++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read examples: %w", err)
	}
	return examples, nil
}

// ReadExamplesFile opens path and reads its examples.
func ReadExamplesFile(path string) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadExamples(f)
}
