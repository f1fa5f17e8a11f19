package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matt-peters/bert/bert/encode"
	"github.com/matt-peters/bert/bert/features"
	"github.com/matt-peters/bert/bert/store"
	"github.com/matt-peters/bert/bert/tokenizer"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/sourcegraph/conc/pool"
)

// ErrTruncatedAlignment is recorded for an example whose sequence had to be
// cut while word alignment was requested: truncation would leave recorded
// word-start indices pointing past the kept tokens, so alignment mode
// refuses it instead of emitting wrong indices.
var ErrTruncatedAlignment = errors.New("sequence truncated while word alignment requested")

// Sink receives the terminal feature tensors. A sentence's tensor is stored
// under its unique id; a pair's two tensors under 2*id and 2*id+1.
type Sink interface {
	PutTensor(key int, t *features.FeatureTensor) error
}

// Options configures a pipeline run.
type Options struct {
	MaxSeqLength int
	BatchSize    int
	// Workers bounds the conversion pool; 0 derives a count from the CPUs.
	Workers int
	// TokensOnly selects word-aligned extraction. When false, index sets
	// cover every non-special token position instead.
	TokensOnly bool
}

// Pipeline runs examples through conversion, validation, encoding, and
// feature gathering. Examples share no mutable state, so conversion fans
// out over a worker pool; encoder results are matched back to their
// alignment records by unique id, never by batch position.
type Pipeline struct {
	conv    *encode.Converter
	tok     tokenizer.Tokenizer
	enc     features.Encoder
	opts    Options
	asserts *assert.AssertHandler
}

// Stats tracks counts across one run.
type Stats struct {
	Converted int64
	Failed    int64
	Encoded   int64
	Stored    int64
}

// New creates a pipeline. enc may block for inference; everything else is
// CPU-bound per example.
func New(tok tokenizer.Tokenizer, enc features.Encoder, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = min(max(runtime.NumCPU()*2, 4), 32)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	assertHandler := assert.NewAssertHandler()
	return &Pipeline{
		conv:    encode.NewConverter(tok, opts.MaxSeqLength, assertHandler),
		tok:     tok,
		enc:     enc,
		opts:    opts,
		asserts: assertHandler,
	}
}

// converted is one example's per-worker intermediate state; it is owned by
// a single goroutine until the slice slot is read after Wait.
type converted struct {
	example Example
	feats   *encode.InputFeatures
	align   *encode.Alignment
}

// Example aliases encode.Example for callers that only import pipeline.
type Example = encode.Example

// Run processes all examples and hands their tensors to sink. Validation
// failures are accumulated and reported together at the end of the run
// rather than aborting on the first; a failed example contributes no
// tensor. The returned token info maps unique ids to their side-channel
// records.
func (p *Pipeline) Run(ctx context.Context, examples []Example, sink Sink) (map[int]*store.TokenInfo, error) {
	start := time.Now()
	stats := &Stats{}
	results := make([]*converted, len(examples))

	var failMu sync.Mutex
	var failures []error
	fail := func(err error) {
		failMu.Lock()
		failures = append(failures, err)
		failMu.Unlock()
		atomic.AddInt64(&stats.Failed, 1)
	}

	workers := pool.New().WithMaxGoroutines(p.opts.Workers).WithContext(ctx)
	for i, ex := range examples {
		workers.Go(func(ctx context.Context) error {
			f, err := p.conv.Convert(ex)
			if err != nil {
				fail(fmt.Errorf("example %d: %w", ex.UniqueID, err))
				return nil
			}
			c := &converted{example: ex, feats: f}
			if p.opts.TokensOnly {
				if f.Truncated {
					fail(fmt.Errorf("example %d: %w", ex.UniqueID, ErrTruncatedAlignment))
					return nil
				}
				c.align = p.conv.TrackAlignment(ex)
				if err := encode.Validate(f, c.align, p.tok.LowerCases()); err != nil {
					fail(err)
					return nil
				}
			}
			if ex.UniqueID < 5 {
				f.LogExample()
			}
			results[i] = c
			atomic.AddInt64(&stats.Converted, 1)
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		return nil, err
	}

	tokenInfo := make(map[int]*store.TokenInfo, len(examples))
	ready := make([]*converted, 0, len(results))
	for _, c := range results {
		if c == nil {
			continue
		}
		tokenInfo[c.feats.UniqueID] = p.tokenInfoFor(c)
		ready = append(ready, c)
	}

	byID := make(map[int]*converted, len(ready))
	for _, c := range ready {
		byID[c.feats.UniqueID] = c
	}

	for base := 0; base < len(ready); base += p.opts.BatchSize {
		end := min(base+p.opts.BatchSize, len(ready))
		batch := make([]*encode.InputFeatures, 0, end-base)
		for _, c := range ready[base:end] {
			batch = append(batch, c.feats)
		}
		acts, err := p.enc.Encode(ctx, batch)
		if err != nil {
			failures = append(failures, fmt.Errorf("encode batch at %d: %w", base, err))
			break
		}
		atomic.AddInt64(&stats.Encoded, int64(len(acts)))
		for _, act := range acts {
			c, ok := byID[act.UniqueID]
			if !ok {
				failures = append(failures, fmt.Errorf("encoder returned unknown unique id %d", act.UniqueID))
				continue
			}
			if err := p.gatherAndStore(c, act, sink, stats); err != nil {
				failures = append(failures, err)
			}
		}
	}

	slog.Info("Extraction completed",
		"examples", len(examples),
		"converted", atomic.LoadInt64(&stats.Converted),
		"encoded", atomic.LoadInt64(&stats.Encoded),
		"stored", atomic.LoadInt64(&stats.Stored),
		"failed", atomic.LoadInt64(&stats.Failed),
		"duration", time.Since(start))

	return tokenInfo, errors.Join(failures...)
}

// gatherAndStore selects the word-start rows for one example (both
// sentences for pairs) and hands the tensors to the sink.
func (p *Pipeline) gatherAndStore(c *converted, act *features.LayerActivations, sink Sink, stats *Stats) error {
	startsA, wordsA, startsB, wordsB := p.indexSets(c)

	expectedA := len(startsA)
	if wordsA != nil {
		expectedA = len(wordsA)
	}
	tensorA, err := features.Gather(act, startsA, expectedA, wordsA)
	if err != nil {
		return err
	}

	if startsB == nil {
		if err := sink.PutTensor(c.feats.UniqueID, tensorA); err != nil {
			return fmt.Errorf("store tensor %d: %w", c.feats.UniqueID, err)
		}
		atomic.AddInt64(&stats.Stored, 1)
		return nil
	}

	expectedB := len(startsB)
	if wordsB != nil {
		expectedB = len(wordsB)
	}
	tensorB, err := features.Gather(act, startsB, expectedB, wordsB)
	if err != nil {
		return err
	}
	keyA, keyB := 2*c.feats.UniqueID, 2*c.feats.UniqueID+1
	if err := sink.PutTensor(keyA, tensorA); err != nil {
		return fmt.Errorf("store tensor %d: %w", keyA, err)
	}
	if err := sink.PutTensor(keyB, tensorB); err != nil {
		return fmt.Errorf("store tensor %d: %w", keyB, err)
	}
	atomic.AddInt64(&stats.Stored, 2)
	return nil
}

// indexSets returns the positions to gather for each sentence. In aligned
// mode these are the tracked word starts; otherwise every non-special
// token position, derived from the mask and segment counts.
func (p *Pipeline) indexSets(c *converted) (startsA []int, wordsA []string, startsB []int, wordsB []string) {
	if p.opts.TokensOnly {
		startsA, wordsA = c.align.StartIndices(), c.align.Words
		if c.align.StartsB != nil {
			startsB, wordsB = c.align.StartIndicesB(), c.align.WordsB
		}
		return
	}
	return positionalIndexSets(c.feats)
}

// positionalIndexSets reproduces the non-aligned reference behavior: for a
// single sentence, positions 1..len-2 (everything between [CLS] and
// [SEP]); for a pair, the first sentence's interior and then the second
// sentence's tokens up to but excluding its trailing [SEP].
func positionalIndexSets(f *encode.InputFeatures) (startsA []int, wordsA []string, startsB []int, wordsB []string) {
	lenWithClsSep := 0
	for _, m := range f.InputMask {
		if m == 1 {
			lenWithClsSep++
		}
	}
	lenSentence2Sep := 0
	for _, s := range f.SegmentIDs {
		if s == 1 {
			lenSentence2Sep++
		}
	}
	if lenSentence2Sep == 0 {
		for i := 1; i < lenWithClsSep-1; i++ {
			startsA = append(startsA, i)
		}
		return
	}
	lenSentence1WithClsSep := lenWithClsSep - lenSentence2Sep
	for i := 1; i < lenSentence1WithClsSep-1; i++ {
		startsA = append(startsA, i)
	}
	for i := 0; i < lenSentence2Sep-1; i++ {
		startsB = append(startsB, i+lenSentence1WithClsSep)
	}
	return
}

// tokenInfoFor builds the JSON side-channel record for one example.
func (p *Pipeline) tokenInfoFor(c *converted) *store.TokenInfo {
	if !p.opts.TokensOnly {
		startsA, _, startsB, _ := positionalIndexSets(c.feats)
		return &store.TokenInfo{OriginalToBert: startsA, OriginalToBert2: startsB}
	}
	info := &store.TokenInfo{
		OriginalTokens: c.align.Words,
		OriginalToBert: c.align.StartIndices(),
		BertTokens:     c.align.Tokens,
	}
	if c.align.StartsB != nil {
		info.OriginalTokens2 = c.align.WordsB
		info.OriginalToBert2 = c.align.StartIndicesB()
	}
	return info
}
