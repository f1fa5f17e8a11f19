package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/matt-peters/bert/bert/encode"
	"github.com/matt-peters/bert/bert/features"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gonum.org/v1/gonum/mat"
)

// stubTokenizer lower-cases, splits on whitespace, and expands words found
// in pieces into their sub-tokens.
type stubTokenizer struct {
	pieces map[string][]string
	mu     sync.Mutex
	ids    map[string]int64
}

func newStubTokenizer(pieces map[string][]string) *stubTokenizer {
	return &stubTokenizer{pieces: pieces, ids: make(map[string]int64)}
}

func (s *stubTokenizer) Tokenize(text string) []string {
	var out []string
	for _, w := range strings.Fields(text) {
		w = strings.ToLower(w)
		if p, ok := s.pieces[w]; ok {
			out = append(out, p...)
			continue
		}
		out = append(out, w)
	}
	return out
}

func (s *stubTokenizer) ConvertTokensToIDs(tokens []string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, len(tokens))
	for i, tok := range tokens {
		id, ok := s.ids[tok]
		if !ok {
			id = int64(len(s.ids)) + 1
			s.ids[tok] = id
		}
		ids[i] = id
	}
	return ids
}

func (s *stubTokenizer) LowerCases() bool { return true }

// fakeEncoder emits two deterministic layers per example: cell (pos, dim)
// of layer l holds uid*10000 + l*1000 + pos*10 + dim, so gathered rows can
// be checked against the position they came from.
type fakeEncoder struct {
	width   int
	reverse bool
}

func (e *fakeEncoder) Encode(_ context.Context, batch []*encode.InputFeatures) ([]*features.LayerActivations, error) {
	out := make([]*features.LayerActivations, 0, len(batch))
	for _, f := range batch {
		layers := make([]*mat.Dense, 2)
		for l := range layers {
			m := mat.NewDense(len(f.InputIDs), e.width, nil)
			for pos := 0; pos < len(f.InputIDs); pos++ {
				for d := 0; d < e.width; d++ {
					m.Set(pos, d, float64(f.UniqueID*10000+l*1000+pos*10+d))
				}
			}
			layers[l] = m
		}
		out = append(out, &features.LayerActivations{UniqueID: f.UniqueID, Layers: layers})
	}
	if e.reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

type memorySink struct {
	mu      sync.Mutex
	tensors map[int]*features.FeatureTensor
}

func newMemorySink() *memorySink {
	return &memorySink{tensors: make(map[int]*features.FeatureTensor)}
}

func (s *memorySink) PutTensor(key int, t *features.FeatureTensor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.tensors[key]; dup {
		return errors.New("duplicate key")
	}
	s.tensors[key] = t
	return nil
}

func TestRunAlignedSingleSentence(t *testing.T) {
	tok := newStubTokenizer(map[string][]string{
		"unbelievably": {"un", "##believ", "##ably"},
	})
	p := New(tok, &fakeEncoder{width: 4}, Options{MaxSeqLength: 16, TokensOnly: true})
	sink := newMemorySink()

	info, err := p.Run(context.Background(), []Example{
		{UniqueID: 0, TextA: "unbelievably big"},
	}, sink)
	require.NoError(t, err)

	tensor, ok := sink.tensors[0]
	require.True(t, ok)
	assert.Equal(t, 2, tensor.Layers)
	assert.Equal(t, 2, tensor.Words)
	assert.Equal(t, 4, tensor.Width)
	// word 0 starts at position 1, word 1 ("big") at position 4
	assert.Equal(t, []float32{10, 11, 12, 13}, tensor.Row(0, 0))
	assert.Equal(t, []float32{40, 41, 42, 43}, tensor.Row(0, 1))
	assert.Equal(t, []float32{1040, 1041, 1042, 1043}, tensor.Row(1, 1))

	require.Contains(t, info, 0)
	assert.Equal(t, []string{"unbelievably", "big"}, info[0].OriginalTokens)
	assert.Equal(t, []int{1, 4}, info[0].OriginalToBert)
	assert.Equal(t, []string{"[CLS]", "un", "##believ", "##ably", "big", "[SEP]"}, info[0].BertTokens)
	assert.Nil(t, info[0].OriginalTokens2)
}

func TestRunPairStoresTwoTensors(t *testing.T) {
	p := New(newStubTokenizer(nil), &fakeEncoder{width: 2}, Options{MaxSeqLength: 16, TokensOnly: true})
	sink := newMemorySink()

	info, err := p.Run(context.Background(), []Example{
		{UniqueID: 3, TextA: "New York", TextB: "big city"},
	}, sink)
	require.NoError(t, err)

	// pair tensors live under 2*id and 2*id+1
	require.Contains(t, sink.tensors, 6)
	require.Contains(t, sink.tensors, 7)
	assert.NotContains(t, sink.tensors, 3)

	a, b := sink.tensors[6], sink.tensors[7]
	assert.Equal(t, 2, a.Words)
	assert.Equal(t, 2, b.Words)
	// [CLS] new york [SEP] big city [SEP]: "big" sits at position 4
	assert.Equal(t, []float32{30040, 30041}, b.Row(0, 0))

	assert.Equal(t, []string{"big", "city"}, info[3].OriginalTokens2)
	assert.Equal(t, []int{4, 5}, info[3].OriginalToBert2)
}

func TestRunMatchesActivationsByID(t *testing.T) {
	p := New(newStubTokenizer(nil), &fakeEncoder{width: 2, reverse: true},
		Options{MaxSeqLength: 8, TokensOnly: true, BatchSize: 4})
	sink := newMemorySink()

	_, err := p.Run(context.Background(), []Example{
		{UniqueID: 0, TextA: "aa"},
		{UniqueID: 1, TextA: "bb"},
		{UniqueID: 2, TextA: "cc"},
	}, sink)
	require.NoError(t, err)

	require.Len(t, sink.tensors, 3)
	for id := 0; id < 3; id++ {
		tensor := sink.tensors[id]
		require.NotNil(t, tensor)
		assert.Equal(t, id, tensor.UniqueID)
		// position 1 of the right example, not of the batch slot
		assert.Equal(t, []float32{float32(id*10000 + 10), float32(id*10000 + 11)}, tensor.Row(0, 0))
	}
}

func TestRunSmallBatches(t *testing.T) {
	p := New(newStubTokenizer(nil), &fakeEncoder{width: 2},
		Options{MaxSeqLength: 8, TokensOnly: true, BatchSize: 1})
	sink := newMemorySink()

	_, err := p.Run(context.Background(), []Example{
		{UniqueID: 0, TextA: "a"},
		{UniqueID: 1, TextA: "b"},
		{UniqueID: 2, TextA: "c"},
	}, sink)
	require.NoError(t, err)
	assert.Len(t, sink.tensors, 3)
}

func TestRunRefusesTruncationWhenAligned(t *testing.T) {
	p := New(newStubTokenizer(nil), &fakeEncoder{width: 2},
		Options{MaxSeqLength: 6, TokensOnly: true})
	sink := newMemorySink()

	long := strings.Repeat("w ", 20)
	info, err := p.Run(context.Background(), []Example{
		{UniqueID: 0, TextA: long},
		{UniqueID: 1, TextA: "short text"},
	}, sink)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTruncatedAlignment)

	// the good example still went through
	assert.Contains(t, sink.tensors, 1)
	assert.NotContains(t, sink.tensors, 0)
	assert.Contains(t, info, 1)
	assert.NotContains(t, info, 0)
}

func TestRunPositionalSingle(t *testing.T) {
	p := New(newStubTokenizer(nil), &fakeEncoder{width: 2},
		Options{MaxSeqLength: 8, TokensOnly: false})
	sink := newMemorySink()

	info, err := p.Run(context.Background(), []Example{
		{UniqueID: 0, TextA: "a b c"},
	}, sink)
	require.NoError(t, err)

	tensor := sink.tensors[0]
	require.NotNil(t, tensor)
	// every interior position between [CLS] and [SEP]
	assert.Equal(t, 3, tensor.Words)
	assert.Equal(t, []float32{10, 11}, tensor.Row(0, 0))
	assert.Equal(t, []float32{30, 31}, tensor.Row(0, 2))

	assert.Equal(t, []int{1, 2, 3}, info[0].OriginalToBert)
	assert.Nil(t, info[0].OriginalTokens)
}

func TestRunPositionalPair(t *testing.T) {
	p := New(newStubTokenizer(nil), &fakeEncoder{width: 2},
		Options{MaxSeqLength: 8, TokensOnly: false})
	sink := newMemorySink()

	info, err := p.Run(context.Background(), []Example{
		{UniqueID: 2, TextA: "a b", TextB: "c"},
	}, sink)
	require.NoError(t, err)

	// [CLS] a b [SEP] c [SEP]
	require.Contains(t, sink.tensors, 4)
	require.Contains(t, sink.tensors, 5)
	assert.Equal(t, 2, sink.tensors[4].Words)
	assert.Equal(t, 1, sink.tensors[5].Words)
	assert.Equal(t, []float32{20040, 20041}, sink.tensors[5].Row(0, 0))

	assert.Equal(t, []int{1, 2}, info[2].OriginalToBert)
	assert.Equal(t, []int{4}, info[2].OriginalToBert2)
}

func TestRunTruncationAllowedWhenPositional(t *testing.T) {
	p := New(newStubTokenizer(nil), &fakeEncoder{width: 2},
		Options{MaxSeqLength: 6, TokensOnly: false})
	sink := newMemorySink()

	long := strings.Repeat("w ", 20)
	_, err := p.Run(context.Background(), []Example{{UniqueID: 0, TextA: long}}, sink)
	require.NoError(t, err)

	tensor := sink.tensors[0]
	require.NotNil(t, tensor)
	assert.Equal(t, 4, tensor.Words) // 6 - [CLS] - [SEP]
}
