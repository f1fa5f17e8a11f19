package store

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// TokenInfo is the JSON side-channel record for one example: the surviving
// original words, their sorted word-start indices, and the reconstructed
// sub-token sequence. The 2-suffixed fields are present for sentence pairs.
type TokenInfo struct {
	OriginalTokens  []string `json:"original_tokens"`
	OriginalToBert  []int    `json:"original_to_bert"`
	BertTokens      []string `json:"bert_tokens"`
	OriginalTokens2 []string `json:"original_tokens2,omitempty"`
	OriginalToBert2 []int    `json:"original_to_bert2,omitempty"`
}

// WriteTokenInfo writes the unique_id → TokenInfo mapping as a single JSON
// object with string keys.
func WriteTokenInfo(path string, infos map[int]*TokenInfo) error {
	keyed := make(map[string]*TokenInfo, len(infos))
	for id, info := range infos {
		keyed[strconv.Itoa(id)] = info
	}
	b, err := json.Marshal(keyed)
	if err != nil {
		return fmt.Errorf("marshal token info: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write token info: %w", err)
	}
	return nil
}
