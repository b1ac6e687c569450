package text

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens the way the embedding model will. Implementations
// must be deterministic.
type Tokenizer interface {
	Count(s string) int
}

type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads a BPE encoding such as cl100k_base. Unless
// LoadEncodingsFrom was called, the first call for an encoding may download
// its rank file.
func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

func (t *TiktokenTokenizer) Count(s string) int {
	return len(t.enc.Encode(s, nil, nil))
}
