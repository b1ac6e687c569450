package retrieval

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRequest = errors.New("invalid query request")
	// ErrAllSearchesFailed means no document could be searched, so there is
	// no context to answer from.
	ErrAllSearchesFailed = errors.New("all document searches failed")
)

// Request asks a question of a set of one owner's documents.
type Request struct {
	Query        string   `json:"query"`
	OwnerID      string   `json:"owner_id"`
	DocumentKeys []string `json:"document_keys"`
}

// Normalize trims the query and removes blank and repeated document keys,
// keeping first-seen order.
func (r Request) Normalize() (Request, error) {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return r, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if r.OwnerID == "" {
		return r, fmt.Errorf("%w: owner is required", ErrInvalidRequest)
	}

	seen := make(map[string]struct{}, len(r.DocumentKeys))
	keys := make([]string, 0, len(r.DocumentKeys))
	for _, k := range r.DocumentKeys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return r, fmt.Errorf("%w: at least one document key is required", ErrInvalidRequest)
	}
	r.DocumentKeys = keys
	return r, nil
}

// PartialSearchFailure lists the documents whose search failed while others
// succeeded. The answer is still produced from the remaining hits.
type PartialSearchFailure struct {
	Failed map[string]error
	Total  int
}

func (p *PartialSearchFailure) Error() string {
	keys := make([]string, 0, len(p.Failed))
	for k := range p.Failed {
		keys = append(keys, k)
	}
	return fmt.Sprintf("%d of %d document searches failed: %s", len(p.Failed), p.Total, strings.Join(keys, ", "))
}
