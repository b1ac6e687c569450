package text

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"ragline/internal/loader"
)

var ErrInvalidWindow = errors.New("invalid chunk window")

// A unit is a word with its leading whitespace. A word over the budget is cut
// at rune boundaries; only a single rune over the budget becomes an oversized
// chunk of its own.
var unitPattern = regexp.MustCompile(`\s*\S+`)

// Chunk is one token-bounded span of a document. Tokens is the sum of its
// units' counts.
type Chunk struct {
	Text      string
	Label     string
	Sequence  int
	Tokens    int
	Oversized bool
}

type Splitter struct {
	tok     Tokenizer
	budget  int
	overlap int
}

func NewSplitter(tok Tokenizer, budget, overlap int) (*Splitter, error) {
	if budget < 1 || overlap < 0 || overlap >= budget {
		return nil, fmt.Errorf("%w: budget=%d overlap=%d", ErrInvalidWindow, budget, overlap)
	}
	return &Splitter{tok: tok, budget: budget, overlap: overlap}, nil
}

// Split chunks the segments of one document in order. Sequence numbers run
// across segments; the overlap window does not.
func (s *Splitter) Split(segments []loader.Segment) []Chunk {
	var chunks []Chunk
	for _, seg := range segments {
		chunks = s.splitSegment(chunks, seg)
	}
	return chunks
}

type unit struct {
	text   string
	tokens int
}

func (s *Splitter) splitSegment(chunks []Chunk, seg loader.Segment) []Chunk {
	var (
		window       []unit
		windowTokens int
		fresh        int // units in window not yet emitted in any chunk
	)

	emit := func(units []unit, oversized bool) {
		var b strings.Builder
		tokens := 0
		for _, u := range units {
			b.WriteString(u.text)
			tokens += u.tokens
		}
		text := strings.TrimSpace(b.String())
		if text == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Text:      text,
			Label:     seg.Label,
			Sequence:  len(chunks),
			Tokens:    tokens,
			Oversized: oversized,
		})
	}

	add := func(u unit) {
		if u.tokens > s.budget {
			if fresh > 0 {
				emit(window, false)
			}
			emit([]unit{u}, true)
			window, windowTokens, fresh = nil, 0, 0
			return
		}

		if windowTokens+u.tokens > s.budget {
			if fresh > 0 {
				emit(window, false)
				window = suffix(window, s.overlap)
				windowTokens = total(window)
				fresh = 0
			}
			for len(window) > 0 && windowTokens+u.tokens > s.budget {
				windowTokens -= window[0].tokens
				window = window[1:]
			}
		}

		window = append(window, u)
		windowTokens += u.tokens
		fresh++
	}

	for _, m := range unitPattern.FindAllString(seg.Text, -1) {
		u := unit{text: m, tokens: s.tok.Count(m)}
		if u.tokens <= s.budget {
			add(u)
			continue
		}
		for _, p := range s.pieces(u.text, s.pieceSize()) {
			add(p)
		}
	}

	if fresh > 0 {
		emit(window, false)
	}
	return chunks
}

// pieceSize bounds the parts of a cut word so the overlap window can still
// carry one of them into the next chunk.
func (s *Splitter) pieceSize() int {
	size := max(s.overlap, s.budget/8)
	return max(size, 1)
}

// pieces cuts text at rune boundaries into the longest parts counting at most
// size tokens each. A rune that alone exceeds size is a part by itself.
func (s *Splitter) pieces(text string, size int) []unit {
	bounds := make([]int, 0, len(text)+1)
	for i := range text {
		bounds = append(bounds, i)
	}
	bounds = append(bounds, len(text))
	last := len(bounds) - 1

	var out []unit
	for start := 0; start < last; {
		fits := func(end int) bool {
			return s.tok.Count(text[bounds[start]:bounds[end]]) <= size
		}

		// Gallop to bracket the cut, then bisect.
		good, bad := start+1, last+1
		if fits(good) {
			for step := 2; ; step *= 2 {
				next := start + step
				if next >= last {
					if fits(last) {
						good = last
					} else {
						bad = last
					}
					break
				}
				if !fits(next) {
					bad = next
					break
				}
				good = next
			}
			for bad-good > 1 {
				mid := (good + bad) / 2
				if fits(mid) {
					good = mid
				} else {
					bad = mid
				}
			}
		}

		part := text[bounds[start]:bounds[good]]
		out = append(out, unit{text: part, tokens: s.tok.Count(part)})
		start = good
	}
	return out
}

// suffix returns the longest tail of units whose tokens fit in limit.
func suffix(units []unit, limit int) []unit {
	sum, i := 0, len(units)
	for i > 0 && sum+units[i-1].tokens <= limit {
		i--
		sum += units[i].tokens
	}
	return units[i:]
}

func total(units []unit) int {
	n := 0
	for _, u := range units {
		n += u.tokens
	}
	return n
}
