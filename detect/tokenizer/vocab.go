package tokenizer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/armon/go-radix"
)

// Vocabulary maps subword strings to integer IDs. It is immutable once built and
// safe for concurrent readers.
//
// Two radix trees back longest-prefix search: one over every token (used for
// the first piece of a word) and one over continuation tokens with the "##"
// marker removed (used for every later piece).
type Vocabulary struct {
	ids          map[string]int64
	tokens       map[int64]string
	maxID        int64
	initial      *radix.Tree
	continuation *radix.Tree
}

// NewVocabulary builds a vocabulary from a token->id mapping. IDs must be
// non-negative and unique; density is checked separately by Dense.
func NewVocabulary(m map[string]int64) (*Vocabulary, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidVocabulary)
	}
	v := &Vocabulary{
		ids:          make(map[string]int64, len(m)),
		tokens:       make(map[int64]string, len(m)),
		maxID:        -1,
		initial:      radix.New(),
		continuation: radix.New(),
	}
	for tok, id := range m {
		if id < 0 {
			return nil, fmt.Errorf("%w: token %q has negative id %d", ErrInvalidVocabulary, tok, id)
		}
		if prev, dup := v.tokens[id]; dup {
			return nil, fmt.Errorf("%w: id %d shared by %q and %q", ErrInvalidVocabulary, id, prev, tok)
		}
		v.ids[tok] = id
		v.tokens[id] = tok
		if id > v.maxID {
			v.maxID = id
		}
		if tok == "" {
			continue
		}
		v.initial.Insert(tok, id)
		if rest, ok := strings.CutPrefix(tok, ContinuationPrefix); ok && rest != "" {
			v.continuation.Insert(rest, id)
		}
	}
	return v, nil
}

// Size returns the number of entries.
func (v *Vocabulary) Size() int { return len(v.ids) }

// Dense reports whether IDs cover exactly [0, Size()).
func (v *Vocabulary) Dense() bool { return v.maxID == int64(len(v.ids))-1 }

// ID looks up a token.
func (v *Vocabulary) ID(token string) (int64, bool) {
	id, ok := v.ids[token]
	return id, ok
}

// Token looks up an id.
func (v *Vocabulary) Token(id int64) (string, bool) {
	tok, ok := v.tokens[id]
	return tok, ok
}

// Tokens returns the vocabulary ordered by id. Only meaningful for dense vocabularies.
func (v *Vocabulary) Tokens() []string {
	out := make([]string, v.maxID+1)
	for id, tok := range v.tokens {
		out[id] = tok
	}
	return out
}

// longestPrefix returns the longest vocabulary piece that prefixes s.
// continuation selects the "##" tree.
func (v *Vocabulary) longestPrefix(s string, continuation bool) (string, int64, bool) {
	tree := v.initial
	if continuation {
		tree = v.continuation
	}
	piece, val, ok := tree.LongestPrefix(s)
	if !ok || piece == "" {
		return "", 0, false
	}
	return piece, val.(int64), true
}

// LoadVocabJSON reads vocab.json ({"token": id, ...}).
func LoadVocabJSON(path string) (*Vocabulary, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	var m map[string]int64
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode vocab %s: %w", path, err)
	}
	return NewVocabulary(m)
}

// LoadVocabText reads a line-ordered vocab.txt where the line number is the id.
func LoadVocabText(path string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	m := make(map[string]int64, 32000)
	var idx int64
	blank := int64(-1)
	scanner := bufio.NewScanner(f)
	for ; scanner.Scan(); idx++ {
		tok := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(tok) == "" {
			if blank < 0 {
				blank = idx
			}
			continue
		}
		// Blank lines still take an id; only trailing ones are tolerated.
		if blank >= 0 {
			return nil, fmt.Errorf("%w: blank token on line %d", ErrInvalidVocabulary, blank+1)
		}
		if _, dup := m[tok]; dup {
			return nil, fmt.Errorf("%w: duplicate token %q on line %d", ErrInvalidVocabulary, tok, idx+1)
		}
		m[tok] = idx
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan vocab: %w", err)
	}
	return NewVocabulary(m)
}
