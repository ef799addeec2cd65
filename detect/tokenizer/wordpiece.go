package tokenizer

import (
	"unicode/utf8"

	"github.com/sourcegraph/conc/iter"
)

// WordPiece is a BERT-style greedy longest-match-first tokenizer.
// It holds no mutable state and is safe for concurrent use.
type WordPiece struct {
	vocab *Vocabulary
	cfg   Config
	basic basicTokenizer
	unkID int64
}

type piece struct {
	text string
	id   int64
}

// NewWordPiece binds a vocabulary to a tokenizer config.
func NewWordPiece(vocab *Vocabulary, cfg Config) *WordPiece {
	unkID := cfg.UNKTokenID
	if id, ok := vocab.ID(TokenUNK); ok {
		unkID = id
	}
	return &WordPiece{
		vocab: vocab,
		cfg:   cfg,
		basic: newBasicTokenizer(cfg),
		unkID: unkID,
	}
}

// Config returns the tokenizer config.
func (w *WordPiece) Config() Config { return w.cfg }

// Vocabulary returns the underlying vocabulary.
func (w *WordPiece) Vocabulary() *Vocabulary { return w.vocab }

// Tokenize splits text into subword strings.
func (w *WordPiece) Tokenize(text string) []string {
	pieces := w.pieces(text, -1)
	out := make([]string, len(pieces))
	for i, p := range pieces {
		out[i] = p.text
	}
	return out
}

// pieces tokenizes text, stopping once limit pieces are collected (limit < 0 means no limit).
func (w *WordPiece) pieces(text string, limit int) []piece {
	var out []piece
	for _, word := range w.basic.words(text) {
		if limit >= 0 && len(out) >= limit {
			break
		}
		out = w.appendWord(out, word)
	}
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// appendWord runs longest-match-first over a single word. When nothing in the
// vocabulary prefixes the remaining suffix, [UNK] is emitted and exactly one
// rune is consumed, so the loop always terminates.
func (w *WordPiece) appendWord(dst []piece, word string) []piece {
	rest := word
	first := true
	for rest != "" {
		match, id, ok := w.vocab.longestPrefix(rest, !first)
		if ok {
			text := match
			if !first {
				text = ContinuationPrefix + match
			}
			dst = append(dst, piece{text: text, id: id})
			rest = rest[len(match):]
		} else {
			dst = append(dst, piece{text: TokenUNK, id: w.unkID})
			_, size := utf8.DecodeRuneInString(rest)
			rest = rest[size:]
		}
		first = false
	}
	return dst
}

// Encode produces a fixed-length sequence: [CLS] tokens... [SEP] [PAD]...
// Content is truncated to maxLength-2 tokens. Empty text yields [CLS] [SEP] and padding.
func (w *WordPiece) Encode(text string, maxLength int) Encoding {
	if maxLength < 2 {
		maxLength = 2
	}
	pieces := w.pieces(text, maxLength-2)

	ids := make([]int64, maxLength)
	mask := make([]int64, maxLength)
	ids[0], mask[0] = w.cfg.CLSTokenID, 1
	pos := 1
	for _, p := range pieces {
		ids[pos], mask[pos] = p.id, 1
		pos++
	}
	ids[pos], mask[pos] = w.cfg.SEPTokenID, 1
	pos++
	for ; pos < maxLength; pos++ {
		ids[pos] = w.cfg.PadTokenID
	}
	return Encoding{InputIDs: ids, AttentionMask: mask}
}

// ConvertTokensToIDs maps token strings to ids, falling back to the unknown id.
func (w *WordPiece) ConvertTokensToIDs(tokens []string) []int64 {
	out := make([]int64, len(tokens))
	for i, tok := range tokens {
		id, ok := w.vocab.ID(tok)
		if !ok {
			id = w.cfg.UNKTokenID
		}
		out[i] = id
	}
	return out
}

// EncodeBatch encodes texts in parallel. It never returns an error.
func (w *WordPiece) EncodeBatch(texts []string, maxLength int) ([][]int64, [][]int64, error) {
	encs := iter.Map(texts, func(t *string) Encoding {
		return w.Encode(*t, maxLength)
	})
	ids := make([][]int64, len(encs))
	masks := make([][]int64, len(encs))
	for i, e := range encs {
		ids[i] = e.InputIDs
		masks[i] = e.AttentionMask
	}
	return ids, masks, nil
}
