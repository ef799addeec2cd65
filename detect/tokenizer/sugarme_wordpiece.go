package tokenizer

import (
	"bufio"
	"fmt"
	"os"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
)

// SugarWordPiece wraps sugarme/tokenizer WordPiece for HuggingFace parity.
// It follows HF BERT rules rather than WordPiece: a word with no full
// segmentation becomes one [UNK] and punctuation is always split. Special tokens, truncation and
// padding are applied here to keep the fixed-length Encoding contract.
type SugarWordPiece struct {
	t   *tk.Tokenizer
	cfg Config
}

// NewSugarWordPiece builds a sugarme tokenizer from a dense vocabulary. The
// vocabulary is spilled to a temporary vocab.txt because sugarme only loads
// WordPiece models from files.
func NewSugarWordPiece(vocab *Vocabulary, cfg Config) (*SugarWordPiece, error) {
	if vocab == nil || !vocab.Dense() {
		return nil, fmt.Errorf("%w: sugarme engine needs a dense vocabulary", ErrUnsupported)
	}
	vocabFile, err := writeVocabText(vocab)
	if err != nil {
		return nil, err
	}
	defer os.Remove(vocabFile)

	unk, ok := vocab.Token(cfg.UNKTokenID)
	if !ok {
		unk = TokenUNK
	}
	wp, err := wordpiece.NewWordPieceFromFile(vocabFile, unk)
	if err != nil {
		return nil, fmt.Errorf("load sugarme wordpiece: %w", err)
	}

	t := tk.NewTokenizer(wp)
	t.WithNormalizer(normalizer.NewBertNormalizer(true, cfg.DoLowerCase, true, cfg.DoLowerCase || cfg.StripAccents))
	t.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())

	return &SugarWordPiece{t: t, cfg: cfg}, nil
}

func writeVocabText(vocab *Vocabulary) (string, error) {
	f, err := os.CreateTemp("", "aidetect-vocab-*.txt")
	if err != nil {
		return "", fmt.Errorf("create vocab file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, tok := range vocab.Tokens() {
		if _, err := w.WriteString(tok + "\n"); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", fmt.Errorf("write vocab file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("flush vocab file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close vocab file: %w", err)
	}
	return f.Name(), nil
}

// Encode tokenizes one text into a fixed-length Encoding.
func (s *SugarWordPiece) Encode(text string, maxLength int) (Encoding, error) {
	if maxLength < 2 {
		maxLength = 2
	}
	ids := make([]int64, maxLength)
	mask := make([]int64, maxLength)
	ids[0], mask[0] = s.cfg.CLSTokenID, 1
	pos := 1

	if text != "" {
		enc, err := s.t.Encode(tk.NewSingleEncodeInput(tk.NewInputSequence(text)), false)
		if err != nil {
			return Encoding{}, fmt.Errorf("sugarme encode: %w", err)
		}
		for _, id := range enc.GetIds() {
			if pos >= maxLength-1 {
				break
			}
			ids[pos], mask[pos] = int64(id), 1
			pos++
		}
	}

	ids[pos], mask[pos] = s.cfg.SEPTokenID, 1
	pos++
	for ; pos < maxLength; pos++ {
		ids[pos] = s.cfg.PadTokenID
	}
	return Encoding{InputIDs: ids, AttentionMask: mask}, nil
}

// EncodeBatch encodes texts sequentially; the sugarme tokenizer is not
// documented as safe for concurrent use.
func (s *SugarWordPiece) EncodeBatch(texts []string, maxLength int) ([][]int64, [][]int64, error) {
	ids := make([][]int64, len(texts))
	masks := make([][]int64, len(texts))
	for i, txt := range texts {
		enc, err := s.Encode(txt, maxLength)
		if err != nil {
			return nil, nil, err
		}
		ids[i] = enc.InputIDs
		masks[i] = enc.AttentionMask
	}
	return ids, masks, nil
}
