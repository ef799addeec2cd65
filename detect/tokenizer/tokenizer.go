package tokenizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	internal "github.com/ZanzyTHEbar/aidetect/detect"
)

// Tokenizer converts raw text to model-ready token IDs and attention masks.
// Every returned row has exactly maxLength entries.
type Tokenizer interface {
	EncodeBatch(texts []string, maxLength int) (inputIDs [][]int64, attentionMasks [][]int64, err error)
}

// Encoding is a single fixed-length encoded sequence.
type Encoding struct {
	InputIDs      []int64
	AttentionMask []int64
}

// Len returns the number of real (non-padding) positions.
func (e Encoding) Len() int {
	n := 0
	for _, m := range e.AttentionMask {
		if m != 0 {
			n++
		}
	}
	return n
}

const (
	TokenCLS = "[CLS]"
	TokenSEP = "[SEP]"
	TokenPAD = "[PAD]"
	TokenUNK = "[UNK]"

	// ContinuationPrefix marks every subpiece after the first one of a word.
	ContinuationPrefix = "##"
)

var (
	// ErrUnsupported indicates the tokenizer could not be initialized
	ErrUnsupported = errors.New("unsupported tokenizer configuration")
	// ErrInvalidVocabulary is returned for vocabularies with duplicate, negative or sparse IDs.
	ErrInvalidVocabulary = errors.New("invalid vocabulary")
	// ErrInvalidConfig is returned when tokenizer_config.json is inconsistent with the vocabulary.
	ErrInvalidConfig = errors.New("invalid tokenizer config")
)

// Config mirrors tokenizer_config.json as written by the export script.
type Config struct {
	MaxLength           int   `json:"max_length"`
	PadTokenID          int64 `json:"pad_token_id"`
	CLSTokenID          int64 `json:"cls_token_id"`
	SEPTokenID          int64 `json:"sep_token_id"`
	UNKTokenID          int64 `json:"unk_token_id"`
	DoLowerCase         bool  `json:"do_lower_case"`
	VocabSize           int   `json:"vocab_size,omitempty"`
	TokenizePunctuation bool  `json:"tokenize_punctuation,omitempty"`
	StripAccents        bool  `json:"strip_accents,omitempty"`
}

// DefaultConfig returns the bert-base-uncased special token layout.
func DefaultConfig() Config {
	return Config{
		MaxLength:   internal.DefaultMaxLength,
		PadTokenID:  0,
		UNKTokenID:  100,
		CLSTokenID:  101,
		SEPTokenID:  102,
		DoLowerCase: true,
	}
}

// LoadConfigFile reads tokenizer_config.json. Missing fields keep DefaultConfig values,
// so an export without do_lower_case stays uncased.
func LoadConfigFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read tokenizer config: %w", err)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode tokenizer config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the config against a loaded vocabulary.
func (c Config) Validate(v *Vocabulary) error {
	if c.MaxLength < 2 {
		return fmt.Errorf("%w: max_length %d leaves no room for [CLS]/[SEP]", ErrInvalidConfig, c.MaxLength)
	}
	if v == nil {
		return fmt.Errorf("%w: nil vocabulary", ErrInvalidConfig)
	}
	if c.VocabSize > 0 && c.VocabSize != v.Size() {
		return fmt.Errorf("%w: vocab_size %d but vocabulary has %d entries", ErrInvalidConfig, c.VocabSize, v.Size())
	}
	specials := []struct {
		name string
		id   int64
	}{
		{"pad_token_id", c.PadTokenID},
		{"cls_token_id", c.CLSTokenID},
		{"sep_token_id", c.SEPTokenID},
		{"unk_token_id", c.UNKTokenID},
	}
	for _, s := range specials {
		if _, ok := v.Token(s.id); !ok {
			return fmt.Errorf("%w: %s=%d not in vocabulary", ErrInvalidConfig, s.name, s.id)
		}
	}
	return nil
}
