package tokenizer

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSugarWordPieceFixedLength(t *testing.T) {
	v, err := NewVocabulary(map[string]int64{
		"[PAD]": 0, "[UNK]": 1, "[CLS]": 2, "[SEP]": 3, "the": 4, "quick": 5, "fox": 6,
	})
	require.NoError(t, err)
	cfg := Config{MaxLength: 6, PadTokenID: 0, UNKTokenID: 1, CLSTokenID: 2, SEPTokenID: 3, DoLowerCase: true}

	swp, err := NewSugarWordPiece(v, cfg)
	require.NoError(t, err)

	enc, err := swp.Encode("the quick", 6)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4, 5, 3, 0, 0}, enc.InputIDs)
	assert.Equal(t, []int64{1, 1, 1, 1, 0, 0}, enc.AttentionMask)

	ids, masks, err := swp.EncodeBatch([]string{"", "the quick fox the quick fox"}, 6)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 0, 0, 0, 0}, ids[0])
	assert.Equal(t, []int64{1, 1, 0, 0, 0, 0}, masks[0])
	assert.Equal(t, []int64{2, 4, 5, 6, 4, 3}, ids[1])
	assert.Equal(t, []int64{1, 1, 1, 1, 1, 1}, masks[1])
}

func TestSugarWordPieceFollowsHFRules(t *testing.T) {
	v, err := NewVocabulary(map[string]int64{
		"[PAD]": 0, "[UNK]": 1, "[CLS]": 2, "[SEP]": 3, "the": 4, "a": 5, "##b": 6,
	})
	require.NoError(t, err)
	cfg := Config{MaxLength: 8, PadTokenID: 0, UNKTokenID: 1, CLSTokenID: 2, SEPTokenID: 3, DoLowerCase: true}
	swp, err := NewSugarWordPiece(v, cfg)
	require.NoError(t, err)
	wp := NewWordPiece(v, cfg)

	tests := []struct {
		text      string
		wordpiece []int64
		sugar     []int64
	}{
		// A partial match falls back per character in WordPiece, whole word in HF.
		{"abz", []int64{2, 5, 6, 1, 3, 0, 0, 0}, []int64{2, 1, 3, 0, 0, 0, 0, 0}},
		{"zz the", []int64{2, 1, 1, 4, 3, 0, 0, 0}, []int64{2, 1, 4, 3, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		enc, err := swp.Encode(tt.text, 8)
		require.NoError(t, err)
		assert.Equal(t, tt.sugar, enc.InputIDs, "sugarme %q", tt.text)
		assert.Equal(t, tt.wordpiece, wp.Encode(tt.text, 8).InputIDs, "wordpiece %q", tt.text)
	}

	// Punctuation is split even though TokenizePunctuation is off.
	enc, err := swp.Encode("the,the", 8)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4, 1, 4, 3, 0, 0, 0}, enc.InputIDs)
}

func TestSugarWordPieceNeedsDenseVocab(t *testing.T) {
	v, err := NewVocabulary(map[string]int64{"[UNK]": 0, "a": 5})
	require.NoError(t, err)
	_, err = NewSugarWordPiece(v, DefaultConfig())
	assert.ErrorIs(t, err, ErrUnsupported)
}

// TestTokenizerParity compares our Go tokenizer output against a reference
// HuggingFace tokenizer (Python). If Python or transformers isn't available
// the test is skipped.
func TestTokenizerParity(t *testing.T) {
	py, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not found; skipping parity test")
	}

	dumpVocab := `import json
from transformers import AutoTokenizer
t=AutoTokenizer.from_pretrained("distilbert-base-uncased")
v=t.get_vocab()
inv=sorted(v.items(), key=lambda kv:kv[1])
print(json.dumps([k for k,_ in inv]))`

	out, err := exec.Command(py, "-c", dumpVocab).Output()
	if err != nil {
		t.Skipf("python transformers not available or network issue: %v", err)
	}
	var tokens []string
	require.NoError(t, json.Unmarshal(out, &tokens))

	vocabPath := filepath.Join(t.TempDir(), "vocab.txt")
	f, err := os.Create(vocabPath)
	require.NoError(t, err)
	for _, tok := range tokens {
		_, err := f.WriteString(tok + "\n")
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	vocab, err := LoadVocabText(vocabPath)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.MaxLength = 64
	cfg.TokenizePunctuation = true
	cfg.StripAccents = true
	wp := NewWordPiece(vocab, cfg)

	sents := []string{
		"hello world",
		"the quick brown fox jumps over the lazy dog",
		"Furthermore, it is important to note the comprehensive nature of this analysis.",
	}

	pyEnc := `import json
from transformers import AutoTokenizer
t=AutoTokenizer.from_pretrained("distilbert-base-uncased")
s=["hello world","the quick brown fox jumps over the lazy dog","Furthermore, it is important to note the comprehensive nature of this analysis."]
out=[]
for x in s:
    enc=t(x, padding='max_length', truncation=True, max_length=64)
    out.append({'ids':enc['input_ids'],'mask':enc['attention_mask']})
print(json.dumps(out))`

	out2, err := exec.Command(py, "-c", pyEnc).Output()
	if err != nil {
		t.Skipf("python encode failed: %v", err)
	}
	var pyRes []struct {
		Ids  []int64 `json:"ids"`
		Mask []int64 `json:"mask"`
	}
	require.NoError(t, json.Unmarshal(out2, &pyRes))
	require.Len(t, pyRes, len(sents))

	for i, s := range sents {
		enc := wp.Encode(s, 64)
		assert.Equal(t, pyRes[i].Ids, enc.InputIDs, "ids mismatch for %q", s)
		assert.Equal(t, pyRes[i].Mask, enc.AttentionMask, "mask mismatch for %q", s)
	}
}
