// Package artifacttest writes small model artifacts to disk for tests.
package artifacttest

import (
	"encoding/json"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	internal "github.com/ZanzyTHEbar/aidetect/detect"
	"github.com/ZanzyTHEbar/aidetect/detect/artifact"
	"github.com/stretchr/testify/require"
)

// Special token ids shared by every fixture vocabulary.
const (
	PadID = 0
	UNKID = 1
	CLSID = 2
	SEPID = 3
)

// DefaultOps is the op list written into fixture topologies.
var DefaultOps = []string{"Gather", "MatMul", "Add", "LayerNorm", "Softmax", "Relu", "Erfc"}

var randomWords = []string{
	"the", "a", "quick", "brown", "fox", "jump", "##s", "##ed", "##ing",
	"test", "text", "for", "warm", "##up", "model", "human", "write", "##r",
	"ai", "generate", "##d", "un", "##aff", "##able", "is", "was", "and",
}

// Options shapes a random fixture. Zero values take small defaults.
type Options struct {
	Dim        int
	Layers     int
	Heads      int
	Hidden     int
	MaxLength  int
	DType      string
	ShardBytes int
	Seed       uint64
	ID2Label   map[string]string
	Ops        []string
	// Omit drops the named weights from the manifest and shards.
	Omit        []string
	Calibration []artifact.Example
}

func (o *Options) defaults() {
	if o.Dim == 0 {
		o.Dim = 8
	}
	if o.Layers == 0 {
		o.Layers = 2
	}
	if o.Heads == 0 {
		o.Heads = 2
	}
	if o.Hidden == 0 {
		o.Hidden = 16
	}
	if o.MaxLength == 0 {
		o.MaxLength = 32
	}
	if o.Seed == 0 {
		o.Seed = 7
	}
	if o.Ops == nil {
		o.Ops = DefaultOps
	}
}

// Vocab returns the fixture vocabulary: specials at 0..3 then words.
func Vocab(words []string) map[string]int64 {
	v := map[string]int64{"[PAD]": PadID, "[UNK]": UNKID, "[CLS]": CLSID, "[SEP]": SEPID}
	for _, w := range words {
		if _, ok := v[w]; !ok {
			v[w] = int64(len(v))
		}
	}
	return v
}

// Random writes an artifact with seeded random weights into a temp dir and
// returns the dir.
func Random(tb testing.TB, opts Options) string {
	tb.Helper()
	opts.defaults()
	dir := tb.TempDir()
	vocab := Vocab(randomWords)
	writeCommon(tb, dir, vocab, opts.MaxLength, opts.Calibration)

	topo := topology(len(vocab), opts.Dim, opts.Layers, opts.Heads, opts.Hidden, opts.MaxLength, opts.Ops, opts.ID2Label)
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	weights := Weights(topo, func(name string, shape []int) []float64 {
		n := elements(shape)
		out := make([]float64, n)
		// The only rank-1 ".weight" tensors are LayerNorm gains.
		isNormWeight := len(shape) == 1 && strings.HasSuffix(name, ".weight")
		for i := range out {
			if isNormWeight {
				out[i] = 1 + 0.05*rng.NormFloat64()
			} else {
				out[i] = 0.2 * rng.NormFloat64()
			}
		}
		return out
	})
	weights = slices.DeleteFunc(weights, func(w artifact.Weight) bool { return slices.Contains(opts.Omit, w.Name) })
	require.NoError(tb, artifact.WriteModel(dir, topo, weights, artifact.WriteOptions{
		DType:       opts.DType,
		ShardBytes:  opts.ShardBytes,
		GeneratedBy: "artifacttest",
	}))
	return dir
}

// Weights lists every DistilBERT weight for topo in manifest order, filled by fill.
func Weights(topo artifact.Topology, fill func(name string, shape []int) []float64) []artifact.Weight {
	d, f := topo.Dim, topo.HiddenDim
	var out []artifact.Weight
	add := func(name string, shape ...int) {
		out = append(out, artifact.Weight{Name: name, Shape: shape, Data: fill(name, shape)})
	}
	add(artifact.WordEmbeddings, topo.VocabSize, d)
	add(artifact.PositionEmbeddings, topo.MaxPositionEmbeddings, d)
	add(artifact.EmbeddingNormW, d)
	add(artifact.EmbeddingNormB, d)
	for i := 0; i < topo.NLayers; i++ {
		p := func(module, suffix string) string { return artifact.LayerParam(i, module, suffix) }
		for _, m := range []string{artifact.AttnQ, artifact.AttnK, artifact.AttnV, artifact.AttnOut} {
			add(p(m, artifact.SuffixWeight), d, d)
			add(p(m, artifact.SuffixBias), d)
		}
		add(p(artifact.AttnNorm, artifact.SuffixWeight), d)
		add(p(artifact.AttnNorm, artifact.SuffixBias), d)
		add(p(artifact.FFNIn, artifact.SuffixWeight), f, d)
		add(p(artifact.FFNIn, artifact.SuffixBias), f)
		add(p(artifact.FFNOut, artifact.SuffixWeight), d, f)
		add(p(artifact.FFNOut, artifact.SuffixBias), d)
		add(p(artifact.OutputNorm, artifact.SuffixWeight), d)
		add(p(artifact.OutputNorm, artifact.SuffixBias), d)
	}
	add(artifact.PreClassifierW, d, d)
	add(artifact.PreClassifierB, d)
	add(artifact.ClassifierW, topo.NumLabels, d)
	add(artifact.ClassifierB, topo.NumLabels)
	return out
}

// WriteJSON marshals v into path.
func WriteJSON(tb testing.TB, path string, v any) {
	tb.Helper()
	b, err := json.MarshalIndent(v, "", "  ")
	require.NoError(tb, err)
	require.NoError(tb, os.WriteFile(path, b, 0o644))
}

func writeCommon(tb testing.TB, dir string, vocab map[string]int64, maxLength int, calibration []artifact.Example) {
	tb.Helper()
	WriteJSON(tb, filepath.Join(dir, internal.DefaultVocabFile), vocab)
	WriteJSON(tb, filepath.Join(dir, internal.DefaultTokenizerConfig), map[string]any{
		"max_length":    maxLength,
		"pad_token_id":  PadID,
		"unk_token_id":  UNKID,
		"cls_token_id":  CLSID,
		"sep_token_id":  SEPID,
		"do_lower_case": true,
		"vocab_size":    len(vocab),
	})
	if calibration != nil {
		WriteJSON(tb, filepath.Join(dir, internal.DefaultCalibrationFile), calibration)
	}
}

func topology(vocab, dim, layers, heads, hidden, maxLen int, ops []string, id2label map[string]string) artifact.Topology {
	return artifact.Topology{
		Architecture:          "distilbert",
		VocabSize:             vocab,
		Dim:                   dim,
		NLayers:               layers,
		NHeads:                heads,
		HiddenDim:             hidden,
		MaxPositionEmbeddings: maxLen,
		NumLabels:             2,
		Activation:            "gelu",
		LayerNormEps:          1e-12,
		Ops:                   ops,
		ID2Label:              id2label,
	}
}

func elements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
