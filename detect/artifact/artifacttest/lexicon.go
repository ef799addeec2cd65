package artifacttest

import (
	"slices"
	"strconv"
	"testing"

	"github.com/ZanzyTHEbar/aidetect/detect/artifact"
	"github.com/stretchr/testify/require"
)

// Words the lexicon model scores as AI-leaning or human-leaning. Anything
// else, including [UNK] and the special tokens, is neutral.
var (
	FormalWords = []string{
		"furthermore", "moreover", "consequently", "additionally",
		"comprehensive", "utilize", "facilitate", "paramount",
	}
	CasualWords = []string{
		"lol", "gonna", "yeah", "kinda", "omg", "haha", "wanna", "dude",
	}
	neutralWords = []string{"the", "is", "a", "and", "it", "test", "text", "for", "warmup"}
)

// Texts with a known lexicon verdict.
const (
	FormalText = "Furthermore the comprehensive analysis is paramount"
	CasualText = "lol yeah it is kinda gonna rain dude"
)

// LexiconScale sets how sharply the lexicon model separates the classes.
const LexiconScale = 4.0

// LexiconOptions chooses the label order of a lexicon artifact.
type LexiconOptions struct {
	// AIIndex is the output index that carries the AI logit.
	AIIndex int
	// ID2Label writes {"<AIIndex>": "ai", other: "human"} into the topology.
	ID2Label bool
	// Labels overrides the id2label names, e.g. LABEL_0/LABEL_1.
	Labels map[string]string
	// Calibration writes FormalText as ai and CasualText as human.
	Calibration bool
}

// Lexicon writes a hand-built one-layer DistilBERT whose AI probability is
// above 0.5 exactly when formal words outnumber casual ones.
//
// Formal words embed as [1,-1,0,0], casual words as [-1,1,0,0], everything
// else as [0,0,1,-1]. Attention is uniform (zero Q/K) with identity V and
// output, the FFN is zero, so the [CLS] row keeps the sign of
// (formal - casual). The pre-classifier splits dim0-dim1 into two ReLU
// units and the classifier routes them to the AI and human logits.
func Lexicon(tb testing.TB, opts LexiconOptions) string {
	tb.Helper()
	require.Contains(tb, []int{0, 1}, opts.AIIndex)
	dir := tb.TempDir()

	words := slices.Concat(FormalWords, CasualWords, neutralWords)
	vocab := Vocab(words)
	var calibration []artifact.Example
	if opts.Calibration {
		calibration = []artifact.Example{
			{Text: FormalText, Label: artifact.LabelAI},
			{Text: CasualText, Label: artifact.LabelHuman},
		}
	}
	const maxLen = 32
	writeCommon(tb, dir, vocab, maxLen, calibration)

	id2label := opts.Labels
	if id2label == nil && opts.ID2Label {
		id2label = map[string]string{
			strconv.Itoa(opts.AIIndex):     "ai",
			strconv.Itoa(1 - opts.AIIndex): "human",
		}
	}
	const d = 4
	topo := topology(len(vocab), d, 1, 1, 4, maxLen, DefaultOps, id2label)

	byID := make([]string, len(vocab))
	for tok, id := range vocab {
		byID[id] = tok
	}
	identity := func(n int) []float64 {
		out := make([]float64, n*n)
		for i := 0; i < n; i++ {
			out[i*n+i] = 1
		}
		return out
	}
	ones := func(n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = 1
		}
		return out
	}

	weights := Weights(topo, func(name string, shape []int) []float64 {
		n := elements(shape)
		switch name {
		case artifact.WordEmbeddings:
			out := make([]float64, 0, n)
			for _, tok := range byID {
				switch {
				case slices.Contains(FormalWords, tok):
					out = append(out, 1, -1, 0, 0)
				case slices.Contains(CasualWords, tok):
					out = append(out, -1, 1, 0, 0)
				default:
					out = append(out, 0, 0, 1, -1)
				}
			}
			return out
		case artifact.EmbeddingNormW,
			artifact.LayerParam(0, artifact.AttnNorm, artifact.SuffixWeight),
			artifact.LayerParam(0, artifact.OutputNorm, artifact.SuffixWeight):
			return ones(n)
		case artifact.LayerParam(0, artifact.AttnV, artifact.SuffixWeight),
			artifact.LayerParam(0, artifact.AttnOut, artifact.SuffixWeight):
			return identity(d)
		case artifact.PreClassifierW:
			return []float64{
				1, -1, 0, 0,
				-1, 1, 0, 0,
				0, 0, 0, 0,
				0, 0, 0, 0,
			}
		case artifact.ClassifierW:
			out := make([]float64, 2*d)
			out[opts.AIIndex*d+0] = LexiconScale
			out[(1-opts.AIIndex)*d+1] = LexiconScale
			return out
		default:
			return make([]float64, n)
		}
	})
	require.NoError(tb, artifact.WriteModel(dir, topo, weights, artifact.WriteOptions{GeneratedBy: "artifacttest.Lexicon"}))
	return dir
}
