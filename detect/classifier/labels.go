package classifier

import (
	"errors"
	"fmt"
	"strings"
)

// Label-map sources, reported by /health.
const (
	LabelSourceConfig   = "config"
	LabelSourceID2Label = "id2label"
	LabelSourceDefault  = "default"
)

// ErrAmbiguousLabels is returned when id2label names the same class twice.
var ErrAmbiguousLabels = errors.New("ambiguous id2label")

var (
	aiTerms    = []string{"ai", "machine", "generated", "fake", "gpt", "llm", "synthetic"}
	humanTerms = []string{"human", "real", "authentic", "original"}
)

// LabelMap pins which output index is the AI class.
type LabelMap struct {
	AI     int    `json:"ai"`
	Human  int    `json:"human"`
	Source string `json:"source"`
}

// DefaultLabelMap matches the training labels: 0 = human, 1 = AI.
var DefaultLabelMap = LabelMap{AI: 1, Human: 0, Source: LabelSourceDefault}

// ResolveLabelMap picks the label order: an explicit aiIndex (>= 0) wins, then
// id2label, then the default.
func ResolveLabelMap(aiIndex int, labels []string) (LabelMap, error) {
	if aiIndex >= 0 {
		if aiIndex > 1 {
			return LabelMap{}, fmt.Errorf("ai index %d out of range for 2 labels", aiIndex)
		}
		return LabelMap{AI: aiIndex, Human: 1 - aiIndex, Source: LabelSourceConfig}, nil
	}
	if len(labels) == 2 {
		a, b := classifyLabel(labels[0]), classifyLabel(labels[1])
		switch {
		case a == "ai" && b == "ai", a == "human" && b == "human":
			return LabelMap{}, fmt.Errorf("%w: %q and %q", ErrAmbiguousLabels, labels[0], labels[1])
		case a == "ai" || b == "human":
			return LabelMap{AI: 0, Human: 1, Source: LabelSourceID2Label}, nil
		case b == "ai" || a == "human":
			return LabelMap{AI: 1, Human: 0, Source: LabelSourceID2Label}, nil
		}
	}
	return DefaultLabelMap, nil
}

func classifyLabel(label string) string {
	l := strings.ToLower(label)
	words := strings.FieldsFunc(l, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, w := range words {
		for _, t := range humanTerms {
			if w == t {
				return "human"
			}
		}
		for _, t := range aiTerms {
			if w == t {
				return "ai"
			}
		}
	}
	return ""
}

// Flipped swaps the two indices.
func (m LabelMap) Flipped() LabelMap {
	return LabelMap{AI: m.Human, Human: m.AI, Source: m.Source}
}

// Split reads AI and human probabilities out of a softmax row.
func (m LabelMap) Split(probs []float64) (ai, human float64) {
	return probs[m.AI], probs[m.Human]
}
