package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const (
	LabelAI    = "ai"
	LabelHuman = "human"
)

// Example is one hand-labeled calibration text.
type Example struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// IsAI reports whether the example is labeled AI-generated.
func (e Example) IsAI() bool { return e.Label == LabelAI }

// ReadCalibration decodes calibration.json ([{"text": ..., "label": "ai"|"human"}]).
func ReadCalibration(path string) ([]Example, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, loadErr(path, err)
	}
	var examples []Example
	if err := json.Unmarshal(b, &examples); err != nil {
		return nil, loadErr(path, fmt.Errorf("decode calibration set: %w", err))
	}
	for i := range examples {
		label := strings.ToLower(strings.TrimSpace(examples[i].Label))
		if label != LabelAI && label != LabelHuman {
			return nil, loadErrf(path, "example %d: label %q is neither %q nor %q", i, examples[i].Label, LabelAI, LabelHuman)
		}
		if strings.TrimSpace(examples[i].Text) == "" {
			return nil, loadErrf(path, "example %d: empty text", i)
		}
		examples[i].Label = label
	}
	return examples, nil
}
