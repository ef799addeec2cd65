package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Manifest is model.json: graph topology plus the weights manifest.
// The weights section follows the TF.js layout: each group lists shard files
// that are concatenated in order, and the group's weights are packed back to
// back in entry order.
type Manifest struct {
	Format          string        `json:"format"`
	GeneratedBy     string        `json:"generatedBy,omitempty"`
	ModelTopology   Topology      `json:"modelTopology"`
	WeightsManifest []WeightGroup `json:"weightsManifest"`
}

// Topology describes the DistilBERT-style classifier graph.
type Topology struct {
	Architecture          string            `json:"architecture"`
	VocabSize             int               `json:"vocab_size"`
	Dim                   int               `json:"dim"`
	NLayers               int               `json:"n_layers"`
	NHeads                int               `json:"n_heads"`
	HiddenDim             int               `json:"hidden_dim"`
	MaxPositionEmbeddings int               `json:"max_position_embeddings"`
	NumLabels             int               `json:"num_labels"`
	Activation            string            `json:"activation"`
	LayerNormEps          float64           `json:"layer_norm_eps"`
	Ops                   []string          `json:"ops"`
	ID2Label              map[string]string `json:"id2label,omitempty"`
}

// WeightGroup is one set of shard files.
type WeightGroup struct {
	Paths   []string     `json:"paths"`
	Weights []WeightSpec `json:"weights"`
}

// WeightSpec names one tensor inside a group.
type WeightSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

const (
	DTypeFloat32 = "float32"
	DTypeFloat16 = "float16"
)

// Elements returns the number of scalars in the tensor.
func (w WeightSpec) Elements() int {
	n := 1
	for _, d := range w.Shape {
		n *= d
	}
	return n
}

func (w WeightSpec) byteSize() (int, error) {
	switch w.DType {
	case DTypeFloat32, "":
		return w.Elements() * 4, nil
	case DTypeFloat16:
		return w.Elements() * 2, nil
	default:
		return 0, fmt.Errorf("weight %s: unsupported dtype %q", w.Name, w.DType)
	}
}

// ReadManifest decodes and validates model.json.
func ReadManifest(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, loadErr(path, err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, loadErr(path, fmt.Errorf("decode manifest: %w", err))
	}
	if err := m.validate(); err != nil {
		return nil, loadErr(path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	t := m.ModelTopology
	switch {
	case t.Dim <= 0:
		return fmt.Errorf("topology: dim must be positive, got %d", t.Dim)
	case t.NHeads <= 0 || t.Dim%t.NHeads != 0:
		return fmt.Errorf("topology: dim %d not divisible into %d heads", t.Dim, t.NHeads)
	case t.NLayers < 0:
		return fmt.Errorf("topology: negative n_layers %d", t.NLayers)
	case t.HiddenDim <= 0:
		return fmt.Errorf("topology: hidden_dim must be positive, got %d", t.HiddenDim)
	case t.VocabSize <= 0:
		return fmt.Errorf("topology: vocab_size must be positive, got %d", t.VocabSize)
	case t.MaxPositionEmbeddings <= 0:
		return fmt.Errorf("topology: max_position_embeddings must be positive, got %d", t.MaxPositionEmbeddings)
	case t.NumLabels != 2:
		return fmt.Errorf("topology: expected 2 labels, got %d", t.NumLabels)
	}
	if len(m.WeightsManifest) == 0 {
		return fmt.Errorf("weightsManifest is empty")
	}
	seen := make(map[string]bool)
	for gi, g := range m.WeightsManifest {
		if len(g.Paths) == 0 {
			return fmt.Errorf("weight group %d lists no shard files", gi)
		}
		for _, p := range g.Paths {
			if !filepath.IsLocal(p) {
				return fmt.Errorf("weight group %d: shard path %q escapes the artifact directory", gi, p)
			}
		}
		for _, w := range g.Weights {
			if w.Name == "" {
				return fmt.Errorf("weight group %d: unnamed weight", gi)
			}
			if seen[w.Name] {
				return fmt.Errorf("weight %s listed twice", w.Name)
			}
			seen[w.Name] = true
			for _, d := range w.Shape {
				if d <= 0 {
					return fmt.Errorf("weight %s: non-positive dimension in shape %v", w.Name, w.Shape)
				}
			}
			if _, err := w.byteSize(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Labels returns id2label ordered by index, or nil when the topology has none.
func (t Topology) Labels() []string {
	if len(t.ID2Label) == 0 {
		return nil
	}
	type entry struct {
		id    int
		label string
	}
	entries := make([]entry, 0, len(t.ID2Label))
	for k, v := range t.ID2Label {
		id, err := strconv.Atoi(k)
		if err != nil || id < 0 {
			continue
		}
		entries = append(entries, entry{id: id, label: v})
	}
	if len(entries) == 0 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	labels := make([]string, entries[len(entries)-1].id+1)
	for _, e := range entries {
		labels[e.id] = e.label
	}
	return labels
}
