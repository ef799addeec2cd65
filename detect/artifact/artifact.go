package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	internal "github.com/ZanzyTHEbar/aidetect/detect"
	"github.com/ZanzyTHEbar/aidetect/detect/tokenizer"
)

// Artifact is a loaded model directory. Everything in it is read-only after Load.
type Artifact struct {
	Dir             string
	Vocab           *tokenizer.Vocabulary
	TokenizerConfig tokenizer.Config
	// Manifest is nil when the directory has no model.json (ONNX-only artifacts).
	Manifest *Manifest
	// Calibration is nil when the directory has no calibration.json.
	Calibration []Example
}

// Load reads vocabulary, tokenizer config, manifest and calibration set from dir.
// Weights are not decoded here; backends call Weights when they need them.
func Load(dir, manifestName string) (*Artifact, error) {
	if manifestName == "" {
		manifestName = internal.DefaultManifestFile
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, loadErr(dir, err)
	}
	if !fi.IsDir() {
		return nil, loadErrf(dir, "not a directory")
	}

	vocab, err := loadVocab(dir)
	if err != nil {
		return nil, err
	}
	if !vocab.Dense() {
		return nil, loadErrf(dir, "%w: ids must cover [0,%d)", tokenizer.ErrInvalidVocabulary, vocab.Size())
	}

	cfgPath := filepath.Join(dir, internal.DefaultTokenizerConfig)
	cfg, err := tokenizer.LoadConfigFile(cfgPath)
	if err != nil {
		return nil, loadErr(cfgPath, err)
	}
	if err := cfg.Validate(vocab); err != nil {
		return nil, loadErr(cfgPath, err)
	}

	a := &Artifact{Dir: dir, Vocab: vocab, TokenizerConfig: cfg}

	manifestPath := filepath.Join(dir, manifestName)
	if exists(manifestPath) {
		m, err := ReadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		if m.ModelTopology.VocabSize != vocab.Size() {
			return nil, loadErrf(manifestPath, "topology vocab_size %d, vocabulary has %d entries", m.ModelTopology.VocabSize, vocab.Size())
		}
		if m.ModelTopology.MaxPositionEmbeddings < cfg.MaxLength {
			return nil, loadErrf(manifestPath, "max_position_embeddings %d shorter than max_length %d", m.ModelTopology.MaxPositionEmbeddings, cfg.MaxLength)
		}
		a.Manifest = m
	}

	calPath := filepath.Join(dir, internal.DefaultCalibrationFile)
	if exists(calPath) {
		examples, err := ReadCalibration(calPath)
		if err != nil {
			return nil, err
		}
		a.Calibration = examples
	}
	return a, nil
}

// Weights decodes the weight shards listed in the manifest.
func (a *Artifact) Weights() (map[string]Weight, error) {
	if a.Manifest == nil {
		return nil, loadErrf(a.Dir, "no %s manifest: cannot read weights", internal.DefaultManifestFile)
	}
	return ReadWeights(a.Dir, a.Manifest)
}

// Path resolves a file inside the artifact directory.
func (a *Artifact) Path(name string) string { return filepath.Join(a.Dir, name) }

func loadVocab(dir string) (*tokenizer.Vocabulary, error) {
	jsonPath := filepath.Join(dir, internal.DefaultVocabFile)
	if exists(jsonPath) {
		v, err := tokenizer.LoadVocabJSON(jsonPath)
		if err != nil {
			return nil, loadErr(jsonPath, err)
		}
		return v, nil
	}
	txtPath := filepath.Join(dir, internal.DefaultVocabTextFile)
	if exists(txtPath) {
		v, err := tokenizer.LoadVocabText(txtPath)
		if err != nil {
			return nil, loadErr(txtPath, err)
		}
		return v, nil
	}
	return nil, loadErr(jsonPath, fmt.Errorf("no %s or %s: %w", internal.DefaultVocabFile, internal.DefaultVocabTextFile, fs.ErrNotExist))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}
