package artifact

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	internal "github.com/ZanzyTHEbar/aidetect/detect"
	"github.com/x448/float16"
)

// WriteOptions controls how WriteModel packs weights.
type WriteOptions struct {
	// DType is float32 (default) or float16.
	DType string
	// ShardBytes caps each shard file; 0 means 4 MiB like the TF.js converter.
	ShardBytes  int
	GeneratedBy string
}

// WriteModel writes model.json and its weight shards into dir as a single group.
func WriteModel(dir string, topo Topology, weights []Weight, opts WriteOptions) error {
	if opts.DType == "" {
		opts.DType = DTypeFloat32
	}
	if opts.ShardBytes <= 0 {
		opts.ShardBytes = 4 << 20
	}

	var blob bytes.Buffer
	specs := make([]WeightSpec, 0, len(weights))
	for _, w := range weights {
		spec := WeightSpec{Name: w.Name, Shape: append([]int(nil), w.Shape...), DType: opts.DType}
		if spec.Elements() != len(w.Data) {
			return fmt.Errorf("weight %s: shape %v holds %d values, got %d", w.Name, w.Shape, spec.Elements(), len(w.Data))
		}
		if err := encode(&blob, w.Data, opts.DType); err != nil {
			return fmt.Errorf("weight %s: %w", w.Name, err)
		}
		specs = append(specs, spec)
	}

	data := blob.Bytes()
	shards := (len(data) + opts.ShardBytes - 1) / opts.ShardBytes
	if shards == 0 {
		shards = 1
	}
	paths := make([]string, 0, shards)
	for i := 0; i < shards; i++ {
		name := fmt.Sprintf("group1-shard%dof%d.bin", i+1, shards)
		lo := i * opts.ShardBytes
		hi := min(lo+opts.ShardBytes, len(data))
		if err := os.WriteFile(filepath.Join(dir, name), data[lo:hi], 0o644); err != nil {
			return fmt.Errorf("write shard %s: %w", name, err)
		}
		paths = append(paths, name)
	}

	m := Manifest{
		Format:          "aidetect-distilbert",
		GeneratedBy:     opts.GeneratedBy,
		ModelTopology:   topo,
		WeightsManifest: []WeightGroup{{Paths: paths, Weights: specs}},
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, internal.DefaultManifestFile), b, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func encode(buf *bytes.Buffer, data []float64, dtype string) error {
	switch dtype {
	case DTypeFloat32:
		var b [4]byte
		for _, v := range data {
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(v)))
			buf.Write(b[:])
		}
	case DTypeFloat16:
		var b [2]byte
		for _, v := range data {
			binary.LittleEndian.PutUint16(b[:], float16.Fromfloat32(float32(v)).Bits())
			buf.Write(b[:])
		}
	default:
		return fmt.Errorf("unsupported dtype %q", dtype)
	}
	return nil
}
