package artifact

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/x448/float16"
)

// Weight is a decoded tensor. Data is row-major.
type Weight struct {
	Name  string
	Shape []int
	Data  []float64
}

// ReadWeights decodes every weight listed in the manifest. Shards of a group are
// read in manifest order as one stream.
func ReadWeights(dir string, m *Manifest) (map[string]Weight, error) {
	if m == nil {
		return nil, loadErrf(dir, "no manifest")
	}
	out := make(map[string]Weight)
	for gi, g := range m.WeightsManifest {
		if err := readGroup(dir, gi, g, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readGroup(dir string, gi int, g WeightGroup, out map[string]Weight) error {
	files := make([]*os.File, 0, len(g.Paths))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	readers := make([]io.Reader, 0, len(g.Paths))
	for _, p := range g.Paths {
		f, err := os.Open(filepath.Join(dir, p))
		if err != nil {
			return loadErr(filepath.Join(dir, p), err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}
	r := bufio.NewReaderSize(io.MultiReader(readers...), 1<<16)
	where := fmt.Sprintf("%s (group %d)", dir, gi)

	var buf []byte
	for _, spec := range g.Weights {
		size, err := spec.byteSize()
		if err != nil {
			return loadErr(where, err)
		}
		if cap(buf) < size {
			buf = make([]byte, size)
		}
		buf = buf[:size]
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return loadErrf(where, "shards end before weight %s (%d bytes needed)", spec.Name, size)
			}
			return loadErr(where, err)
		}
		out[spec.Name] = Weight{
			Name:  spec.Name,
			Shape: append([]int(nil), spec.Shape...),
			Data:  decode(buf, spec.DType),
		}
	}
	if _, err := r.ReadByte(); err == nil {
		return loadErrf(where, "trailing bytes after last weight")
	} else if !errors.Is(err, io.EOF) {
		return loadErr(where, err)
	}
	return nil
}

func decode(b []byte, dtype string) []float64 {
	if dtype == DTypeFloat16 {
		out := make([]float64, len(b)/2)
		for i := range out {
			out[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(b[i*2:])).Float32())
		}
		return out
	}
	out := make([]float64, len(b)/4)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])))
	}
	return out
}
