package classifier

import (
	"fmt"

	"github.com/ZanzyTHEbar/aidetect/detect/artifact"
	"github.com/rs/zerolog"
)

// nativeBackend executes the graph from model.json in pure Go. The graph is
// read-only after load, so Forward is safe for concurrent use.
type nativeBackend struct {
	g    *graph
	pool *Pool
	log  zerolog.Logger
}

func newNativeBackend(a *artifact.Artifact, opts Options) (Backend, error) {
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	if err := RegisterErfc(reg, opts.Erfc); err != nil {
		return nil, fmt.Errorf("native backend: %w", err)
	}
	// Weights fails with ErrArtifactLoad when there is no manifest.
	weights, err := a.Weights()
	if err != nil {
		return nil, fmt.Errorf("native backend: %w", err)
	}
	pool := NewPool()
	g, err := buildGraph(a.Manifest.ModelTopology, weights, reg, pool)
	if err != nil {
		return nil, fmt.Errorf("native backend: %w", err)
	}
	log := opts.Log.With().Str("component", "classifier").Str("backend", BackendNative).Logger()
	t := a.Manifest.ModelTopology
	log.Debug().
		Int("layers", t.NLayers).
		Int("dim", t.Dim).
		Int("heads", t.NHeads).
		Int("weights", len(weights)).
		Msg("graph loaded")
	return &nativeBackend{g: g, pool: pool, log: log}, nil
}

func (b *nativeBackend) Name() string { return BackendNative }

func (b *nativeBackend) Concurrent() bool { return true }

func (b *nativeBackend) Forward(inputIDs, attentionMask [][]int64) ([][]float64, error) {
	if _, err := checkBatch(inputIDs, attentionMask, b.g.topo.MaxPositionEmbeddings); err != nil {
		return nil, err
	}
	return b.g.forward(inputIDs, attentionMask)
}

func (b *nativeBackend) Stats() PoolStats { return b.pool.Stats() }

func (b *nativeBackend) Close() error { return nil }
