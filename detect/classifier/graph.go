package classifier

import (
	"fmt"
	"math"
	"runtime"

	"github.com/ZanzyTHEbar/aidetect/detect/artifact"
	"github.com/sourcegraph/conc/iter"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const defaultLayerNormEps = 1e-12

type linear struct {
	w *mat.Dense // [out, in]
	b []float64
}

// apply writes x·wᵀ + b into dst.
func (l linear) apply(dst *mat.Dense, x mat.Matrix) {
	dst.Mul(x, l.w.T())
	r, _ := dst.Dims()
	for i := 0; i < r; i++ {
		floats.Add(dst.RawRowView(i), l.b)
	}
}

type layerNorm struct {
	gamma, beta []float64
	eps         float64
}

func (n layerNorm) apply(m *mat.Dense) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		mean := floats.Sum(row) / float64(c)
		var v float64
		for _, x := range row {
			d := x - mean
			v += d * d
		}
		inv := 1 / math.Sqrt(v/float64(c)+n.eps)
		for j, x := range row {
			row[j] = (x-mean)*inv*n.gamma[j] + n.beta[j]
		}
	}
}

type block struct {
	q, k, v, out linear
	attnNorm     layerNorm
	ffnIn        linear
	ffnOut       linear
	outNorm      layerNorm
}

// graph is an immutable DistilBERT sequence classifier.
type graph struct {
	topo     artifact.Topology
	wordEmb  *mat.Dense
	posEmb   *mat.Dense
	embNorm  layerNorm
	layers   []block
	pre      linear
	cls      linear
	erfc     Kernel
	pool     *Pool
	parallel int
}

// weightSet looks up weights by name and checks their shapes.
type weightSet map[string]artifact.Weight

func (ws weightSet) get(name string, shape ...int) ([]float64, error) {
	w, ok := ws[name]
	if !ok {
		return nil, fmt.Errorf("missing weight %s", name)
	}
	if len(w.Shape) != len(shape) {
		return nil, fmt.Errorf("weight %s: shape %v, want %v", name, w.Shape, shape)
	}
	for i := range shape {
		if w.Shape[i] != shape[i] {
			return nil, fmt.Errorf("weight %s: shape %v, want %v", name, w.Shape, shape)
		}
	}
	return w.Data, nil
}

func (ws weightSet) matrix(name string, rows, cols int) (*mat.Dense, error) {
	d, err := ws.get(name, rows, cols)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(rows, cols, d), nil
}

func (ws weightSet) linear(wName, bName string, out, in int) (linear, error) {
	w, err := ws.matrix(wName, out, in)
	if err != nil {
		return linear{}, err
	}
	b, err := ws.get(bName, out)
	if err != nil {
		return linear{}, err
	}
	return linear{w: w, b: b}, nil
}

func (ws weightSet) norm(wName, bName string, dim int, eps float64) (layerNorm, error) {
	g, err := ws.get(wName, dim)
	if err != nil {
		return layerNorm{}, err
	}
	b, err := ws.get(bName, dim)
	if err != nil {
		return layerNorm{}, err
	}
	return layerNorm{gamma: g, beta: b, eps: eps}, nil
}

func buildGraph(topo artifact.Topology, weights map[string]artifact.Weight, reg *Registry, pool *Pool) (*graph, error) {
	switch topo.Activation {
	case "gelu", "":
	default:
		return nil, fmt.Errorf("unsupported activation %q", topo.Activation)
	}
	if err := reg.Require(append(append([]string(nil), topo.Ops...), OpErfc)); err != nil {
		return nil, err
	}
	erfc, _ := reg.Kernel(OpErfc)

	eps := topo.LayerNormEps
	if eps <= 0 {
		eps = defaultLayerNormEps
	}
	ws := weightSet(weights)
	d, f := topo.Dim, topo.HiddenDim

	g := &graph{topo: topo, erfc: erfc, pool: pool, parallel: runtime.GOMAXPROCS(0)}
	var err error
	if g.wordEmb, err = ws.matrix(artifact.WordEmbeddings, topo.VocabSize, d); err != nil {
		return nil, err
	}
	if g.posEmb, err = ws.matrix(artifact.PositionEmbeddings, topo.MaxPositionEmbeddings, d); err != nil {
		return nil, err
	}
	if g.embNorm, err = ws.norm(artifact.EmbeddingNormW, artifact.EmbeddingNormB, d, eps); err != nil {
		return nil, err
	}

	param := artifact.LayerParam
	g.layers = make([]block, topo.NLayers)
	for i := range g.layers {
		b := &g.layers[i]
		lin := func(module string, out, in int) (linear, error) {
			return ws.linear(param(i, module, artifact.SuffixWeight), param(i, module, artifact.SuffixBias), out, in)
		}
		nrm := func(module string) (layerNorm, error) {
			return ws.norm(param(i, module, artifact.SuffixWeight), param(i, module, artifact.SuffixBias), d, eps)
		}
		if b.q, err = lin(artifact.AttnQ, d, d); err != nil {
			return nil, err
		}
		if b.k, err = lin(artifact.AttnK, d, d); err != nil {
			return nil, err
		}
		if b.v, err = lin(artifact.AttnV, d, d); err != nil {
			return nil, err
		}
		if b.out, err = lin(artifact.AttnOut, d, d); err != nil {
			return nil, err
		}
		if b.attnNorm, err = nrm(artifact.AttnNorm); err != nil {
			return nil, err
		}
		if b.ffnIn, err = lin(artifact.FFNIn, f, d); err != nil {
			return nil, err
		}
		if b.ffnOut, err = lin(artifact.FFNOut, d, f); err != nil {
			return nil, err
		}
		if b.outNorm, err = nrm(artifact.OutputNorm); err != nil {
			return nil, err
		}
	}

	if g.pre, err = ws.linear(artifact.PreClassifierW, artifact.PreClassifierB, d, d); err != nil {
		return nil, err
	}
	if g.cls, err = ws.linear(artifact.ClassifierW, artifact.ClassifierB, topo.NumLabels, d); err != nil {
		return nil, err
	}
	return g, nil
}

// forward runs a validated batch. Rows are independent and run in parallel.
func (g *graph) forward(ids, mask [][]int64) ([][]float64, error) {
	out := make([][]float64, len(ids))
	errs := make([]error, len(ids))
	it := iter.Iterator[[]int64]{MaxGoroutines: g.parallel}
	it.ForEachIdx(ids, func(i int, row *[]int64) {
		out[i], errs[i] = g.sequence(*row, mask[i])
	})
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return out, nil
}

func (g *graph) sequence(ids, mask []int64) ([]float64, error) {
	scope := g.pool.Scope()
	defer scope.Release()

	// Positions after the last attended token cannot influence attended rows,
	// so the sequence is cut there.
	n := len(ids)
	for n > 0 && mask[n-1] == 0 {
		n--
	}
	if n == 0 {
		n = len(ids)
	}
	d := g.topo.Dim
	heads := g.topo.NHeads
	dh := d / heads

	xt := scope.Tensor(n, d)
	for i := 0; i < n; i++ {
		id := ids[i]
		if id < 0 || int(id) >= g.topo.VocabSize {
			return nil, fmt.Errorf("%w: token id %d outside vocabulary of %d", ErrBadInput, id, g.topo.VocabSize)
		}
		row := xt.Row(i)
		floats.AddTo(row, g.wordEmb.RawRowView(int(id)), g.posEmb.RawRowView(i))
	}
	x := xt.Dense()
	g.embNorm.apply(x)

	scale := 1 / math.Sqrt(float64(dh))
	for li := range g.layers {
		b := &g.layers[li]
		q := scope.Tensor(n, d).Dense()
		k := scope.Tensor(n, d).Dense()
		v := scope.Tensor(n, d).Dense()
		b.q.apply(q, x)
		b.k.apply(k, x)
		b.v.apply(v, x)
		q.Scale(scale, q)

		ctx := scope.Tensor(n, d).Dense()
		scores := scope.Tensor(n, n).Dense()
		for h := 0; h < heads; h++ {
			lo, hi := h*dh, (h+1)*dh
			scores.Mul(q.Slice(0, n, lo, hi), k.Slice(0, n, lo, hi).T())
			for i := 0; i < n; i++ {
				row := scores.RawRowView(i)
				for j := 0; j < n; j++ {
					if mask[j] == 0 {
						row[j] = -math.MaxFloat64
					}
				}
				softmaxInPlace(row)
			}
			ctx.Slice(0, n, lo, hi).(*mat.Dense).Mul(scores, v.Slice(0, n, lo, hi))
		}

		attn := scope.Tensor(n, d).Dense()
		b.out.apply(attn, ctx)
		attn.Add(attn, x)
		b.attnNorm.apply(attn)
		x = attn

		ht := scope.Tensor(n, g.topo.HiddenDim)
		b.ffnIn.apply(ht.Dense(), x)
		for i, val := range ht.Data {
			ht.Data[i] = 0.5 * val * g.erfc(-val/math.Sqrt2)
		}
		ffn := scope.Tensor(n, d).Dense()
		b.ffnOut.apply(ffn, ht.Dense())
		ffn.Add(ffn, x)
		b.outNorm.apply(ffn)
		x = ffn
	}

	pooled := scope.Tensor(1, d)
	g.pre.apply(pooled.Dense(), x.Slice(0, 1, 0, d))
	for i, val := range pooled.Data {
		pooled.Data[i] = math.Max(0, val)
	}
	logits := scope.Tensor(1, g.topo.NumLabels)
	g.cls.apply(logits.Dense(), pooled.Dense())
	return append([]float64(nil), logits.Data...), nil
}
