package classifier

import (
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a pooled row-major float64 buffer.
type Tensor struct {
	Shape []int
	Data  []float64
}

// Dense views a rank-2 tensor as a gonum matrix sharing Data.
func (t *Tensor) Dense() *mat.Dense {
	return mat.NewDense(t.Shape[0], t.Shape[1], t.Data)
}

// Row returns row i of a rank-2 tensor.
func (t *Tensor) Row(i int) []float64 {
	c := t.Shape[1]
	return t.Data[i*c : (i+1)*c]
}

// PoolStats is a snapshot of tensor accounting.
type PoolStats struct {
	Live     int64  `json:"live"`
	Acquired uint64 `json:"acquired"`
	Released uint64 `json:"released"`
}

// Pool recycles tensor buffers by element count and tracks how many tensors
// are outstanding.
type Pool struct {
	mu       sync.Mutex
	buckets  map[int]*sync.Pool
	live     atomic.Int64
	acquired atomic.Uint64
	released atomic.Uint64
}

func NewPool() *Pool {
	return &Pool{buckets: make(map[int]*sync.Pool)}
}

func (p *Pool) bucket(n int) *sync.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[n]
	if !ok {
		b = &sync.Pool{New: func() any {
			buf := make([]float64, n)
			return &buf
		}}
		p.buckets[n] = b
	}
	return b
}

func (p *Pool) get(shape []int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	buf := p.bucket(n).Get().(*[]float64)
	data := *buf
	clear(data)
	p.live.Add(1)
	p.acquired.Add(1)
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}
}

func (p *Pool) put(t *Tensor) {
	if t.Data == nil {
		return
	}
	data := t.Data
	t.Data = nil
	p.bucket(len(data)).Put(&data)
	p.live.Add(-1)
	p.released.Add(1)
}

// Stats reports current accounting.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Live:     p.live.Load(),
		Acquired: p.acquired.Load(),
		Released: p.released.Load(),
	}
}

// Scope owns every tensor acquired during one forward call. Callers must
// `defer scope.Release()` right after creating it.
type Scope struct {
	pool    *Pool
	tensors []*Tensor
}

// Scope opens a new allocation scope.
func (p *Pool) Scope() *Scope {
	return &Scope{pool: p}
}

// Tensor acquires a zeroed tensor owned by the scope.
func (s *Scope) Tensor(shape ...int) *Tensor {
	t := s.pool.get(shape)
	s.tensors = append(s.tensors, t)
	return t
}

// Release returns every tensor to the pool. Safe to call more than once.
func (s *Scope) Release() {
	for _, t := range s.tensors {
		s.pool.put(t)
	}
	s.tensors = s.tensors[:0]
}
