package classifier

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnregisteredOperation is returned at load time when the topology needs an
// operation the registry does not provide.
var ErrUnregisteredOperation = errors.New("unregistered operation")

// Kernel is an element-wise scalar primitive.
type Kernel func(x float64) float64

// Built-in structural operations the native executor implements itself.
var builtinOps = map[string]bool{
	"Gather":    true,
	"MatMul":    true,
	"Add":       true,
	"Mul":       true,
	"LayerNorm": true,
	"Softmax":   true,
	"Relu":      true,
}

// Registry holds custom element-wise kernels on top of the built-in op set.
// Registration is idempotent: registering a name twice keeps the first kernel.
type Registry struct {
	mu      sync.RWMutex
	kernels map[string]Kernel
}

// NewRegistry returns a registry with only the built-in ops.
func NewRegistry() *Registry {
	return &Registry{kernels: make(map[string]Kernel)}
}

// Register adds a kernel. It reports false, without error, when name is
// already registered or built in.
func (r *Registry) Register(name string, k Kernel) bool {
	if k == nil || builtinOps[name] {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.kernels[name]; ok {
		return false
	}
	r.kernels[name] = k
	return true
}

// IsRegistered reports whether name is built in or registered.
func (r *Registry) IsRegistered(name string) bool {
	if builtinOps[name] {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.kernels[name]
	return ok
}

// Kernel looks up a custom kernel.
func (r *Registry) Kernel(name string) (Kernel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kernels[name]
	return k, ok
}

// Require fails with ErrUnregisteredOperation naming every missing op.
func (r *Registry) Require(ops []string) error {
	var missing []string
	for _, op := range ops {
		if !r.IsRegistered(op) {
			missing = append(missing, op)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: %s", ErrUnregisteredOperation, strings.Join(missing, ", "))
}
