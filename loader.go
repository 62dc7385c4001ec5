package curtain

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

// Handle is an instantiated asset. It must be released exactly once to free
// the instance; extra releases are no-ops.
type Handle interface {
	// Valid reports whether the handle still owns a live instance.
	Valid() bool
	// Result returns the instantiated root node, or nil if instantiation
	// produced nothing.
	Result() *Node
	// Release frees the instance.
	Release() error
}

// AssetLoader instantiates assets by address under a parent node. When it
// returns a non-nil Handle together with an error, the caller releases the
// handle.
type AssetLoader interface {
	Instantiate(ctx context.Context, address string, parent *Node) (Handle, error)
}

// nodeHandle is the Handle produced by the loaders in this package. Release
// disposes the instance through the stage lock.
type nodeHandle struct {
	stage    *Stage
	node     *Node
	released atomic.Bool
}

func newNodeHandle(stage *Stage, n *Node) *nodeHandle {
	return &nodeHandle{stage: stage, node: n}
}

func (h *nodeHandle) Valid() bool {
	return !h.released.Load() && h.node != nil
}

func (h *nodeHandle) Result() *Node {
	if h.released.Load() {
		return nil
	}
	return h.node
}

func (h *nodeHandle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}
	if h.node == nil {
		return nil
	}
	h.stage.Do(h.node.Dispose)
	return nil
}

// attach parents n under parent (if any) and wraps it in a handle.
func attach(stage *Stage, n *Node, parent *Node) Handle {
	if n != nil && parent != nil {
		stage.Reparent(n, parent)
	}
	return newNodeHandle(stage, n)
}

// Factory builds the node hierarchy for one address. It should honour ctx
// for slow work.
type Factory func(ctx context.Context, address string) (*Node, error)

// FactoryLoader instantiates assets from factories registered per address.
type FactoryLoader struct {
	stage *Stage

	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFactoryLoader creates an empty loader bound to stage.
func NewFactoryLoader(stage *Stage) *FactoryLoader {
	return &FactoryLoader{stage: stage, factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for address.
func (l *FactoryLoader) Register(address string, f Factory) {
	l.mu.Lock()
	l.factories[address] = f
	l.mu.Unlock()
}

// Instantiate runs the factory for address and parents the result under
// parent.
func (l *FactoryLoader) Instantiate(ctx context.Context, address string, parent *Node) (Handle, error) {
	l.mu.RLock()
	f, ok := l.factories[address]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAddress, address)
	}
	n, err := f(ctx, address)
	if err != nil {
		if n != nil {
			return attach(l.stage, n, nil), err
		}
		return nil, err
	}
	return attach(l.stage, n, parent), nil
}
