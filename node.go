package curtain

import "go.uber.org/atomic"

// --- ID counter ---

// nodeIDCounter is atomic because loaders may build nodes off the game loop.
var nodeIDCounter atomic.Uint32

func nextNodeID() uint32 {
	return nodeIDCounter.Inc()
}

// --- Node ---

// Node is the view hierarchy element. Screens are subtrees of nodes that the
// controller moves between the stage's active and inactive roots. A node
// carries arbitrary components; a screen's root (or a descendant) carries the
// component implementing View.
type Node struct {
	// Identity
	ID   uint32
	Name string

	// Hierarchy
	Parent   *Node
	children []*Node

	// Transform (local). Reparenting never touches these.
	X, Y     float64
	ScaleX   float64
	ScaleY   float64
	Rotation float64
	Alpha    float64

	// Active mirrors a GameObject's self-active flag. A node is effectively
	// active only when it and every ancestor are active.
	Active bool

	// Metadata
	UserData any

	components []any
	disposed   bool
}

// nodeDefaults sets the common default field values shared by all constructors.
func nodeDefaults(n *Node) {
	n.ID = nextNodeID()
	n.ScaleX = 1
	n.ScaleY = 1
	n.Alpha = 1
	n.Active = true
}

// NewNode creates an active node with identity transform.
func NewNode(name string) *Node {
	n := &Node{Name: name}
	nodeDefaults(n)
	return n
}

// --- Components ---

// AddComponent attaches c to this node. Components are searched in
// attachment order by FindComponent.
func (n *Node) AddComponent(c any) {
	if c == nil {
		panic("curtain: cannot add nil component")
	}
	n.components = append(n.components, c)
}

// Components returns the attached components. The returned slice MUST NOT be
// mutated by the caller.
func (n *Node) Components() []any {
	return n.components
}

// FindComponent searches n and its descendants depth-first (inactive nodes
// included) for the first component assignable to T.
func FindComponent[T any](n *Node) (T, bool) {
	var zero T
	if n == nil {
		return zero, false
	}
	for _, c := range n.components {
		if t, ok := c.(T); ok {
			return t, true
		}
	}
	for _, child := range n.children {
		if t, ok := FindComponent[T](child); ok {
			return t, true
		}
	}
	return zero, false
}

// --- Tree manipulation ---

// AddChild appends child to this node's children.
// If child already has a parent, it is removed from that parent first.
// Panics if child is nil or child is an ancestor of this node (cycle).
func (n *Node) AddChild(child *Node) {
	if child == nil {
		panic("curtain: cannot add nil child")
	}
	if debugMode.Load() {
		debugCheckDisposed(n, "AddChild (parent)")
		debugCheckDisposed(child, "AddChild (child)")
	}
	if isAncestor(child, n) {
		panic("curtain: adding child would create a cycle")
	}
	if child.Parent != nil {
		child.Parent.removeChildByPtr(child)
	}
	child.Parent = n
	n.children = append(n.children, child)
	if debugMode.Load() {
		debugCheckTreeDepth(child)
		debugCheckChildCount(n)
	}
}

// RemoveChild detaches child from this node.
// Panics if child.Parent != n.
func (n *Node) RemoveChild(child *Node) {
	if debugMode.Load() {
		debugCheckDisposed(n, "RemoveChild (parent)")
		debugCheckDisposed(child, "RemoveChild (child)")
	}
	if child.Parent != n {
		panic("curtain: child's parent is not this node")
	}
	n.removeChildByPtr(child)
	child.Parent = nil
}

// RemoveFromParent detaches this node from its parent.
// No-op if this node has no parent.
func (n *Node) RemoveFromParent() {
	if n.Parent == nil {
		return
	}
	n.Parent.RemoveChild(n)
}

// Children returns the child list. The returned slice MUST NOT be mutated by the caller.
func (n *Node) Children() []*Node {
	return n.children
}

// NumChildren returns the number of children.
func (n *Node) NumChildren() int {
	return len(n.children)
}

// ChildAt returns the child at the given index.
func (n *Node) ChildAt(index int) *Node {
	return n.children[index]
}

// FindChild returns the first descendant (depth-first, excluding n) with the
// given name, or nil.
func (n *Node) FindChild(name string) *Node {
	for _, c := range n.children {
		if c.Name == name {
			return c
		}
		if found := c.FindChild(name); found != nil {
			return found
		}
	}
	return nil
}

// ActiveInHierarchy reports whether n and all of its ancestors are active.
func (n *Node) ActiveInHierarchy() bool {
	for p := n; p != nil; p = p.Parent {
		if !p.Active {
			return false
		}
	}
	return true
}

// IsChildOf reports whether ancestor appears on n's parent chain.
func (n *Node) IsChildOf(ancestor *Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

// --- Disposal ---

// Dispose removes this node from its parent, marks it as disposed,
// and recursively disposes all descendants.
func (n *Node) Dispose() {
	if n.disposed {
		return
	}
	n.RemoveFromParent()
	n.dispose()
}

func (n *Node) dispose() {
	n.disposed = true
	n.ID = 0
	n.Active = false
	for _, child := range n.children {
		child.Parent = nil
		child.dispose()
	}
	n.children = nil
	n.components = nil
	n.Parent = nil
	n.UserData = nil
}

// IsDisposed returns true if this node has been disposed.
func (n *Node) IsDisposed() bool {
	return n.disposed
}

// --- Helpers ---

// isAncestor reports whether candidate is an ancestor of node.
func isAncestor(candidate, node *Node) bool {
	for p := node; p != nil; p = p.Parent {
		if p == candidate {
			return true
		}
	}
	return false
}

// removeChildByPtr removes child from n.children without clearing child.Parent.
// Uses copy+nil to avoid retaining a dangling pointer in the backing array.
func (n *Node) removeChildByPtr(child *Node) {
	for i, c := range n.children {
		if c == child {
			copy(n.children[i:], n.children[i+1:])
			n.children[len(n.children)-1] = nil
			n.children = n.children[:len(n.children)-1]
			return
		}
	}
}
