package curtain

import (
	"sync"
)

// Stage is the top-level object that owns the node tree and the animator.
// Screens live under one of two containers: the active root, where visible
// screens are parented, and the inactive root, where loaded-but-parked
// screens wait for reuse.
//
// The game loop calls Update once per frame. Any other goroutine that
// touches the tree must go through Reparent, SetActive or Do, which share the
// animator's lock with Update.
type Stage struct {
	mu sync.Mutex

	root     *Node
	active   *Node
	inactive *Node
	anim     *Animator
}

// NewStage creates a stage with pre-created root, active and inactive
// containers. The inactive root is itself inactive, so anything parked under
// it is hidden regardless of its own flag.
func NewStage() *Stage {
	s := &Stage{
		root:     NewNode("root"),
		active:   NewNode("screens"),
		inactive: NewNode("inactive"),
	}
	s.inactive.Active = false
	s.root.AddChild(s.active)
	s.root.AddChild(s.inactive)
	s.anim = newSharedAnimator(&s.mu)
	return s
}

// Root returns the stage's root container node.
func (s *Stage) Root() *Node {
	return s.root
}

// ActiveRoot returns the container visible screens are parented under.
func (s *Stage) ActiveRoot() *Node {
	return s.active
}

// InactiveRoot returns the container parked screens are parented under.
func (s *Stage) InactiveRoot() *Node {
	return s.inactive
}

// Animator returns the stage's animator.
func (s *Stage) Animator() *Animator {
	return s.anim
}

// Update advances animations by dt seconds.
func (s *Stage) Update(dt float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anim.update(dt)
}

// Do runs fn with exclusive access to the tree.
func (s *Stage) Do(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Reparent moves n under parent, keeping its local transform.
func (s *Stage) Reparent(n, parent *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.Parent == parent {
		return
	}
	parent.AddChild(n)
}

// SetActive sets n's self-active flag.
func (s *Stage) SetActive(n *Node, active bool) {
	s.mu.Lock()
	n.Active = active
	s.mu.Unlock()
}

// IsActive reads n's self-active flag.
func (s *Stage) IsActive(n *Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return n.Active
}

// Parent reads n's parent.
func (s *Stage) Parent(n *Node) *Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return n.Parent
}

// SetDebugMode enables or disables debug mode. When enabled, disposed-node
// access panics and tree depth and child count warnings are logged.
func (s *Stage) SetDebugMode(enabled bool) {
	debugMode.Store(enabled)
}
