package curtain

import (
	"context"
	"sync"

	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// TweenGroup animates up to 4 float64 fields on a Node simultaneously.
// Create one via the convenience constructors (TweenPosition, TweenScale,
// TweenAlpha, TweenRotation) and either call Update(dt) yourself or hand it
// to an Animator. If the target node is disposed, the group stops
// immediately.
type TweenGroup struct {
	tweens [4]*gween.Tween
	count  int
	fields [4]*float64
	target *Node
	Done   bool

	killed   bool
	finished chan struct{}
	once     sync.Once
}

func newTweenGroup(node *Node, count int) *TweenGroup {
	return &TweenGroup{count: count, target: node, finished: make(chan struct{})}
}

// Update advances all tweens by dt seconds and writes values to the target
// fields. If the target node has been disposed, Done is set to true and no
// writes occur.
func (g *TweenGroup) Update(dt float32) {
	if g.Done {
		return
	}

	if g.target != nil && g.target.IsDisposed() {
		g.finish()
		return
	}

	allDone := true
	for i := 0; i < g.count; i++ {
		val, finished := g.tweens[i].Update(dt)
		*g.fields[i] = float64(val)
		if !finished {
			allDone = false
		}
	}
	if allDone {
		g.finish()
	}
}

// Finished is closed once the group completes or is killed.
func (g *TweenGroup) Finished() <-chan struct{} {
	return g.finished
}

// Killed reports whether the group was stopped before completing.
func (g *TweenGroup) Killed() bool {
	return g.killed
}

// kill stops the group where it is. Fields keep their last written values.
func (g *TweenGroup) kill() {
	if g.Done {
		return
	}
	g.killed = true
	g.finish()
}

func (g *TweenGroup) finish() {
	g.Done = true
	g.once.Do(func() { close(g.finished) })
}

// TweenPosition creates a TweenGroup that animates node.X and node.Y to the
// given target coordinates over the specified duration using the easing function.
func TweenPosition(node *Node, toX, toY float64, duration float32, fn ease.TweenFunc) *TweenGroup {
	g := newTweenGroup(node, 2)
	g.tweens[0] = gween.New(float32(node.X), float32(toX), duration, fn)
	g.tweens[1] = gween.New(float32(node.Y), float32(toY), duration, fn)
	g.fields[0] = &node.X
	g.fields[1] = &node.Y
	return g
}

// TweenScale creates a TweenGroup that animates node.ScaleX and node.ScaleY to
// the given target values over the specified duration using the easing function.
func TweenScale(node *Node, toSX, toSY float64, duration float32, fn ease.TweenFunc) *TweenGroup {
	g := newTweenGroup(node, 2)
	g.tweens[0] = gween.New(float32(node.ScaleX), float32(toSX), duration, fn)
	g.tweens[1] = gween.New(float32(node.ScaleY), float32(toSY), duration, fn)
	g.fields[0] = &node.ScaleX
	g.fields[1] = &node.ScaleY
	return g
}

// TweenAlpha creates a TweenGroup that animates node.Alpha to the target value
// over the specified duration using the easing function.
func TweenAlpha(node *Node, to float64, duration float32, fn ease.TweenFunc) *TweenGroup {
	g := newTweenGroup(node, 1)
	g.tweens[0] = gween.New(float32(node.Alpha), float32(to), duration, fn)
	g.fields[0] = &node.Alpha
	return g
}

// TweenRotation creates a TweenGroup that animates node.Rotation to the target
// value over the specified duration using the easing function.
func TweenRotation(node *Node, to float64, duration float32, fn ease.TweenFunc) *TweenGroup {
	g := newTweenGroup(node, 1)
	g.tweens[0] = gween.New(float32(node.Rotation), float32(to), duration, fn)
	g.fields[0] = &node.Rotation
	return g
}

// --- Animator ---

// Animator owns running tween groups and advances them once per frame.
// Goroutines that want to wait for an animation call Play or Animate; the
// game loop calls Update. Every write to animated node fields happens under
// the animator's lock, which a Stage shares with its tree.
type Animator struct {
	mu     sync.Locker
	groups []*TweenGroup
}

// NewAnimator creates a standalone animator with its own lock.
func NewAnimator() *Animator {
	return &Animator{mu: &sync.Mutex{}}
}

func newSharedAnimator(mu sync.Locker) *Animator {
	return &Animator{mu: mu}
}

// Update advances all running groups by dt seconds and drops finished ones.
func (a *Animator) Update(dt float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.update(dt)
}

func (a *Animator) update(dt float32) {
	if len(a.groups) == 0 {
		return
	}
	live := a.groups[:0]
	for _, g := range a.groups {
		g.Update(dt)
		if !g.Done {
			live = append(live, g)
		}
	}
	for i := len(live); i < len(a.groups); i++ {
		a.groups[i] = nil
	}
	a.groups = live
}

// Apply runs fn under the animator's lock. Use it for instant pose changes
// on nodes that may be animating.
func (a *Animator) Apply(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn()
}

// Start registers g to be advanced by Update without waiting for it.
func (a *Animator) Start(g *TweenGroup) {
	a.mu.Lock()
	a.groups = append(a.groups, g)
	a.mu.Unlock()
}

// Play starts g and blocks until it finishes or ctx is done. On
// cancellation the group is killed before Play returns, so no orphaned
// animation keeps writing to the node.
func (a *Animator) Play(ctx context.Context, g *TweenGroup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.Start(g)
	select {
	case <-g.finished:
		return nil
	case <-ctx.Done():
		a.Kill(g)
		return ctx.Err()
	}
}

// Animate builds a group under the animator's lock (so it reads a
// consistent starting pose) and plays it.
func (a *Animator) Animate(ctx context.Context, build func() *TweenGroup) error {
	var g *TweenGroup
	a.Apply(func() { g = build() })
	return a.Play(ctx, g)
}

// Kill stops g and removes it from the animator.
func (a *Animator) Kill(g *TweenGroup) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g.kill()
	for i, other := range a.groups {
		if other == g {
			copy(a.groups[i:], a.groups[i+1:])
			a.groups[len(a.groups)-1] = nil
			a.groups = a.groups[:len(a.groups)-1]
			return
		}
	}
}

// KillAll stops every running group.
func (a *Animator) KillAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, g := range a.groups {
		g.kill()
		a.groups[i] = nil
	}
	a.groups = a.groups[:0]
}

// Len returns the number of running groups.
func (a *Animator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}
