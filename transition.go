package curtain

import (
	"context"

	"github.com/tanema/gween/ease"
	"golang.org/x/sync/errgroup"
)

// Transition is the body of a show or hide. Snap applies the final pose
// immediately; Play animates to it on anim and must unwind (kill its tweens)
// when ctx ends. Snap is always called with the animator's lock held.
type Transition interface {
	Snap(n *Node, visible bool)
	Play(ctx context.Context, anim *Animator, n *Node, visible bool) error
}

// DefaultEase is used by transitions with a nil Ease.
var DefaultEase ease.TweenFunc = ease.OutQuad

func easeOr(fn ease.TweenFunc) ease.TweenFunc {
	if fn != nil {
		return fn
	}
	return DefaultEase
}

// Fade animates Alpha between 0 (hidden) and 1 (visible).
type Fade struct {
	Duration float32
	Ease     ease.TweenFunc
}

func (f Fade) Snap(n *Node, visible bool) {
	if visible {
		n.Alpha = 1
	} else {
		n.Alpha = 0
	}
}

func (f Fade) Play(ctx context.Context, anim *Animator, n *Node, visible bool) error {
	if f.Duration <= 0 {
		anim.Apply(func() { f.Snap(n, visible) })
		return nil
	}
	return anim.Animate(ctx, func() *TweenGroup {
		to := 0.0
		if visible {
			n.Alpha = 0
			to = 1
		}
		return TweenAlpha(n, to, f.Duration, easeOr(f.Ease))
	})
}

// Slide moves the node between its home position (visible) and home plus
// offset (hidden).
type Slide struct {
	HomeX, HomeY float64
	DX, DY       float64
	Duration     float32
	Ease         ease.TweenFunc
}

func (s Slide) Snap(n *Node, visible bool) {
	n.X, n.Y = s.pose(visible)
}

func (s Slide) pose(visible bool) (float64, float64) {
	if visible {
		return s.HomeX, s.HomeY
	}
	return s.HomeX + s.DX, s.HomeY + s.DY
}

func (s Slide) Play(ctx context.Context, anim *Animator, n *Node, visible bool) error {
	if s.Duration <= 0 {
		anim.Apply(func() { s.Snap(n, visible) })
		return nil
	}
	return anim.Animate(ctx, func() *TweenGroup {
		if visible {
			s.Snap(n, false)
		}
		x, y := s.pose(visible)
		return TweenPosition(n, x, y, s.Duration, easeOr(s.Ease))
	})
}

// Zoom scales the node between From (hidden) and 1 (visible).
type Zoom struct {
	From     float64
	Duration float32
	Ease     ease.TweenFunc
}

func (z Zoom) Snap(n *Node, visible bool) {
	s := z.From
	if visible {
		s = 1
	}
	n.ScaleX, n.ScaleY = s, s
}

func (z Zoom) Play(ctx context.Context, anim *Animator, n *Node, visible bool) error {
	if z.Duration <= 0 {
		anim.Apply(func() { z.Snap(n, visible) })
		return nil
	}
	return anim.Animate(ctx, func() *TweenGroup {
		to := z.From
		if visible {
			z.Snap(n, false)
			to = 1
		}
		return TweenScale(n, to, to, z.Duration, easeOr(z.Ease))
	})
}

// Parallel runs several transitions at once. The first failure cancels the
// others.
type Parallel []Transition

func (p Parallel) Snap(n *Node, visible bool) {
	for _, t := range p {
		t.Snap(n, visible)
	}
}

func (p Parallel) Play(ctx context.Context, anim *Animator, n *Node, visible bool) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range p {
		g.Go(func() error {
			return t.Play(gctx, anim, n, visible)
		})
	}
	return g.Wait()
}
