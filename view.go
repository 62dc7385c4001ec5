package curtain

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"go.uber.org/atomic"
)

// TransitionStyle selects animated or instant execution of a show/hide.
type TransitionStyle uint8

const (
	Animated TransitionStyle = iota // await the view's transition
	Instant                         // snap to the final pose
)

func (t TransitionStyle) String() string {
	switch t {
	case Animated:
		return "animated"
	case Instant:
		return "instant"
	default:
		return "unknown"
	}
}

// HideBehaviour selects what the controller does with a screen after hiding it.
type HideBehaviour uint8

const (
	Deactivate HideBehaviour = iota // park under the inactive root, keep loaded
	Unload                          // release the instance and forget the screen
)

func (h HideBehaviour) String() string {
	switch h {
	case Deactivate:
		return "deactivate"
	case Unload:
		return "unload"
	default:
		return "unknown"
	}
}

// ViewState is a view's position in the show/hide state machine.
type ViewState int32

const (
	StateHidden ViewState = iota
	StateShowing
	StateVisible
	StateHiding
)

func (s ViewState) String() string {
	switch s {
	case StateHidden:
		return "hidden"
	case StateShowing:
		return "showing"
	case StateVisible:
		return "visible"
	case StateHiding:
		return "hiding"
	default:
		return "unknown"
	}
}

// View is the capability the controller needs from a screen. It is attached
// as a component to a node of the screen's instantiated hierarchy.
type View interface {
	Key() string
	// Init is called once per instance, after instantiation and before the
	// first show. anim is the stage animator transitions should run on.
	Init(key string, anim *Animator) error
	Node() *Node
	IsVisible() bool
	State() ViewState
	// Show and Hide are called with the screen's key held by the
	// controller. Implementations must not call the controller for the same
	// key synchronously; work queued with RunAfter(ctx, ...) runs once the
	// key is released.
	Show(ctx context.Context, style TransitionStyle) error
	Hide(ctx context.Context, style TransitionStyle) error
}

// SubscreenHost is implemented by views that can mount a subscreen.
type SubscreenHost interface {
	View
	// SubscreenMount returns the node subscreens are parented under, or nil
	// if this view cannot host one.
	SubscreenMount() *Node
}

type hookPhase int

const (
	phaseBeforeShow hookPhase = iota
	phaseAfterShow
	phaseBeforeHide
	phaseAfterHide
	numHookPhases
)

var hookPhaseNames = [numHookPhases]string{"before_show", "after_show", "before_hide", "after_hide"}

// Screen is the embeddable base implementation of View and SubscreenHost.
// Embed *Screen in a concrete screen type, attach the concrete value to the
// screen's root node, and call SetOwner so hooks receive the concrete type.
//
//	type Settings struct{ *curtain.Screen }
//
//	func NewSettings(root *curtain.Node) *Settings {
//		s := &Settings{Screen: curtain.NewScreen(root)}
//		s.SetOwner(s)
//		root.AddComponent(s)
//		return s
//	}
type Screen struct {
	// Transition animates show/hide. Nil means both styles are instant and
	// only the node's active flag changes.
	Transition Transition

	key   string
	node  *Node
	mount *Node
	anim  *Animator
	owner View
	log   *slog.Logger

	state atomic.Int32
	opMu  sync.Mutex

	hookMu sync.Mutex
	hooks  [numHookPhases][]func(View)
}

// NewScreen creates a hidden screen rooted at node.
func NewScreen(node *Node) *Screen {
	if node == nil {
		panic("curtain: screen needs a node")
	}
	s := &Screen{node: node}
	s.owner = s
	return s
}

// SetOwner sets the value passed to hooks. Concrete screens embedding
// *Screen pass themselves.
func (s *Screen) SetOwner(v View) {
	s.owner = v
}

// SetMount sets the node subscreens are parented under.
func (s *Screen) SetMount(n *Node) {
	s.mount = n
}

// SetLogger overrides the package logger for this screen.
func (s *Screen) SetLogger(l *slog.Logger) {
	s.log = l
}

// Key returns the key the screen was initialized with.
func (s *Screen) Key() string {
	return s.key
}

// Init records the screen's key and the animator its transitions run on.
func (s *Screen) Init(key string, anim *Animator) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	s.key = key
	s.anim = anim
	return nil
}

// Node returns the screen's root node.
func (s *Screen) Node() *Node {
	return s.node
}

// SubscreenMount returns the subscreen mount point, or nil.
func (s *Screen) SubscreenMount() *Node {
	return s.mount
}

// State returns the current state machine position.
func (s *Screen) State() ViewState {
	return ViewState(s.state.Load())
}

// IsVisible reports whether a show has completed and no hide has since
// completed.
func (s *Screen) IsVisible() bool {
	return s.State() == StateVisible
}

// OnBeforeShow registers fn to run before each show transition. Before
// hooks run while a Controller holds the screen's key, so they must not call
// the controller for this screen.
func (s *Screen) OnBeforeShow(fn func(View)) { s.addHook(phaseBeforeShow, fn) }

// OnAfterShow registers fn to run after each completed show transition.
// When the show was started by a Controller, fn runs once the operation has
// released its key locks and may call back into the controller.
func (s *Screen) OnAfterShow(fn func(View)) { s.addHook(phaseAfterShow, fn) }

// OnBeforeHide registers fn to run before each hide transition.
func (s *Screen) OnBeforeHide(fn func(View)) { s.addHook(phaseBeforeHide, fn) }

// OnAfterHide registers fn to run after each completed hide transition,
// with the same deferral as OnAfterShow.
func (s *Screen) OnAfterHide(fn func(View)) { s.addHook(phaseAfterHide, fn) }

func (s *Screen) addHook(p hookPhase, fn func(View)) {
	if fn == nil {
		return
	}
	s.hookMu.Lock()
	s.hooks[p] = append(s.hooks[p], fn)
	s.hookMu.Unlock()
}

// Show activates the node and runs the show transition. It is a no-op when
// the screen is already visible. On failure or cancellation the screen
// returns to hidden and the error is returned.
func (s *Screen) Show(ctx context.Context, style TransitionStyle) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.State() == StateVisible {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.state.Store(int32(StateShowing))
	s.runHooks(phaseBeforeShow)
	s.setActive(true)

	if err := protect(func() error { return s.transition(ctx, style, true) }); err != nil {
		s.markHidden()
		if !IsCancelled(err) {
			s.logger().Error("show transition failed", "screen", s.key, "style", style, "err", err)
		}
		return err
	}

	s.state.Store(int32(StateVisible))
	s.afterHooks(ctx, phaseAfterShow)
	return nil
}

// Hide runs the hide transition and deactivates the node. It is a no-op when
// the screen is already hidden. The screen ends hidden even when the
// transition fails, panics or is cancelled; after-hide hooks only run when it
// completed.
func (s *Screen) Hide(ctx context.Context, style TransitionStyle) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.State() == StateHidden {
		return nil
	}
	if err := s.hide(ctx, style); err != nil {
		return err
	}
	s.afterHooks(ctx, phaseAfterHide)
	return nil
}

func (s *Screen) hide(ctx context.Context, style TransitionStyle) error {
	s.state.Store(int32(StateHiding))
	defer s.markHidden()

	if err := ctx.Err(); err != nil {
		return err
	}
	s.runHooks(phaseBeforeHide)

	err := protect(func() error { return s.transition(ctx, style, false) })
	if err != nil && !IsCancelled(err) {
		s.logger().Error("hide transition failed", "screen", s.key, "style", style, "err", err)
	}
	return err
}

func (s *Screen) transition(ctx context.Context, style TransitionStyle, visible bool) error {
	t := s.Transition
	if t == nil {
		return nil
	}
	if style == Instant || s.anim == nil {
		s.apply(func() { t.Snap(s.node, visible) })
		return nil
	}
	return t.Play(ctx, s.anim, s.node, visible)
}

// markHidden snaps the hidden pose, deactivates the node and records the
// hidden state.
func (s *Screen) markHidden() {
	s.apply(func() {
		if s.Transition != nil {
			s.Transition.Snap(s.node, false)
		}
		s.node.Active = false
	})
	s.state.Store(int32(StateHidden))
}

func (s *Screen) setActive(active bool) {
	s.apply(func() { s.node.Active = active })
}

func (s *Screen) apply(fn func()) {
	if s.anim != nil {
		s.anim.Apply(fn)
		return
	}
	fn()
}

// afterHooks runs p's hooks now, or queues them when ctx carries an
// operation queue.
func (s *Screen) afterHooks(ctx context.Context, p hookPhase) {
	RunAfter(ctx, func() { s.runHooks(p) })
}

func (s *Screen) runHooks(p hookPhase) {
	s.hookMu.Lock()
	hooks := slices.Clone(s.hooks[p])
	s.hookMu.Unlock()

	for _, fn := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger().Error("screen hook panicked",
						"screen", s.key, "phase", hookPhaseNames[p], "panic", r)
				}
			}()
			fn(s.owner)
		}()
	}
}

func (s *Screen) logger() *slog.Logger {
	return loggerOr(s.log)
}
