package curtain

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phanxgames/curtain/signals"
	"go.uber.org/atomic"
)

type fixture struct {
	stage  *Stage
	loader *FactoryLoader
	ctrl   *Controller
	bus    *signals.Bus
	made   map[string]*atomic.Int32
}

func (f *fixture) instances(address string) int32 {
	return f.made[address].Load()
}

// popup is a concrete screen type for typed lookups.
type popup struct {
	*Screen
}

type scoreboard struct{ score int }

// newFixture registers Home, Popup, Settings and Toast. Home and Settings
// can host subscreens; Popup is a *popup; Toast carries a scoreboard on a
// child node.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := NewStage()
	f := &fixture{
		stage:  s,
		loader: NewFactoryLoader(s),
		bus:    signals.New(signals.Options{}),
		made:   make(map[string]*atomic.Int32),
	}
	f.register("addr://home", true, nil)
	f.register("addr://settings", true, nil)
	f.register("addr://toast", false, func(root *Node) {
		child := NewNode("board")
		child.AddComponent(&scoreboard{})
		root.AddChild(child)
	})
	f.made["addr://popup"] = atomic.NewInt32(0)
	f.loader.Register("addr://popup", func(ctx context.Context, address string) (*Node, error) {
		f.made[address].Inc()
		n := NewNode("popup")
		p := &popup{Screen: NewScreen(n)}
		p.SetOwner(p)
		n.AddComponent(p)
		return n, nil
	})

	ctrl, err := NewController(ControllerConfig{
		Stage:  s,
		Loader: f.loader,
		Bus:    f.bus,
		Registry: NewRegistry(
			Registration{Key: "Home", Address: "addr://home"},
			Registration{Key: "Popup", Address: "addr://popup"},
			Registration{Key: "Settings", Address: "addr://settings"},
			Registration{Key: "Toast", Address: "addr://toast"},
			Registration{Key: "Blank", Address: " "},
		),
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	f.ctrl = ctrl
	return f
}

func (f *fixture) register(address string, mount bool, extra func(root *Node)) {
	f.made[address] = atomic.NewInt32(0)
	f.loader.Register(address, func(ctx context.Context, address string) (*Node, error) {
		f.made[address].Inc()
		n := NewNode(strings.TrimPrefix(address, "addr://"))
		sc := NewScreen(n)
		if mount {
			m := NewNode("mount")
			n.AddChild(m)
			sc.SetMount(m)
		}
		if extra != nil {
			extra(n)
		}
		n.AddComponent(sc)
		return n, nil
	})
}

func TestNewControllerRequiresStageAndLoader(t *testing.T) {
	if _, err := NewController(ControllerConfig{Loader: NewFactoryLoader(NewStage())}); err == nil {
		t.Error("expected error without a stage")
	}
	if _, err := NewController(ControllerConfig{Stage: NewStage()}); err == nil {
		t.Error("expected error without a loader")
	}
}

func TestLoadReusesInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v1, err := f.ctrl.Load(ctx, "Home")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	v2, _ := f.ctrl.Load(ctx, "Home")
	v3, _ := f.ctrl.Get(ctx, "Home")
	if v1 != v2 || v1 != v3 {
		t.Error("Load and Get should return the same view instance")
	}
	if got := f.instances("addr://home"); got != 1 {
		t.Errorf("instantiated %d times, want 1", got)
	}
	if v1.Key() != "Home" {
		t.Errorf("Key = %q, want Home", v1.Key())
	}
	if v1.Node().Parent != f.stage.InactiveRoot() || v1.Node().Active {
		t.Error("loaded screen should be parked and inactive")
	}
}

func TestUnloadThenLoadIsFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v1, _ := f.ctrl.Load(ctx, "Home")
	old := v1.Node()
	if err := f.ctrl.Unload(ctx, "Home"); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if !old.IsDisposed() {
		t.Error("unload should release the instance")
	}
	if f.ctrl.IsLoaded("Home") {
		t.Error("Home should no longer be loaded")
	}
	v2, err := f.ctrl.Load(ctx, "Home")
	if err != nil {
		t.Fatal(err)
	}
	if v1 == v2 {
		t.Error("load after unload should produce a fresh view")
	}
	if got := f.instances("addr://home"); got != 2 {
		t.Errorf("instantiated %d times, want 2", got)
	}
}

func TestUnloadNotLoadedIsNoOp(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.Unload(context.Background(), "Home"); err != nil {
		t.Errorf("Unload: %v", err)
	}
}

func TestLoadDeactivatesButGetDoesNot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.ctrl.Show(ctx, "Home", Instant)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.ctrl.Get(ctx, "Home"); err != nil {
		t.Fatal(err)
	}
	if !f.stage.IsActive(v.Node()) {
		t.Error("Get should not deactivate an active screen")
	}
	if _, err := f.ctrl.Load(ctx, "Home"); err != nil {
		t.Fatal(err)
	}
	if f.stage.IsActive(v.Node()) {
		t.Error("Load should deactivate an active screen")
	}
}

func TestShowThenHideDeactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.ctrl.Show(ctx, "Home", Instant)
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if !v.IsVisible() {
		t.Error("shown screen should be visible")
	}
	if f.stage.Parent(v.Node()) != f.stage.ActiveRoot() {
		t.Error("shown screen should be under the active root")
	}
	if f.instances("addr://home") != 1 {
		t.Error("Show should instantiate once")
	}

	if err := f.ctrl.Hide(ctx, "Home", Deactivate, Instant); err != nil {
		t.Fatalf("Hide: %v", err)
	}
	if v.IsVisible() {
		t.Error("hidden screen should not be visible")
	}
	if f.stage.Parent(v.Node()) != f.stage.InactiveRoot() {
		t.Error("hidden screen should be parked under the inactive root")
	}
	if v.Node().IsDisposed() || !f.ctrl.IsLoaded("Home") {
		t.Error("deactivate should keep the instance loaded")
	}
	if !f.ctrl.lookup("Home").handle.Valid() {
		t.Error("asset handle should still be valid")
	}
}

func TestHideUnloadRemovesScreen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, _ := f.ctrl.Show(ctx, "Home", Instant)
	if err := f.ctrl.Hide(ctx, "Home", Unload, Instant); err != nil {
		t.Fatalf("Hide: %v", err)
	}
	if f.ctrl.IsLoaded("Home") {
		t.Error("Home should be gone after hide-with-unload")
	}
	if !v.Node().IsDisposed() {
		t.Error("instance should be released")
	}
	if _, err := f.ctrl.Show(ctx, "Home", Instant); err != nil {
		t.Fatal(err)
	}
	if got := f.instances("addr://home"); got != 2 {
		t.Errorf("instantiated %d times, want 2", got)
	}
}

func TestHideNotLoadedIsNoOp(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.Hide(context.Background(), "Home", Unload, Animated); err != nil {
		t.Errorf("Hide: %v", err)
	}
}

func TestAnimatedShowAndHide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.ctrl.Get(ctx, "Home")
	if err != nil {
		t.Fatal(err)
	}
	v.(*Screen).Transition = Fade{Duration: 0.1}

	err = pump(t, f.stage.Update, func() error {
		_, err := f.ctrl.Show(ctx, "Home", Animated)
		return err
	})
	if err != nil || !v.IsVisible() {
		t.Fatalf("Show: err=%v visible=%v", err, v.IsVisible())
	}
	err = pump(t, f.stage.Update, func() error {
		return f.ctrl.Hide(ctx, "Home", Deactivate, Animated)
	})
	if err != nil || v.IsVisible() {
		t.Fatalf("Hide: err=%v visible=%v", err, v.IsVisible())
	}
}

func TestLoadErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ctrl.Load(ctx, "")
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("blank key error = %v, want ErrInvalidKey", err)
	}

	_, err = f.ctrl.Load(ctx, "Setings")
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("error = %v, want ErrNotRegistered", err)
	}
	var se *ScreenError
	if !errors.As(err, &se) || se.Op != "load" || !strings.Contains(se.Hint, "Settings") {
		t.Errorf("ScreenError = %+v, want a hint naming Settings", se)
	}
	if !IsConfigurationError(err) {
		t.Error("missing registration should be a configuration error")
	}

	if _, err := f.ctrl.Load(ctx, "Blank"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("blank address error = %v, want ErrNotRegistered", err)
	}

	noReg, _ := NewController(ControllerConfig{Stage: f.stage, Loader: f.loader})
	if _, err := noReg.Load(ctx, "Home"); !errors.Is(err, ErrNoRegistry) {
		t.Errorf("error = %v, want ErrNoRegistry", err)
	}
}

func TestLoadWithoutViewReleasesInstance(t *testing.T) {
	s := NewStage()
	l := NewFactoryLoader(s)
	var made *Node
	l.Register("addr://bare", func(context.Context, string) (*Node, error) {
		made = NewNode("bare")
		return made, nil
	})
	c, _ := NewController(ControllerConfig{
		Stage: s, Loader: l,
		Registry: NewRegistry(Registration{Key: "Bare", Address: "addr://bare"}),
	})

	_, err := c.Load(context.Background(), "Bare")
	if !errors.Is(err, ErrNoView) {
		t.Fatalf("error = %v, want ErrNoView", err)
	}
	if !made.IsDisposed() {
		t.Error("instance without a view must be released")
	}
	if c.IsLoaded("Bare") {
		t.Error("failed load must not be recorded")
	}
}

func TestLoadCancelledDuringInstantiationReleases(t *testing.T) {
	s := NewStage()
	l := NewFactoryLoader(s)
	var made *Node
	ctx, cancel := context.WithCancel(context.Background())
	l.Register("addr://slow", func(fctx context.Context, _ string) (*Node, error) {
		made = NewNode("slow")
		sc := NewScreen(made)
		made.AddComponent(sc)
		cancel()
		return made, nil
	})
	logs := captureLogs(t)
	c, _ := NewController(ControllerConfig{
		Stage: s, Loader: l,
		Registry: NewRegistry(Registration{Key: "Slow", Address: "addr://slow"}),
	})

	_, err := c.Load(ctx, "Slow")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	var se *ScreenError
	if errors.As(err, &se) {
		t.Error("cancellation should surface as the context's own error")
	}
	if !made.IsDisposed() {
		t.Error("cancelled load must release the instance")
	}
	if c.IsLoaded("Slow") {
		t.Error("cancelled load must not be recorded")
	}
	if strings.Contains(logs.String(), "level=ERROR") {
		t.Errorf("cancellation must not be logged as an error: %s", logs.String())
	}
}

func TestLoadFactoryPanicIsWrapped(t *testing.T) {
	s := NewStage()
	l := NewFactoryLoader(s)
	l.Register("addr://bad", func(context.Context, string) (*Node, error) { panic("kaboom") })
	c, _ := NewController(ControllerConfig{
		Stage: s, Loader: l,
		Registry: NewRegistry(Registration{Key: "Bad", Address: "addr://bad"}),
	})

	_, err := c.Load(context.Background(), "Bad")
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "kaboom" {
		t.Fatalf("error = %v, want wrapped PanicError", err)
	}
}

func TestTypedLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := LoadAs[*popup](ctx, f.ctrl, "Popup")
	if err != nil || p == nil {
		t.Fatalf("LoadAs[*popup]: %v", err)
	}
	p2, err := ShowAs[*popup](ctx, f.ctrl, "Popup", Instant)
	if err != nil || p2 != p {
		t.Fatalf("ShowAs returned %v, %v; want the loaded popup", p2, err)
	}

	sb, err := GetAs[*scoreboard](ctx, f.ctrl, "Toast")
	if err != nil || sb == nil {
		t.Fatalf("GetAs[*scoreboard]: %v", err)
	}

	_, err = GetAs[*popup](ctx, f.ctrl, "Home")
	if !errors.Is(err, ErrCapability) {
		t.Fatalf("error = %v, want ErrCapability", err)
	}
	if !f.ctrl.IsLoaded("Home") {
		t.Error("a capability mismatch should leave the screen loaded")
	}
}

func TestShowSubscreenTwiceReusesInstance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ctrl.Show(ctx, "Home", Instant); err != nil {
		t.Fatal(err)
	}
	v1, err := f.ctrl.ShowSubscreen(ctx, "Home", "Popup", Instant)
	if err != nil {
		t.Fatalf("ShowSubscreen: %v", err)
	}
	v2, err := f.ctrl.ShowSubscreen(ctx, "Home", "Popup", Instant)
	if err != nil {
		t.Fatalf("second ShowSubscreen: %v", err)
	}
	if v1 != v2 {
		t.Error("same subscreen should be reused")
	}
	if got := f.instances("addr://popup"); got != 1 {
		t.Errorf("Popup instantiated %d times, want 1", got)
	}
	home, _ := f.ctrl.Get(ctx, "Home")
	mount := home.(SubscreenHost).SubscreenMount()
	if f.stage.Parent(v1.Node()) != mount {
		t.Error("subscreen should be parented under the host mount")
	}
	if f.ctrl.ActiveSubscreen("Home") != "Popup" {
		t.Errorf("ActiveSubscreen = %q, want Popup", f.ctrl.ActiveSubscreen("Home"))
	}
}

func TestShowSubscreenReplacesDifferentSubscreen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.ctrl.Show(ctx, "Home", Instant)
	first, _ := f.ctrl.ShowSubscreen(ctx, "Home", "Popup", Instant)
	second, err := f.ctrl.ShowSubscreen(ctx, "Home", "Toast", Instant)
	if err != nil {
		t.Fatal(err)
	}
	if first.IsVisible() {
		t.Error("replaced subscreen should be hidden")
	}
	if f.stage.Parent(first.Node()) != f.stage.InactiveRoot() {
		t.Error("replaced subscreen should be parked")
	}
	if !second.IsVisible() || f.ctrl.ActiveSubscreen("Home") != "Toast" {
		t.Error("new subscreen should be visible and recorded")
	}
	if !f.ctrl.IsLoaded("Popup") {
		t.Error("replaced subscreen should stay loaded")
	}
}

func TestShowSubscreenErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.ctrl.ShowSubscreen(ctx, "Home", "Popup", Instant); !errors.Is(err, ErrHostHidden) {
		t.Errorf("unloaded host error = %v, want ErrHostHidden", err)
	}
	_, _ = f.ctrl.Load(ctx, "Home")
	if _, err := f.ctrl.ShowSubscreen(ctx, "Home", "Popup", Instant); !errors.Is(err, ErrHostHidden) {
		t.Errorf("hidden host error = %v, want ErrHostHidden", err)
	}
	_, _ = f.ctrl.Show(ctx, "Popup", Instant)
	if _, err := f.ctrl.ShowSubscreen(ctx, "Popup", "Toast", Instant); !errors.Is(err, ErrNoMount) {
		t.Errorf("mountless host error = %v, want ErrNoMount", err)
	}
	if _, err := f.ctrl.ShowSubscreen(ctx, "Home", "Home", Instant); !errors.Is(err, ErrSubscreenCycle) {
		t.Errorf("self-hosting error = %v, want ErrSubscreenCycle", err)
	}
	if f.instances("addr://toast") != 0 {
		t.Error("failed ShowSubscreen should not instantiate the subscreen")
	}
}

func TestShowSubscreenRejectsCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.ctrl.Show(ctx, "Home", Instant)
	if _, err := f.ctrl.ShowSubscreen(ctx, "Home", "Settings", Instant); err != nil {
		t.Fatal(err)
	}
	_, err := f.ctrl.ShowSubscreen(ctx, "Settings", "Home", Instant)
	if !errors.Is(err, ErrSubscreenCycle) {
		t.Fatalf("error = %v, want ErrSubscreenCycle", err)
	}
}

func TestHideHostHidesSubscreenFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.ctrl.Show(ctx, "Home", Instant)
	sub, _ := f.ctrl.ShowSubscreen(ctx, "Home", "Popup", Instant)

	var order []string
	f.ctrl.lookup("Home").view.(*Screen).OnBeforeHide(func(View) { order = append(order, "Home") })
	sub.(*popup).OnBeforeHide(func(View) { order = append(order, "Popup") })

	if err := f.ctrl.Hide(ctx, "Home", Deactivate, Animated); err != nil {
		t.Fatal(err)
	}
	if strings.Join(order, ",") != "Popup,Home" {
		t.Errorf("hide order = %v, want subscreen first", order)
	}
	if sub.IsVisible() || f.ctrl.ActiveSubscreen("Home") != "" {
		t.Error("subscreen should be hidden and the mapping cleared")
	}
	if f.stage.Parent(sub.Node()) != f.stage.InactiveRoot() {
		t.Error("subscreen should be parked with the host's behaviour")
	}
}

func TestHideHostWithUnloadUnloadsSubscreen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.ctrl.Show(ctx, "Home", Instant)
	_, _ = f.ctrl.ShowSubscreen(ctx, "Home", "Popup", Instant)
	if err := f.ctrl.Hide(ctx, "Home", Unload, Instant); err != nil {
		t.Fatal(err)
	}
	if got := f.ctrl.Loaded(); len(got) != 0 {
		t.Errorf("Loaded = %v, want none", got)
	}
}

func TestUnloadHostUnloadsSubscreen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.ctrl.Show(ctx, "Home", Instant)
	sub, _ := f.ctrl.ShowSubscreen(ctx, "Home", "Popup", Instant)
	if err := f.ctrl.Unload(ctx, "Home"); err != nil {
		t.Fatal(err)
	}
	if f.ctrl.IsLoaded("Popup") || !sub.Node().IsDisposed() {
		t.Error("unloading the host should unload its subscreen")
	}
	if f.ctrl.ActiveSubscreen("Home") != "" {
		t.Error("mapping should be cleared")
	}
}

func TestUnloadSubscreenClearsHostMapping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.ctrl.Show(ctx, "Home", Instant)
	_, _ = f.ctrl.ShowSubscreen(ctx, "Home", "Popup", Instant)
	if err := f.ctrl.Unload(ctx, "Popup"); err != nil {
		t.Fatal(err)
	}
	if f.ctrl.ActiveSubscreen("Home") != "" {
		t.Error("unloading a subscreen should clear its host mapping")
	}
	if err := f.ctrl.HideSubscreen(ctx, "Home", Deactivate, Instant); err != nil {
		t.Errorf("HideSubscreen after unload: %v", err)
	}
}

func TestHideSubscreen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.ctrl.HideSubscreen(ctx, "Home", Deactivate, Instant); err != nil {
		t.Errorf("HideSubscreen without subscreen: %v", err)
	}
	_, _ = f.ctrl.Show(ctx, "Home", Instant)
	sub, _ := f.ctrl.ShowSubscreen(ctx, "Home", "Popup", Instant)
	if err := f.ctrl.HideSubscreen(ctx, "Home", Unload, Instant); err != nil {
		t.Fatal(err)
	}
	if f.ctrl.ActiveSubscreen("Home") != "" || f.ctrl.IsLoaded("Popup") {
		t.Error("subscreen should be unloaded and the mapping cleared")
	}
	if !sub.Node().IsDisposed() {
		t.Error("unloaded subscreen should be released")
	}
	home, _ := f.ctrl.Get(ctx, "Home")
	if !home.IsVisible() {
		t.Error("host should stay visible")
	}
}

func TestHideSwallowsTransitionFailure(t *testing.T) {
	logs := captureLogs(t)
	f := newFixture(t)
	ctx := context.Background()

	v, _ := f.ctrl.Show(ctx, "Home", Instant)
	v.(*Screen).Transition = failingTransition{err: errors.New("stuck")}

	if err := f.ctrl.Hide(ctx, "Home", Deactivate, Animated); err != nil {
		t.Fatalf("Hide should swallow transition errors, got %v", err)
	}
	if v.IsVisible() || f.stage.Parent(v.Node()) != f.stage.InactiveRoot() {
		t.Error("hide must still advance the screen to parked")
	}
	if !strings.Contains(logs.String(), "hide failed") {
		t.Errorf("expected hide failure log, got %q", logs.String())
	}
}

func TestHideCancelledStillAppliesBehaviour(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, _ := f.ctrl.Show(ctx, "Home", Instant)
	v.(*Screen).Transition = Slide{DX: 500, Duration: 10}

	cctx, cancel := context.WithCancel(ctx)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := pump(t, f.stage.Update, func() error {
		return f.ctrl.Hide(cctx, "Home", Unload, Animated)
	})
	if !IsCancelled(err) {
		t.Fatalf("Hide error = %v, want cancellation", err)
	}
	if f.ctrl.IsLoaded("Home") {
		t.Error("cancelled hide must still apply the unload behaviour")
	}
	if f.stage.Animator().Len() != 0 {
		t.Error("cancelled hide must not leave a running animation")
	}
}

func TestHideWithCancelledContextStillHides(t *testing.T) {
	f := newFixture(t)
	v, _ := f.ctrl.Show(context.Background(), "Home", Instant)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.ctrl.Hide(cancelled, "Home", Deactivate, Animated); !IsCancelled(err) {
		t.Fatalf("Hide error = %v, want cancellation", err)
	}
	if v.IsVisible() || f.stage.Parent(v.Node()) != f.stage.InactiveRoot() {
		t.Error("hide with a cancelled context must still park the screen")
	}
	if f.ctrl.locks.held() != 0 {
		t.Errorf("key locks still held: %d", f.ctrl.locks.held())
	}
}

func TestShowFailureParksScreen(t *testing.T) {
	captureLogs(t)
	f := newFixture(t)
	ctx := context.Background()

	v, _ := f.ctrl.Get(ctx, "Home")
	v.(*Screen).Transition = failingTransition{err: errors.New("broken")}
	_, err := f.ctrl.Show(ctx, "Home", Animated)
	if err == nil {
		t.Fatal("expected show error")
	}
	var se *ScreenError
	if !errors.As(err, &se) || se.Op != "show" {
		t.Errorf("error = %v, want a show ScreenError", err)
	}
	if v.IsVisible() || f.stage.Parent(v.Node()) != f.stage.InactiveRoot() {
		t.Error("failed show should leave the screen parked and hidden")
	}
}

func TestConcurrentShowSameKeyInstantiatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	views := make([]View, 8)
	for i := range views {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := f.ctrl.Show(ctx, "Home", Instant)
			if err != nil {
				t.Errorf("Show: %v", err)
			}
			views[i] = v
		}()
	}
	wg.Wait()

	if got := f.instances("addr://home"); got != 1 {
		t.Errorf("instantiated %d times, want 1", got)
	}
	for _, v := range views[1:] {
		if v != views[0] {
			t.Error("concurrent shows should share one view")
		}
	}
}

func TestOperationWaitsForKeyLockHonoursContext(t *testing.T) {
	f := newFixture(t)
	v, _ := f.ctrl.Get(context.Background(), "Home")
	v.(*Screen).Transition = Fade{Duration: 10}

	started := make(chan struct{})
	showCtx, stopShow := context.WithCancel(context.Background())
	done := make(chan error, 1)
	v.(*Screen).OnBeforeShow(func(View) { close(started) })
	go func() {
		_, err := f.ctrl.Show(showCtx, "Home", Animated)
		done <- err
	}()
	<-started

	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.ctrl.Load(waitCtx, "Home"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Load while Show holds the key = %v, want deadline exceeded", err)
	}

	stopShow()
	if err := <-done; !IsCancelled(err) {
		t.Errorf("Show error = %v, want cancellation", err)
	}
	if f.ctrl.locks.held() != 0 {
		t.Errorf("key locks still held: %d", f.ctrl.locks.held())
	}
}

func TestControllerPublishesSignals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var got []string
	_, _ = signals.Subscribe(f.bus, func(s ScreenLoaded) { got = append(got, "loaded:"+s.Key) })
	_, _ = signals.Subscribe(f.bus, func(s ScreenShown) { got = append(got, "shown:"+s.Key+"@"+s.Host) })
	_, _ = signals.Subscribe(f.bus, func(s ScreenHidden) { got = append(got, "hidden:"+s.Key) })
	_, _ = signals.Subscribe(f.bus, func(s ScreenUnloaded) { got = append(got, "unloaded:"+s.Key) })

	_, _ = f.ctrl.Show(ctx, "Home", Instant)
	_, _ = f.ctrl.ShowSubscreen(ctx, "Home", "Popup", Instant)
	_ = f.ctrl.Hide(ctx, "Home", Unload, Instant)

	want := "loaded:Home,shown:Home@,loaded:Popup,shown:Popup@Home," +
		"hidden:Popup,unloaded:Popup,hidden:Home,unloaded:Home"
	if strings.Join(got, ",") != want {
		t.Errorf("signals = %s\nwant      %s", strings.Join(got, ","), want)
	}
}

func TestSnapshotAndLoaded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.ctrl.Show(ctx, "Home", Instant)
	_, _ = f.ctrl.ShowSubscreen(ctx, "Home", "Popup", Instant)
	_, _ = f.ctrl.Load(ctx, "Toast")

	if got := strings.Join(f.ctrl.Loaded(), ","); got != "Home,Popup,Toast" {
		t.Errorf("Loaded = %s", got)
	}
	snap := f.ctrl.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot len = %d, want 3", len(snap))
	}
	home := snap[0]
	if home.Key != "Home" || home.State != StateVisible || !home.Active || home.Parent != "screens" || home.Subscreen != "Popup" {
		t.Errorf("Home info = %+v", home)
	}
	if snap[1].Parent != "mount" || snap[2].Parent != "inactive" || snap[2].Active {
		t.Errorf("Popup/Toast info = %+v / %+v", snap[1], snap[2])
	}
	if home.InstanceID == snap[1].InstanceID {
		t.Error("instance IDs should differ")
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	home, _ := f.ctrl.Show(ctx, "Home", Instant)
	toast, _ := f.ctrl.Load(ctx, "Toast")
	if err := f.ctrl.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !home.Node().IsDisposed() || !toast.Node().IsDisposed() {
		t.Error("Close should release every instance")
	}
	if len(f.ctrl.Loaded()) != 0 {
		t.Error("Close should forget every screen")
	}
	if _, err := f.ctrl.Show(ctx, "Home", Instant); !errors.Is(err, ErrClosed) {
		t.Errorf("Show after Close = %v, want ErrClosed", err)
	}
	if err := f.ctrl.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestAfterShowHookCanMountSubscreen(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	home, _ := f.ctrl.Get(ctx, "Home")
	hookErr := make(chan error, 1)
	home.(*Screen).OnAfterShow(func(v View) {
		_, err := f.ctrl.ShowSubscreen(ctx, v.Key(), "Popup", Instant)
		hookErr <- err
	})

	if _, err := f.ctrl.Show(ctx, "Home", Instant); err != nil {
		t.Fatalf("Show: %v", err)
	}
	select {
	case err := <-hookErr:
		if err != nil {
			t.Fatalf("ShowSubscreen from hook: %v", err)
		}
	default:
		t.Fatal("after-show hook should have run before Show returned")
	}
	if got := f.ctrl.ActiveSubscreen("Home"); got != "Popup" {
		t.Errorf("ActiveSubscreen = %q, want Popup", got)
	}
}

func TestShownSubscriberCanCallController(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var subErr error
	_, _ = signals.Subscribe(f.bus, func(s ScreenShown) {
		if s.Key == "Home" {
			_, subErr = f.ctrl.ShowSubscreen(ctx, "Home", "Popup", Instant)
		}
	})

	if _, err := f.ctrl.Show(ctx, "Home", Instant); err != nil {
		t.Fatalf("Show: %v", err)
	}
	if subErr != nil {
		t.Fatalf("ShowSubscreen from subscriber: %v", subErr)
	}
	if got := f.ctrl.ActiveSubscreen("Home"); got != "Popup" {
		t.Errorf("ActiveSubscreen = %q, want Popup", got)
	}
	if f.ctrl.locks.held() != 0 {
		t.Errorf("key locks still held: %d", f.ctrl.locks.held())
	}
}

func TestReserveFollowsActiveAndPendingMounts(t *testing.T) {
	f := newFixture(t)
	c := f.ctrl
	c.subscreens["A"] = "B"
	c.pending["A"] = "C"

	if err := c.reserve("C", "A"); !errors.Is(err, ErrSubscreenCycle) {
		t.Errorf("reserve(C, A) = %v, want ErrSubscreenCycle via the pending mount", err)
	}
	if err := c.reserve("B", "A"); !errors.Is(err, ErrSubscreenCycle) {
		t.Errorf("reserve(B, A) = %v, want ErrSubscreenCycle via the active mount", err)
	}
	if err := c.reserve("D", "A"); err != nil {
		t.Errorf("reserve(D, A) = %v, want nil", err)
	}
	if c.pending["D"] != "A" {
		t.Error("successful reserve should record the pending mount")
	}
}
