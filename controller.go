package curtain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/phanxgames/curtain/signals"
)

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// Stage owns the node tree screens are parented into. Required.
	Stage *Stage
	// Registry resolves keys to addresses. A nil registry fails every load
	// with ErrNoRegistry.
	Registry *Registry
	// Loader instantiates screen assets. Required.
	Loader AssetLoader
	// Bus receives lifecycle signals. Optional.
	Bus *signals.Bus
	// Logger overrides the package logger.
	Logger *slog.Logger
}

// screenData is the controller's record of one loaded screen.
type screenData struct {
	key        string
	address    string
	view       View
	node       *Node
	handle     Handle
	instanceID uuid.UUID
}

// Controller maps screen keys to loaded views and drives their lifecycle.
// All operations block until done and honour ctx. Operations on the same key
// are serialized; operations on different keys may interleave.
type Controller struct {
	stage    *Stage
	registry *Registry
	loader   AssetLoader
	bus      *signals.Bus
	log      *slog.Logger
	locks    *keyLocks

	mu         sync.Mutex
	screens    map[string]*screenData
	subscreens map[string]string // host key -> subscreen key
	pending    map[string]string // host key -> subscreen key being mounted
	closed     bool
}

// NewController creates a controller. Stage and Loader are required.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Stage == nil {
		return nil, errors.New("curtain: controller needs a stage")
	}
	if cfg.Loader == nil {
		return nil, errors.New("curtain: controller needs an asset loader")
	}
	return &Controller{
		stage:      cfg.Stage,
		registry:   cfg.Registry,
		loader:     cfg.Loader,
		bus:        cfg.Bus,
		log:        loggerOr(cfg.Logger).With("component", "controller"),
		locks:      newKeyLocks(),
		screens:    make(map[string]*screenData),
		subscreens: make(map[string]string),
		pending:    make(map[string]string),
	}, nil
}

// Stage returns the stage screens are parented into.
func (c *Controller) Stage() *Stage {
	return c.stage
}

// Load returns the view for key, instantiating it under the inactive root if
// needed. An already loaded instance is reused and deactivated.
func (c *Controller) Load(ctx context.Context, key string) (View, error) {
	return c.fetch(ctx, "load", key, true)
}

// Get is Load without deactivating an already active instance.
func (c *Controller) Get(ctx context.Context, key string) (View, error) {
	return c.fetch(ctx, "get", key, false)
}

func (c *Controller) fetch(ctx context.Context, op, key string, deactivate bool) (View, error) {
	if err := c.checkKey(op, key); err != nil {
		return nil, err
	}
	ctx, after := withAfterQueue(ctx)
	defer after.run()
	unlock, err := c.locks.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	d, err := c.load(ctx, op, key, deactivate)
	if err != nil {
		return nil, err
	}
	return d.view, nil
}

// load returns the record for key, instantiating it if needed. The caller
// holds key's lock.
func (c *Controller) load(ctx context.Context, op, key string, deactivate bool) (*screenData, error) {
	if d := c.lookup(key); d != nil {
		if deactivate && c.stage.IsActive(d.node) {
			c.stage.SetActive(d.node, false)
		}
		return d, nil
	}

	if c.registry == nil {
		return nil, screenErr(op, key, "", ErrNoRegistry)
	}
	address, ok := c.registry.Address(key)
	if !ok || strings.TrimSpace(address) == "" {
		e := screenErr(op, key, address, ErrNotRegistered)
		if s, ok := c.registry.Suggest(key); ok {
			e.Hint = fmt.Sprintf("did you mean %q?", s)
		}
		return nil, e
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var handle Handle
	err := protect(func() error {
		var err error
		handle, err = c.loader.Instantiate(ctx, address, c.stage.InactiveRoot())
		return err
	})
	if err == nil {
		// Cancellation that lands after the loader returned still undoes it.
		err = ctx.Err()
	}
	if err != nil {
		c.release(key, handle)
		if IsCancelled(err) {
			return nil, err
		}
		return nil, screenErr(op, key, address, err)
	}
	if handle == nil || !handle.Valid() || handle.Result() == nil {
		c.release(key, handle)
		return nil, screenErr(op, key, address, ErrInstantiate)
	}

	root := handle.Result()
	c.stage.Reparent(root, c.stage.InactiveRoot())
	c.stage.SetActive(root, false)

	var view View
	c.stage.Do(func() { view, ok = FindComponent[View](root) })
	if !ok {
		c.release(key, handle)
		return nil, screenErr(op, key, address, ErrNoView)
	}
	if err := protect(func() error { return view.Init(key, c.stage.Animator()) }); err != nil {
		c.release(key, handle)
		return nil, screenErr(op, key, address, err)
	}

	d := &screenData{
		key:        key,
		address:    address,
		view:       view,
		node:       root,
		handle:     handle,
		instanceID: uuid.New(),
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.release(key, handle)
		return nil, screenErr(op, key, address, ErrClosed)
	}
	c.screens[key] = d
	c.mu.Unlock()

	c.log.Debug("screen loaded", "key", key, "address", address, "instance", d.instanceID)
	c.publishLoaded(ctx, d)
	return d, nil
}

// Show loads key if needed, parents it under the active root and shows it.
// Showing a visible screen re-runs nothing and returns its view.
func (c *Controller) Show(ctx context.Context, key string, style TransitionStyle) (View, error) {
	const op = "show"
	if err := c.checkKey(op, key); err != nil {
		return nil, err
	}
	ctx, after := withAfterQueue(ctx)
	defer after.run()
	unlock, err := c.locks.acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	d, err := c.load(ctx, op, key, false)
	if err != nil {
		return nil, err
	}
	c.detach(key)
	if err := c.present(ctx, op, d, c.stage.ActiveRoot(), style); err != nil {
		return nil, err
	}
	c.publishShown(ctx, key, "")
	return d.view, nil
}

// present parents d under parent and shows it. On failure the screen is
// parked under the inactive root.
func (c *Controller) present(ctx context.Context, op string, d *screenData, parent *Node, style TransitionStyle) error {
	c.stage.Reparent(d.node, parent)
	c.stage.SetActive(d.node, true)

	err := protect(func() error { return d.view.Show(ctx, style) })
	if err == nil {
		return nil
	}
	c.park(d)
	if IsCancelled(err) {
		return err
	}
	c.log.Error("show failed", "op", op, "key", d.key, "err", err)
	return screenErr(op, d.key, d.address, err)
}

// park moves d under the inactive root and deactivates it.
func (c *Controller) park(d *screenData) {
	c.stage.Reparent(d.node, c.stage.InactiveRoot())
	c.stage.SetActive(d.node, false)
}

// Hide hides key and applies behaviour. It is a no-op when key is not
// loaded. An active subscreen is hidden first, instantly, with the same
// behaviour. Transition failures are logged, not returned; cancellation is
// returned after the behaviour has been applied. Waiting for the key ignores
// cancellation so a cancelled hide still lands.
func (c *Controller) Hide(ctx context.Context, key string, behaviour HideBehaviour, style TransitionStyle) error {
	if err := c.checkKey("hide", key); err != nil {
		return err
	}
	ctx, after := withAfterQueue(ctx)
	defer after.run()
	unlock, err := c.locks.acquire(context.WithoutCancel(ctx), key)
	if err != nil {
		return err
	}
	defer unlock()
	return c.hide(ctx, key, behaviour, style)
}

// hide is Hide with key's lock held.
func (c *Controller) hide(ctx context.Context, key string, behaviour HideBehaviour, style TransitionStyle) error {
	d := c.lookup(key)
	if d == nil {
		return nil
	}

	if sub := c.ActiveSubscreen(key); sub != "" {
		c.hideSubscreenOf(ctx, key, sub, behaviour)
		c.takeSubscreen(key)
	}

	var cancelErr error
	if err := protect(func() error { return d.view.Hide(ctx, style) }); err != nil {
		if IsCancelled(err) {
			cancelErr = err
		} else {
			c.log.Error("hide failed", "key", key, "style", style, "err", err)
		}
	}

	c.detach(key)
	switch behaviour {
	case Unload:
		if err := c.unloadRecord(d); err != nil {
			c.log.Error("release failed", "key", key, "err", err)
		}
	default:
		c.park(d)
	}
	c.log.Debug("screen hidden", "key", key, "behaviour", behaviour)
	c.publishHidden(ctx, key, behaviour)
	if behaviour == Unload {
		c.publishUnloaded(ctx, key)
	}
	return cancelErr
}

// hideSubscreenOf hides host's former subscreen sub. Errors are logged.
func (c *Controller) hideSubscreenOf(ctx context.Context, host, sub string, behaviour HideBehaviour) {
	ctx = context.WithoutCancel(ctx)
	unlock, err := c.locks.acquire(ctx, sub)
	if err != nil {
		c.log.Error("subscreen lock failed", "host", host, "key", sub, "err", err)
		return
	}
	defer unlock()
	if err := c.hide(ctx, sub, behaviour, Instant); err != nil {
		c.log.Error("subscreen hide failed", "host", host, "key", sub, "err", err)
	}
}

// Unload releases key's instance and forgets it. It is a no-op when key is
// not loaded. An active subscreen is unloaded first.
func (c *Controller) Unload(ctx context.Context, key string) error {
	if err := c.checkKey("unload", key); err != nil {
		return err
	}
	ctx, after := withAfterQueue(ctx)
	defer after.run()
	unlock, err := c.locks.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return c.unload(ctx, key)
}

// unload is Unload with key's lock held.
func (c *Controller) unload(ctx context.Context, key string) error {
	d := c.lookup(key)
	if d == nil {
		c.takeSubscreen(key)
		return nil
	}

	if sub := c.ActiveSubscreen(key); sub != "" {
		if err := c.unloadSubscreenOf(ctx, key, sub); err != nil {
			c.log.Error("subscreen unload failed", "host", key, "key", sub, "err", err)
		}
		c.takeSubscreen(key)
	}

	c.stage.SetActive(d.node, false)
	c.detach(key)
	if err := c.unloadRecord(d); err != nil {
		return screenErr("unload", key, d.address, err)
	}
	c.publishUnloaded(ctx, key)
	return nil
}

func (c *Controller) unloadSubscreenOf(ctx context.Context, host, sub string) error {
	ctx = context.WithoutCancel(ctx)
	unlock, err := c.locks.acquire(ctx, sub)
	if err != nil {
		return err
	}
	defer unlock()
	if c.lookup(sub) == nil {
		c.log.Debug("dropped orphaned subscreen mapping", "host", host, "key", sub)
		return nil
	}
	return c.unload(ctx, sub)
}

// unloadRecord forgets d and releases its handle.
func (c *Controller) unloadRecord(d *screenData) error {
	c.mu.Lock()
	if c.screens[d.key] == d {
		delete(c.screens, d.key)
	}
	c.mu.Unlock()

	err := protect(d.handle.Release)
	c.log.Debug("screen unloaded", "key", d.key, "instance", d.instanceID)
	return err
}

// ShowSubscreen shows subKey inside hostKey's subscreen mount. The host must
// be loaded, visible and expose a mount. A different active subscreen is
// hidden instantly first; the same one is re-shown without reloading.
func (c *Controller) ShowSubscreen(ctx context.Context, hostKey, subKey string, style TransitionStyle) (View, error) {
	const op = "show_subscreen"
	if err := c.checkKey(op, hostKey); err != nil {
		return nil, err
	}
	if err := c.checkKey(op, subKey); err != nil {
		return nil, err
	}
	if hostKey == subKey {
		return nil, screenErr(op, subKey, "", ErrSubscreenCycle)
	}
	ctx, after := withAfterQueue(ctx)
	defer after.run()

	unlockHost, err := c.locks.acquire(ctx, hostKey)
	if err != nil {
		return nil, err
	}
	defer unlockHost()

	host := c.lookup(hostKey)
	if host == nil || !host.view.IsVisible() {
		return nil, screenErr(op, hostKey, "", ErrHostHidden)
	}
	var mount *Node
	if h, ok := host.view.(SubscreenHost); ok {
		mount = h.SubscreenMount()
	}
	if mount == nil {
		return nil, screenErr(op, hostKey, host.address, ErrNoMount)
	}

	if current := c.ActiveSubscreen(hostKey); current != "" && current != subKey {
		c.hideSubscreenOf(ctx, hostKey, current, Deactivate)
		c.takeSubscreen(hostKey)
	}

	if err := c.reserve(hostKey, subKey); err != nil {
		return nil, screenErr(op, subKey, "", err)
	}
	defer c.unreserve(hostKey)

	unlockSub, err := c.locks.acquire(ctx, subKey)
	if err != nil {
		return nil, err
	}
	defer unlockSub()

	d, err := c.load(ctx, op, subKey, false)
	if err != nil {
		return nil, err
	}
	c.detach(subKey)
	if err := c.present(ctx, op, d, mount, style); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.subscreens[hostKey] = subKey
	c.mu.Unlock()
	c.publishShown(ctx, subKey, hostKey)
	return d.view, nil
}

// HideSubscreen hides hostKey's active subscreen, if any, and clears the
// mapping even when hiding reports an error. Like Hide, it waits for the keys
// even when ctx is cancelled.
func (c *Controller) HideSubscreen(ctx context.Context, hostKey string, behaviour HideBehaviour, style TransitionStyle) error {
	if err := c.checkKey("hide_subscreen", hostKey); err != nil {
		return err
	}
	ctx, after := withAfterQueue(ctx)
	defer after.run()
	unlockHost, err := c.locks.acquire(context.WithoutCancel(ctx), hostKey)
	if err != nil {
		return err
	}
	defer unlockHost()

	sub := c.ActiveSubscreen(hostKey)
	if sub == "" {
		return nil
	}
	defer c.takeSubscreen(hostKey)

	unlockSub, err := c.locks.acquire(context.WithoutCancel(ctx), sub)
	if err != nil {
		return err
	}
	defer unlockSub()
	return c.hide(ctx, sub, behaviour, style)
}

// reserve records a pending host -> sub mount, rejecting it if sub already
// hosts host directly or transitively. Checking pending mounts as well as
// active ones keeps the lock order acyclic.
func (c *Controller) reserve(host, sub string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := map[string]bool{sub: true}
	queue := []string{sub}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		for _, edges := range []map[string]string{c.subscreens, c.pending} {
			next, ok := edges[k]
			if !ok || seen[next] {
				continue
			}
			if next == host {
				return ErrSubscreenCycle
			}
			seen[next] = true
			queue = append(queue, next)
		}
	}
	c.pending[host] = sub
	return nil
}

func (c *Controller) unreserve(host string) {
	c.mu.Lock()
	delete(c.pending, host)
	c.mu.Unlock()
}

// takeSubscreen removes and returns host's subscreen mapping.
func (c *Controller) takeSubscreen(host string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subscreens[host]
	if ok {
		delete(c.subscreens, host)
	}
	return sub, ok
}

// detach clears any host mapping that points at key.
func (c *Controller) detach(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for host, sub := range c.subscreens {
		if sub == key {
			delete(c.subscreens, host)
		}
	}
}

// ActiveSubscreen returns the key of host's active subscreen, or "".
func (c *Controller) ActiveSubscreen(host string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscreens[host]
}

// IsLoaded reports whether key has a live instance.
func (c *Controller) IsLoaded(key string) bool {
	return c.lookup(key) != nil
}

// Loaded returns the loaded keys in sorted order.
func (c *Controller) Loaded() []string {
	c.mu.Lock()
	keys := make([]string, 0, len(c.screens))
	for k := range c.screens {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// ScreenInfo is a read-only view of one loaded screen.
type ScreenInfo struct {
	Key        string
	Address    string
	InstanceID uuid.UUID
	State      ViewState
	Active     bool
	Parent     string
	Subscreen  string
}

// Snapshot describes every loaded screen, sorted by key.
func (c *Controller) Snapshot() []ScreenInfo {
	c.mu.Lock()
	infos := make([]ScreenInfo, 0, len(c.screens))
	for _, d := range c.screens {
		infos = append(infos, ScreenInfo{
			Key:        d.key,
			Address:    d.address,
			InstanceID: d.instanceID,
			Subscreen:  c.subscreens[d.key],
		})
	}
	nodes := make([]*Node, len(infos))
	for i := range infos {
		nodes[i] = c.screens[infos[i].Key].node
		infos[i].State = c.screens[infos[i].Key].view.State()
	}
	c.mu.Unlock()

	c.stage.Do(func() {
		for i, n := range nodes {
			infos[i].Active = n.Active
			if n.Parent != nil {
				infos[i].Parent = n.Parent.Name
			}
		}
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// Close releases every loaded instance. Later operations fail with
// ErrClosed. Release failures are logged and joined.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ctx, after := withAfterQueue(ctx)
	defer after.run()
	keys := make([]string, 0, len(c.screens))
	for k := range c.screens {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	sort.Strings(keys)

	var errs []error
	for _, key := range keys {
		unlock, err := c.locks.acquire(ctx, key)
		if err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", key, err))
			continue
		}
		if d := c.lookup(key); d != nil {
			c.stage.SetActive(d.node, false)
			if err := c.unloadRecord(d); err != nil {
				c.log.Error("release failed", "key", key, "err", err)
				errs = append(errs, fmt.Errorf("release %q: %w", key, err))
			}
			c.publishUnloaded(ctx, key)
		}
		unlock()
	}

	c.mu.Lock()
	clear(c.subscreens)
	clear(c.pending)
	c.mu.Unlock()
	return errors.Join(errs...)
}

func (c *Controller) lookup(key string) *screenData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screens[key]
}

func (c *Controller) checkKey(op, key string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return screenErr(op, key, "", ErrClosed)
	}
	if strings.TrimSpace(key) == "" {
		return screenErr(op, key, "", ErrInvalidKey)
	}
	return nil
}

// release frees a handle left behind by a failed load.
func (c *Controller) release(key string, h Handle) {
	if h == nil {
		return
	}
	if err := protect(h.Release); err != nil {
		c.log.Error("release after failed load", "key", key, "err", err)
	}
}

// Signals are queued on the operation and published after its key locks
// are released, so subscribers may call back into the controller.

func (c *Controller) publishLoaded(ctx context.Context, d *screenData) {
	publish(ctx, c.bus, ScreenLoaded{Key: d.key, Address: d.address})
}

func (c *Controller) publishShown(ctx context.Context, key, host string) {
	publish(ctx, c.bus, ScreenShown{Key: key, Host: host})
}

func (c *Controller) publishHidden(ctx context.Context, key string, b HideBehaviour) {
	publish(ctx, c.bus, ScreenHidden{Key: key, Behaviour: b})
}

func (c *Controller) publishUnloaded(ctx context.Context, key string) {
	publish(ctx, c.bus, ScreenUnloaded{Key: key})
}

func publish[T any](ctx context.Context, bus *signals.Bus, signal T) {
	if bus != nil {
		RunAfter(ctx, func() { signals.Publish(bus, signal) })
	}
}

// LoadAs is Load followed by a typed capability lookup.
func LoadAs[T any](ctx context.Context, c *Controller, key string) (T, error) {
	v, err := c.Load(ctx, key)
	return capability[T](c, "load", key, v, err)
}

// GetAs is Get followed by a typed capability lookup.
func GetAs[T any](ctx context.Context, c *Controller, key string) (T, error) {
	v, err := c.Get(ctx, key)
	return capability[T](c, "get", key, v, err)
}

// ShowAs is Show followed by a typed capability lookup.
func ShowAs[T any](ctx context.Context, c *Controller, key string, style TransitionStyle) (T, error) {
	v, err := c.Show(ctx, key, style)
	return capability[T](c, "show", key, v, err)
}

// capability returns v as T, or the first component of type T in the
// screen's instance.
func capability[T any](c *Controller, op, key string, v View, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	if d := c.lookup(key); d != nil {
		var (
			t  T
			ok bool
		)
		c.stage.Do(func() { t, ok = FindComponent[T](d.node) })
		if ok {
			return t, nil
		}
	}
	return zero, screenErr(op, key, "", fmt.Errorf("%w: want %s", ErrCapability, reflect.TypeFor[T]()))
}
