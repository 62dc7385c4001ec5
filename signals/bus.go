package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/atomic"
)

var (
	// ErrNilCallback is returned when subscribing a nil function.
	ErrNilCallback = errors.New("signals: callback is nil")

	// ErrBadTarget is returned for targets that cannot be compared with ==.
	ErrBadTarget = errors.New("signals: target is not comparable")
)

// Subscription identifies one registered callback. The zero value is not a
// valid subscription.
type Subscription struct {
	id  uint64
	typ reflect.Type
}

// Valid reports whether s came from a successful subscribe call.
func (s Subscription) Valid() bool {
	return s.id != 0
}

type subscriber struct {
	id     uint64
	target any
	name   string
	fn     func(any)
}

// Options configures a Bus.
type Options struct {
	// Logger receives subscriber panics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Bus is a typed publish/subscribe registry keyed by the signal's Go type.
// It is safe for concurrent use. Publishing snapshots the subscriber list,
// so handlers may subscribe or unsubscribe freely.
type Bus struct {
	log    *slog.Logger
	nextID atomic.Uint64

	mu   sync.Mutex
	subs map[reflect.Type][]*subscriber
}

// New creates an empty bus.
func New(opts Options) *Bus {
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Bus{log: l, subs: make(map[reflect.Type][]*subscriber)}
}

var defaultBus = sync.OnceValue(func() *Bus { return New(Options{}) })

// Default returns the process-wide bus.
func Default() *Bus {
	return defaultBus()
}

type ctxKey struct{}

// WithBus returns a context carrying b.
func WithBus(ctx context.Context, b *Bus) context.Context {
	return context.WithValue(ctx, ctxKey{}, b)
}

// FromContext returns the bus carried by ctx, or Default.
func FromContext(ctx context.Context) *Bus {
	if b, ok := ctx.Value(ctxKey{}).(*Bus); ok && b != nil {
		return b
	}
	return Default()
}

// Subscribe registers fn for signals of type T.
func Subscribe[T any](b *Bus, fn func(T)) (Subscription, error) {
	return SubscribeTarget(b, nil, fn)
}

// SubscribeTarget registers fn for signals of type T, bound to target for
// UnsubscribeAll. target must be comparable (typically a pointer).
func SubscribeTarget[T any](b *Bus, target any, fn func(T)) (Subscription, error) {
	if fn == nil {
		return Subscription{}, ErrNilCallback
	}
	if target != nil && !reflect.TypeOf(target).Comparable() {
		return Subscription{}, fmt.Errorf("%w: %T", ErrBadTarget, target)
	}
	typ := reflect.TypeFor[T]()
	s := &subscriber{
		id:     b.nextID.Inc(),
		target: target,
		name:   funcName(fn),
		fn:     func(v any) { fn(v.(T)) },
	}
	b.add(typ, s)
	return Subscription{id: s.id, typ: typ}, nil
}

// SubscribeOnce registers fn to receive the next signal of type T only.
func SubscribeOnce[T any](b *Bus, fn func(T)) (Subscription, error) {
	return SubscribeOnceTarget(b, nil, fn)
}

// SubscribeOnceTarget is SubscribeOnce bound to target. The subscription is
// removed before fn runs, so fn may subscribe again. Concurrent publishes
// deliver to fn at most once.
func SubscribeOnceTarget[T any](b *Bus, target any, fn func(T)) (Subscription, error) {
	if fn == nil {
		return Subscription{}, ErrNilCallback
	}
	if target != nil && !reflect.TypeOf(target).Comparable() {
		return Subscription{}, fmt.Errorf("%w: %T", ErrBadTarget, target)
	}
	typ := reflect.TypeFor[T]()
	s := &subscriber{
		id:     b.nextID.Inc(),
		target: target,
		name:   funcName(fn),
	}
	sub := Subscription{id: s.id, typ: typ}
	s.fn = func(v any) {
		if !b.Unsubscribe(sub) {
			return
		}
		fn(v.(T))
	}
	b.add(typ, s)
	return sub, nil
}

func (b *Bus) add(typ reflect.Type, s *subscriber) {
	b.mu.Lock()
	b.subs[typ] = append(b.subs[typ], s)
	b.mu.Unlock()
}

// Unsubscribe removes the subscription. It reports whether it was still
// registered. Empty signal types are dropped from the table.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	if !sub.Valid() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.typ]
	for i, s := range list {
		if s.id == sub.id {
			b.setLocked(sub.typ, append(list[:i:i], list[i+1:]...))
			return true
		}
	}
	return false
}

// UnsubscribeAll removes every subscription bound to target across all
// signal types and returns how many were removed.
func (b *Bus) UnsubscribeAll(target any) int {
	if target == nil || !reflect.TypeOf(target).Comparable() {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for typ, list := range b.subs {
		kept := make([]*subscriber, 0, len(list))
		for _, s := range list {
			if s.target != nil && s.target == target {
				removed++
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) != len(list) {
			b.setLocked(typ, kept)
		}
	}
	return removed
}

// setLocked stores list for typ, dropping the entry when it is empty.
func (b *Bus) setLocked(typ reflect.Type, list []*subscriber) {
	if len(list) == 0 {
		delete(b.subs, typ)
		return
	}
	b.subs[typ] = list
}

// Clear drops every subscriber of type T.
func Clear[T any](b *Bus) {
	b.mu.Lock()
	delete(b.subs, reflect.TypeFor[T]())
	b.mu.Unlock()
}

// ClearAll drops every subscriber of every type.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	clear(b.subs)
	b.mu.Unlock()
}

// Publish delivers signal to a snapshot of the current subscribers of type
// T, in subscription order. A panicking subscriber is logged and does not
// stop delivery to the rest.
func Publish[T any](b *Bus, signal T) {
	typ := reflect.TypeFor[T]()

	b.mu.Lock()
	list := b.subs[typ]
	if len(list) == 0 {
		b.mu.Unlock()
		return
	}
	snapshot := make([]*subscriber, len(list))
	copy(snapshot, list)
	b.mu.Unlock()

	for _, s := range snapshot {
		b.deliver(typ, s, signal)
	}
}

func (b *Bus) deliver(typ reflect.Type, s *subscriber, signal any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("signal subscriber panicked",
				"signal", typ.String(),
				"subscriber", s.name,
				"target", targetName(s.target),
				"panic", r)
		}
	}()
	s.fn(signal)
}

// Count returns the number of subscribers for T.
func Count[T any](b *Bus) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[reflect.TypeFor[T]()])
}

// TypeStats is a read-only view of one signal type's subscriptions.
type TypeStats struct {
	Type        string
	Subscribers int
}

// Stats lists subscriber counts per signal type, sorted by type name.
func (b *Bus) Stats() []TypeStats {
	b.mu.Lock()
	stats := make([]TypeStats, 0, len(b.subs))
	for typ, list := range b.subs {
		stats = append(stats, TypeStats{Type: typ.String(), Subscribers: len(list)})
	}
	b.mu.Unlock()
	sort.Slice(stats, func(i, j int) bool { return stats[i].Type < stats[j].Type })
	return stats
}

func funcName(fn any) string {
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return f.Name()
	}
	return "unknown"
}

func targetName(target any) string {
	if target == nil {
		return "none"
	}
	return fmt.Sprintf("%T", target)
}
