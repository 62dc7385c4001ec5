// Package services is a typed service locator. Each Go type has at most one
// registered implementation; registrations are announced on a signal bus so
// late-starting systems can react to a service becoming available.
package services

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/phanxgames/curtain/signals"
)

var (
	ErrAlreadyRegistered = errors.New("services: already registered")
	ErrNotFound          = errors.New("services: not registered")
	ErrNilService        = errors.New("services: service is nil")
)

// Registered is published after a service is registered.
type Registered struct {
	Type string
}

// Deregistered is published after a service is removed.
type Deregistered struct {
	Type string
}

// Entry describes one registration.
type Entry struct {
	Type string
	Impl string
}

// Locator holds one service per type. The zero value is not usable; call New.
type Locator struct {
	bus *signals.Bus

	mu       sync.RWMutex
	services map[reflect.Type]any
}

// New creates a locator that announces changes on bus. A nil bus disables
// announcements.
func New(bus *signals.Bus) *Locator {
	return &Locator{bus: bus, services: make(map[reflect.Type]any)}
}

// Register stores svc as the implementation of T.
func Register[T any](l *Locator, svc T) error {
	typ := reflect.TypeFor[T]()
	if v := reflect.ValueOf(&svc).Elem(); isNil(v) {
		return fmt.Errorf("%w: %s", ErrNilService, typ)
	}

	l.mu.Lock()
	if _, ok := l.services[typ]; ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, typ)
	}
	l.services[typ] = svc
	l.mu.Unlock()

	if l.bus != nil {
		signals.Publish(l.bus, Registered{Type: typ.String()})
	}
	return nil
}

// Get returns the implementation registered for T.
func Get[T any](l *Locator) (T, error) {
	typ := reflect.TypeFor[T]()
	l.mu.RLock()
	svc, ok := l.services[typ]
	l.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotFound, typ)
	}
	return svc.(T), nil
}

// MustGet is Get for wiring code that cannot continue without T.
func MustGet[T any](l *Locator) T {
	svc, err := Get[T](l)
	if err != nil {
		panic(err)
	}
	return svc
}

// Deregister removes T's implementation and reports whether one existed.
func Deregister[T any](l *Locator) bool {
	typ := reflect.TypeFor[T]()
	l.mu.Lock()
	_, ok := l.services[typ]
	delete(l.services, typ)
	l.mu.Unlock()

	if ok && l.bus != nil {
		signals.Publish(l.bus, Deregistered{Type: typ.String()})
	}
	return ok
}

// Entries lists registrations sorted by type name.
func (l *Locator) Entries() []Entry {
	l.mu.RLock()
	entries := make([]Entry, 0, len(l.services))
	for typ, svc := range l.services {
		entries = append(entries, Entry{Type: typ.String(), Impl: fmt.Sprintf("%T", svc)})
	}
	l.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Type < entries[j].Type })
	return entries
}

// Len returns the number of registered services.
func (l *Locator) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.services)
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
