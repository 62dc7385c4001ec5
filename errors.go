package curtain

import (
	"context"
	"errors"
	"fmt"
)

// Configuration errors: the screen setup is wrong and retrying cannot help.
var (
	// ErrInvalidKey indicates an empty or whitespace-only screen key.
	ErrInvalidKey = errors.New("screen key is empty")

	// ErrNoRegistry indicates the controller was built without a Registry.
	ErrNoRegistry = errors.New("screen registry is not configured")

	// ErrNotRegistered indicates a key with no registration or a blank address.
	ErrNotRegistered = errors.New("screen not registered")

	// ErrUnknownAddress is returned by loaders for addresses they cannot resolve.
	ErrUnknownAddress = errors.New("unknown asset address")
)

// Structural errors: an asset or host does not have the shape the operation needs.
var (
	// ErrInstantiate indicates the loader succeeded but produced no instance.
	ErrInstantiate = errors.New("asset instantiation produced no instance")

	// ErrNoView indicates the instantiated hierarchy has no View component.
	ErrNoView = errors.New("instantiated asset has no view component")

	// ErrCapability indicates a typed lookup found no component of the
	// requested type.
	ErrCapability = errors.New("loaded screen lacks required capability")

	// ErrNoMount indicates the host screen exposes no subscreen mount point.
	ErrNoMount = errors.New("host screen has no subscreen mount")

	// ErrHostHidden indicates the host screen is not loaded or not visible.
	ErrHostHidden = errors.New("host screen is not visible")

	// ErrSubscreenCycle indicates a screen would end up hosting itself.
	ErrSubscreenCycle = errors.New("subscreen would host its own ancestor")
)

// ErrClosed is returned by every Controller operation after Close.
var ErrClosed = errors.New("controller is closed")

// ScreenError describes a failed controller operation on one screen.
type ScreenError struct {
	Op      string // operation that failed (e.g., "load", "show_subscreen")
	Key     string // screen key
	Address string // resolved address, if any
	Hint    string // optional remediation hint
	Err     error  // underlying error
}

func (e *ScreenError) Error() string {
	msg := fmt.Sprintf("curtain: %s %q", e.Op, e.Key)
	if e.Address != "" {
		msg += fmt.Sprintf(" (address %q)", e.Address)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *ScreenError) Unwrap() error {
	return e.Err
}

func screenErr(op, key, address string, err error) *ScreenError {
	return &ScreenError{Op: op, Key: key, Address: address, Err: err}
}

// IsCancelled reports whether err stems from context cancellation or a
// deadline. Cancellation is flow control, not a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsConfigurationError reports whether err indicates a setup bug.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrNoRegistry) ||
		errors.Is(err, ErrNotRegistered) ||
		errors.Is(err, ErrUnknownAddress)
}

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("curtain: recovered panic: %v", e.Value)
}

// protect runs fn and converts a panic into a *PanicError.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}
