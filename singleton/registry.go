// Package singleton provides race-free lazy initialization and retrieval
// of process-wide shared instances.
//
// A Registry owns at most one instance of T. The first Get call that wins
// the construction race runs the constructor; every other call, before or
// after, returns the same instance. Reads of an already-built instance take
// a lock-free fast path, so steady-state callers never contend.
//
// Prefer passing shared instances explicitly (see the container package)
// and reserve a Registry for resources that are genuinely process-wide,
// such as a connection pool or a hardware handle.
package singleton

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoConstructor is returned by Get when the registry has no
	// constructor to run for an empty slot.
	ErrNoConstructor = errors.New("singleton: no constructor bound")
	// ErrAlreadyBuilt is returned by Rebind when the instance already
	// exists; construction parameters are bound once and conflicting
	// late configuration is signaled, not silently ignored.
	ErrAlreadyBuilt = errors.New("singleton: instance already built")
)

// Constructor builds the instance on first demand. It is the only
// construction entry point the registry will ever use; keep the concrete
// type's raw constructor unexported and hand the registry a closure over it
// to get the effect of a private constructor.
//
// A Constructor must not call Get on its own registry: the slow path holds
// the registry lock while constructing, so a reentrant call deadlocks.
type Constructor[T any] func(ctx context.Context) (T, error)

// Registry holds the slot for a single shared instance of T and the lock
// guarding its one empty-to-populated transition.
type Registry[T any] struct {
	mu    sync.Mutex
	slot  atomic.Pointer[T]
	build Constructor[T]
	name  string
	id    string // identity of the published instance, empty while the slot is empty
}

// Option configures a Registry.
type Option func(*settings)

type settings struct {
	name string
}

// WithName sets the name used in log context and wrapped errors.
// Defaults to "singleton".
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}

// New creates a lazy registry. The constructor runs at most once per
// populated lifetime, inside the first Get (or Prime) call that wins the
// race. A nil constructor is allowed; Get then fails with ErrNoConstructor
// until Replace populates the slot.
func New[T any](build Constructor[T], opts ...Option) *Registry[T] {
	s := settings{name: "singleton"}
	for _, opt := range opts {
		opt(&s)
	}
	return &Registry[T]{build: build, name: s.name}
}

// NewValue creates an eagerly populated registry holding v. No construction
// ever runs; Get never fails and never blocks. This is the eager strategy:
// it trades lazy resource savings for guaranteed availability.
func NewValue[T any](v T, opts ...Option) *Registry[T] {
	r := New[T](nil, opts...)
	r.slot.Store(&v)
	r.id = uuid.NewString()
	return r
}

// Get returns the shared instance, constructing it on first demand.
//
// The fast path is a single atomic load with no locking. If the slot is
// empty, Get takes the registry lock, re-checks the slot (a concurrent
// caller may have populated it in between), and only then constructs. The
// instance is published with an atomic store, so a caller that observes a
// populated slot always observes a fully constructed value.
//
// If the constructor fails the slot stays empty and the error is returned
// to every caller waiting on this attempt; a later Get retries. ctx is
// passed through to the constructor and is otherwise unused.
func (r *Registry[T]) Get(ctx context.Context) (T, error) {
	if p := r.slot.Load(); p != nil {
		return *p, nil
	}
	return r.buildSlow(ctx)
}

func (r *Registry[T]) buildSlow(ctx context.Context) (T, error) {
	var zero T

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the lock: another caller may have won the race
	// between our fast-path load and acquiring the mutex.
	if p := r.slot.Load(); p != nil {
		return *p, nil
	}

	if r.build == nil {
		return zero, fmt.Errorf("%w: registry %q", ErrNoConstructor, r.name)
	}

	v, err := r.build(ctx)
	if err != nil {
		// Slot stays empty so a later call may retry.
		log.Warn().Err(err).Str("registry", r.name).Msg("singleton construction failed")
		return zero, fmt.Errorf("singleton %q: construct: %w", r.name, err)
	}

	r.slot.Store(&v)
	r.id = uuid.NewString()
	log.Debug().Str("registry", r.name).Str("instance_id", r.id).Msg("singleton constructed")
	return v, nil
}

// MustGet is like Get but panics on construction failure. Useful for
// essential resources during application startup.
func (r *Registry[T]) MustGet(ctx context.Context) T {
	v, err := r.Get(ctx)
	if err != nil {
		log.Panic().Err(err).Str("registry", r.name).Msg("failed to get required singleton")
	}
	return v
}

// TryGet returns the instance if it has already been built. It never
// constructs and never blocks.
func (r *Registry[T]) TryGet() (T, bool) {
	if p := r.slot.Load(); p != nil {
		return *p, true
	}
	var zero T
	return zero, false
}

// Prime constructs the instance now if the slot is empty. It turns a lazy
// registry eager at a chosen point, typically during startup, so first
// callers never pay construction latency.
func (r *Registry[T]) Prime(ctx context.Context) error {
	_, err := r.Get(ctx)
	return err
}

// Built reports whether the slot is populated.
func (r *Registry[T]) Built() bool {
	return r.slot.Load() != nil
}

// Rebind swaps the constructor. It fails with ErrAlreadyBuilt once the
// slot is populated: construction parameters are supplied exactly once, at
// the first successful construction, and conflicting reconfiguration after
// that is an error rather than a silent no-op.
func (r *Registry[T]) Rebind(build Constructor[T]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slot.Load() != nil {
		return fmt.Errorf("%w: registry %q holds instance %s", ErrAlreadyBuilt, r.name, r.id)
	}
	r.build = build
	return nil
}

// Replace stores v directly, bypassing the constructor. It overwrites any
// existing instance. Intended for tests and for controlled swaps during
// startup, in the same spirit as a Set counterpart to a global Get.
func (r *Registry[T]) Replace(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slot.Store(&v)
	r.id = uuid.NewString()
}

// Reset empties the slot so the next Get constructs again. Test-only: the
// production contract has no teardown, and callers holding the previous
// instance keep it.
func (r *Registry[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slot.Store(nil)
	r.id = ""
}

// Name returns the registry's configured name.
func (r *Registry[T]) Name() string {
	return r.name
}

// InstanceID returns the identity assigned to the instance when it was
// published, or "" while the slot is empty. Each publication, whether by
// construction or Replace, gets a fresh identity, so the id distinguishes
// instance generations across Reset in a way pointer equality cannot.
func (r *Registry[T]) InstanceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}
