// Package container holds explicitly provided shared instances, keyed by
// type, as the test-friendly alternative to process-wide singletons:
// components resolve their collaborators from a Container handed to them,
// and tests provide a fresh instance per test instead of fighting global
// state.
package container

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNotProvided is returned when no provided instance matches a target.
	ErrNotProvided = errors.New("container: instance not provided")
	// ErrBadTarget is returned when a resolve target is not a non-nil pointer.
	ErrBadTarget = errors.New("container: target must be a non-nil pointer")
	// ErrAmbiguousInterface is returned when more than one provided instance
	// implements a requested interface.
	ErrAmbiguousInterface = errors.New("container: multiple instances implement the requested interface")
	// ErrResolveTimeout is returned by ResolveWait when the deadline passes
	// before all targets can be resolved.
	ErrResolveTimeout = errors.New("container: timed out waiting for instances")
)

// entry keeps the provided value together with its reflection info, so
// interface-implementation checks do not re-derive it on every resolve.
type entry struct {
	rtype reflect.Type
	rval  reflect.Value
}

// Container is a type-keyed store of shared instances. The zero value is
// not usable; create one with New.
type Container struct {
	mu      sync.RWMutex
	entries map[reflect.Type]entry
	cond    *sync.Cond
}

// New creates an empty Container.
func New() *Container {
	c := &Container{entries: make(map[reflect.Type]entry)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Provide stores one or more instances, each keyed by its concrete type.
// Providing a value whose type is already present overwrites the previous
// instance, with a warning. nil values are ignored. Goroutines blocked in
// ResolveWait are woken.
func (c *Container) Provide(vals ...any) {
	if len(vals) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	provided := false
	for _, v := range vals {
		if v == nil {
			log.Warn().Msg("ignoring nil value passed to Provide")
			continue
		}

		rv := reflect.ValueOf(v)
		rt := rv.Type()
		if _, exists := c.entries[rt]; exists {
			log.Warn().Str("type", rt.String()).Msg("overwriting provided instance")
		}
		c.entries[rt] = entry{rtype: rt, rval: rv}
		log.Debug().Str("type", rt.String()).Msg("instance provided")
		provided = true
	}

	if provided {
		c.cond.Broadcast()
	}
}

// Resolve assigns provided instances to the targets, which must be non-nil
// pointers (e.g. &myVar). A target whose element type matches a provided
// concrete type exactly gets that instance; an interface-typed target with
// no exact match gets the unique provided instance implementing it.
// Returns ErrNotProvided when any target has no match and
// ErrAmbiguousInterface when an interface target has several.
func (c *Container) Resolve(targets ...any) error {
	if len(targets) == 0 {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.assign(targets)
}

// MustResolve is like Resolve but panics on failure. Useful for essential
// collaborators during startup wiring.
func (c *Container) MustResolve(targets ...any) {
	if err := c.Resolve(targets...); err != nil {
		log.Panic().Err(err).Msg("failed to resolve required instances")
	}
}

// ResolveWait is like Resolve but blocks until all targets can be resolved
// or the timeout passes, whichever comes first. A zero or negative timeout
// degenerates to Resolve. Only missing instances are waited for; bad
// targets and ambiguity fail immediately.
func (c *Container) ResolveWait(timeout time.Duration, targets ...any) error {
	if len(targets) == 0 {
		return nil
	}
	if timeout <= 0 {
		return c.Resolve(targets...)
	}

	// Waiting on the cond needs the write half of the lock.
	c.mu.Lock()
	defer c.mu.Unlock()

	// cond has no native timeout. The flag is written under the lock, so
	// the timer's broadcast cannot slip into the window between a waiter's
	// deadline check and its Wait: the callback blocks on the lock until
	// the waiter is parked, and the waiter re-checks the flag on wake.
	timedOut := false
	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		timedOut = true
		c.mu.Unlock()
		c.cond.Broadcast()
	})
	defer timer.Stop()

	for {
		err := c.assign(targets)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotProvided) {
			return err
		}
		if timedOut {
			log.Warn().Err(err).Dur("timeout", timeout).Msg("timed out waiting for instances")
			return fmt.Errorf("%w: %w", ErrResolveTimeout, err)
		}
		c.cond.Wait()
	}
}

// assign resolves every target or reports what is missing. Callers must
// hold the lock (read for Resolve, write for ResolveWait).
func (c *Container) assign(targets []any) error {
	var missing []reflect.Type

	for _, target := range targets {
		tv := reflect.ValueOf(target)
		if tv.Kind() != reflect.Ptr || tv.IsNil() {
			return fmt.Errorf("%w: got %T", ErrBadTarget, target)
		}

		elem := tv.Elem()
		want := elem.Type()

		e, err := c.lookup(want)
		if err != nil {
			if errors.Is(err, ErrNotProvided) {
				missing = append(missing, want)
				continue
			}
			return err
		}

		if !elem.CanSet() {
			return fmt.Errorf("%w: cannot set target of type %s", ErrBadTarget, want)
		}
		elem.Set(e.rval)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing types %v", ErrNotProvided, missing)
	}
	return nil
}

// lookup finds the entry assignable to want: exact concrete match first,
// then a unique interface implementation. Callers must hold the lock.
func (c *Container) lookup(want reflect.Type) (entry, error) {
	if e, ok := c.entries[want]; ok {
		return e, nil
	}

	if want.Kind() == reflect.Interface {
		var found entry
		count := 0
		for _, e := range c.entries {
			if e.rtype.Implements(want) {
				found = e
				count++
			}
		}
		switch {
		case count == 1:
			log.Debug().Str("interface", want.String()).Str("implementation", found.rtype.String()).Msg("resolved unique implementation")
			return found, nil
		case count > 1:
			return entry{}, fmt.Errorf("%w: interface %s", ErrAmbiguousInterface, want)
		}
	}

	return entry{}, ErrNotProvided
}
