package singleton

import (
	"context"
	"sync"
)

// Func wraps an infallible constructor so that it runs exactly once; every
// returned call yields the same instance. This is the static-initialization
// strategy: race-freedom is delegated to sync.OnceValue instead of explicit
// locking, at the cost of no failure-and-retry path. Use a Registry when
// construction can fail.
func Func[T any](fn func() T) func() T {
	return sync.OnceValue(fn)
}

// FuncCtx adapts an infallible, context-free constructor into a Constructor
// so it can back a Registry.
func FuncCtx[T any](fn func() T) Constructor[T] {
	return func(context.Context) (T, error) {
		return fn(), nil
	}
}
