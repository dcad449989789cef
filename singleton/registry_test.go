package singleton

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type connection struct {
	addr   string
	dialed bool
	ready  bool
}

func TestGetReturnsSameInstance(t *testing.T) {
	r := New(func(context.Context) (*connection, error) {
		return &connection{addr: "localhost:6379"}, nil
	})

	first, err := r.Get(context.Background())
	require.NoError(t, err)

	second, err := r.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestConcurrentGetConstructsOnce(t *testing.T) {
	var built atomic.Int64
	r := New(func(context.Context) (*connection, error) {
		built.Add(1)
		return &connection{addr: "localhost:6379"}, nil
	})

	const callers = 200
	results := make([]*connection, callers)

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			start.Wait()
			v, err := r.Get(context.Background())
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	start.Done()
	done.Wait()

	assert.Equal(t, int64(1), built.Load())
	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestRetryAfterConstructionFailure(t *testing.T) {
	var built atomic.Int64
	fail := true
	r := New(func(context.Context) (*connection, error) {
		built.Add(1)
		if fail {
			return nil, errors.New("resource unavailable")
		}
		return &connection{addr: "localhost:6379"}, nil
	}, WithName("flaky"))

	_, err := r.Get(context.Background())
	require.Error(t, err)
	assert.False(t, r.Built(), "failed construction must leave the slot empty")

	fail = false
	v, err := r.Get(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Equal(t, int64(2), built.Load())
}

func TestConcurrentFailurePropagation(t *testing.T) {
	boom := errors.New("boom")
	r := New(func(context.Context) (*connection, error) {
		return nil, boom
	})

	const callers = 50
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_, err := r.Get(context.Background())
			assert.ErrorIs(t, err, boom)
		}()
	}
	wg.Wait()
	assert.False(t, r.Built())
}

func TestNoPartialVisibility(t *testing.T) {
	r := New(func(context.Context) (*connection, error) {
		c := &connection{}
		c.addr = "localhost:6379"
		c.dialed = true
		c.ready = true
		return c, nil
	})

	const readers = 100
	var wg sync.WaitGroup
	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if c, ok := r.TryGet(); ok {
					assert.Equal(t, "localhost:6379", c.addr)
					assert.True(t, c.dialed)
					assert.True(t, c.ready)
				}
			}
			c, err := r.Get(context.Background())
			assert.NoError(t, err)
			assert.True(t, c.ready)
		}()
	}
	wg.Wait()
}

func TestNewValueIsEager(t *testing.T) {
	want := &connection{addr: "static"}
	r := NewValue(want)

	assert.True(t, r.Built())
	got, err := r.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestTryGetNeverConstructs(t *testing.T) {
	var built atomic.Int64
	r := New(func(context.Context) (*connection, error) {
		built.Add(1)
		return &connection{}, nil
	})

	_, ok := r.TryGet()
	assert.False(t, ok)
	assert.Equal(t, int64(0), built.Load())

	require.NoError(t, r.Prime(context.Background()))
	v, ok := r.TryGet()
	assert.True(t, ok)
	assert.NotNil(t, v)
	assert.Equal(t, int64(1), built.Load())
}

func TestGetWithoutConstructor(t *testing.T) {
	r := New[*connection](nil)

	_, err := r.Get(context.Background())
	assert.ErrorIs(t, err, ErrNoConstructor)

	want := &connection{addr: "replaced"}
	r.Replace(want)
	got, err := r.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestRebindAfterBuildConflicts(t *testing.T) {
	r := New(func(context.Context) (*connection, error) {
		return &connection{addr: "a"}, nil
	})

	require.NoError(t, r.Rebind(func(context.Context) (*connection, error) {
		return &connection{addr: "b"}, nil
	}))

	v, err := r.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", v.addr)

	err = r.Rebind(func(context.Context) (*connection, error) {
		return &connection{addr: "c"}, nil
	})
	assert.ErrorIs(t, err, ErrAlreadyBuilt)

	// The already-built instance wins over the rejected rebind.
	again, err := r.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, v, again)
}

func TestResetAllowsRebuild(t *testing.T) {
	var built atomic.Int64
	r := New(func(context.Context) (*connection, error) {
		built.Add(1)
		return &connection{}, nil
	})

	first, err := r.Get(context.Background())
	require.NoError(t, err)

	r.Reset()
	assert.False(t, r.Built())

	second, err := r.Get(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int64(2), built.Load())
}

func TestInstanceIDTracksPublication(t *testing.T) {
	r := New(func(context.Context) (*connection, error) {
		return &connection{}, nil
	}, WithName("conn"))

	assert.Empty(t, r.InstanceID())

	_, err := r.Get(context.Background())
	require.NoError(t, err)
	first := r.InstanceID()
	assert.NotEmpty(t, first)

	// Stable while the same instance is held.
	_, err = r.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, r.InstanceID())

	// The conflict error names the instance currently held.
	err = r.Rebind(func(context.Context) (*connection, error) {
		return &connection{}, nil
	})
	require.ErrorIs(t, err, ErrAlreadyBuilt)
	assert.Contains(t, err.Error(), first)

	// Each publication is a new generation.
	r.Replace(&connection{})
	second := r.InstanceID()
	assert.NotEqual(t, first, second)

	r.Reset()
	assert.Empty(t, r.InstanceID())

	_, err = r.Get(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, second, r.InstanceID())
}

func TestNewValueHasInstanceID(t *testing.T) {
	r := NewValue(&connection{addr: "static"})
	assert.NotEmpty(t, r.InstanceID())
}

func TestFuncRunsOnce(t *testing.T) {
	var built atomic.Int64
	get := Func(func() *connection {
		built.Add(1)
		return &connection{addr: "once"}
	})

	const callers = 100
	results := make([]*connection, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = get()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), built.Load())
	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i])
	}
}

func TestFuncCtxBacksRegistry(t *testing.T) {
	r := New(FuncCtx(func() *connection {
		return &connection{addr: "adapted"}
	}))

	v, err := r.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "adapted", v.addr)
}

// BenchmarkGetParallel exercises the populated fast path from many
// goroutines at once; it must stay lock-free.
func BenchmarkGetParallel(b *testing.B) {
	r := New(func(context.Context) (*connection, error) {
		return &connection{addr: "bench"}, nil
	})
	ctx := context.Background()
	if _, err := r.Get(ctx); err != nil {
		b.Fatal(err)
	}

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			v, err := r.Get(ctx)
			if err != nil || v == nil {
				b.Error("fast path failed")
			}
		}
	})
}
