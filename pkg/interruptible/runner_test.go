package interruptible

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errAttempt = errors.New("attempt failed")

// retryingComputation fails its first `failures` attempts and then succeeds
// with result. Failed attempts resolve to false rather than erroring.
func retryingComputation(calls *atomic.Int32, failures int, result string) Computation[string] {
	attempt := func(_ context.Context) (any, error) {
		n := calls.Add(1)
		return int(n) > failures, nil
	}

	return ComputationFunc[string](func(value any) (Step[string], error) {
		if ok, _ := value.(bool); ok {
			return Return(result), nil
		}

		return Yield[string](attempt), nil
	})
}

// blockingComputation yields a single operation that signals started and
// waits for release, ignoring cancellation when ignoreCancel is set.
func blockingComputation(calls *atomic.Int32, started chan<- struct{}, release <-chan struct{}, ignoreCancel bool) Computation[string] {
	op := func(ctx context.Context) (any, error) {
		calls.Add(1)
		started <- struct{}{}

		if ignoreCancel {
			<-release
			return "released", nil
		}

		select {
		case <-release:
			return "released", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return ComputationFunc[string](func(value any) (Step[string], error) {
		if value != nil {
			// keep issuing operations so a second one would be observable
			return Yield[string](func(context.Context) (any, error) {
				calls.Add(1)
				return nil, nil
			}), nil
		}

		return Yield[string](op), nil
	})
}

func TestInvokeSingleOperation(t *testing.T) {
	var calls atomic.Int32

	r := New(func(string) Computation[string] {
		return retryingComputation(&calls, 0, "ok")
	})

	result, err := r.Invoke(context.Background(), "args")

	require.NoError(t, err)
	assert.True(t, result.Completed())
	assert.Equal(t, "ok", result.Value())
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvokeRetriesUntilSuccess(t *testing.T) {
	tests := []struct {
		name     string
		failures int
	}{
		{"no failures", 0},
		{"one failure", 1},
		{"two failures", 2},
		{"many failures", 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32

			r := New(func(struct{}) Computation[string] {
				return retryingComputation(&calls, tt.failures, "i-am-token")
			})

			result, err := r.Invoke(context.Background(), struct{}{})

			require.NoError(t, err)
			assert.Equal(t, "i-am-token", result.Value())
			assert.Equal(t, int32(tt.failures+1), calls.Load())
		})
	}
}

func TestInvokeForwardsArgs(t *testing.T) {
	var got []string

	r := New(func(args []string) Computation[int] {
		got = args
		return Sequence(func(any) (Step[int], error) {
			return Return(len(args)), nil
		})
	})

	result, err := r.Invoke(context.Background(), []string{"a", "b"})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 2, result.Value())
}

func TestInvokeResumeValues(t *testing.T) {
	var seen []any

	r := New(func(struct{}) Computation[string] {
		return Sequence(
			func(value any) (Step[string], error) {
				seen = append(seen, value)
				return Yield[string](func(context.Context) (any, error) { return 1, nil }), nil
			},
			func(value any) (Step[string], error) {
				seen = append(seen, value)
				return Yield[string](func(context.Context) (any, error) { return "two", nil }), nil
			},
			func(value any) (Step[string], error) {
				seen = append(seen, value)
				return Return("done"), nil
			},
		)
	})

	result, err := r.Invoke(context.Background(), struct{}{})

	require.NoError(t, err)
	assert.Equal(t, "done", result.Value())
	assert.Equal(t, []any{nil, 1, "two"}, seen)
}

func TestInvokeSupersession(t *testing.T) {
	for _, ignoreCancel := range []bool{false, true} {
		name := "abort propagated"
		if ignoreCancel {
			name = "operation ignores abort"
		}

		t.Run(name, func(t *testing.T) {
			var firstCalls, secondCalls atomic.Int32

			started := make(chan struct{}, 1)
			release := make(chan struct{})

			r := New(func(first bool) Computation[string] {
				if first {
					return blockingComputation(&firstCalls, started, release, ignoreCancel)
				}

				return retryingComputation(&secondCalls, 0, "second")
			})

			firstOut := r.InvokeAsync(context.Background(), true)
			<-started

			second, err := r.Invoke(context.Background(), false)
			require.NoError(t, err)
			assert.Equal(t, "second", second.Value())

			close(release)

			select {
			case outcome := <-firstOut:
				require.NoError(t, outcome.Err)
				assert.True(t, outcome.Result.Superseded())
				assert.Empty(t, outcome.Result.Value())
			case <-time.After(5 * time.Second):
				t.Fatal("superseded run did not resolve")
			}

			assert.Equal(t, int32(1), firstCalls.Load(), "superseded run issued further operations")
			assert.Equal(t, int32(1), secondCalls.Load())
		})
	}
}

func TestInvokeAsyncLastCallWins(t *testing.T) {
	const runs = 5

	release := make(chan struct{})

	r := New(func(i int) Computation[int] {
		return Sequence(
			func(any) (Step[int], error) {
				return Yield[int](func(context.Context) (any, error) {
					<-release
					return nil, nil
				}), nil
			},
			func(any) (Step[int], error) {
				return Return(i), nil
			},
		)
	})

	outs := make([]<-chan Outcome[int], runs)
	for i := range runs {
		outs[i] = r.InvokeAsync(context.Background(), i)
	}

	close(release)

	for i, out := range outs {
		outcome := <-out
		require.NoError(t, outcome.Err)

		if i == runs-1 {
			assert.True(t, outcome.Result.Completed())
			assert.Equal(t, i, outcome.Result.Value())
		} else {
			assert.True(t, outcome.Result.Superseded(), "run %d should be superseded", i)
		}
	}
}

func TestInvokeOperationFailure(t *testing.T) {
	r := New(func(struct{}) Computation[string] {
		return Sequence(func(any) (Step[string], error) {
			return Yield[string](func(context.Context) (any, error) { return nil, errAttempt }), nil
		})
	})

	result, err := r.Invoke(context.Background(), struct{}{})

	assert.ErrorIs(t, err, errAttempt)
	assert.False(t, result.Completed())
	assert.False(t, result.Superseded())
	assert.True(t, result.Failed())
	assert.Equal(t, StateFailed, result.State())
}

func TestInvokeResumeFailure(t *testing.T) {
	r := New(func(struct{}) Computation[string] {
		return ComputationFunc[string](func(any) (Step[string], error) {
			return Step[string]{}, errAttempt
		})
	})

	result, err := r.Invoke(context.Background(), struct{}{})

	assert.ErrorIs(t, err, errAttempt)
	assert.False(t, result.Completed())
}

func TestInvokeSupersededBeforeOperation(t *testing.T) {
	tests := []struct {
		name      string
		supersede func(r *Runner[bool, string])
	}{
		{"interrupt", func(r *Runner[bool, string]) { r.Interrupt() }},
		{"new invocation", func(r *Runner[bool, string]) { r.InvokeAsync(context.Background(), false) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				opCalls atomic.Int32
				r       *Runner[bool, string]
			)

			r = New(func(first bool) Computation[string] {
				if !first {
					return Sequence(func(any) (Step[string], error) { return Return("second"), nil })
				}

				return ComputationFunc[string](func(any) (Step[string], error) {
					// the run stops being current between producing the
					// operation and starting it
					tt.supersede(r)

					return Yield[string](func(context.Context) (any, error) {
						opCalls.Add(1)
						return nil, nil
					}), nil
				})
			})

			result, err := r.Invoke(context.Background(), true)

			require.NoError(t, err)
			assert.True(t, result.Superseded())
			assert.Equal(t, int32(0), opCalls.Load())
		})
	}
}

func TestInvokeSupersededFailureDiscarded(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	r := New(func(first bool) Computation[string] {
		if !first {
			return Sequence(func(any) (Step[string], error) { return Return("second"), nil })
		}

		return Sequence(func(any) (Step[string], error) {
			return Yield[string](func(context.Context) (any, error) {
				started <- struct{}{}
				<-release
				return nil, errAttempt
			}), nil
		})
	})

	firstOut := r.InvokeAsync(context.Background(), true)
	<-started

	_, err := r.Invoke(context.Background(), false)
	require.NoError(t, err)

	close(release)

	outcome := <-firstOut
	assert.NoError(t, outcome.Err)
	assert.True(t, outcome.Result.Superseded())
}

func TestInvokeCallerContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := New(func(struct{}) Computation[string] {
		return Sequence(func(any) (Step[string], error) {
			return Yield[string](func(ctx context.Context) (any, error) {
				cancel()
				<-ctx.Done()
				return nil, ctx.Err()
			}), nil
		})
	})

	_, err := r.Invoke(ctx, struct{}{})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvokeNilComputationAndOperation(t *testing.T) {
	r := New(func(struct{}) Computation[string] { return nil })

	_, err := r.Invoke(context.Background(), struct{}{})
	assert.ErrorIs(t, err, ErrNilComputation)

	r = New(func(struct{}) Computation[string] {
		return Sequence(func(any) (Step[string], error) { return Yield[string](nil), nil })
	})

	_, err = r.Invoke(context.Background(), struct{}{})
	assert.ErrorIs(t, err, ErrNilOperation)
}

func TestInvokeSequenceEnded(t *testing.T) {
	r := New(func(struct{}) Computation[string] { return Sequence[string]() })

	_, err := r.Invoke(context.Background(), struct{}{})

	assert.ErrorIs(t, err, ErrSequenceEnded)
}

func TestHasBeenCalledAtLeastOnce(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32

	r := New(func(mode string) Computation[string] {
		switch mode {
		case "fail":
			return ComputationFunc[string](func(any) (Step[string], error) { return Step[string]{}, errAttempt })
		case "block":
			return blockingComputation(&calls, started, release, false)
		default:
			return retryingComputation(&calls, 0, "ok")
		}
	})

	assert.False(t, r.HasBeenCalledAtLeastOnce())

	_, err := r.Invoke(context.Background(), "fail")
	assert.Error(t, err)
	assert.True(t, r.HasBeenCalledAtLeastOnce())

	out := r.InvokeAsync(context.Background(), "block")
	<-started
	r.Interrupt()
	assert.True(t, (<-out).Result.Superseded())
	assert.True(t, r.HasBeenCalledAtLeastOnce())

	_, err = r.Invoke(context.Background(), "ok")
	assert.NoError(t, err)
	assert.True(t, r.HasBeenCalledAtLeastOnce())
}

func TestInterruptIdle(t *testing.T) {
	r := New(func(struct{}) Computation[string] {
		return Sequence(func(any) (Step[string], error) { return Return("ok"), nil })
	})

	assert.NotPanics(t, func() {
		r.Interrupt()
		r.Interrupt()
	})
	assert.False(t, r.HasBeenCalledAtLeastOnce())

	result, err := r.Invoke(context.Background(), struct{}{})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Value())

	assert.NotPanics(t, func() {
		r.Interrupt()
		r.Interrupt()
	})

	result, err = r.Invoke(context.Background(), struct{}{})
	require.NoError(t, err)
	assert.True(t, result.Completed())
}

func TestInterruptInFlight(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})

	r := New(func(struct{}) Computation[string] {
		return blockingComputation(&calls, started, release, true)
	})

	out := r.InvokeAsync(context.Background(), struct{}{})
	<-started

	r.Interrupt()
	r.Interrupt()
	close(release)

	outcome := <-out
	assert.NoError(t, outcome.Err)
	assert.True(t, outcome.Result.Superseded())
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunIDs(t *testing.T) {
	var ids atomic.Int32

	r := New(func(struct{}) Computation[string] {
		return Sequence(func(any) (Step[string], error) { return Return("ok"), nil })
	}, WithTokenSource(func() string {
		ids.Add(1)
		return "run"
	}))

	for range 3 {
		_, err := r.Invoke(context.Background(), struct{}{})
		require.NoError(t, err)
	}

	assert.Equal(t, int32(3), ids.Load())
}
