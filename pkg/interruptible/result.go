package interruptible

type State int

// The zero State is StateFailed so that the Result returned alongside an
// error never reads as completed.
const (
	StateFailed State = iota
	StateCompleted
	StateSuperseded
)

func (s State) String() string {
	switch s {
	case StateFailed:
		return "failed"
	case StateCompleted:
		return "completed"
	case StateSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Result is the outcome of a single invocation. A superseded invocation
// carries no value, which keeps it distinct from a computation that
// completes with a zero value.
type Result[R any] struct {
	value R
	state State
}

func Completed[R any](value R) Result[R] {
	return Result[R]{value: value, state: StateCompleted}
}

func Superseded[R any]() Result[R] {
	return Result[R]{state: StateSuperseded}
}

func (r Result[R]) Value() R {
	return r.value
}

func (r Result[R]) State() State {
	return r.state
}

func (r Result[R]) Completed() bool {
	return r.state == StateCompleted
}

func (r Result[R]) Superseded() bool {
	return r.state == StateSuperseded
}

func (r Result[R]) Failed() bool {
	return r.state == StateFailed
}

// Outcome pairs a Result with the invocation error for asynchronous callers.
type Outcome[R any] struct {
	Result Result[R]
	Err    error
}
