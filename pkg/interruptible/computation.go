package interruptible

import (
	"context"
	"errors"
)

var ErrSequenceEnded = errors.New("sequence ended without a result")

// Operation is a pending sub-operation yielded by a computation. The value it
// resolves to is handed back to the computation on its next Resume.
type Operation func(ctx context.Context) (any, error)

// Step is the outcome of advancing a computation once: either suspended on an
// Operation or finished with a result.
type Step[R any] struct {
	op     Operation
	result R
	done   bool
}

func Yield[R any](op Operation) Step[R] {
	return Step[R]{op: op}
}

func Return[R any](result R) Step[R] {
	return Step[R]{result: result, done: true}
}

func (s Step[R]) Done() bool {
	return s.done
}

// Computation is a suspendable multi-step procedure. Resume is first called
// with a nil value and afterwards with the resolved value of the previously
// yielded Operation.
type Computation[R any] interface {
	Resume(value any) (Step[R], error)
}

type ComputationFunc[R any] func(value any) (Step[R], error)

func (f ComputationFunc[R]) Resume(value any) (Step[R], error) {
	return f(value)
}

// StartFunc builds a fresh computation for a single invocation.
type StartFunc[A, R any] func(args A) Computation[R]

type sequence[R any] struct {
	steps []func(value any) (Step[R], error)
	next  int
}

// Sequence returns a computation that runs steps in order, one per Resume.
// The last step is expected to Return.
func Sequence[R any](steps ...func(value any) (Step[R], error)) Computation[R] {
	return &sequence[R]{steps: steps}
}

func (s *sequence[R]) Resume(value any) (Step[R], error) {
	if s.next >= len(s.steps) {
		return Step[R]{}, ErrSequenceEnded
	}

	step := s.steps[s.next]
	s.next++

	return step(value)
}
