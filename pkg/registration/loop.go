package registration

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/steved/pushreg/pkg/config"
	"github.com/steved/pushreg/pkg/interruptible"
)

type phase int

const (
	phaseReady phase = iota
	phaseAttempting
	phaseWaiting
)

// attemptLoop alternates between HTTP attempts and backoff delays until an
// attempt is accepted. Each attempt and each delay is one yielded operation.
type attemptLoop struct {
	client  *Client
	req     Request
	backoff wait.Backoff
	log     logr.Logger

	phase    phase
	attempts int
	lastErr  error
}

func newBackoff(b config.Backoff) wait.Backoff {
	return wait.Backoff{
		Duration: b.Initial,
		Factor:   b.Factor,
		Jitter:   b.Jitter,
		Steps:    math.MaxInt32,
		Cap:      b.Max,
	}
}

func (l *attemptLoop) Resume(value any) (interruptible.Step[Response], error) {
	switch l.phase {
	case phaseAttempting:
		result, ok := value.(attemptResult)
		if !ok {
			return interruptible.Step[Response]{}, fmt.Errorf("unexpected attempt result %T", value)
		}

		return l.afterAttempt(result)
	case phaseWaiting:
		l.phase = phaseReady
	}

	l.attempts++
	l.phase = phaseAttempting

	return interruptible.Yield[Response](l.client.attempt(l.req, l.attempts)), nil
}

func (l *attemptLoop) afterAttempt(result attemptResult) (interruptible.Step[Response], error) {
	if result.err == nil {
		l.log.Info("Push token registered", "attempts", l.attempts)

		return interruptible.Return(Response{DeviceToken: result.deviceToken, Attempts: l.attempts}), nil
	}

	var statusErr *StatusError
	if l.client.cfg.StopOnClientError && errors.As(result.err, &statusErr) && statusErr.Permanent() {
		return interruptible.Step[Response]{}, fmt.Errorf("%w: %w", ErrRejected, result.err)
	}

	l.lastErr = result.err

	if l.exhausted() {
		return interruptible.Step[Response]{}, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, l.attempts, l.lastErr)
	}

	delay := l.backoff.Step()
	l.phase = phaseWaiting

	l.log.Info("Registration attempt failed, retrying", "attempt", l.attempts, "delay", delay.String(), "error", result.err.Error())

	return interruptible.Yield[Response](l.client.delay(delay)), nil
}

func (l *attemptLoop) exhausted() bool {
	limit := l.client.cfg.MaxAttempts
	return limit != nil && l.attempts >= *limit
}
