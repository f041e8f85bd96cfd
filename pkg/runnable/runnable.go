// Package runnable defines the lifecycle contract for long-running components.
package runnable

import "context"

// StopFunc releases everything Start acquired. It blocks until the component
// has stopped.
type StopFunc = func()

type Runnable interface {
	Start(context.Context) (StopFunc, error)
}
