// Package watcher re-registers the device push token whenever the token file
// changes. A change that arrives while a registration is still retrying
// supersedes it.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"

	"github.com/steved/pushreg/pkg/config"
	"github.com/steved/pushreg/pkg/interruptible"
	"github.com/steved/pushreg/pkg/registration"
	"github.com/steved/pushreg/pkg/runnable"
)

type Registrar interface {
	RegisterAsync(context.Context, registration.Request) <-chan interruptible.Outcome[registration.Response]
	Cancel()
}

type OutcomeHandler func(token string, outcome interruptible.Outcome[registration.Response])

type Option func(*TokenWatcher)

func WithDebounce(debounce time.Duration) Option {
	return func(w *TokenWatcher) {
		w.debounce = debounce
	}
}

func WithOutcomeHandler(handler OutcomeHandler) Option {
	return func(w *TokenWatcher) {
		w.onOutcome = handler
	}
}

// WithFs sets the filesystem the token is read from. Change notifications
// always come from the OS.
func WithFs(filesystem afero.Fs) Option {
	return func(w *TokenWatcher) {
		w.fs = filesystem
	}
}

type TokenWatcher struct {
	path       string
	debounce   time.Duration
	registrar  Registrar
	newRequest func(token string) registration.Request
	onOutcome  OutcomeHandler
	fs         afero.Fs

	mu        sync.Mutex
	lastToken string
	pending   sync.WaitGroup
}

var _ runnable.Runnable = &TokenWatcher{}

func New(path string, registrar Registrar, newRequest func(token string) registration.Request, options ...Option) *TokenWatcher {
	w := &TokenWatcher{
		path:       filepath.Clean(path),
		debounce:   config.DefaultDebounce,
		registrar:  registrar,
		newRequest: newRequest,
		fs:         afero.NewOsFs(),
	}

	for _, option := range options {
		option(w)
	}

	return w
}

func (w *TokenWatcher) Start(ctx context.Context) (runnable.StopFunc, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("path", w.path)

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("unable to create token file watcher: %w", err)
	}

	// watch the directory so the file can be replaced by rename
	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("unable to watch %q: %w", filepath.Dir(w.path), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	w.refresh(ctx, log)

	go func() {
		defer close(done)
		w.loop(ctx, fsWatcher, log)
	}()

	log.Info("Watching token file")

	return func() {
		cancel()

		if err := fsWatcher.Close(); err != nil {
			log.Error(err, "error closing token file watcher")
		}

		<-done

		w.registrar.Cancel()
		w.pending.Wait()

		log.Info("Stopped watching token file")
	}, nil
}

func (w *TokenWatcher) loop(ctx context.Context, fsWatcher *fsnotify.Watcher, log logr.Logger) {
	var (
		timer    *time.Timer
		debounce <-chan time.Time
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != w.path {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			log.V(1).Info("Token file changed", "op", event.Op.String())

			if timer != nil {
				timer.Stop()
			}

			timer = time.NewTimer(w.debounce)
			debounce = timer.C
		case <-debounce:
			debounce = nil
			w.refresh(ctx, log)
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}

			log.Error(err, "token file watcher error")
		}
	}
}

func (w *TokenWatcher) refresh(ctx context.Context, log logr.Logger) {
	contents, err := afero.ReadFile(w.fs, w.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.V(1).Info("Token file does not exist yet")
		} else {
			log.Error(err, "unable to read token file")
		}

		return
	}

	token := strings.TrimSpace(string(contents))
	if token == "" {
		return
	}

	w.mu.Lock()
	if token == w.lastToken {
		w.mu.Unlock()
		return
	}
	w.lastToken = token
	w.mu.Unlock()

	log.Info("Registering push token")

	out := w.registrar.RegisterAsync(ctx, w.newRequest(token))

	w.pending.Add(1)

	go func() {
		defer w.pending.Done()

		outcome := <-out
		w.report(ctx, log, token, outcome)
	}()
}

func (w *TokenWatcher) report(ctx context.Context, log logr.Logger, token string, outcome interruptible.Outcome[registration.Response]) {
	switch {
	case outcome.Err != nil && errors.Is(outcome.Err, context.Canceled) && ctx.Err() != nil:
		log.V(1).Info("Registration stopped")
	case outcome.Err != nil:
		log.Error(outcome.Err, "push token registration failed")

		// allow the same token to be retried on the next write
		w.mu.Lock()
		if w.lastToken == token {
			w.lastToken = ""
		}
		w.mu.Unlock()
	case outcome.Result.Superseded():
		log.V(1).Info("Registration superseded by a newer token")
	default:
		log.Info("Push token registration complete", "attempts", outcome.Result.Value().Attempts)
	}

	if w.onOutcome != nil {
		w.onOutcome(token, outcome)
	}
}
