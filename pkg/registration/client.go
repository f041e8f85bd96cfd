package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/steved/pushreg/pkg/config"
	"github.com/steved/pushreg/pkg/interruptible"
)

const maxResponseBytes = 1 << 20

type ClientOption func(*Client)

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(log logr.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithSleep replaces the backoff delay, mostly useful in tests
func WithSleep(sleep func(context.Context, time.Duration) error) ClientOption {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// Client registers device push tokens. Only the most recent registration is
// ever in flight: a new Register call supersedes an unfinished one.
type Client struct {
	cfg          config.Registration
	httpClient   *http.Client
	limiter      *rate.Limiter
	sleep        func(context.Context, time.Duration) error
	newRequestID func() string
	log          logr.Logger

	runner *interruptible.Runner[Request, Response]
}

func NewClient(cfg config.Registration, options ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:          cfg,
		httpClient:   http.DefaultClient,
		sleep:        sleepContext,
		newRequestID: func() string { return uuid.New().String() },
		log:          logr.Discard(),
	}

	for _, option := range options {
		option(c)
	}

	if cfg.AttemptsPerSecond != nil {
		c.limiter = rate.NewLimiter(rate.Limit(*cfg.AttemptsPerSecond), 1)
	}

	c.runner = interruptible.New(c.start, interruptible.WithLogger(c.log.WithName("runner")))

	return c, nil
}

// Register posts req to the push service, retrying with backoff until it is
// accepted. A superseded registration resolves without a value or error.
func (c *Client) Register(ctx context.Context, req Request) (interruptible.Result[Response], error) {
	if err := req.Validate(); err != nil {
		return interruptible.Result[Response]{}, err
	}

	return c.runner.Invoke(ctx, req)
}

// RegisterAsync is Register on its own goroutine. The registration has
// already superseded any previous one when RegisterAsync returns.
func (c *Client) RegisterAsync(ctx context.Context, req Request) <-chan interruptible.Outcome[Response] {
	if err := req.Validate(); err != nil {
		out := make(chan interruptible.Outcome[Response], 1)
		out <- interruptible.Outcome[Response]{Err: err}
		close(out)
		return out
	}

	return c.runner.InvokeAsync(ctx, req)
}

// HasRegistered reports whether a registration has ever been started
func (c *Client) HasRegistered() bool {
	return c.runner.HasBeenCalledAtLeastOnce()
}

// Cancel abandons the in-flight registration, if any
func (c *Client) Cancel() {
	c.runner.Interrupt()
}

func (c *Client) start(req Request) interruptible.Computation[Response] {
	return &attemptLoop{
		client:  c,
		req:     req,
		backoff: newBackoff(c.cfg.Backoff),
		log:     c.log.WithValues("deviceId", req.DeviceID, "platform", req.Platform),
	}
}

type attemptResult struct {
	deviceToken string
	err         error
}

func (c *Client) attempt(req Request, n int) interruptible.Operation {
	return func(ctx context.Context) (any, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		deviceToken, err := c.send(ctx, req, n)

		// failures of an abandoned attempt belong to the caller, not the retry loop
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		return attemptResult{deviceToken: deviceToken, err: err}, nil
	}
}

func (c *Client) delay(d time.Duration) interruptible.Operation {
	return func(ctx context.Context) (any, error) {
		return nil, c.sleep(ctx, d)
	}
}

func (c *Client) send(ctx context.Context, req Request, n int) (string, error) {
	if c.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("unable to encode registration request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("unable to create registration request: %w", err)
	}

	requestID := c.newRequestID()

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "pushreg/"+config.Version)
	httpReq.Header.Set("X-Request-ID", requestID)

	c.log.V(1).Info("Sending registration attempt", "attempt", n, "requestId", requestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("unable to send registration request: %w", err)
	}

	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("unable to read registration response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(payload))}
	}

	if len(bytes.TrimSpace(payload)) == 0 {
		return req.DeviceToken, nil
	}

	var decoded responseBody
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", fmt.Errorf("unable to decode registration response: %w", err)
	}

	if decoded.Data.DeviceToken == "" {
		return req.DeviceToken, nil
	}

	return decoded.Data.DeviceToken, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
