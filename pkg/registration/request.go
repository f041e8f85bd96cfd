package registration

import (
	"errors"
	"fmt"
	"slices"

	"github.com/steved/pushreg/pkg/config"
)

var (
	ErrInvalidRequest    = errors.New("invalid registration request")
	ErrRejected          = errors.New("registration rejected")
	ErrAttemptsExhausted = errors.New("registration attempts exhausted")
)

var platforms = []string{"ios", "android", "web"}

// Request is the body posted to the push service for a single device token
type Request struct {
	DeviceID    string `json:"deviceId"`
	DeviceToken string `json:"deviceToken"`
	Platform    string `json:"type"`
	AppID       string `json:"appId,omitempty"`
	ProjectID   string `json:"projectId,omitempty"`
	Development bool   `json:"development"`
}

// NewRequest fills in the device identity from cfg
func NewRequest(cfg config.Registration, deviceToken string) Request {
	return Request{
		DeviceID:    cfg.DeviceID,
		DeviceToken: deviceToken,
		Platform:    cfg.Platform,
		AppID:       cfg.AppID,
		ProjectID:   cfg.ProjectID,
		Development: cfg.Development,
	}
}

func (r Request) Validate() error {
	if r.DeviceToken == "" {
		return fmt.Errorf("%w: device token is empty", ErrInvalidRequest)
	}

	if r.DeviceID == "" {
		return fmt.Errorf("%w: device id is empty", ErrInvalidRequest)
	}

	if !slices.Contains(platforms, r.Platform) {
		return fmt.Errorf("%w: unsupported platform %q", ErrInvalidRequest, r.Platform)
	}

	return nil
}

type Response struct {
	// DeviceToken is the token the push service acknowledged
	DeviceToken string
	// Attempts is the number of HTTP attempts the registration took
	Attempts int
}

type responseBody struct {
	Data struct {
		DeviceToken string `json:"deviceToken"`
	} `json:"data"`
}

// StatusError is returned for non-2xx responses from the push service
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("push service responded with status %d", e.StatusCode)
	}

	return fmt.Sprintf("push service responded with status %d: %s", e.StatusCode, e.Body)
}

// Permanent reports whether the push service refused the request itself rather
// than failing to process it
func (e *StatusError) Permanent() bool {
	if e.StatusCode == 408 || e.StatusCode == 429 {
		return false
	}

	return e.StatusCode >= 400 && e.StatusCode < 500
}
