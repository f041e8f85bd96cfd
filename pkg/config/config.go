package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

const (
	DefaultEndpoint       = "https://exp.host/--/api/v2/push/updateDeviceToken"
	DefaultPlatform       = "ios"
	DefaultAttemptTimeout = 30 * time.Second
	DefaultDebounce       = 300 * time.Millisecond
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	// Registration controls how push tokens are registered with the push service
	Registration Registration `yaml:"registration"`

	// Watch controls the token file watcher
	Watch Watch `yaml:"watch"`
}

func NewConfig() *Config {
	return &Config{
		Registration: DefaultRegistration(),
		Watch:        Watch{Debounce: DefaultDebounce},
	}
}

// Registration identifies the device and describes the push service endpoint
type Registration struct {
	// Endpoint is the push service URL tokens are posted to
	Endpoint URL `yaml:"endpoint"`

	// DeviceID is the stable installation identifier of this device
	DeviceID string `yaml:"deviceId"`
	// Platform is the push token type, e.g. ios, android or web
	Platform string `yaml:"platform"`
	// AppID is the application bundle or package identifier
	AppID string `yaml:"appId"`
	// ProjectID is the push service project the token belongs to
	ProjectID string `yaml:"projectId"`
	// Development marks tokens issued for development builds
	Development bool `yaml:"development"`

	// AttemptTimeout bounds a single HTTP attempt
	AttemptTimeout time.Duration `yaml:"attemptTimeout"`

	// Backoff controls the delay between failed attempts
	Backoff Backoff `yaml:"backoff"`

	// MaxAttempts caps the number of attempts per registration, unbounded when nil
	MaxAttempts *int `yaml:"maxAttempts,omitempty"`

	// AttemptsPerSecond limits attempts across all registrations, unlimited when nil
	AttemptsPerSecond *float64 `yaml:"attemptsPerSecond,omitempty"`

	// StopOnClientError ends a registration on a 4xx response other than 408 and 429
	// instead of retrying it
	StopOnClientError bool `yaml:"stopOnClientError"`
}

type Backoff struct {
	Initial time.Duration `yaml:"initial"`
	Factor  float64       `yaml:"factor"`
	Jitter  float64       `yaml:"jitter"`
	Max     time.Duration `yaml:"max"`
}

type Watch struct {
	// TokenFile is the path of the file holding the current device push token
	TokenFile string `yaml:"tokenFile"`
	// Debounce delays re-registration until the file has been quiet this long
	Debounce time.Duration `yaml:"debounce"`
}

func DefaultRegistration() Registration {
	endpoint, _ := ParseURL(DefaultEndpoint)

	return Registration{
		Endpoint:       endpoint,
		Platform:       DefaultPlatform,
		AttemptTimeout: DefaultAttemptTimeout,
		Backoff: Backoff{
			Initial: time.Second,
			Factor:  2,
			Jitter:  0.25,
			Max:     time.Minute,
		},
	}
}

type RegistrationOption func(*Registration) error

func NewRegistrationConfig(options ...RegistrationOption) (Registration, error) {
	reg := DefaultRegistration()

	for _, option := range options {
		if err := option(&reg); err != nil {
			return reg, err
		}
	}

	return reg, reg.Validate()
}

func WithEndpoint(endpoint string) RegistrationOption {
	return func(reg *Registration) (err error) {
		reg.Endpoint, err = ParseURL(endpoint)
		return
	}
}

func WithDevice(deviceID, platform string) RegistrationOption {
	return func(reg *Registration) error {
		reg.DeviceID = deviceID
		if platform != "" {
			reg.Platform = platform
		}
		return nil
	}
}

func WithApp(appID, projectID string, development bool) RegistrationOption {
	return func(reg *Registration) error {
		reg.AppID = appID
		reg.ProjectID = projectID
		reg.Development = development
		return nil
	}
}

func WithBackoff(initial, maxDelay time.Duration) RegistrationOption {
	return func(reg *Registration) error {
		reg.Backoff.Initial = initial
		reg.Backoff.Max = maxDelay
		return nil
	}
}

func WithJitter(jitter float64) RegistrationOption {
	return func(reg *Registration) error {
		reg.Backoff.Jitter = jitter
		return nil
	}
}

func WithMaxAttempts(attempts int) RegistrationOption {
	return func(reg *Registration) error {
		if attempts <= 0 {
			reg.MaxAttempts = nil
			return nil
		}

		reg.MaxAttempts = ptr.To(attempts)
		return nil
	}
}

func WithRateLimit(attemptsPerSecond float64) RegistrationOption {
	return func(reg *Registration) error {
		if attemptsPerSecond <= 0 {
			reg.AttemptsPerSecond = nil
			return nil
		}

		reg.AttemptsPerSecond = ptr.To(attemptsPerSecond)
		return nil
	}
}

func WithStopOnClientError(stop bool) RegistrationOption {
	return func(reg *Registration) error {
		reg.StopOnClientError = stop
		return nil
	}
}

func WithAttemptTimeout(timeout time.Duration) RegistrationOption {
	return func(reg *Registration) error {
		reg.AttemptTimeout = timeout
		return nil
	}
}

func (r Registration) Validate() error {
	if !r.Endpoint.IsValid() {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}

	if r.MaxAttempts != nil && *r.MaxAttempts < 1 {
		return fmt.Errorf("%w: maxAttempts must be at least 1", ErrInvalidConfig)
	}

	if r.AttemptsPerSecond != nil && *r.AttemptsPerSecond <= 0 {
		return fmt.Errorf("%w: attemptsPerSecond must be positive", ErrInvalidConfig)
	}

	if r.Backoff.Initial <= 0 {
		return fmt.Errorf("%w: initial backoff must be positive", ErrInvalidConfig)
	}

	if r.Backoff.Max < 0 {
		return fmt.Errorf("%w: maximum backoff must not be negative", ErrInvalidConfig)
	}

	if r.Backoff.Factor != 0 && r.Backoff.Factor < 1 {
		return fmt.Errorf("%w: backoff factor must be at least 1", ErrInvalidConfig)
	}

	if r.Backoff.Jitter < 0 {
		return fmt.Errorf("%w: backoff jitter must not be negative", ErrInvalidConfig)
	}

	return nil
}

// Load reads a YAML configuration file on top of the defaults
func Load(fs afero.Fs, path string) (*Config, error) {
	contents, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("unable to open config file %q: %w", path, err)
	}

	cfg := NewConfig()

	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unable to read config file %q: %w", path, err)
	}

	if err := cfg.Registration.Validate(); err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}

	return cfg, nil
}

func Save(fs afero.Fs, path string, cfg *Config) error {
	contents, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return afero.WriteFile(fs, path, contents, 0600)
}
