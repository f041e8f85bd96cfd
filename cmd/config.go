package cmd

import (
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/steved/pushreg/pkg/config"
)

var (
	configFile string
	appFs      = afero.NewOsFs()

	endpoint          string
	deviceID          string
	platform          string
	appID             string
	projectID         string
	development       bool
	maxAttempts       int
	attemptsPerSecond float64
	attemptTimeout    time.Duration
	stopOnClientError bool
)

func addConfigFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.StringVarP(&configFile, "config", "c", "", "path to configuration file")
	flags.StringVarP(&endpoint, "endpoint", "e", config.DefaultEndpoint, "Push service registration endpoint")
	flags.StringVar(&deviceID, "device-id", "", "Stable identifier of this device installation")
	flags.StringVarP(&platform, "platform", "p", config.DefaultPlatform, "Push token type (ios, android, web)")
	flags.StringVar(&appID, "app-id", "", "Application bundle or package identifier")
	flags.StringVar(&projectID, "project-id", "", "Push service project identifier")
	flags.BoolVar(&development, "development", false, "Register the token for a development build")
	flags.IntVar(&maxAttempts, "max-attempts", 0, "Maximum attempts per registration, 0 retries until accepted")
	flags.Float64Var(&attemptsPerSecond, "rate", 0, "Maximum attempts per second across registrations, 0 is unlimited")
	flags.DurationVar(&attemptTimeout, "attempt-timeout", config.DefaultAttemptTimeout, "Timeout of a single registration attempt")
	flags.BoolVar(&stopOnClientError, "stop-on-client-error", false, "Stop retrying when the push service rejects the request with a 4xx status")
}

// loadConfig reads the configuration file, if any, and applies explicitly set flags on top of it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()

	if configFile != "" {
		var err error

		cfg, err = config.Load(appFs, configFile)
		if err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()

	var options []config.RegistrationOption

	if flags.Changed("endpoint") {
		options = append(options, config.WithEndpoint(endpoint))
	}

	if flags.Changed("device-id") || flags.Changed("platform") {
		id := cfg.Registration.DeviceID
		if flags.Changed("device-id") {
			id = deviceID
		}

		p := ""
		if flags.Changed("platform") {
			p = platform
		}

		options = append(options, config.WithDevice(id, p))
	}

	if flags.Changed("app-id") || flags.Changed("project-id") || flags.Changed("development") {
		app, project, dev := cfg.Registration.AppID, cfg.Registration.ProjectID, cfg.Registration.Development

		if flags.Changed("app-id") {
			app = appID
		}

		if flags.Changed("project-id") {
			project = projectID
		}

		if flags.Changed("development") {
			dev = development
		}

		options = append(options, config.WithApp(app, project, dev))
	}

	if flags.Changed("max-attempts") {
		options = append(options, config.WithMaxAttempts(maxAttempts))
	}

	if flags.Changed("rate") {
		options = append(options, config.WithRateLimit(attemptsPerSecond))
	}

	if flags.Changed("attempt-timeout") {
		options = append(options, config.WithAttemptTimeout(attemptTimeout))
	}

	if flags.Changed("stop-on-client-error") {
		options = append(options, config.WithStopOnClientError(stopOnClientError))
	}

	for _, option := range options {
		if err := option(&cfg.Registration); err != nil {
			return nil, err
		}
	}

	if err := cfg.Registration.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
