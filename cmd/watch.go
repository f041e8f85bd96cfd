package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/steved/pushreg/pkg/config"
	"github.com/steved/pushreg/pkg/registration"
	"github.com/steved/pushreg/pkg/watcher"
)

func init() {
	var (
		tokenFile string
		debounce  time.Duration
	)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a token file and re-register the push token whenever it changes.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("token-file") || cfg.Watch.TokenFile == "" {
				cfg.Watch.TokenFile = tokenFile
			}

			if cmd.Flags().Changed("debounce") {
				cfg.Watch.Debounce = debounce
			}

			if cfg.Watch.TokenFile == "" {
				return fmt.Errorf("a token file is required")
			}

			client, err := registration.NewClient(cfg.Registration, registration.WithLogger(log))
			if err != nil {
				return fmt.Errorf("unable to create registration client: %w", err)
			}

			tokenWatcher := watcher.New(
				cfg.Watch.TokenFile,
				client,
				func(token string) registration.Request {
					return registration.NewRequest(cfg.Registration, token)
				},
				watcher.WithDebounce(cfg.Watch.Debounce),
				watcher.WithFs(appFs),
			)

			stop, err := tokenWatcher.Start(logr.NewContext(ctx, log))
			if err != nil {
				return err
			}

			defer stop()

			log.Info("Started. Use Ctrl-C to exit...")

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			return nil
		},
	}

	watchCmd.Flags().StringVarP(&tokenFile, "token-file", "f", "", "File containing the current device push token")
	watchCmd.Flags().DurationVar(&debounce, "debounce", config.DefaultDebounce, "Quiet period after a change before re-registering")

	rootCmd.AddCommand(watchCmd)
}
