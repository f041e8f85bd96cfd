package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steved/pushreg/pkg/registration"
)

func init() {
	registerCmd := &cobra.Command{
		Use:   "register [token]",
		Short: "Register a device push token, retrying until the push service accepts it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			client, err := registration.NewClient(cfg.Registration, registration.WithLogger(log))
			if err != nil {
				return fmt.Errorf("unable to create registration client: %w", err)
			}

			result, err := client.Register(ctx, registration.NewRequest(cfg.Registration, args[0]))
			if err != nil {
				return fmt.Errorf("unable to register push token: %w", err)
			}

			if result.Superseded() {
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), result.Value().DeviceToken)

			return nil
		},
	}

	rootCmd.AddCommand(registerCmd)
}
