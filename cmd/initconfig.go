package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steved/pushreg/pkg/config"
)

func init() {
	var out string

	initConfigCmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write the effective configuration, including flag overrides, to a file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if err := config.Save(appFs, out, cfg); err != nil {
				return fmt.Errorf("unable to write config file %q: %w", out, err)
			}

			log.Info("Wrote configuration", "path", out)

			return nil
		},
	}

	initConfigCmd.Flags().StringVarP(&out, "out", "o", "pushreg.yml", "path to write the configuration to")

	rootCmd.AddCommand(initConfigCmd)
}
