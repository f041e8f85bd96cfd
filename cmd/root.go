package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const debugEnv = "PUSHREG_DEBUG"

var log logr.Logger
var debug bool

var rootCmd = &cobra.Command{
	Use:               "pushreg",
	Short:             "pushreg registers device push tokens with a push service, retrying until they are accepted.",
	SilenceUsage:      true,
	DisableAutoGenTag: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		config := zap.Config{
			Level:             zap.NewAtomicLevelAt(zap.InfoLevel),
			Development:       false,
			DisableCaller:     true,
			DisableStacktrace: false,
			Encoding:          "console",
			EncoderConfig:     zap.NewDevelopmentEncoderConfig(),
			OutputPaths:       []string{"stderr"},
			ErrorOutputPaths:  []string{"stderr"},
		}

		if debug {
			config.Development = true
			config.DisableCaller = false
			config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}

		log = zapr.NewLogger(zap.Must(config.Build())).WithName("pushreg")
	},
}

func init() {
	var (
		debugDefault bool
		err          error
	)

	if envDebug := os.Getenv(debugEnv); envDebug != "" {
		debugDefault, err = strconv.ParseBool(envDebug)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unable to parse %s env variable: %v\n", debugEnv, err)
		}
	}

	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", debugDefault, "Toggle debug logging (env "+debugEnv+")")

	addConfigFlags(rootCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
