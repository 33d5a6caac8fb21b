package main

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type rootOptions struct {
	configPath string
	debug      bool
}

// NewRootCommand builds the ordbok command tree writing to out
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "ordbok",
		Short:        "Access-control gateway for the ordbok word database",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if opts.configPath == "" {
				opts.configPath = os.Getenv("ORDBOK_CONFIG")
			}
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to YAML config file (env ORDBOK_CONFIG)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable development logging")

	root.AddCommand(
		newServeCommand(opts),
		newTokenCommand(opts),
	)

	return root
}

func setupLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}
