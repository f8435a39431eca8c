package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mdevlamynck/lircd/config"
	"github.com/mdevlamynck/lircd/logging"
	"github.com/mdevlamynck/lircd/metrics"
	"github.com/mdevlamynck/lircd/server"
)

// version is set at the entry point rather than computed: no build
// metadata is threaded through this exercise's build.
const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd is a wrapper to enable us to put the interesting stuff in
// a package, same as the original flag.Parse()/goms.Run(nil) split,
// generalised to cobra's subcommand-free root-command shape.
func newRootCmd() *cobra.Command {
	var configFile string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:     "lircd",
		Short:   "lircd is a small concurrent IRC server",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile, metricsAddr)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "/etc/lircd.toml", "path to the TOML configuration file")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "address to serve Prometheus metrics on (disabled if empty)")
	cmd.SetVersionTemplate("lircd {{.Version}}\n")

	return cmd
}

func run(configFile, metricsAddr string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, logCloser, err := logging.New(logging.Options{Level: "info"})
	if err != nil {
		return fmt.Errorf("starting logger: %w", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	reg := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, metricsAddr, reg); err != nil {
				logger.WithError(err).Error("metrics server exited")
			}
		}()
	}

	srv := server.New(cfg, logger, reg)
	reload := func() (*config.Config, error) {
		return config.Load(configFile)
	}

	return srv.Run(ctx, reload)
}
