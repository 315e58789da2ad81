package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"smart-prefetch/capability"
	"smart-prefetch/config"
)

var (
	debug  bool
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "smart-prefetch",
	Short: "Adaptive resource prefetching engine",
	Long: `smart-prefetch watches how a visitor moves through a page, predicts the
resources they will need next and prefetches them within what the device
and connection can afford.

Configuration is read from the environment (and a .env file if present).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()

		zc := zap.NewProductionConfig()
		if debug {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(detectCmd, runCmd, reportCmd)
}

func main() {
	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newProbe reads the host through the runtime, with device and network
// overrides from the configuration.
func newProbe(c *config.Config) *capability.RuntimeProbe {
	p := &capability.RuntimeProbe{}
	if c.DeviceMemoryGB > 0 {
		memory := c.DeviceMemoryGB
		p.Overrides.Memory = &memory
	}
	if c.DeviceCores > 0 {
		cores := c.DeviceCores
		p.Overrides.Cores = &cores
	}
	if c.NetworkType != "" || c.NetworkDownlink > 0 {
		p.Overrides.SetNetwork(&capability.NetworkInfo{EffectiveType: c.NetworkType, DownlinkMbps: c.NetworkDownlink})
	}
	return p
}
