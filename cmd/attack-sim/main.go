package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/charging-platform/ocpp-attack-lab/internal/logger"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "attack-sim",
		Short: "OCPP charging profile attack simulation lab",
		Long: `attack-sim runs offline attack simulations against a battery degradation
model and evaluates how well the anomaly detector catches manipulated
charging profiles. Scenario batches are defined in YAML files.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", "", "path to proxy config file (for the config command)")
	rootCmd.PersistentFlags().StringVar(&rootFlags.logLevel, "log-level", "info", "log level (debug|info|warn|error)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newEvaluateCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newRunLogger 按根命令的日志级别构造logger
func newRunLogger() (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:  rootFlags.logLevel,
		Format: "console",
		Output: "stdout",
	})
}
