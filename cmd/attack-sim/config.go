package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/charging-platform/ocpp-attack-lab/internal/config"
)

// 配置调试命令, 用于验证环境变量和配置文件叠加后的生效值
func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective proxy configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(os.Stdout, "--- Environment Variables ---")
			envVars := []string{
				"MITM_PROXY_PORT",
				"MITM_UPSTREAM_HOST",
				"MITM_UPSTREAM_PORT",
				"MITM_ATTACK_ENABLED",
				"MITM_ATTACK_STRATEGY",
				"MITM_REDIS_ADDR",
				"MITM_KAFKA_BROKERS",
				"MITM_LOG_LEVEL",
			}
			for _, env := range envVars {
				if value := os.Getenv(env); value != "" {
					fmt.Fprintf(os.Stdout, "%s = %s\n", env, value)
				} else {
					fmt.Fprintf(os.Stdout, "%s = (not set)\n", env)
				}
			}

			fmt.Fprintln(os.Stdout, "\n--- Effective Configuration ---")
			cfg, err := config.Load(rootFlags.configPath)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			fmt.Fprintf(os.Stdout, "Proxy Address: %s\n", cfg.GetProxyAddr())
			fmt.Fprintf(os.Stdout, "Proxy Path Prefix: %s\n", cfg.Proxy.PathPrefix)
			fmt.Fprintf(os.Stdout, "Upstream Address: %s\n", cfg.GetUpstreamAddr())
			fmt.Fprintf(os.Stdout, "Attack Enabled: %v\n", cfg.Attack.Enabled)
			fmt.Fprintf(os.Stdout, "Attack Strategy: %s\n", cfg.Attack.Strategy)
			fmt.Fprintf(os.Stdout, "Detection Enabled: %v\n", cfg.Detection.Enabled)
			fmt.Fprintf(os.Stdout, "Detection Method: %s\n", cfg.Detection.Method)
			fmt.Fprintf(os.Stdout, "Max Sessions: %d\n", cfg.Session.MaxSessions)
			fmt.Fprintf(os.Stdout, "Redis Enabled: %v (%s)\n", cfg.Redis.Enabled, cfg.Redis.Addr)
			fmt.Fprintf(os.Stdout, "Kafka Enabled: %v (%v)\n", cfg.Kafka.Enabled, cfg.Kafka.Brokers)
			fmt.Fprintf(os.Stdout, "Log Level: %s\n", cfg.Log.Level)
			fmt.Fprintf(os.Stdout, "Metrics Enabled: %v (%s)\n", cfg.Metrics.Enabled, cfg.Metrics.Addr)
			return nil
		},
	}
}
