package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	agentrun "github.com/rzbill/beacon/internal/cmd/agent"
	collectorrun "github.com/rzbill/beacon/internal/cmd/collector"
	cfgpkg "github.com/rzbill/beacon/internal/config"
	logpkg "github.com/rzbill/beacon/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	level := os.Getenv("BEACON_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "beacon",
		Short: "Beacon telemetry agent CLI",
		Long:  "Beacon delivers telemetry events to a collector with durable queuing, retry, and circuit breaking. This CLI runs the agent and inspects its state.",
	}

	// agent start
	agentCmd := &cobra.Command{Use: "agent", Short: "Agent commands"}
	agentStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the beacon agent",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			endpoint, _ := cmd.Flags().GetString("endpoint")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfgpkg.FromEnv(&cfg)
			if endpoint != "" {
				cfg.Endpoint = endpoint
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if err := agentrun.Run(context.Background(), agentrun.Options{
				HTTPAddr: httpAddr,
				Config:   cfg,
			}); err != nil {
				return fmt.Errorf("agent error: %w", err)
			}
			return nil
		},
	}
	agentStartCmd.Flags().String("config", os.Getenv("BEACON_CONFIG"), "Path to JSON config file")
	agentStartCmd.Flags().String("endpoint", "", "Collector endpoint URL (overrides config)")
	agentStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	agentStartCmd.Flags().String("http", "127.0.0.1:8380", "Diagnostics HTTP listen address")
	agentCmd.AddCommand(agentStartCmd)
	rootCmd.AddCommand(agentCmd)

	// collector start
	collectorCmd := &cobra.Command{Use: "collector", Short: "Development collector commands"}
	collectorStartCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a development collector sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("http")
			failRate, _ := cmd.Flags().GetFloat64("fail-rate")
			failStatus, _ := cmd.Flags().GetInt("fail-status")
			return collectorrun.Run(context.Background(), collectorrun.Options{
				Addr:       addr,
				FailRate:   failRate,
				FailStatus: failStatus,
			})
		},
	}
	collectorStartCmd.Flags().String("http", ":8381", "Collector listen address")
	collectorStartCmd.Flags().Float64("fail-rate", 0, "Probability a batch is rejected, for testing retries")
	collectorStartCmd.Flags().Int("fail-status", 503, "HTTP status used for injected failures")
	collectorCmd.AddCommand(collectorStartCmd)
	rootCmd.AddCommand(collectorCmd)

	// track
	trackCmd := &cobra.Command{
		Use:   "track <type>",
		Short: "Send one event through a running agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _ := cmd.Flags().GetString("payload")
			body := map[string]any{"type": args[0], "payload": json.RawMessage(payload)}
			b, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("invalid payload: %w", err)
			}
			resp, err := http.Post(apiURL()+"/v1/track", "application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			fmt.Println("status:", resp.Status)
			return nil
		},
	}
	trackCmd.Flags().String("payload", "{}", "Event payload as a JSON object")
	rootCmd.AddCommand(trackCmd)

	// stats
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pipeline stats from a running agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(apiURL() + "/v1/stats")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			fmt.Println(string(bytes.TrimSpace(b)))
			return nil
		},
	}
	rootCmd.AddCommand(statsCmd)

	// dlq list | purge
	dlqCmd := &cobra.Command{Use: "dlq", Short: "Dead-letter operations"}
	dlqListCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered events",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			resp, err := http.Get(fmt.Sprintf("%s/v1/deadletters?limit=%d", apiURL(), limit))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			fmt.Println(string(bytes.TrimSpace(b)))
			return nil
		},
	}
	dlqListCmd.Flags().Int("limit", 100, "Maximum entries to list")
	dlqPurgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Purge dead-lettered events older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			maxAge, _ := cmd.Flags().GetInt("max-age-hours")
			b, _ := json.Marshal(map[string]int{"maxAgeHours": maxAge})
			resp, err := http.Post(apiURL()+"/v1/deadletters/purge", "application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			out, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			fmt.Println(string(bytes.TrimSpace(out)))
			return nil
		},
	}
	dlqPurgeCmd.Flags().Int("max-age-hours", 0, "Purge entries older than this many hours (0 purges everything)")
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)
	rootCmd.AddCommand(dlqCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("BEACON_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8380"
}
