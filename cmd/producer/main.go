// Command producer enqueues notification tasks and inspects their outcome
// from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/sungwon/enroll-notify/internal/config"
	"github.com/sungwon/enroll-notify/internal/logger"
)

var (
	configDir string

	cfg *config.Config
	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "producer",
	Short:         "Enqueue course enrollment notifications and query their delivery",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configDir)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded

		// Logs go to stderr so stdout carries only command output.
		logCfg := cfg.Logging.Logger()
		if logCfg.Output != "file" {
			logCfg.Output = "stderr"
		}
		log = logger.NewFromConfig(logCfg)
		return nil
	},
}

func init() {
	defaultDir := "config"
	if dir := os.Getenv("ENROLL_NOTIFY_CONFIG_DIR"); dir != "" {
		defaultDir = dir
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config", defaultDir, "directory containing config.yaml")

	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(enqueueCustomCmd)
	rootCmd.AddCommand(resultCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(smtpCheckCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
