// Command ragcore runs the RAG agent as an HTTP service streaming
// Server-Sent Events, answers one-shot questions from the terminal, and
// ingests files into the knowledge store.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nevindra/ragcore/internal/config"
)

var (
	configPath string

	cfg    config.Config
	logger *slog.Logger

	rootCmd = &cobra.Command{
		Use:           "ragcore",
		Short:         "Conversational RAG agent with streaming citations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("RAGCORE_CONFIG")
			}
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}))
			return nil
		},
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to ragcore.toml (default $RAGCORE_CONFIG or ./ragcore.toml)")
	rootCmd.AddCommand(serveCmd, askCmd, ingestCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
