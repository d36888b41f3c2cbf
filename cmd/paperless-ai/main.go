package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/server"
)

var (
	envFile    string
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "paperless-ai",
		Short:         "Suggest and apply Paperless-NGX metadata with an LLM",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(applyCmd())
	rootCmd.AddCommand(bulkCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(apiLogsCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(promptsCmd())
	rootCmd.AddCommand(settingsCmd())

	if err := rootCmd.Execute(); err != nil {
		printError("Error: %v\n", err)
		if category := common.Category(err); category != common.CategoryInternal {
			printError("(%s error)\n", category)
		}
		os.Exit(1)
	}
}

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

// openServices loads configuration and opens the database. A missing env
// file is not an error.
func openServices(ctx context.Context) (*server.Services, *slog.Logger, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	db, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	return server.NewServices(cfg, db, logger), logger, nil
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelWarn
	}
	return l
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
