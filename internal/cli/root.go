// Package cli implements the mnemo CLI commands.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/config"
	"github.com/mnemo-ai/mnemo/internal/store"
)

var (
	dataDirFlag string
	backendFlag string
	verboseFlag bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Pluggable persistent memory for AI agents",
	Long:  "Store, recall, and maintain agent memories across sessions. Backends range from a hybrid-search SQLite database to plain markdown files.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dataDirFlag, "data-dir", "d", "", "Data directory (default: $MNEMO_DATA_DIR or ~/.mnemo)")
	RootCmd.PersistentFlags().StringVarP(&backendFlag, "backend", "b", "", "Backend: indexed-local, file, relational, bridge, none (default: $MNEMO_BACKEND)")
	RootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log to stderr at debug level")
}

// loadConfig merges flag overrides into the environment configuration.
func loadConfig() config.Config {
	cfg := config.Load()
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	return cfg
}

func newLogger() *zap.Logger {
	if !verboseFlag {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openStore(ctx context.Context) (store.Store, config.Config, *zap.Logger) {
	cfg := loadConfig()
	logger := newLogger()
	s, err := store.Open(ctx, cfg, logger)
	if err != nil {
		exitErr("open store", err)
	}
	return s, cfg, logger
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
