package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/escritoresnogueira/backend/internal/config"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

// v collects bound flags; config.Load layers the environment on top.
var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "backend",
	Short: "Escritores Nogueira storefront backend",
	Long: `Identity exchange and server-side sessions for the Escritores Nogueira
storefront and blog. Configuration is read from the environment and an
optional .env file.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("env-file", ".env", "Path to an optional .env file")
	flags.String("storage", "", "Storage backend: memory, bbolt or postgres")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	_ = v.BindPFlag("ENV_FILE", flags.Lookup("env-file"))
	_ = v.BindPFlag("STORAGE_BACKEND", flags.Lookup("storage"))
	_ = v.BindPFlag("LOG_LEVEL", flags.Lookup("log-level"))
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", "backend", "version", Version)
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
