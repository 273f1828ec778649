// Package cli implements the kavach command line: the gateway server and
// one-shot mask, unmask and verify commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kavach/internal/config"
	"kavach/internal/detector"
	"kavach/internal/kavach"
	"kavach/internal/logger"
	"kavach/internal/metrics"
)

// flags holds persistent flag values; zero means "use config".
type flags struct {
	storage  string
	boltPath string
	redisURL string
	detector string
	logLevel string
}

// app carries what commands share. factory overrides the HTTP detector.
type app struct {
	flags   flags
	factory detector.Factory
}

// NewRootCmd builds the kavach command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(factory detector.Factory) *cobra.Command {
	a := &app{factory: factory}

	root := &cobra.Command{
		Use:           "kavach",
		Short:         "Reversible entity masking for LLM traffic",
		Long:          "Kavach replaces names, places and organisations in text with session tokens ({{PER_1}}) and restores them afterwards.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.storage, "storage", "", "Session store: memory, redis or bolt (default: $STORAGE or memory)")
	pf.StringVar(&a.flags.boltPath, "bolt-path", "", "bbolt database path (default: $BOLT_PATH or kavach.db)")
	pf.StringVar(&a.flags.redisURL, "redis-url", "", "Redis URL (default: $REDIS_URL)")
	pf.StringVar(&a.flags.detector, "detector", "", "Entity detector endpoint (default: $DETECTOR_ENDPOINT)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		a.serveCmd(),
		a.maskCmd(),
		a.unmaskCmd(),
		a.verifyCmd(),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig layers flags over the environment-derived config.
func (a *app) loadConfig() *config.Config {
	cfg := config.Load()
	if a.flags.redisURL != "" {
		cfg.RedisURL = a.flags.redisURL
		cfg.Storage = config.StorageRedis
	}
	if a.flags.storage != "" {
		cfg.Storage = strings.ToLower(a.flags.storage)
	}
	if a.flags.boltPath != "" {
		cfg.BoltPath = a.flags.boltPath
	}
	if a.flags.detector != "" {
		cfg.DetectorEndpoint = a.flags.detector
	}
	if a.flags.logLevel != "" {
		cfg.LogLevel = a.flags.logLevel
	}
	return cfg
}

func (a *app) openService(ctx context.Context, cfg *config.Config, log *logger.Logger, m *metrics.Metrics) (*kavach.Service, error) {
	return kavach.New(ctx, cfg, kavach.Options{
		Logger:          log,
		Metrics:         m,
		DetectorFactory: a.factory,
	})
}

// readText returns the positional text, or stdin when it is "-" or absent.
func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimRight(string(b), "\r\n")
	if text == "" {
		return "", fmt.Errorf("text is required (positional arg or stdin)")
	}
	return text, nil
}
