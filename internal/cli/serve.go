package cli

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"kavach/internal/config"
	"kavach/internal/gateway"
	"kavach/internal/logger"
	"kavach/internal/management"
	"kavach/internal/metrics"
)

func (a *app) serveCmd() *cobra.Command {
	var warm bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the masking gateway and its management API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd, warm)
		},
	}
	cmd.Flags().BoolVar(&warm, "warm", true, "Initialise the entity detector in the background at startup")
	return cmd
}

func (a *app) runServe(cmd *cobra.Command, warm bool) error {
	cfg := a.loadConfig()
	log := logger.New("KAVACH", cfg.LogLevel)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := a.openService(ctx, cfg, log, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Errorf("shutdown", "close session store: %v", err)
		}
	}()

	printBanner(cmd.OutOrStdout(), cfg, svc.Backend())

	if warm {
		// Requests arriving before this finishes share the same initialisation.
		go func() {
			if err := svc.WarmUp(ctx); err != nil {
				log.Warnf("warmup", "detector not ready yet: %v", err)
			}
		}()
	}

	gw := gateway.New(cfg, svc, log.Named("GATEWAY"), m)
	mgmt := management.New(cfg, svc, m, log.Named("MANAGEMENT"))

	// The gateway should not run without its control plane, and vice versa.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgmt.ListenAndServe(gctx) })
	g.Go(func() error { return gw.ListenAndServe(gctx) })
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("shutdown", "stopped")
	return nil
}

func printBanner(w io.Writer, cfg *config.Config, backend string) {
	ttl := cfg.SessionTTL.String()
	if cfg.SessionTTL == 0 {
		ttl = "(never expires)"
	}
	if backend == config.StorageMemory {
		ttl = "(process lifetime)"
	}

	fmt.Fprintf(w, `
╔══════════════════════════════════════════════════════╗
║          Kavach entity-masking gateway  (Go)         ║
╚══════════════════════════════════════════════════════╝
  Gateway port      : %d
  Management port   : %d
  Session store     : %s
  Session TTL       : %s
  Detector endpoint : %s
  Substitution      : %s

  Mask text:
    curl -s localhost:%d/v1/sanitize -d '{"text":"...","sessionId":"demo"}'

  Check status:
    curl http://localhost:%d/status
`, cfg.Port, cfg.ManagementPort,
		backend, ttl,
		cfg.DetectorEndpoint, cfg.Substitution,
		cfg.Port,
		cfg.ManagementPort)
}
