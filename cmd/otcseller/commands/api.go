package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/otcseller/internal/api"
	"github.com/wonny/otcseller/internal/api/handlers"
	"github.com/wonny/otcseller/internal/metrics"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long: `Start the REST and websocket API.

Endpoints:
  GET  /health                      - Health check
  GET  /metrics                     - Prometheus metrics
  GET  /ws/events                   - Order event stream
  GET  /api/pairs                   - Configured pairs
  GET  /api/price                   - Oracle price and minimum buy amount
  POST /api/orders/check            - Dry-run order checks
  POST /api/orders                  - Settle an order
  GET  /api/orders?state=settled    - List orders
  GET  /api/orders/{uid}            - Order status
  POST /api/orders/{uid}/cancel     - Cancel an order
  POST /api/orders/{uid}/complete   - Complete a filled order
  GET  /api/reserved[/{token}]      - Reserved funds
  GET  /api/events                  - Recent events

Example:
  otcseller api
  otcseller api --port 8080 --poll`,
	RunE: runAPIServer,
}

var (
	apiPort string
	apiPoll bool
)

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "API server port (default: PORT)")
	apiCmd.Flags().BoolVar(&apiPoll, "poll", false, "also run the completion poller")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== otcseller API Server ===")

	a, s, err := openForCommand(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, log := a.cfg, a.log
	if apiPort != "" {
		cfg.Port = apiPort
	}

	checks := map[string]api.Pinger{"chain": a.chain}
	if s.redis != nil && cfg.Redis.Enabled {
		checks["redis"] = s.redis
	}

	h := api.Handlers{
		Orders: handlers.NewOrderHandler(s.engine, s.validator, s.hasher, s.ledger, log),
		Pairs:  handlers.NewPairHandler(s.env.Registry, s.oracle, s.validator, log),
		Ledger: handlers.NewLedgerHandler(s.ledger, s.recorder, log),
		Events: s.hub,
		Checks: checks,
	}
	if s.db != nil {
		h.Database = s.db
	}
	if cfg.MetricsEnabled {
		h.Metrics = metrics.Handler()
	}

	server := api.New(cfg, log, api.NewRouter(h, log))

	if apiPoll {
		sched, err := newPoller(a, s)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", cfg.Port)
	fmt.Printf("   Seller:   %s\n", s.env.Deployment.Seller.Hex())
	fmt.Printf("   Pairs:    %d\n", len(s.env.Registry.Pairs()))
	if apiPoll {
		fmt.Printf("   Poller:   %s\n", cfg.Seller.PollSchedule)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.hub.Close()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
