package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/vitwit/batchpay"
	"github.com/vitwit/batchpay/logger"
	"github.com/vitwit/batchpay/metrics"
	"github.com/vitwit/batchpay/types"
	"github.com/vitwit/batchpay/utils"
)

var (
	configPath string
	logLevel   string
)

// NewEngine builds the engine for a command. Tests replace it to inject a
// wallet.
var NewEngine = func(ctx context.Context, cfg *types.Config, opts ...batchpay.Option) (*batchpay.BatchPay, error) {
	return batchpay.New(ctx, cfg, opts...)
}

var RootCmd = &cobra.Command{
	Use:   "batchpay",
	Short: "pay many recipients in one wallet batch",
	Long: `batchpay encodes a roster of recipients into ERC-20 transfers, submits them
through an EIP-5792 wallet as a single batch and tracks every batch in a ledger.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "batchpay.yaml", "config file (yaml or json)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	RootCmd.AddCommand(payCmd())
	RootCmd.AddCommand(historyCmd())
	RootCmd.AddCommand(statusCmd())
	RootCmd.AddCommand(reconcileCmd())
	RootCmd.AddCommand(serveCmd())
}

// env is what every command needs once the config is loaded.
type env struct {
	cfg      *types.Config
	log      logger.Logger
	registry *prometheus.Registry
	engine   *batchpay.BatchPay
}

func (e *env) Close() {
	e.engine.Close()
	if s, ok := e.log.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := utils.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	e := &env{cfg: cfg, log: logger.NewZapLogger(cfg.LogLevel)}
	opts := []batchpay.Option{batchpay.WithLogger(e.log)}

	if cfg.EnableMetrics {
		e.registry = prometheus.NewRegistry()
		rec, err := metrics.NewPrometheusRecorder(e.registry)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		opts = append(opts, batchpay.WithMetrics(rec))
	}

	e.engine, err = NewEngine(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return e, nil
}
