package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/api"
	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/api/handler"
	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/metrics"
	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/pii"
	"github.com/jsanchez-sales-hub/sht-4502/internal/pkg/config"
	"github.com/jsanchez-sales-hub/sht-4502/internal/pkg/logger"
)

// redactedFields are blanked in any raw log line that reaches our own log output.
var redactedFields = []string{"cardNumber", "cvv", "expirationDate"}

// app carries what every subcommand shares once flags are parsed.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	rules    config.Rules
	redactor *pii.Redactor
	registry *prometheus.Registry
	metrics  *metrics.ReconcileMetrics
	status   *handler.RunStatus
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "cardrecon",
		Short: "Find captured payment cards that were never charged",
		Long: `cardrecon reads the payment pipeline log, finds sessions that captured card
data and then failed, and reports the cards that were never used in a later
successful payment or settled in the external ledger.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (auto, json, text)")
	pf.String("rules", "", "YAML file overriding the log vocabulary")
	pf.String("metrics-addr", "", "serve /metrics, /healthz and /status on this address")

	root.AddCommand(newReportCmd(a))
	root.AddCommand(newVerifyCmd(a))
	root.AddCommand(newAttemptsCmd(a))
	return root
}

// init loads the environment configuration and applies flag overrides.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	fs := cmd.Flags()
	overrideString(fs, "log-level", &cfg.LogLevel)
	overrideString(fs, "log-format", &cfg.LogFormat)
	overrideString(fs, "rules", &cfg.RulesPath)
	overrideString(fs, "metrics-addr", &cfg.MetricsAddr)
	a.cfg = cfg

	a.logger = logger.New(cfg.LogLevel, cfg.LogFormat).With("command", cmd.Name())

	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return err
	}
	a.rules = rules
	a.redactor = pii.NewRedactor(redactedFields)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewReconcileMetrics(a.registry)
	a.status = handler.NewRunStatus(cmd.Name())

	if cfg.MetricsAddr != "" {
		api.Serve(cmd.Context(), cfg.MetricsAddr, api.NewAdminRouter(a.registry, a.status, a.logger), a.logger)
	}
	return nil
}

func overrideString(fs *pflag.FlagSet, name string, dst *string) {
	if fs.Changed(name) {
		*dst, _ = fs.GetString(name)
	}
}

func overrideInt(fs *pflag.FlagSet, name string, dst *int) {
	if fs.Changed(name) {
		*dst, _ = fs.GetInt(name)
	}
}
