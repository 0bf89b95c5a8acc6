package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/csvfile"
	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/logstream"
	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/repository/postgres"
	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/repository/sqlite"
	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
	"github.com/jsanchez-sales-hub/sht-4502/internal/usecase"
)

func newReportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build the never-charged cards report from the pipeline log",
		Long: `Build the never-charged cards report from the pipeline log.

Examples:
  cardrecon report --log logs-storage/all-time.log
  cardrecon report --log all-time.log.zst --ledger pnm.csv --ledger-column Account
  cardrecon report --db-driver sqlite --db-dsn results/cards.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, a)
		},
	}

	f := cmd.Flags()
	f.String("log", "", "pipeline log to read (.zst archives are decompressed)")
	f.String("out", "", "CSV file to write the report to")
	f.String("ledger", "", "CSV export of externally settled payments")
	f.String("ledger-column", "", "ledger column holding the order id")
	f.String("db-driver", "", "also import the report into a database (postgres or sqlite)")
	f.String("db-dsn", "", "database connection string or SQLite file")
	return cmd
}

func runReport(cmd *cobra.Command, a *app) error {
	ctx := cmd.Context()
	cfg := a.cfg
	fs := cmd.Flags()
	overrideString(fs, "log", &cfg.LogPath)
	overrideString(fs, "out", &cfg.OutputPath)
	overrideString(fs, "ledger", &cfg.LedgerPath)
	overrideString(fs, "ledger-column", &cfg.LedgerColumn)
	overrideString(fs, "db-driver", &cfg.DBDriver)
	overrideString(fs, "db-dsn", &cfg.DBDSN)

	opts := usecase.ReportOptions{
		Sinks:       []domain.CandidateSink{csvfile.NewFileSink(cfg.OutputPath, a.logger)},
		SinkRetries: cfg.SinkRetries,
		SinkBackoff: cfg.SinkBackoff,
	}

	if cfg.LedgerPath != "" {
		ledger, err := csvfile.ReadLedgerFile(cfg.LedgerPath, cfg.LedgerColumn)
		if err != nil {
			return err
		}
		a.logger.Info("loaded settlement ledger", "path", cfg.LedgerPath, "keys", len(ledger))
		opts.Ledger = ledger
	}

	if cfg.DBDriver != "" {
		sink, closer, err := openDBSink(ctx, cfg.DBDriver, cfg.DBDSN, a.logger)
		if err != nil {
			return err
		}
		defer closer.Close()
		opts.Sinks = append(opts.Sinks, sink)
	}

	source := logstream.NewFileSource(cfg.LogPath, a.rules, logstream.Options{
		ProgressEvery: cfg.ProgressEvery,
		MaxLineSize:   cfg.MaxLineSize,
	}, a.logger, a.metrics)

	a.status.SetPhase("reading log")
	res, err := usecase.NewReportUseCase(source, a.rules, a.redactor, opts, a.logger, a.metrics).Run(ctx)
	if err != nil {
		a.status.SetPhase("failed")
		return fmt.Errorf("report failed: %w", err)
	}
	a.status.SetPhase("done")
	a.status.SetCounter("candidates", len(res.Candidates))

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s\n", res.RunID)
	fmt.Fprintf(out, "  sessions with card data:   %s\n", humanize.Comma(int64(res.Sessions)))
	fmt.Fprintf(out, "  failed sessions:           %s\n", humanize.Comma(int64(res.FailedSessions)))
	fmt.Fprintf(out, "  unique cards:              %s\n", humanize.Comma(int64(res.Deduplicated)))
	fmt.Fprintf(out, "  reused successfully:       %s\n", humanize.Comma(int64(res.ResolvedReuse)))
	fmt.Fprintf(out, "  settled in ledger:         %s\n", humanize.Comma(int64(res.ResolvedLedger)))
	fmt.Fprintf(out, "  never charged:             %s -> %s\n", humanize.Comma(int64(len(res.Candidates))), cfg.OutputPath)
	return nil
}

// openDBSink connects the database sink named by driver.
func openDBSink(ctx context.Context, driver, dsn string, logger *slog.Logger) (domain.CandidateSink, io.Closer, error) {
	if dsn == "" {
		return nil, nil, fmt.Errorf("--db-dsn is required with --db-driver %s", driver)
	}

	switch driver {
	case "postgres":
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres connection: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sink := postgres.NewCandidateSink(db, logger)
		if err := sink.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("connected to postgres")
		return sink, db, nil
	case "sqlite":
		db, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database %s: %w", dsn, err)
		}
		return sqlite.NewCandidateSink(db, logger), db, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q (want postgres or sqlite)", driver)
	}
}
