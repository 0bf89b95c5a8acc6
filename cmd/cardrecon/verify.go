package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/csvfile"
	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/logstream"
	badgerrepo "github.com/jsanchez-sales-hub/sht-4502/internal/adapter/repository/badger"
	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/repository/journal"
	redisrepo "github.com/jsanchez-sales-hub/sht-4502/internal/adapter/repository/redis"
	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/search"
	"github.com/jsanchez-sales-hub/sht-4502/internal/domain"
	"github.com/jsanchez-sales-hub/sht-4502/internal/pkg/config"
	"github.com/jsanchez-sales-hub/sht-4502/internal/usecase"
)

func newVerifyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-check report candidates against the log with targeted searches",
		Long: `Re-check report candidates against the log with targeted searches.

Each card is searched for in the log; a card that shows up in a later
successful payment is dropped. Work proceeds in waves and progress can be
kept in a checkpoint store so an interrupted run resumes where it stopped.

Examples:
  cardrecon verify --in results/cards-info.csv --concurrency 20
  cardrecon verify --checkpoint-store journal --search scan --enrich
  cardrecon verify --resume-index 400 --excluded-file results/resolved.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, a)
		},
	}

	f := cmd.Flags()
	f.String("in", "", "candidates CSV written by the report command")
	f.String("out", "", "CSV file for the candidates that remain unresolved")
	f.String("log", "", "pipeline log to search")
	f.Int("concurrency", 0, "candidates verified per wave")
	f.Int("resume-index", 0, "treat the first N candidates as already verified")
	f.String("excluded-file", "", "CSV with a cardNumber column of cards already resolved")
	f.String("checkpoint-store", "", "where to keep progress (none, journal, redis, badger)")
	f.Bool("reset-checkpoint", false, "discard stored progress before starting")
	f.String("search", "", "search backend (grep or scan)")
	f.String("match", "substring", "what counts as a reuse (substring or field)")
	f.Bool("enrich", false, "fill a missing link or balance from the origin session")
	return cmd
}

func runVerify(cmd *cobra.Command, a *app) error {
	ctx := cmd.Context()
	cfg := a.cfg
	fs := cmd.Flags()
	in := cfg.OutputPath
	overrideString(fs, "in", &in)
	overrideString(fs, "out", &cfg.RevisedPath)
	overrideString(fs, "log", &cfg.LogPath)
	overrideInt(fs, "concurrency", &cfg.BatchConcurrency)
	overrideString(fs, "checkpoint-store", &cfg.CheckpointStore)
	overrideString(fs, "search", &cfg.SearchBackend)
	enrich, _ := fs.GetBool("enrich")
	reset, _ := fs.GetBool("reset-checkpoint")
	resumeIndex, _ := fs.GetInt("resume-index")
	excludedFile, _ := fs.GetString("excluded-file")
	matchMode, _ := fs.GetString("match")

	runID := uuid.NewString()
	log := a.logger.With("run_id", runID)

	candidates, err := csvfile.ReadCandidatesFile(in)
	if err != nil {
		return err
	}
	log.Info("loaded candidates", "path", in, "count", len(candidates))

	query, err := newQuery(cfg, log)
	if err != nil {
		return err
	}

	store, closer, err := openCheckpointStore(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	cp := domain.NewCheckpoint()
	if store != nil {
		if reset {
			if err := store.Reset(ctx); err != nil {
				return err
			}
		}
		if cp, err = store.Load(ctx); err != nil {
			return err
		}
	}
	manual := domain.CheckpointDelta{ProcessedUpTo: resumeIndex}
	if excludedFile != "" {
		keys, err := csvfile.ReadLedgerFile(excludedFile, "cardNumber")
		if err != nil {
			return err
		}
		for k := range keys {
			manual.Excluded = append(manual.Excluded, k)
		}
	}
	cp.Merge(manual)

	var matcher usecase.Matcher
	switch matchMode {
	case "substring":
		matcher = usecase.SubstringMatcher{}
	case "field":
		matcher = usecase.NewFieldMatcher(usecase.NewExtractor(a.rules))
	default:
		return fmt.Errorf("unknown --match %q (want substring or field)", matchMode)
	}

	newSource := func(data []byte) domain.LogSource {
		return logstream.NewBytesSource(data, a.rules, logstream.Options{
			Name:        "search",
			MaxLineSize: cfg.MaxLineSize,
			KeepRaw:     true,
		}, a.logger, a.metrics)
	}

	processor := usecase.NewBatchProcessor(query, store, newSource, a.rules, usecase.BatchOptions{
		Concurrency:  cfg.BatchConcurrency,
		QueryRate:    cfg.QueryRate,
		QueryBurst:   cfg.QueryBurst,
		QueryTimeout: cfg.QueryTimeout,
		Enrich:       enrich,
		Matcher:      matcher,
	}, log, a.metrics)

	a.status.SetPhase("verifying")
	a.status.SetCounter("candidates", len(candidates))
	report, err := processor.Run(ctx, candidates, cp)
	if err != nil {
		a.status.SetPhase("failed")
		return fmt.Errorf("verify failed: %w", err)
	}
	a.status.SetPhase("writing")
	a.status.SetCounter("retained", len(report.Retained))

	if err := csvfile.NewFileSink(cfg.RevisedPath, a.logger).WriteCandidates(ctx, runID, report.Retained); err != nil {
		return err
	}
	a.status.SetPhase("done")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s\n", runID)
	fmt.Fprintf(out, "  candidates:           %s\n", humanize.Comma(int64(len(candidates))))
	fmt.Fprintf(out, "  skipped (checkpoint): %s\n", humanize.Comma(int64(report.Skipped)))
	fmt.Fprintf(out, "  reused successfully:  %s\n", humanize.Comma(int64(report.Resolved)))
	fmt.Fprintf(out, "  flagged for review:   %s\n", humanize.Comma(int64(report.Flagged)))
	fmt.Fprintf(out, "  remaining:            %s -> %s\n", humanize.Comma(int64(len(report.Retained))), cfg.RevisedPath)
	return nil
}

// newQuery picks the search backend. grep cannot read compressed archives,
// so those always use the in-process scanner.
func newQuery(cfg *config.Config, logger *slog.Logger) (domain.ExternalQuery, error) {
	switch cfg.SearchBackend {
	case "grep":
		if strings.HasSuffix(cfg.LogPath, ".zst") {
			logger.Warn("grep cannot read compressed logs, using the scanner", "log", cfg.LogPath)
			return search.NewScanQuery(cfg.LogPath, cfg.MaxLineSize), nil
		}
		return search.NewGrepQuery(cfg.GrepPath, cfg.LogPath, logger), nil
	case "scan":
		return search.NewScanQuery(cfg.LogPath, cfg.MaxLineSize), nil
	default:
		return nil, fmt.Errorf("unknown search backend %q (want grep or scan)", cfg.SearchBackend)
	}
}

// openCheckpointStore returns a nil store when checkpoints are disabled.
func openCheckpointStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.CheckpointStore, io.Closer, error) {
	switch cfg.CheckpointStore {
	case "", "none":
		return nil, nil, nil
	case "journal":
		s, err := journal.NewStore(cfg.CheckpointDir, cfg.JournalSegment, cfg.JournalMaxDisk, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "redis":
		client, err := redisrepo.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		return redisrepo.NewCheckpointStore(client, cfg.CheckpointKey, logger), client, nil
	case "badger":
		db, err := badgerrepo.Open(badgerrepo.Options{Path: cfg.CheckpointDir, SyncWrites: true}, logger)
		if err != nil {
			return nil, nil, err
		}
		return badgerrepo.NewCheckpointStore(db, cfg.CheckpointKey, logger), db, nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint store %q (want none, journal, redis or badger)", cfg.CheckpointStore)
	}
}
