package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/csvfile"
	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/logstream"
	"github.com/jsanchez-sales-hub/sht-4502/internal/usecase"
)

func newAttemptsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "List every payment attempt in the log, one row per session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			fs := cmd.Flags()
			overrideString(fs, "log", &cfg.LogPath)
			overrideString(fs, "out", &cfg.AttemptsPath)
			cardsOnly, _ := fs.GetBool("cards-only")

			source := logstream.NewFileSource(cfg.LogPath, a.rules, logstream.Options{
				ProgressEvery: cfg.ProgressEvery,
				MaxLineSize:   cfg.MaxLineSize,
			}, a.logger, a.metrics)

			a.status.SetPhase("reading log")
			attempts, err := usecase.NewAttemptsUseCase(source, a.rules, a.redactor, a.logger).Run(cmd.Context(), cardsOnly)
			if err != nil {
				a.status.SetPhase("failed")
				return err
			}
			if err := csvfile.WriteAttemptsFile(cfg.AttemptsPath, attempts); err != nil {
				return err
			}
			a.status.SetPhase("done")
			a.status.SetCounter("attempts", len(attempts))

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s payment attempts to %s\n", humanize.Comma(int64(len(attempts))), cfg.AttemptsPath)
			return nil
		},
	}

	cmd.Flags().String("log", "", "pipeline log to read")
	cmd.Flags().String("out", "", "CSV file to write the attempts to")
	cmd.Flags().Bool("cards-only", false, "only list sessions that logged card data")
	return cmd
}
