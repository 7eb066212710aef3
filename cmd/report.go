package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/loopy/internal/app"
	"github.com/JakeFAU/loopy/internal/config"
	"github.com/JakeFAU/loopy/internal/report"
)

func newReportCmd(state *cliState) *cobra.Command {
	var (
		top  int
		xlsx string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the most shared URLs from the durable store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if state.cfg.Aggregator.Backend == config.BackendMemory {
				return fmt.Errorf("report requires a postgres or sqlite aggregator backend")
			}
			if top <= 0 {
				return fmt.Errorf("--top must be > 0")
			}
			store, err := app.OpenStore(cmd.Context(), state.cfg)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := store.Close(); cerr != nil {
					state.logger.Warn("store close failed", zap.Error(cerr))
				}
			}()

			counts, err := store.Top(cmd.Context(), top)
			if err != nil {
				return fmt.Errorf("read top urls: %w", err)
			}
			if err := report.WriteTable(cmd.OutOrStdout(), counts); err != nil {
				return err
			}
			if xlsx != "" {
				if err := report.WriteXLSX(xlsx, counts, time.Now()); err != nil {
					return err
				}
				state.logger.Info("report saved", zap.String("path", xlsx), zap.Int("rows", len(counts)))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 20, "number of URLs to list")
	cmd.Flags().StringVar(&xlsx, "xlsx", "", "also save the report as an Excel workbook")
	return cmd
}
