package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/loopy/internal/app"
)

func newPollCmd(state *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll the timeline until interrupted",
		Long: `Fetches the timeline in a loop, writing each new item as one line to the
configured output. Idle polls back off exponentially up to 15 minutes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPoll(cmd, state)
		},
	}

	flags := cmd.Flags()
	flags.String("since-id", "", "only fetch items newer than this id")
	flags.String("max-id", "", "only fetch items at or older than this id on the first page")
	flags.Bool("include-warnings", false, "also emit rate limit notices and stall warnings")
	flags.Int("max-subpages", 4, "API calls per page fetch")
	flags.Int("connection-errors", 0, "consecutive connection errors to tolerate")
	flags.Int("http-errors", 0, "consecutive HTTP errors to tolerate")
	flags.StringP("output", "o", "-", "output path: - for stdout, gs://bucket/object, or a file")
	flags.String("archive", "off", "archive mode: off, sync, queue, pubsub, dryrun")

	bindFlag(state.v, cmd, "poll.since_id", "since-id")
	bindFlag(state.v, cmd, "poll.max_id", "max-id")
	bindFlag(state.v, cmd, "poll.include_warnings", "include-warnings")
	bindFlag(state.v, cmd, "poll.max_subpages", "max-subpages")
	bindFlag(state.v, cmd, "fetch.connection_error_limit", "connection-errors")
	bindFlag(state.v, cmd, "fetch.http_error_limit", "http-errors")
	bindFlag(state.v, cmd, "output.path", "output")
	bindFlag(state.v, cmd, "archive.mode", "archive")
	return cmd
}

func runPoll(cmd *cobra.Command, state *cliState) error {
	a, err := app.Build(cmd.Context(), state.cfg, state.logger)
	if err != nil {
		return err
	}
	runErr := a.Run(cmd.Context())
	if err := a.Close(); err != nil {
		state.logger.Warn("close failed", zap.Error(err))
	}
	if runErr != nil {
		state.logger.Error("poll stopped", zap.Error(runErr))
		return fmt.Errorf("poll: %w", runErr)
	}
	return nil
}
