package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/canvaslog/internal/coordinator"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	StoreOptions
	Aggregate string // optional - one aggregate only
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Aggregates    []coordinator.VerifyReport `json:"aggregates"`
	TotalEvents   int                        `json:"total_events"`
	AllConsistent bool                       `json:"all_consistent"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{StoreOptions: StoreOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay event logs and verify snapshots",
		Long: `Replay every canvas from its event log and check it against storage.

For each canvas this checks that versions are contiguous from 1, that every
stored snapshot equals a full replay at its version, and that the
snapshot-based head equals a full replay of the head.

Exit codes:
  0 - Every canvas is consistent
  1 - At least one canvas failed verification
  2 - Command error (database not found, etc.)

Examples:
  canvaslog replay --db ./canvas.db
  canvaslog replay --db ./canvas.db --aggregate board-1
  canvaslog replay --db ./canvas.db --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().StringVar(&opts.Aggregate, "aggregate", "", "verify one aggregate only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	out := newFormatter(opts.RootOptions, cmd)

	cfg, err := opts.resolve()
	if err != nil {
		return err
	}
	logger := opts.logger(cmd.ErrOrStderr(), slog.LevelWarn)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to open store", err)
	}
	defer closeStore(st, logger)

	var ids []string
	if opts.Aggregate != "" {
		ids = []string{opts.Aggregate}
	} else {
		ids, err = st.ListAggregates(ctx)
		if err != nil {
			return out.Fail(ExitCommandError, "failed to list aggregates", err)
		}
	}

	coord := coordinator.New(st, st,
		coordinator.WithSnapshotInterval(cfg.SnapshotInterval),
		coordinator.WithLogger(logger),
	)

	result := ReplayResult{
		Aggregates:    make([]coordinator.VerifyReport, 0, len(ids)),
		AllConsistent: true,
	}
	for _, id := range ids {
		out.VerboseLog("verifying %s", id)
		report, err := coord.Verify(ctx, id)
		if err != nil {
			return out.Fail(ExitCommandError, fmt.Sprintf("failed to replay %s", id), err)
		}
		result.Aggregates = append(result.Aggregates, report)
		result.TotalEvents += report.EventCount
		if !report.OK() {
			result.AllConsistent = false
		}
	}

	var failure *CLIError
	if !result.AllConsistent {
		failure = &CLIError{Code: "E_REPLAY", Message: "replay verification failed"}
	}
	return out.Report(result, failure, func(w io.Writer) { writeReplayText(w, result, opts.Verbose) })
}

func writeReplayText(w io.Writer, result ReplayResult, verbose bool) {
	if len(result.Aggregates) == 0 {
		fmt.Fprintln(w, "No canvases found.")
		return
	}

	fmt.Fprintf(w, "Replay Summary: %d canvas(es), %d event(s)\n\n", len(result.Aggregates), result.TotalEvents)
	for _, r := range result.Aggregates {
		status := "✓"
		if !r.OK() {
			status = "✗"
		}
		fmt.Fprintf(w, "%s %s\n", status, r.AggregateID)
		fmt.Fprintf(w, "  Events: %d, head version %d, %d snapshot(s) checked\n",
			r.EventCount, r.HeadVersion, len(r.SnapshotsChecked))
		if verbose {
			fmt.Fprintf(w, "  Head digest: %s\n", r.HeadDigest)
		}
		for _, p := range r.Problems {
			fmt.Fprintf(w, "  Problem: %s\n", p)
		}
	}
	fmt.Fprintln(w)

	if result.AllConsistent {
		fmt.Fprintln(w, "✓ All canvases verified")
		return
	}
	fmt.Fprintln(w, "✗ Replay verification failed")
}
