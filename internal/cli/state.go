package cli

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/canvaslog/internal/canvas"
	"github.com/roach88/canvaslog/internal/coordinator"
)

// StateOptions holds flags for the state command.
type StateOptions struct {
	StoreOptions
	At int64 // read only when --at is given
}

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StateOptions{StoreOptions: StoreOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "state <aggregate>",
		Short: "Print a canvas state",
		Long: `Print the latest state of a canvas, or its state as of --at.

A canvas with no events prints the empty state at version 0. A version past
the head prints the head.

Examples:
  canvaslog state board-1 --db ./canvas.db
  canvaslog state board-1 --at 12 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runState(opts, args[0], cmd)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().Int64Var(&opts.At, "at", -1, "version to read (default: head)")

	return cmd
}

func runState(opts *StateOptions, aggregateID string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	coord, done, err := openReader(&opts.StoreOptions, cmd, out)
	if err != nil {
		return err
	}
	defer done()

	var state canvas.CanvasState
	if cmd.Flags().Changed("at") {
		state, err = coord.StateAt(cmd.Context(), aggregateID, opts.At)
	} else {
		state, err = coord.State(cmd.Context(), aggregateID)
	}
	if err != nil {
		code := ExitCommandError
		if canvas.IsValidation(err) {
			code = ExitFailure
		}
		return out.Fail(code, "failed to read state", err)
	}

	return out.Success(state, func(w io.Writer) {
		fmt.Fprintf(w, "Canvas %s\n", aggregateID)
		writeStateText(w, state)
	})
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	StoreOptions
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{StoreOptions: StoreOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "history <aggregate>",
		Short: "Print a canvas's version history",
		Long: `Print the id, version and timestamp of every event of a canvas.

Example:
  canvaslog history board-1 --db ./canvas.db`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	opts.addFlags(cmd)

	return cmd
}

func runHistory(opts *HistoryOptions, aggregateID string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	coord, done, err := openReader(&opts.StoreOptions, cmd, out)
	if err != nil {
		return err
	}
	defer done()

	history, err := coord.VersionHistory(cmd.Context(), aggregateID)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to read history", err)
	}

	return out.Success(history, func(w io.Writer) {
		if len(history) == 0 {
			fmt.Fprintf(w, "No events for %s.\n", aggregateID)
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tEVENT\tTIMESTAMP")
		for _, v := range history {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", v.Version, v.ID, v.Timestamp.UTC().Format(time.RFC3339Nano))
		}
		_ = tw.Flush()
	})
}

// openReader opens the store for a read-only command.
func openReader(opts *StoreOptions, cmd *cobra.Command, out *OutputFormatter) (*coordinator.Coordinator, func(), error) {
	cfg, err := opts.resolve()
	if err != nil {
		return nil, nil, err
	}
	logger := opts.logger(cmd.ErrOrStderr(), slog.LevelWarn)

	st, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, out.Fail(ExitCommandError, "failed to open store", err)
	}
	coord := coordinator.New(st, st,
		coordinator.WithSnapshotInterval(cfg.SnapshotInterval),
		coordinator.WithLogger(logger),
	)
	return coord, func() { closeStore(st, logger) }, nil
}

// writeStateText renders a state as an aligned table of squares.
func writeStateText(w io.Writer, s canvas.CanvasState) {
	last := s.LastEventID
	if last == "" {
		last = "-"
	}
	fmt.Fprintf(w, "Version: %d\nLast event: %s\nSquares: %d\n", s.Version, last, len(s.Squares))
	if len(s.Squares) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tX\tY\tSIZE\tCOLOR")
	for _, sq := range s.Squares {
		fmt.Fprintf(tw, "  %s\t%g\t%g\t%g\t%s\n", sq.ID, sq.X, sq.Y, sq.Size, sq.Color)
	}
	_ = tw.Flush()
}
