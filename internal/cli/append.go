package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/canvaslog/internal/canvas"
	"github.com/roach88/canvaslog/internal/coordinator"
	"github.com/roach88/canvaslog/internal/schema"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	StoreOptions
	Payload string
	Version int64

	// IDs overrides the event id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs coordinator.IDGenerator
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{StoreOptions: StoreOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "append <aggregate> <type>",
		Short: "Append one event to a canvas",
		Long: `Append one event at the given version and print the resulting state.

--version must be the canvas's current version plus one; anything else is
rejected as a conflict. The payload is validated against the event schema.

Exit codes:
  0 - Event appended
  1 - Rejected (conflict or validation)
  2 - Command error (store unreachable, etc.)

Examples:
  canvaslog append board-1 SquareCreated --version 1 \
    --payload '{"squareId":"a","x":0,"y":0,"size":10,"color":"red"}' --db ./canvas.db
  canvaslog append board-1 SquareDeleted --version 2 --payload '{"squareId":"a"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(opts, args[0], args[1], cmd)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "event payload as JSON (required)")
	cmd.Flags().Int64Var(&opts.Version, "version", 0, "version to write, current+1 (required)")
	_ = cmd.MarkFlagRequired("payload")
	_ = cmd.MarkFlagRequired("version")

	return cmd
}

func runAppend(opts *AppendOptions, aggregateID, eventType string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	cfg, err := opts.resolve()
	if err != nil {
		return err
	}
	logger := opts.logger(cmd.ErrOrStderr(), slog.LevelWarn)

	st, err := openStore(cmd.Context(), cfg, logger)
	if err != nil {
		return out.Fail(ExitCommandError, "failed to open store", err)
	}
	defer closeStore(st, logger)

	validator, err := schema.New()
	if err != nil {
		return out.Fail(ExitCommandError, "failed to compile payload schema", err)
	}

	ids := opts.IDs
	if ids == nil {
		ids = coordinator.UUIDv7Generator{}
	}
	coord := coordinator.New(st, st,
		coordinator.WithSnapshotInterval(cfg.SnapshotInterval),
		coordinator.WithLogger(logger),
		coordinator.WithValidator(validator),
		coordinator.WithIDGenerator(ids),
	)

	res, err := coord.AppendRaw(cmd.Context(), aggregateID, eventType, []byte(opts.Payload), opts.Version)
	if err != nil {
		code := ExitFailure
		if canvas.IsStorage(err) {
			code = ExitCommandError
		}
		return out.Fail(code, "append rejected", err)
	}

	out.VerboseLog("appended %s to %s at version %d", res.EventID, aggregateID, res.Version)
	return out.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "Appended %s (event %s) at version %d\n", eventType, res.EventID, res.Version)
		writeStateText(w, res.State)
	})
}
