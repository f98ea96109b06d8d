package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canvaslog/internal/canvas"
	"github.com/roach88/canvaslog/internal/coordinator"
	"github.com/roach88/canvaslog/internal/store"
	"github.com/roach88/canvaslog/internal/store/storetest"
)

var _ store.Store = (*Store)(nil)

// createTestStore opens a fresh database in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return createTestStore(t) })
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, storetest.Event("canvas-1", 1)))
	require.NoError(t, s.Close())

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := s.LatestVersion(ctx, "canvas-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "data survives reopen")

	for _, table := range []string{"events", "snapshots"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %q", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, s.verifyPragma(ctx, tt.name, tt.want))
		})
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestLatestAtOrBefore_DetectsTamperedState(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	snap := canvas.Snapshot{
		AggregateID: "canvas-1",
		Version:     10,
		State: canvas.CanvasState{
			Squares:     []canvas.Square{{ID: "sq1", X: 1, Y: 2, Size: 3, Color: "red"}},
			Version:     10,
			LastEventID: "e10",
		},
	}
	require.NoError(t, s.Save(ctx, snap))

	_, err := s.db.Exec(`UPDATE snapshots SET state = replace(state, '"red"', '"blue"')`)
	require.NoError(t, err)

	_, ok, err := s.LatestAtOrBefore(ctx, "canvas-1", canvas.MaxVersion)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, canvas.IsStorage(err))
	assert.Contains(t, err.Error(), "digest mismatch")
}

func TestList_CorruptPayloadIsStorageError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, storetest.Event("canvas-1", 1)))

	_, err := s.db.Exec(`UPDATE events SET type = 'CircleCreated'`)
	require.NoError(t, err)

	_, err = s.List(ctx, "canvas-1", 0, canvas.MaxVersion)
	require.Error(t, err)
	assert.True(t, canvas.IsStorage(err), "got %v", err)
}

func TestAppend_NilPayloadIsValidationError(t *testing.T) {
	s := createTestStore(t)
	ev := storetest.Event("canvas-1", 1)
	ev.Payload = nil

	err := s.Append(context.Background(), ev)
	require.Error(t, err)
	assert.True(t, canvas.IsValidation(err))
}

func TestCoordinator_SnapshotReadMatchesReplay(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	c := coordinator.New(s, s, coordinator.WithSnapshotInterval(2))
	const id = "cafe\u0301"

	_, err := c.Append(ctx, "board", canvas.SquareCreated{SquareID: id, X: 1, Y: 1, Size: 5, Color: "red"}, 1)
	require.NoError(t, err)
	_, err = c.Append(ctx, "board", canvas.SquareCreated{SquareID: "b", X: 2, Y: 2, Size: 5, Color: "blue"}, 2)
	require.NoError(t, err)
	res, err := c.Append(ctx, "board", canvas.SquareMoved{SquareID: id, X: 99, Y: 99}, 3)
	require.NoError(t, err)
	require.Zero(t, c.SnapshotFailures())

	full, err := c.Replay(ctx, "board", 3)
	require.NoError(t, err)
	assert.True(t, res.State.Equal(full), "append %+v, replay %+v", res.State, full)
	assert.Equal(t, 99.0, res.State.Squares[0].X)

	report, err := c.Verify(ctx, "board")
	require.NoError(t, err)
	assert.True(t, report.OK(), "problems: %v", report.Problems)
}
