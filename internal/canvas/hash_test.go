package canvas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateDigestDeterminism(t *testing.T) {
	s := CanvasState{
		Squares:     []Square{{ID: "sq1", X: 1, Y: 2, Size: 3, Color: "blue"}},
		Version:     1,
		LastEventID: "e1",
	}

	d1, err := StateDigest(s)
	require.NoError(t, err)
	d2, err := StateDigest(s.Clone())
	require.NoError(t, err)

	assert.Equal(t, d1, d2, "StateDigest must be deterministic")
	assert.Len(t, d1, 64, "SHA-256 hex is 64 characters")
}

func TestStateDigestChangesWithState(t *testing.T) {
	base := CanvasState{
		Squares:     []Square{{ID: "a", X: 1, Y: 1, Size: 1, Color: "red"}, {ID: "b", X: 2, Y: 2, Size: 2, Color: "red"}},
		Version:     2,
		LastEventID: "e2",
	}
	moved := base.Clone()
	moved.Squares[0].X = 5
	reordered := base.Clone()
	reordered.Squares[0], reordered.Squares[1] = reordered.Squares[1], reordered.Squares[0]
	advanced := base.Clone()
	advanced.Version = 3

	d := MustStateDigest(base)
	assert.NotEqual(t, d, MustStateDigest(moved), "coordinates are part of the digest")
	assert.NotEqual(t, d, MustStateDigest(reordered), "square order is part of the digest")
	assert.NotEqual(t, d, MustStateDigest(advanced), "version is part of the digest")
}

func TestStateDigestEmptyState(t *testing.T) {
	assert.Equal(t, MustStateDigest(EmptyState()), MustStateDigest(CanvasState{}),
		"nil and empty squares hash the same")
}

func TestStateDigestRejectsNaN(t *testing.T) {
	s := CanvasState{Squares: []Square{{ID: "a", X: math.NaN()}}}
	_, err := StateDigest(s)
	assert.Error(t, err)
	assert.Panics(t, func() { MustStateDigest(s) })
}

func TestStateDigestDistinguishesNormalizationForms(t *testing.T) {
	nfc := CanvasState{Squares: []Square{{ID: "caf\u00e9", Size: 1}}, Version: 1}
	nfd := CanvasState{Squares: []Square{{ID: "cafe\u0301", Size: 1}}, Version: 1}

	require.False(t, nfc.Equal(nfd))
	assert.NotEqual(t, MustStateDigest(nfc), MustStateDigest(nfd))
}
