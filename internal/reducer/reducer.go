// Package reducer folds canvas events into canvas state.
//
// Apply and ReduceSequence are pure: the result depends only on the input
// state and events. No clock, randomness or I/O is involved, so replaying
// the same ordered events over the same base always yields an identical
// state. Neither function mutates its inputs.
package reducer

import (
	"fmt"

	"github.com/roach88/canvaslog/internal/canvas"
)

// Apply returns the state after applying ev to state.
//
// Version and LastEventID advance to the event's for every variant, even
// when the payload leaves the squares untouched (move or delete of an
// unknown id).
func Apply(state canvas.CanvasState, ev canvas.Event) canvas.CanvasState {
	next := state.Clone()
	apply(&next, ev)
	return next
}

// ReduceSequence folds events left to right over initial.
// events must already be in ascending version order.
func ReduceSequence(initial canvas.CanvasState, events []canvas.Event) canvas.CanvasState {
	state := initial.Clone()
	for _, ev := range events {
		apply(&state, ev)
	}
	return state
}

// apply mutates s in place. Callers own s exclusively.
func apply(s *canvas.CanvasState, ev canvas.Event) {
	s.Version = ev.Version
	s.LastEventID = ev.ID

	switch p := ev.Payload.(type) {
	case canvas.SquareCreated:
		// Push-only: a repeated id yields a second square with that id.
		s.Squares = append(s.Squares, canvas.Square{
			ID:    p.SquareID,
			X:     p.X,
			Y:     p.Y,
			Size:  p.Size,
			Color: p.Color,
		})
	case canvas.SquareMoved:
		for i := range s.Squares {
			if s.Squares[i].ID == p.SquareID {
				s.Squares[i].X = p.X
				s.Squares[i].Y = p.Y
				break
			}
		}
	case canvas.SquareDeleted:
		kept := s.Squares[:0]
		for _, sq := range s.Squares {
			if sq.ID != p.SquareID {
				kept = append(kept, sq)
			}
		}
		s.Squares = kept
	default:
		panic(fmt.Sprintf("reducer: unhandled payload %T in event %s", ev.Payload, ev.ID))
	}
}
