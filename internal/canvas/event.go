package canvas

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
	"unicode/utf8"
)

// EventType tags an event's payload variant.
type EventType string

const (
	// TypeSquareCreated appends a new square.
	TypeSquareCreated EventType = "SquareCreated"
	// TypeSquareMoved repositions an existing square.
	TypeSquareMoved EventType = "SquareMoved"
	// TypeSquareDeleted removes every square with an id.
	TypeSquareDeleted EventType = "SquareDeleted"
)

// EventTypes lists every event type in declaration order.
var EventTypes = []EventType{TypeSquareCreated, TypeSquareMoved, TypeSquareDeleted}

// ParseEventType validates a type name.
func ParseEventType(name string) (EventType, error) {
	for _, t := range EventTypes {
		if string(t) == name {
			return t, nil
		}
	}
	return "", NewValidationError(fmt.Sprintf("unknown event type %q", name))
}

// Payload is the variant-specific body of an event.
//
// The interface is sealed: only the variants in this file implement it, so
// a type switch over them in the reducer covers every case.
type Payload interface {
	EventType() EventType
	isPayload()
}

// SquareCreated adds a square to the canvas.
type SquareCreated struct {
	SquareID string  `json:"squareId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Size     float64 `json:"size"`
	Color    string  `json:"color"`
}

// SquareMoved changes the position of a square.
type SquareMoved struct {
	SquareID string  `json:"squareId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// SquareDeleted removes squares by id.
type SquareDeleted struct {
	SquareID string `json:"squareId"`
}

func (SquareCreated) EventType() EventType { return TypeSquareCreated }
func (SquareMoved) EventType() EventType   { return TypeSquareMoved }
func (SquareDeleted) EventType() EventType { return TypeSquareDeleted }

func (SquareCreated) isPayload() {}
func (SquareMoved) isPayload()   {}
func (SquareDeleted) isPayload() {}

// ValidatePayload checks the structural rules every stored payload obeys:
// one of the value variants above, a non-empty UTF-8 square id, finite
// coordinates and a positive size. Pointer variants are rejected.
func ValidatePayload(p Payload) error {
	switch v := p.(type) {
	case SquareCreated:
		if err := checkSquareID(v.EventType(), v.SquareID); err != nil {
			return err
		}
		if !utf8.ValidString(v.Color) {
			return NewValidationError(fmt.Sprintf("%s: color is not valid UTF-8", v.EventType()))
		}
		if err := checkFinite(v.EventType(), v.X, v.Y); err != nil {
			return err
		}
		if math.IsNaN(v.Size) || math.IsInf(v.Size, 0) || v.Size <= 0 {
			return NewValidationError(fmt.Sprintf("%s: size must be a positive number, got %v", v.EventType(), v.Size))
		}
	case SquareMoved:
		if err := checkSquareID(v.EventType(), v.SquareID); err != nil {
			return err
		}
		return checkFinite(v.EventType(), v.X, v.Y)
	case SquareDeleted:
		return checkSquareID(v.EventType(), v.SquareID)
	case nil:
		return NewValidationError("payload is required")
	default:
		return NewValidationError(fmt.Sprintf("unsupported payload type %T", p))
	}
	return nil
}

func checkSquareID(t EventType, id string) error {
	switch {
	case id == "":
		return NewValidationError(fmt.Sprintf("%s: squareId is required", t))
	case !utf8.ValidString(id):
		return NewValidationError(fmt.Sprintf("%s: squareId is not valid UTF-8", t))
	}
	return nil
}

func checkFinite(t EventType, x, y float64) error {
	for _, f := range []float64{x, y} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return NewValidationError(fmt.Sprintf("%s: coordinates must be finite, got (%v, %v)", t, x, y))
		}
	}
	return nil
}

// UnmarshalPayload decodes JSON into the variant named by t.
// It checks shape only; ValidatePayload and internal/schema enforce field
// constraints before an event is written.
func UnmarshalPayload(t EventType, data []byte) (Payload, error) {
	switch t {
	case TypeSquareCreated:
		var p SquareCreated
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, NewValidationError(fmt.Sprintf("decode %s payload: %v", t, err))
		}
		return p, nil
	case TypeSquareMoved:
		var p SquareMoved
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, NewValidationError(fmt.Sprintf("decode %s payload: %v", t, err))
		}
		return p, nil
	case TypeSquareDeleted:
		var p SquareDeleted
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, NewValidationError(fmt.Sprintf("decode %s payload: %v", t, err))
		}
		return p, nil
	default:
		return nil, NewValidationError(fmt.Sprintf("unknown event type %q", t))
	}
}

// Event is an immutable fact in an aggregate's log.
type Event struct {
	ID          string
	AggregateID string
	Version     int64
	Payload     Payload
	Timestamp   time.Time
}

// Type returns the payload's event type, or "" for an event with no payload.
func (e Event) Type() EventType {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventType()
}

// VersionInfo projects the event onto its history entry.
func (e Event) VersionInfo() VersionInfo {
	return VersionInfo{ID: e.ID, Version: e.Version, Timestamp: e.Timestamp}
}

type eventJSON struct {
	ID          string          `json:"id"`
	AggregateID string          `json:"aggregateId"`
	Version     int64           `json:"version"`
	Type        EventType       `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
}

// MarshalJSON encodes the event with an explicit "type" tag.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("marshal event %s: missing payload", e.ID)
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.ID, err)
	}
	return json.Marshal(eventJSON{
		ID:          e.ID,
		AggregateID: e.AggregateID,
		Version:     e.Version,
		Type:        e.Payload.EventType(),
		Payload:     payload,
		Timestamp:   e.Timestamp,
	})
}

// UnmarshalJSON decodes the payload variant selected by the "type" tag.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw eventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := UnmarshalPayload(raw.Type, raw.Payload)
	if err != nil {
		return err
	}
	*e = Event{
		ID:          raw.ID,
		AggregateID: raw.AggregateID,
		Version:     raw.Version,
		Payload:     payload,
		Timestamp:   raw.Timestamp,
	}
	return nil
}
