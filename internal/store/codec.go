package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/canvaslog/internal/canvas"
)

// EncodePayload converts a payload to JSON text for storage.
func EncodePayload(p canvas.Payload) (string, error) {
	if p == nil {
		return "", errors.New("event has no payload")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload parses a stored payload. A row that fails to decode is
// corruption, not caller input, so the validation code is not kept.
func DecodePayload(eventType, data string) (canvas.Payload, error) {
	p, err := canvas.UnmarshalPayload(canvas.EventType(eventType), []byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %v", err)
	}
	return p, nil
}

// EncodeState converts a state to JSON text and its canonical digest.
// The text keeps every string exactly as the reducer produced it.
func EncodeState(s canvas.CanvasState) (state, digest string, err error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", "", fmt.Errorf("marshal state: %w", err)
	}
	digest, err = canvas.StateDigest(s)
	if err != nil {
		return "", "", fmt.Errorf("digest state: %w", err)
	}
	return string(data), digest, nil
}

// DecodeState parses a stored state and checks the digest of the decoded
// value against the stored one.
func DecodeState(data, digest string) (canvas.CanvasState, error) {
	var s canvas.CanvasState
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return canvas.CanvasState{}, fmt.Errorf("unmarshal state: %w", err)
	}
	if s.Squares == nil {
		s.Squares = []canvas.Square{}
	}

	got, err := canvas.StateDigest(s)
	if err != nil {
		return canvas.CanvasState{}, fmt.Errorf("digest state: %w", err)
	}
	if got != digest {
		return canvas.CanvasState{}, fmt.Errorf("state digest mismatch: stored %s, computed %s", digest, got)
	}
	return s, nil
}
