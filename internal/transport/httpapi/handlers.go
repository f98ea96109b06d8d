package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/canvaslog/internal/canvas"
	"github.com/roach88/canvaslog/internal/coordinator"
)

// AppendEventRequest is the body of POST /canvases/{id}/events.
type AppendEventRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Version int64           `json:"version"`
}

// CreateSquareRequest is the body of POST /canvases/{id}/squares.
type CreateSquareRequest struct {
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	Size           float64 `json:"size"`
	Color          string  `json:"color"`
	CurrentVersion *int64  `json:"currentVersion"`
}

// MoveSquareRequest is the body of POST /canvases/{id}/squares/{squareID}/move.
type MoveSquareRequest struct {
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	CurrentVersion *int64  `json:"currentVersion"`
}

// CreateSquareResponse adds the minted square id to the append result.
type CreateSquareResponse struct {
	coordinator.AppendResult
	SquareID string `json:"squareId"`
}

// handleAppendEvent appends a typed event at an explicit version.
// POST /canvases/{aggregateID}/events
func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	var req AppendEventRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.canvases.AppendRaw(r.Context(), chi.URLParam(r, "aggregateID"), req.Type, req.Payload, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleCreateSquare mints a square id and appends SquareCreated at
// currentVersion+1.
// POST /canvases/{aggregateID}/squares
func (s *Server) handleCreateSquare(w http.ResponseWriter, r *http.Request) {
	var req CreateSquareRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.CurrentVersion == nil {
		s.writeError(w, r, canvas.NewValidationError("currentVersion is required"))
		return
	}

	payload := canvas.SquareCreated{
		SquareID: s.squareIDs(),
		X:        req.X,
		Y:        req.Y,
		Size:     req.Size,
		Color:    req.Color,
	}
	res, err := s.canvases.Append(r.Context(), chi.URLParam(r, "aggregateID"), payload, *req.CurrentVersion+1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateSquareResponse{AppendResult: res, SquareID: payload.SquareID})
}

// handleMoveSquare appends SquareMoved at currentVersion+1.
// POST /canvases/{aggregateID}/squares/{squareID}/move
func (s *Server) handleMoveSquare(w http.ResponseWriter, r *http.Request) {
	var req MoveSquareRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.CurrentVersion == nil {
		s.writeError(w, r, canvas.NewValidationError("currentVersion is required"))
		return
	}

	payload := canvas.SquareMoved{SquareID: chi.URLParam(r, "squareID"), X: req.X, Y: req.Y}
	res, err := s.canvases.Append(r.Context(), chi.URLParam(r, "aggregateID"), payload, *req.CurrentVersion+1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleDeleteSquare appends SquareDeleted at currentVersion+1.
// DELETE /canvases/{aggregateID}/squares/{squareID}?currentVersion=N
func (s *Server) handleDeleteSquare(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("currentVersion")
	if raw == "" {
		s.writeError(w, r, canvas.NewValidationError("currentVersion is required"))
		return
	}
	current, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.writeError(w, r, canvas.NewValidationError(fmt.Sprintf("invalid currentVersion %q", raw)))
		return
	}

	payload := canvas.SquareDeleted{SquareID: chi.URLParam(r, "squareID")}
	res, err := s.canvases.Append(r.Context(), chi.URLParam(r, "aggregateID"), payload, current+1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleState returns the latest state, or the state at ?version=N.
// GET /canvases/{aggregateID}/state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	aggregateID := chi.URLParam(r, "aggregateID")

	var (
		state canvas.CanvasState
		err   error
	)
	if raw := r.URL.Query().Get("version"); raw != "" {
		version, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			s.writeError(w, r, canvas.NewValidationError(fmt.Sprintf("invalid version %q", raw)))
			return
		}
		state, err = s.canvases.StateAt(r.Context(), aggregateID, version)
	} else {
		state, err = s.canvases.State(r.Context(), aggregateID)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleVersions returns the version history.
// GET /canvases/{aggregateID}/versions
func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	history, err := s.canvases.VersionHistory(r.Context(), chi.URLParam(r, "aggregateID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// decode reads a JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, canvas.NewValidationError(fmt.Sprintf("invalid request body: %v", err)))
		return false
	}
	return true
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error code, message and structured details.
type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// statusFor maps an error code to an HTTP status.
func statusFor(code canvas.ErrorCode) int {
	switch code {
	case canvas.ErrCodeValidation:
		return http.StatusBadRequest
	case canvas.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	detail := ErrorDetail{Code: "INTERNAL", Message: err.Error()}

	var ce *canvas.Error
	if errors.As(err, &ce) {
		detail = ErrorDetail{Code: string(ce.Code), Message: ce.Message, Details: ce.Details}
	}
	status := statusFor(canvas.CodeOf(err))

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, ErrorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
