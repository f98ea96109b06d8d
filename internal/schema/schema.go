// Package schema validates event payloads against CUE definitions.
//
// Each event type has a closed definition in payload.cue (#SquareCreated,
// #SquareMoved, #SquareDeleted). A payload is valid when unifying it with
// its definition yields a concrete value without errors. Failures are
// returned as canvas validation errors carrying the offending path.
package schema

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/canvaslog/internal/canvas"
)

//go:embed payload.cue
var payloadCUE string

// Validator checks payloads against the compiled definitions.
//
// Thread-safety: a cue.Context is not safe for concurrent use, so every
// operation holds mu.
type Validator struct {
	mu   sync.Mutex
	ctx  *cue.Context
	defs map[canvas.EventType]cue.Value
}

// New compiles the embedded definitions.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(payloadCUE, cue.Filename("payload.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}

	defs := make(map[canvas.EventType]cue.Value, len(canvas.EventTypes))
	for _, t := range canvas.EventTypes {
		def := root.LookupPath(cue.ParsePath("#" + string(t)))
		if !def.Exists() {
			return nil, fmt.Errorf("payload schema: missing definition #%s", t)
		}
		defs[t] = def
	}

	return &Validator{ctx: ctx, defs: defs}, nil
}

// MustNew is like New but panics on error.
// The schema is embedded, so an error here is a build defect.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// Check validates a typed payload.
func (v *Validator) Check(p canvas.Payload) error {
	if p == nil {
		return canvas.NewValidationError("payload is required")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	def, ok := v.defs[p.EventType()]
	if !ok {
		return canvas.NewValidationError(fmt.Sprintf("unknown event type %q", p.EventType()))
	}
	val := v.ctx.Encode(p)
	if err := val.Err(); err != nil {
		return validationError(p.EventType(), err)
	}
	return unifyConcrete(p.EventType(), def, val)
}

// Decode validates JSON for the named event type and returns the typed payload.
func (v *Validator) Decode(eventType string, data []byte) (canvas.Payload, error) {
	t, err := canvas.ParseEventType(eventType)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, canvas.NewValidationError(fmt.Sprintf("%s payload is required", t))
	}

	if err := v.checkJSON(t, data); err != nil {
		return nil, err
	}
	return canvas.UnmarshalPayload(t, data)
}

func (v *Validator) checkJSON(t canvas.EventType, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	val := v.ctx.CompileBytes(data, cue.Filename("payload.json"))
	if err := val.Err(); err != nil {
		return validationError(t, err)
	}
	return unifyConcrete(t, v.defs[t], val)
}

func unifyConcrete(t canvas.EventType, def, val cue.Value) error {
	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return validationError(t, err)
	}
	return nil
}

// validationError converts the first CUE error into a canvas validation error.
func validationError(t canvas.EventType, err error) error {
	ve := canvas.NewValidationError(fmt.Sprintf("invalid %s payload: %v", t, err))
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return ve
	}
	first := errs[0]
	ve.Message = fmt.Sprintf("invalid %s payload: %s", t, first.Error())
	if path := first.Path(); len(path) > 0 {
		ve.Details = map[string]string{"path": strings.Join(path, ".")}
	}
	return ve
}
