package agent

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/reconcile"
)

// FrameType identifies a Frame.
type FrameType string

const (
	FrameTextDelta     FrameType = "text_delta"
	FrameAttemptFailed FrameType = "attempt_failed"
	FramePatchProposed FrameType = "patch_proposed"
	FrameMessage       FrameType = "message"
	FrameError         FrameType = "error"
	FrameDone          FrameType = "done"
)

// Frame is one event of an agent turn.
type Frame struct {
	Type     FrameType           `json:"type"`
	Text     string              `json:"text,omitempty"`
	Attempt  int                 `json:"attempt,omitempty"`
	Error    string              `json:"error,omitempty"`
	Code     string              `json:"code,omitempty"`
	PatchID  string              `json:"patchId,omitempty"`
	Summary  *domain.GraphDiff   `json:"summary,omitempty"`
	Warnings []reconcile.Warning `json:"warnings,omitempty"`
}

// Emitter receives the frames of a turn in order.
type Emitter interface {
	Emit(Frame) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Frame) error

func (f EmitterFunc) Emit(fr Frame) error {
	return f(fr)
}

// Discard drops every frame.
var Discard Emitter = EmitterFunc(func(Frame) error { return nil })

// JSONEmitter writes frames as newline-delimited JSON and flushes after
// each one when the writer supports it.
type JSONEmitter struct {
	mu      sync.Mutex
	encoder *json.Encoder
	flusher http.Flusher
}

// NewJSONEmitter creates an emitter writing to w.
func NewJSONEmitter(w io.Writer) *JSONEmitter {
	e := &JSONEmitter{encoder: json.NewEncoder(w)}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

func (e *JSONEmitter) Emit(fr Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.encoder.Encode(fr); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// Recorder keeps every frame; useful for tests and the CLI.
type Recorder struct {
	mu     sync.Mutex
	Frames []Frame
}

func (r *Recorder) Emit(fr Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Frames = append(r.Frames, fr)
	return nil
}

// Types returns the frame types in order.
func (r *Recorder) Types() []FrameType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FrameType, len(r.Frames))
	for i, f := range r.Frames {
		out[i] = f.Type
	}
	return out
}

// Find returns the first frame of type t.
func (r *Recorder) Find(t FrameType) (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.Frames {
		if f.Type == t {
			return f, true
		}
	}
	return Frame{}, false
}
