package detector

import (
	"sync"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/annotate"
)

// Handle loads a model at most once and hands the same result to every
// caller for the rest of the process lifetime. A failed load is never
// retried.
type Handle struct {
	once  sync.Once
	load  func() (*Model, error)
	model *Model
	err   error
}

// NewHandle returns a handle that loads path with opts on first use.
func NewHandle(path string, opts Options) *Handle {
	return NewHandleFunc(func() (*Model, error) {
		return Load(path, opts)
	})
}

// NewHandleFunc returns a handle around a custom loader.
func NewHandleFunc(load func() (*Model, error)) *Handle {
	return &Handle{load: load}
}

// Model returns the loaded model or the load error.
func (h *Handle) Model() (*Model, error) {
	h.once.Do(func() {
		h.model, h.err = h.load()
		if h.err == nil && h.model == nil {
			h.err = &LoadError{Kind: ErrModelCorrupt}
		}
	})
	return h.model, h.err
}

// Processor builds a frame processor around the model. When the model failed
// to load it returns a disabled processor together with the load error.
func (h *Handle) Processor(opts ...annotate.Option) (*annotate.Processor, error) {
	model, err := h.Model()
	if err != nil {
		return annotate.NewProcessor(nil, opts...), err
	}
	return annotate.NewProcessor(model, opts...), nil
}

// Close releases the model if it was loaded. A handle closed before first use
// never loads; Model then reports ErrHandleClosed.
func (h *Handle) Close() error {
	loaded := true
	h.once.Do(func() {
		loaded = false
		h.err = ErrHandleClosed
	})
	if !loaded || h.err != nil {
		return nil
	}
	return h.model.Close()
}
