// Package snapshot persists the agent's stores as whole JSON documents.
//
// Every store is rewritten in full after each mutation. Durability is
// best-effort: a failed write is logged by the caller and the in-memory
// state stays authoritative. Documents are validated against a JSON schema
// on load, and a document that fails validation is treated as absent.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goccy/go-json"
)

var (
	// ErrNotFound is returned by Backend.Load for a name that was never saved.
	ErrNotFound = errors.New("snapshot: document not found")
	// ErrMalformed is returned by Writer.Load when a stored document does not
	// decode or fails schema validation.
	ErrMalformed = errors.New("snapshot: malformed document")
)

// Backend stores named documents.
type Backend interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
	Close() error
}

// Writer encodes documents and hands them to a Backend. It satisfies the
// Saver interfaces of the domain stores.
type Writer struct {
	backend Backend

	mu     sync.Mutex
	writes map[string]int
}

// NewWriter wraps backend.
func NewWriter(backend Backend) *Writer {
	return &Writer{backend: backend, writes: make(map[string]int)}
}

// Save encodes v and stores it under name.
func (w *Writer) Save(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("snapshot: encode %s: %w", name, err)
	}
	if err := w.backend.Save(ctx, name, data); err != nil {
		return fmt.Errorf("snapshot: save %s: %w", name, err)
	}
	w.mu.Lock()
	w.writes[name]++
	w.mu.Unlock()
	return nil
}

// Load decodes the document stored under name into v. It returns false
// without error when nothing was stored, and ErrMalformed when the stored
// bytes are not a valid document; v is left untouched in both cases.
func (w *Writer) Load(ctx context.Context, name string, v any) (bool, error) {
	data, err := w.backend.Load(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("snapshot: load %s: %w", name, err)
	}
	if err := validate(name, data); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrMalformed, name, err)
	}
	return true, nil
}

// Restore loads name into v and reports whether anything was restored. A
// malformed document is logged and skipped, leaving the store empty.
func (w *Writer) Restore(ctx context.Context, name string, v any) (bool, error) {
	ok, err := w.Load(ctx, name, v)
	if errors.Is(err, ErrMalformed) {
		slog.Warn("snapshot: discarding malformed document", "name", name, "err", err)
		return false, nil
	}
	return ok, err
}

// Writes returns how many successful saves each document has had since
// startup.
func (w *Writer) Writes() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]int, len(w.writes))
	for k, v := range w.writes {
		out[k] = v
	}
	return out
}

// Close closes the backend.
func (w *Writer) Close() error {
	return w.backend.Close()
}
