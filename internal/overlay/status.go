package overlay

import (
	"log/slog"
	"sync"

	"github.com/PocketRelay/PocketRelayClientPlugin/internal/control"
)

// StatusRenderer is the headless overlay surface. It reports connection
// state changes through the log instead of drawing; frames with an
// unchanged snapshot stay silent.
type StatusRenderer struct {
	log *slog.Logger

	mu   sync.Mutex
	last control.Snapshot
	seen bool
}

func NewStatusRenderer(log *slog.Logger) *StatusRenderer {
	return &StatusRenderer{log: log}
}

func (r *StatusRenderer) Render(snap control.Snapshot) error {
	r.mu.Lock()
	changed := !r.seen || snap != r.last
	r.last = snap
	r.seen = true
	r.mu.Unlock()
	if !changed {
		return nil
	}

	args := []any{slog.String("state", snap.State.String())}
	if snap.Address != "" {
		args = append(args, slog.String("address", snap.Address))
	}
	if snap.Err != "" {
		args = append(args, slog.String("error", snap.Err))
	}
	r.log.Info("connection state", args...)
	return nil
}
