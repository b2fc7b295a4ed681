package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/ttacon/chalk"
)

// consoleHandler renders compact colored lines for the debug console.
type consoleHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	color  bool
	prefix []string
	groups []string
}

func newConsoleHandler(w io.Writer, level slog.Leveler, color bool) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: level, color: color}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	if !r.Time.IsZero() {
		sb.WriteString(r.Time.Format("15:04:05.000"))
		sb.WriteByte(' ')
	}
	sb.WriteString(h.levelTag(r.Level))
	sb.WriteByte(' ')
	sb.WriteString(r.Message)
	for _, rendered := range h.prefix {
		sb.WriteByte(' ')
		sb.WriteString(rendered)
	}
	r.Attrs(func(a slog.Attr) bool {
		sb.WriteByte(' ')
		sb.WriteString(h.renderAttr(a))
		return true
	})
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *consoleHandler) levelTag(level slog.Level) string {
	tag := level.String()
	if !h.color {
		return tag
	}
	switch {
	case level >= slog.LevelError:
		return chalk.Red.Color(tag)
	case level >= slog.LevelWarn:
		return chalk.Yellow.Color(tag)
	case level >= slog.LevelInfo:
		return chalk.Green.Color(tag)
	default:
		return chalk.Cyan.Color(tag)
	}
}

func (h *consoleHandler) renderAttr(a slog.Attr) string {
	key := a.Key
	if len(h.groups) > 0 {
		key = strings.Join(h.groups, ".") + "." + key
	}
	return key + "=" + a.Value.String()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	out := *h
	out.prefix = append([]string(nil), h.prefix...)
	for _, a := range attrs {
		out.prefix = append(out.prefix, h.renderAttr(a))
	}
	return &out
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := *h
	out.groups = append(append([]string(nil), h.groups...), name)
	return &out
}
