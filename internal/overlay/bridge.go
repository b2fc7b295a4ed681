// Package overlay rides the game's frame presentation. A hook on the
// presentation routine forwards every frame to the original first, then
// gives the plugin surface a chance to draw and to apply user intents
// without ever blocking or breaking the render thread.
package overlay

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/PocketRelay/PocketRelayClientPlugin/hook"
	"github.com/PocketRelay/PocketRelayClientPlugin/internal/control"
)

// IntentKind classifies a user action submitted through the overlay.
type IntentKind int

const (
	// IntentSubmit asks for a connect to the carried address.
	IntentSubmit IntentKind = iota
	// IntentDisconnect asks for the active connection to end.
	IntentDisconnect
	// IntentClose hides the overlay until the hotkey shows it again.
	IntentClose
)

// Intent is one queued user action.
type Intent struct {
	Kind    IntentKind
	Address string
}

// Renderer draws the overlay surface for one frame.
type Renderer interface {
	Render(snap control.Snapshot) error
}

// Controller is the slice of the redirection controller the overlay needs.
type Controller interface {
	Connect(address string) error
	Disconnect() error
	Snapshot() control.Snapshot
}

// intentBacklog bounds the queue of pending user actions. The queue drains
// every frame, so it only fills when frames stop coming.
const intentBacklog = 16

// Bridge owns the presentation hook and the intent queue. It stays attached
// for the life of the process regardless of connection state.
type Bridge struct {
	log      *slog.Logger
	ctrl     Controller
	renderer Renderer
	hotkey   func() bool

	intents chan Intent
	visible atomic.Bool
	faults  *rate.Limiter

	callback uintptr
	hk       *hook.Hook
	forward  func(device, src, dst, wnd, dirty uintptr) uintptr
}

// NewBridge wires the overlay against ctrl. The native callback is created
// once here and reused across attach cycles, those registrations are never
// released. hotkey reports whether the show combination is held and may be
// nil.
func NewBridge(log *slog.Logger, ctrl Controller, renderer Renderer, hotkey func() bool) *Bridge {
	b := &Bridge{
		log:      log,
		ctrl:     ctrl,
		renderer: renderer,
		hotkey:   hotkey,
		intents:  make(chan Intent, intentBacklog),
		faults:   rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	b.visible.Store(true)
	b.callback = syscall.NewCallback(b.onPresent)
	return b
}

// Attach installs the presentation hook at site. The caller runs this under
// a thread freeze so the forward chain is in place before any frame can
// reach the replacement.
func (b *Bridge) Attach(site uintptr) error {
	if b.hk != nil {
		return hook.ErrAlreadyInstalled
	}
	hk, err := hook.InstallAddr(site, b.callback)
	if err != nil {
		return err
	}
	b.hk = hk
	b.forward = func(device, src, dst, wnd, dirty uintptr) uintptr {
		r, _, _ := hk.Call(device, src, dst, wnd, dirty)
		return r
	}
	b.log.Debug("presentation hook attached", slog.String("site", fmt.Sprintf("%#x", site)))
	return nil
}

// Uninstall removes the presentation hook. The caller runs this under a
// thread freeze, like Attach.
func (b *Bridge) Uninstall() error {
	if b.hk == nil {
		return hook.ErrNotInstalled
	}
	b.forward = nil
	err := b.hk.Uninstall()
	b.hk = nil
	return err
}

// Post queues a user intent without blocking. It reports whether the intent
// was accepted; a full queue drops the intent.
func (b *Bridge) Post(it Intent) bool {
	select {
	case b.intents <- it:
		return true
	default:
		b.logFault("overlay intent dropped", slog.Int("kind", int(it.Kind)))
		return false
	}
}

// Visible reports whether the overlay surface is currently shown.
func (b *Bridge) Visible() bool {
	return b.visible.Load()
}

// onPresent replaces the game's presentation routine. The original always
// runs first and exactly once; whatever the overlay does afterwards cannot
// change the frame's result.
func (b *Bridge) onPresent(device, src, dst, wnd, dirty uintptr) uintptr {
	forward := b.forward
	if forward == nil {
		return 0
	}
	r := forward(device, src, dst, wnd, dirty)
	b.frame()
	return r
}

// frame runs the overlay's share of one frame. Failures are contained here,
// the render thread never sees them.
func (b *Bridge) frame() {
	defer func() {
		if v := recover(); v != nil {
			b.logFault("overlay frame panicked", slog.Any("panic", v))
		}
	}()

	if b.hotkey != nil && b.hotkey() {
		b.visible.Store(true)
	}
	b.drainIntents()

	if !b.visible.Load() || b.renderer == nil {
		return
	}
	if err := b.renderer.Render(b.ctrl.Snapshot()); err != nil {
		b.logFault("overlay draw failed", slog.Any("error", err))
	}
}

// drainIntents applies everything queued since the last frame. Connection
// work goes to its own goroutine, a frame must never wait on the network.
func (b *Bridge) drainIntents() {
	for {
		select {
		case it := <-b.intents:
			b.dispatch(it)
		default:
			return
		}
	}
}

func (b *Bridge) dispatch(it Intent) {
	switch it.Kind {
	case IntentClose:
		b.visible.Store(false)
	case IntentSubmit:
		go func() {
			if err := b.ctrl.Connect(it.Address); err != nil {
				b.log.Warn("connect rejected",
					slog.String("address", it.Address),
					slog.Any("error", err))
			}
		}()
	case IntentDisconnect:
		go func() {
			if err := b.ctrl.Disconnect(); err != nil {
				b.log.Warn("disconnect rejected", slog.Any("error", err))
			}
		}()
	}
}

func (b *Bridge) logFault(msg string, args ...any) {
	if b.faults.Allow() {
		b.log.Error(msg, args...)
	}
}
