package redirect

import (
	"fmt"
	"log/slog"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/time/rate"

	"github.com/PocketRelay/PocketRelayClientPlugin/hook"
)

// Longest hostname read out of the game's buffer.
const maxNameLen = 255

// Resolver substitutes resolution results for the override hostname and
// chains every other lookup to the real routine.
type Resolver struct {
	log    *slog.Logger
	table  *Table
	record *hostentRecord
	faults *rate.Limiter

	// chain forwards a lookup to the original routine. It is assigned while
	// the hook is installed under the thread freeze, so the replacement
	// never observes it mid-change.
	chain func(name uintptr) uintptr

	callback uintptr
	target   uintptr
	hk       *hook.Hook
}

// NewResolver builds a resolver for table. The native callback is created
// once and reused across installs.
func NewResolver(table *Table, log *slog.Logger) *Resolver {
	r := &Resolver{
		log:    log,
		table:  table,
		record: newHostentRecord(table.host()),
		faults: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	r.callback = syscall.NewCallback(r.resolve)
	return r
}

// resolve is the gethostbyname replacement. name points at the queried NUL
// terminated string.
func (r *Resolver) resolve(name uintptr) uintptr {
	defer func() {
		if rec := recover(); rec != nil && r.faults.Allow() {
			r.log.Error("resolver hook panicked", slog.Any("panic", rec))
		}
	}()

	queried := goString(name)
	if ip, ok := r.table.Override(); ok && r.table.Matches(queried) {
		r.log.Debug("substituting host lookup",
			slog.String("host", queried),
			slog.String("address", ip.String()))
		return r.record.set(ip)
	}
	if r.chain == nil {
		return 0
	}
	return r.chain(name)
}

// Install patches the resolution routine. The caller is expected to hold the
// process's other threads frozen.
func (r *Resolver) Install() error {
	if r.target == 0 {
		target, err := locateResolutionTarget(r.log)
		if err != nil {
			return fmt.Errorf("failed to locate resolution routine: %w", err)
		}
		r.target = target
	}
	hk, err := hook.InstallAddr(r.target, r.callback)
	if err != nil {
		return err
	}
	r.hk = hk
	r.chain = func(name uintptr) uintptr {
		ret, _, _ := hk.Call(name)
		return ret
	}
	return nil
}

// Uninstall restores the original routine bytes.
func (r *Resolver) Uninstall() error {
	if r.hk == nil {
		return hook.ErrNotInstalled
	}
	if err := r.hk.Uninstall(); err != nil {
		return err
	}
	r.hk = nil
	r.chain = nil
	return nil
}

// Installed reports whether the resolution patch is currently applied.
func (r *Resolver) Installed() bool {
	return r.hk != nil && r.hk.Installed()
}

// goString copies a NUL terminated C string out of game memory.
func goString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	buf := make([]byte, 0, 32)
	for i := uintptr(0); i < maxNameLen; i++ {
		b := *(*byte)(unsafe.Pointer(ptr + i))
		if b == 0 {
			break
		}
		buf = append(buf, b)
	}
	return string(buf)
}
