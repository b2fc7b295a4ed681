package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PocketRelay/PocketRelayClientPlugin/hook"
	"github.com/PocketRelay/PocketRelayClientPlugin/internal/api"
	"github.com/PocketRelay/PocketRelayClientPlugin/internal/redirect"
)

var (
	// ErrBusy rejects calls that arrive while another transition is
	// still mutating the controller.
	ErrBusy = errors.New("another transition is in flight")

	// ErrAlreadyActive rejects connect attempts outside the resting
	// state.
	ErrAlreadyActive = errors.New("already connected or connecting")

	// ErrNotActive rejects disconnects when nothing is active.
	ErrNotActive = errors.New("not connected")
)

// Hooks is the resolver patch lifecycle the controller drives.
type Hooks interface {
	Install() error
	Uninstall() error
}

// Freezer runs an action while the process's other threads are suspended.
type Freezer interface {
	WithFrozen(action func() error) error
}

// Session is the collaborator carrying the actual server connection.
type Session interface {
	Establish(ctx context.Context, address string) error
	Teardown(ctx context.Context) error
}

// Snapshot is a copy of the controller's externally visible state.
type Snapshot struct {
	State State

	// Address is the connection URL of the current or in-flight attempt.
	Address string

	// Attempt identifies the connect attempt the other fields describe.
	Attempt string

	// Err is the failure the user should see, empty while healthy.
	Err string
}

// Controller drives the redirection lifecycle: it activates the hostname
// override, patches the resolver under a thread freeze, hands the session
// off to its collaborator and unwinds all of it again on disconnect.
type Controller struct {
	log     *slog.Logger
	table   *redirect.Table
	hooks   Hooks
	freezer Freezer
	session Session

	ctx  context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	state   State
	address string
	attempt string
	lastErr string
	busy    bool
	settled chan struct{}
}

// New returns a resting controller. Nothing is patched until Connect.
func New(log *slog.Logger, table *redirect.Table, hooks Hooks, freezer Freezer, session Session) *Controller {
	ctx, stop := context.WithCancel(context.Background())
	return &Controller{
		log:     log,
		table:   table,
		hooks:   hooks,
		freezer: freezer,
		session: session,
		ctx:     ctx,
		stop:    stop,
	}
}

// Snapshot returns a copy of the externally visible state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:   c.state,
		Address: c.address,
		Attempt: c.attempt,
		Err:     c.lastErr,
	}
}

// Connect redirects hostname lookups to address and brings the session up.
// The synchronous part resolves the target, activates the override and
// patches the resolver; the session establish settles in the background and
// its outcome lands in the snapshot. A second connect while one is active
// is rejected.
func (c *Controller) Connect(address string) error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state != Disconnected {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.busy = true
	c.mu.Unlock()

	if err := c.beginRedirect(address); err != nil {
		c.log.Error("failed to begin redirect",
			slog.String("address", address),
			slog.Any("error", err))
		c.mu.Lock()
		c.lastErr = err.Error()
		c.busy = false
		c.mu.Unlock()
		return err
	}

	attempt := uuid.NewString()
	settled := make(chan struct{})

	c.mu.Lock()
	c.setStateLocked(Connecting)
	c.address = address
	c.attempt = attempt
	c.lastErr = ""
	c.settled = settled
	c.busy = false
	c.mu.Unlock()

	go c.establish(attempt, address, settled)
	return nil
}

// Disconnect tears the session down and restores resolution. An in-flight
// connect attempt is waited out first so teardown never races establish.
//
// The game may keep using an address it resolved while the override was
// active; only its next lookup returns to the system result.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state != Connected && c.state != Connecting {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.busy = true
	settled := c.settled
	c.setStateLocked(Disconnecting)
	c.mu.Unlock()

	if settled != nil {
		<-settled
	}

	// Not the controller's own context: disconnect still has to unwind
	// cleanly when Close has already cancelled it.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := c.session.Teardown(ctx); err != nil {
		c.log.Warn("session teardown reported an error", slog.Any("error", err))
	}
	c.endRedirect()

	c.mu.Lock()
	c.setStateLocked(Disconnected)
	c.address = ""
	c.attempt = ""
	c.settled = nil
	c.busy = false
	c.mu.Unlock()

	c.log.Info("disconnected")
	return nil
}

// Close disconnects if anything is active and stops background work. Called
// when the plugin detaches.
func (c *Controller) Close() {
	if err := c.Disconnect(); err != nil && !errors.Is(err, ErrNotActive) {
		c.log.Warn("failed to disconnect during shutdown", slog.Any("error", err))
	}
	c.stop()
}

// beginRedirect resolves the target, points the table at it and patches the
// resolver under the thread freeze. On failure everything it did is rolled
// back before returning.
func (c *Controller) beginRedirect(address string) error {
	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()
	ip, err := resolveTarget(ctx, address)
	if err != nil {
		return err
	}
	if err := c.table.SetOverride(ip); err != nil {
		return err
	}
	if err := c.freezer.WithFrozen(c.hooks.Install); err != nil {
		c.table.ClearOverride()
		return fmt.Errorf("failed to patch resolver: %w", err)
	}
	c.log.Info("redirect active",
		slog.String("address", address),
		slog.String("target", ip.String()))
	return nil
}

// endRedirect removes the patch and the override. Removing an absent patch
// is not an error.
func (c *Controller) endRedirect() {
	err := c.freezer.WithFrozen(c.hooks.Uninstall)
	if err != nil && !errors.Is(err, hook.ErrNotInstalled) {
		c.log.Error("failed to restore resolver", slog.Any("error", err))
	}
	c.table.ClearOverride()
}

// establish settles one connect attempt. If a disconnect overtook the
// attempt its outcome is dropped and the disconnect path owns the cleanup.
func (c *Controller) establish(attempt, address string, settled chan struct{}) {
	defer close(settled)

	err := c.session.Establish(c.ctx, address)

	c.mu.Lock()
	if c.attempt != attempt || c.state != Connecting {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.setStateLocked(Disconnected)
		c.lastErr = err.Error()
		c.address = ""
		c.mu.Unlock()
		c.log.Error("failed to establish session",
			slog.String("address", address),
			slog.Any("error", err))
		c.endRedirect()
		return
	}
	c.setStateLocked(Connected)
	c.mu.Unlock()
	c.log.Info("connected", slog.String("address", address))
}

func (c *Controller) setStateLocked(next State) {
	if !allowedTransition(c.state, next) {
		c.log.Error("illegal state transition",
			slog.String("from", c.state.String()),
			slog.String("to", next.String()))
		return
	}
	c.log.Debug("connection state changed",
		slog.String("from", c.state.String()),
		slog.String("to", next.String()))
	c.state = next
}

// resolveTarget resolves the connection URL's host down to the IPv4 the
// table should hand the game. This runs before the patch goes in, so the
// system resolver is still untouched here.
func resolveTarget(ctx context.Context, address string) (net.IP, error) {
	u, err := api.ParseTarget(address)
	if err != nil {
		return nil, err
	}
	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, fmt.Errorf("server address %s is not IPv4", host)
	}
	addrs, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no IPv4 address for %s", host)
	}
	return addrs[0].To4(), nil
}
