package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PocketRelay/PocketRelayClientPlugin/hook"
	"github.com/PocketRelay/PocketRelayClientPlugin/internal/redirect"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeHooks struct {
	mu         sync.Mutex
	installed  bool
	installs   int
	uninstalls int
	installErr error
}

func (f *fakeHooks) Install() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installErr != nil {
		return f.installErr
	}
	if f.installed {
		return hook.ErrAlreadyInstalled
	}
	f.installed = true
	f.installs++
	return nil
}

func (f *fakeHooks) Uninstall() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.installed {
		return hook.ErrNotInstalled
	}
	f.installed = false
	f.uninstalls++
	return nil
}

func (f *fakeHooks) state() (installed bool, installs, uninstalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.installed, f.installs, f.uninstalls
}

type fakeFreezer struct {
	mu     sync.Mutex
	frozen int
	gate   chan struct{}
}

func (f *fakeFreezer) WithFrozen(action func() error) error {
	f.mu.Lock()
	gate := f.gate
	f.frozen++
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return action()
}

func (f *fakeFreezer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frozen
}

type fakeSession struct {
	mu           sync.Mutex
	establishErr error
	block        chan struct{}
	established  int
	toredown     int
}

func (f *fakeSession) Establish(ctx context.Context, address string) error {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.established++
	return f.establishErr
}

func (f *fakeSession) Teardown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toredown++
	return nil
}

func (f *fakeSession) counts() (established, toredown int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.established, f.toredown
}

func newTestController() (*Controller, *redirect.Table, *fakeHooks, *fakeFreezer, *fakeSession) {
	table := redirect.NewTable(redirect.Hostname)
	hooks := &fakeHooks{}
	freezer := &fakeFreezer{}
	sess := &fakeSession{}
	c := New(discardLog(), table, hooks, freezer, sess)
	return c, table, hooks, freezer, sess
}

// waitSettled blocks until the in-flight connect attempt, if any, has fully
// settled, including its rollback work.
func waitSettled(t *testing.T, c *Controller) {
	t.Helper()
	c.mu.Lock()
	settled := c.settled
	c.mu.Unlock()
	if settled == nil {
		return
	}
	select {
	case <-settled:
	case <-time.After(5 * time.Second):
		t.Fatal("connect attempt never settled")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConnectLifecycle(t *testing.T) {
	c, table, hooks, _, sess := newTestController()

	if err := c.Connect("203.0.113.5"); err != nil {
		t.Fatalf("Connect returned %v", err)
	}

	// The override and the patch are active before connect returns.
	ip, ok := table.Override()
	if !ok || ip.String() != "203.0.113.5" {
		t.Fatalf("override = %v, %v, want 203.0.113.5 active", ip, ok)
	}
	if installed, _, _ := hooks.state(); !installed {
		t.Fatal("resolver not patched after connect")
	}

	waitSettled(t, c)
	snap := c.Snapshot()
	if snap.State != Connected {
		t.Fatalf("state = %s, want Connected", snap.State)
	}
	if snap.Address != "203.0.113.5" {
		t.Errorf("address = %q, want 203.0.113.5", snap.Address)
	}
	if snap.Attempt == "" {
		t.Error("connected snapshot has no attempt id")
	}
	if snap.Err != "" {
		t.Errorf("unexpected error in snapshot: %q", snap.Err)
	}

	// A second connect while active is rejected without side effects.
	if err := c.Connect("203.0.113.9"); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Connect returned %v, want ErrAlreadyActive", err)
	}
	if got := c.Snapshot(); got.Address != "203.0.113.5" || got.State != Connected {
		t.Fatalf("rejected connect mutated state: %+v", got)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect returned %v", err)
	}
	if got := c.Snapshot(); got.State != Disconnected || got.Address != "" || got.Attempt != "" {
		t.Fatalf("snapshot after disconnect = %+v", got)
	}
	if _, ok := table.Override(); ok {
		t.Error("override still active after disconnect")
	}
	if installed, _, uninstalls := hooks.state(); installed || uninstalls != 1 {
		t.Errorf("patch state after disconnect: installed=%v uninstalls=%d", installed, uninstalls)
	}
	if _, toredown := sess.counts(); toredown != 1 {
		t.Errorf("teardown count = %d, want 1", toredown)
	}
}

func TestConnectPatchFailureAborts(t *testing.T) {
	c, table, hooks, _, sess := newTestController()
	hooks.installErr = errors.New("write denied")

	err := c.Connect("203.0.113.5")
	if err == nil {
		t.Fatal("Connect succeeded despite patch failure")
	}
	if !strings.Contains(err.Error(), "write denied") {
		t.Errorf("error %q does not carry the patch failure", err)
	}

	snap := c.Snapshot()
	if snap.State != Disconnected {
		t.Fatalf("state = %s, want Disconnected", snap.State)
	}
	if snap.Err == "" {
		t.Error("snapshot does not surface the failure")
	}
	if _, ok := table.Override(); ok {
		t.Error("override left active after aborted connect")
	}
	if established, _ := sess.counts(); established != 0 {
		t.Error("session establish attempted despite aborted connect")
	}
}

func TestConnectSessionFailureRollsBack(t *testing.T) {
	c, table, hooks, _, sess := newTestController()
	sess.establishErr = errors.New("server lookup refused")

	if err := c.Connect("203.0.113.5"); err != nil {
		t.Fatalf("Connect returned %v", err)
	}
	waitSettled(t, c)

	snap := c.Snapshot()
	if snap.State != Disconnected {
		t.Fatalf("state = %s, want Disconnected", snap.State)
	}
	if !strings.Contains(snap.Err, "server lookup refused") {
		t.Errorf("snapshot error = %q, want the establish failure", snap.Err)
	}
	if _, ok := table.Override(); ok {
		t.Error("override left active after failed establish")
	}
	if installed, _, uninstalls := hooks.state(); installed || uninstalls != 1 {
		t.Errorf("patch state after failed establish: installed=%v uninstalls=%d", installed, uninstalls)
	}
}

func TestConnectRejectedWhileBusy(t *testing.T) {
	c, _, _, freezer, _ := newTestController()
	freezer.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- c.Connect("203.0.113.5") }()
	waitUntil(t, func() bool { return freezer.count() == 1 })

	if err := c.Connect("203.0.113.5"); !errors.Is(err, ErrBusy) {
		t.Errorf("Connect during transition returned %v, want ErrBusy", err)
	}
	if err := c.Disconnect(); !errors.Is(err, ErrBusy) {
		t.Errorf("Disconnect during transition returned %v, want ErrBusy", err)
	}

	close(freezer.gate)
	if err := <-done; err != nil {
		t.Fatalf("blocked Connect returned %v", err)
	}
	waitSettled(t, c)
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect returned %v", err)
	}
}

func TestDisconnectWaitsForInflightConnect(t *testing.T) {
	c, table, hooks, _, sess := newTestController()
	sess.block = make(chan struct{})

	if err := c.Connect("203.0.113.5"); err != nil {
		t.Fatalf("Connect returned %v", err)
	}
	if snap := c.Snapshot(); snap.State != Connecting {
		t.Fatalf("state = %s, want Connecting", snap.State)
	}

	done := make(chan error, 1)
	go func() { done <- c.Disconnect() }()
	waitUntil(t, func() bool { return c.Snapshot().State == Disconnecting })

	select {
	case err := <-done:
		t.Fatalf("Disconnect returned %v before the attempt settled", err)
	default:
	}

	close(sess.block)
	if err := <-done; err != nil {
		t.Fatalf("Disconnect returned %v", err)
	}

	if snap := c.Snapshot(); snap.State != Disconnected {
		t.Fatalf("state = %s, want Disconnected", snap.State)
	}
	if _, ok := table.Override(); ok {
		t.Error("override still active after disconnect")
	}
	if installed, _, uninstalls := hooks.state(); installed || uninstalls != 1 {
		t.Errorf("patch state after disconnect: installed=%v uninstalls=%d", installed, uninstalls)
	}
	if _, toredown := sess.counts(); toredown != 1 {
		t.Errorf("teardown count = %d, want 1", toredown)
	}
}

func TestDisconnectWhenIdle(t *testing.T) {
	c, _, _, freezer, sess := newTestController()
	if err := c.Disconnect(); !errors.Is(err, ErrNotActive) {
		t.Fatalf("Disconnect returned %v, want ErrNotActive", err)
	}
	if freezer.count() != 0 {
		t.Error("idle disconnect froze threads")
	}
	if _, toredown := sess.counts(); toredown != 0 {
		t.Error("idle disconnect tore the session down")
	}
}

func TestReconnectAfterDisconnect(t *testing.T) {
	c, _, hooks, _, _ := newTestController()

	if err := c.Connect("203.0.113.5"); err != nil {
		t.Fatalf("first Connect returned %v", err)
	}
	waitSettled(t, c)
	first := c.Snapshot().Attempt
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect returned %v", err)
	}

	if err := c.Connect("203.0.113.6"); err != nil {
		t.Fatalf("second Connect returned %v", err)
	}
	waitSettled(t, c)
	snap := c.Snapshot()
	if snap.State != Connected || snap.Address != "203.0.113.6" {
		t.Fatalf("snapshot after reconnect = %+v", snap)
	}
	if snap.Attempt == first {
		t.Error("reconnect reused the previous attempt id")
	}
	if _, installs, _ := hooks.state(); installs != 2 {
		t.Errorf("install count = %d, want 2", installs)
	}
}

func TestConnectRejectsInvalidAddress(t *testing.T) {
	c, table, _, freezer, _ := newTestController()

	if err := c.Connect("ftp://203.0.113.5"); err == nil {
		t.Fatal("Connect accepted an unusable address")
	}
	if snap := c.Snapshot(); snap.State != Disconnected || snap.Err == "" {
		t.Fatalf("snapshot after rejected address = %+v", snap)
	}
	if _, ok := table.Override(); ok {
		t.Error("override set for an unusable address")
	}
	if freezer.count() != 0 {
		t.Error("threads frozen for an unusable address")
	}
}

func TestCloseDisconnects(t *testing.T) {
	c, table, hooks, _, sess := newTestController()

	if err := c.Connect("203.0.113.5"); err != nil {
		t.Fatalf("Connect returned %v", err)
	}
	waitSettled(t, c)

	c.Close()
	if snap := c.Snapshot(); snap.State != Disconnected {
		t.Fatalf("state after close = %s, want Disconnected", snap.State)
	}
	if _, ok := table.Override(); ok {
		t.Error("override still active after close")
	}
	if installed, _, _ := hooks.state(); installed {
		t.Error("resolver still patched after close")
	}
	if _, toredown := sess.counts(); toredown != 1 {
		t.Errorf("teardown count = %d, want 1", toredown)
	}
}
