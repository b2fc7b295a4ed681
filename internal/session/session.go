// Package session runs the local server facades that stand in for the
// official backend while a redirect is active.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/thejerf/suture/v4"

	"github.com/PocketRelay/PocketRelayClientPlugin/internal/api"
)

// Session is the collaborator the redirection controller drives.
type Session interface {
	// Establish validates address and brings the local facades up.
	Establish(ctx context.Context, address string) error
	// Teardown stops the facades. Calling it with nothing established is a
	// no-op.
	Teardown(ctx context.Context) error
}

// Facade is one local server endpoint run under supervision.
type Facade interface {
	suture.Service
	// Addr is the local listen address probed for readiness, empty to skip
	// probing.
	Addr() string
}

// Factory builds the facades for a validated server.
type Factory func(log *slog.Logger, data *api.LookupData) []Facade

// How long Establish waits for the facades to start accepting.
var probeTimeout = 5 * time.Second

// Local supervises facades inside the game process.
type Local struct {
	log     *slog.Logger
	lookup  *api.Client
	factory Factory

	mu     sync.Mutex
	cancel context.CancelFunc
	done   <-chan error
	data   *api.LookupData
}

func NewLocal(log *slog.Logger, lookup *api.Client, factory Factory) *Local {
	return &Local{log: log, lookup: lookup, factory: factory}
}

// Current returns the lookup data of the established session, if any.
func (s *Local) Current() *api.LookupData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

func (s *Local) Establish(ctx context.Context, address string) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("session already established")
	}
	s.mu.Unlock()

	data, err := s.lookup.Lookup(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to lookup server: %w", err)
	}

	sup := suture.New("session", suture.Spec{EventHook: s.eventHook})
	facades := s.factory(s.log, data)
	for _, f := range facades {
		sup.Add(f)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := sup.ServeBackground(runCtx)

	if err := s.await(ctx, facades); err != nil {
		cancel()
		<-done
		return fmt.Errorf("failed to start local servers: %w", err)
	}

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.data = data
	s.mu.Unlock()

	s.log.Info("session established",
		slog.String("host", data.Host),
		slog.String("version", data.Version))
	return nil
}

// await dials every facade in parallel until each one accepts.
func (s *Local) await(ctx context.Context, facades []Facade) error {
	probes := pool.New().WithErrors().WithContext(ctx)
	for _, f := range facades {
		f := f
		if f.Addr() == "" {
			continue
		}
		probes.Go(func(ctx context.Context) error {
			return awaitListening(ctx, f)
		})
	}
	return probes.Wait()
}

// awaitListening polls the facade's address until a dial succeeds. The
// address is re-read every attempt because facades that bind an ephemeral
// port only know it once serving.
func awaitListening(ctx context.Context, f Facade) error {
	deadline := time.Now().Add(probeTimeout)
	var lastErr error
	for {
		if addr := f.Addr(); addr != "" && !strings.HasSuffix(addr, ":0") {
			conn, err := net.DialTimeout("tcp", addr, 250*time.Millisecond)
			if err == nil {
				conn.Close()
				return nil
			}
			lastErr = err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			if lastErr == nil {
				lastErr = errors.New("no address to probe")
			}
			return fmt.Errorf("facade %s never started accepting: %w", f.Addr(), lastErr)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (s *Local) Teardown(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done, s.data = nil, nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		s.log.Info("session torn down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Local) eventHook(ev suture.Event) {
	switch ev.Type() {
	case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
		s.log.Warn("session service failed", slog.Any("event", ev.Map()))
	default:
		s.log.Debug("session supervisor event", slog.String("event", ev.String()))
	}
}
