// Package freeze suspends the host process's other threads for the duration
// of a code patch so no thread executes inside a half-written region.
package freeze

import (
	"log/slog"
)

// ThreadControl abstracts the OS thread surface so the coordinator can be
// driven by a fake in tests.
type ThreadControl interface {
	// Snapshot lists the thread ids of the current process.
	Snapshot() ([]uint32, error)
	CurrentThreadID() uint32
	Suspend(id uint32) error
	Resume(id uint32) error
}

// Coordinator freezes and resumes threads around short critical actions.
type Coordinator struct {
	ctl ThreadControl
	log *slog.Logger
}

func New(ctl ThreadControl, log *slog.Logger) *Coordinator {
	return &Coordinator{ctl: ctl, log: log}
}

// WithFrozen runs action with every other thread of the process suspended.
// Suspension is best effort: threads that cannot be suspended are logged and
// skipped, and a failed snapshot runs the action unfrozen rather than
// failing it. Every suspended thread is resumed on the way out, whether the
// action returns, fails or panics.
//
// Suspended threads include the Go runtime's own workers, so action must
// stay short and must not block on anything another thread would provide.
func (c *Coordinator) WithFrozen(action func() error) error {
	ids, err := c.ctl.Snapshot()
	if err != nil {
		c.log.Warn("thread snapshot failed, running action unfrozen", slog.Any("error", err))
		return action()
	}

	current := c.ctl.CurrentThreadID()
	suspended := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if id == current {
			continue
		}
		if err := c.ctl.Suspend(id); err != nil {
			c.log.Warn("failed to suspend thread",
				slog.Uint64("tid", uint64(id)),
				slog.Any("error", err))
			continue
		}
		suspended = append(suspended, id)
	}
	c.log.Debug("froze threads", slog.Int("count", len(suspended)))

	defer func() {
		for _, id := range suspended {
			if err := c.ctl.Resume(id); err != nil {
				c.log.Warn("failed to resume thread",
					slog.Uint64("tid", uint64(id)),
					slog.Any("error", err))
			}
		}
	}()

	return action()
}
