// Package control owns the redirection lifecycle: the connection state
// machine, patching around it and the session handoff.
package control

import "fmt"

// State of the redirection controller.
type State int

const (
	// Disconnected is the resting state, nothing patched, no session.
	Disconnected State = iota
	// Connecting covers target resolution, the resolver patch and the
	// session establish attempt.
	Connecting
	// Connected means the session is up and lookups are overridden.
	Connected
	// Disconnecting covers session teardown and patch removal.
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// allowedTransition reports whether the machine may move from cur to next.
// A failed connect falls straight back to Disconnected, a disconnect may
// start while an attempt is still in flight.
func allowedTransition(cur, next State) bool {
	switch cur {
	case Disconnected:
		return next == Connecting
	case Connecting:
		return next == Connected || next == Disconnected || next == Disconnecting
	case Connected:
		return next == Disconnecting
	case Disconnecting:
		return next == Disconnected
	}
	return false
}
