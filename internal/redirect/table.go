// Package redirect substitutes the game's hostname resolution so the
// official redirector host resolves to a user-chosen server instead.
package redirect

import (
	"errors"
	"net"
	"strings"
	"sync"
)

// Hostname is the official redirector host the game resolves before opening
// its backend connection.
const Hostname = "gosredirector.ea.com"

// ErrNotIPv4 is returned when an override target is not an IPv4 address. The
// game's resolver only understands 4 byte addresses.
var ErrNotIPv4 = errors.New("override address must be IPv4")

// Table holds the single active resolution override. The zero value matches
// Hostname and carries no override.
type Table struct {
	hostname string

	mu       sync.Mutex
	override net.IP
}

// NewTable returns a table overriding lookups for hostname.
func NewTable(hostname string) *Table {
	return &Table{hostname: hostname}
}

func (t *Table) host() string {
	if t.hostname == "" {
		return Hostname
	}
	return t.hostname
}

// Matches reports whether name is the host this table overrides. Hostnames
// compare case-insensitively.
func (t *Table) Matches(name string) bool {
	return strings.EqualFold(name, t.host())
}

// SetOverride points the table at addr.
func (t *Table) SetOverride(addr net.IP) error {
	ip4 := addr.To4()
	if ip4 == nil {
		return ErrNotIPv4
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.override = ip4
	return nil
}

// ClearOverride removes the active override.
func (t *Table) ClearOverride() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.override = nil
}

// Override returns a copy of the active override address, if one is set.
func (t *Table) Override() (net.IP, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.override == nil {
		return nil, false
	}
	out := make(net.IP, len(t.override))
	copy(out, t.override)
	return out, true
}
