package plugin

import (
	"log/slog"
	"sync"

	"github.com/PocketRelay/PocketRelayClientPlugin/internal/config"
	"github.com/PocketRelay/PocketRelayClientPlugin/internal/control"
)

// persistingController wraps the redirection controller so an accepted
// connect writes the address back to the config file and the next launch
// can offer it again.
type persistingController struct {
	*control.Controller
	log  *slog.Logger
	path string

	mu  sync.Mutex
	cfg config.Config
}

func (p *persistingController) Connect(address string) error {
	if err := p.Controller.Connect(address); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path == "" || p.cfg.ConnectionURL == address {
		return nil
	}
	p.cfg.ConnectionURL = address
	if err := config.Save(p.path, p.cfg); err != nil {
		p.log.Warn("failed to save config", slog.Any("error", err))
	}
	return nil
}
