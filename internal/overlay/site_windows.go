package overlay

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/PocketRelay/PocketRelayClientPlugin/internal/memscan"
)

// LocatePresentSite finds the presentation dispatch the bridge hooks. The
// prologue scan follows whatever build is loaded; the known fixed address
// covers the shipped build when the scan misses.
func LocatePresentSite(log *slog.Logger) (uintptr, error) {
	site, err := memscan.FindInModule(presentDispatchPattern)
	if err == nil {
		log.Debug("located presentation dispatch",
			slog.String("site", fmt.Sprintf("%#x", site)))
		return site, nil
	}
	log.Warn("presentation dispatch pattern not matched", slog.Any("error", err))
	if runtime.GOARCH != "386" {
		return 0, fmt.Errorf("no known presentation dispatch for %s", runtime.GOARCH)
	}
	return presentDispatchAddr, nil
}
