package redirect

import (
	"fmt"
	"log/slog"
	"syscall"

	"github.com/PocketRelay/PocketRelayClientPlugin/internal/memscan"
)

// locateResolutionTarget finds the routine the game uses for hostname
// resolution. The game image is scanned for its lookup call first, the
// winsock export is the fallback for builds the pattern misses.
func locateResolutionTarget(log *slog.Logger) (uintptr, error) {
	if image, base, err := memscan.HostImage(); err != nil {
		log.Warn("failed to read host image", slog.Any("error", err))
	} else if off, ok := lookupCallPattern.Find(image); ok {
		target, err := deriveResolverTarget(image, base, off)
		if err != nil {
			log.Warn("failed to walk lookup call thunk", slog.Any("error", err))
		} else {
			log.Debug("located resolution routine by pattern",
				slog.String("call_site", fmt.Sprintf("%#x", base+uintptr(off))),
				slog.String("target", fmt.Sprintf("%#x", target)))
			return target, nil
		}
	}

	dll, err := syscall.LoadDLL("ws2_32.dll")
	if err != nil {
		return 0, fmt.Errorf("failed to load ws2_32: %w", err)
	}
	proc, err := dll.FindProc("gethostbyname")
	if err != nil {
		return 0, fmt.Errorf("failed to find gethostbyname export: %w", err)
	}
	log.Debug("located resolution routine by export",
		slog.String("target", fmt.Sprintf("%#x", proc.Addr())))
	return proc.Addr(), nil
}
