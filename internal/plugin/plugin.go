// Package plugin boots and tears down everything the library does inside
// the host process.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"

	"github.com/lxn/win"

	"github.com/PocketRelay/PocketRelayClientPlugin/hook"
	"github.com/PocketRelay/PocketRelayClientPlugin/internal/api"
	"github.com/PocketRelay/PocketRelayClientPlugin/internal/config"
	"github.com/PocketRelay/PocketRelayClientPlugin/internal/control"
	"github.com/PocketRelay/PocketRelayClientPlugin/internal/freeze"
	"github.com/PocketRelay/PocketRelayClientPlugin/internal/logging"
	"github.com/PocketRelay/PocketRelayClientPlugin/internal/overlay"
	"github.com/PocketRelay/PocketRelayClientPlugin/internal/redirect"
	"github.com/PocketRelay/PocketRelayClientPlugin/internal/session"
	"github.com/PocketRelay/PocketRelayClientPlugin/internal/update"
)

// Version of the plugin, overridden at build time.
var Version = "1.0.0"

type pluginState struct {
	log      *slog.Logger
	closeLog func() error
	freezer  *freeze.Coordinator
	ctrl     *persistingController
	bridge   *overlay.Bridge
}

var (
	mu     sync.Mutex
	active *pluginState
)

// Attach boots the plugin. Called once the host process has loaded the
// library; a second call is ignored.
func Attach() {
	mu.Lock()
	defer mu.Unlock()
	if active != nil {
		return
	}

	cfgPath, pathErr := config.Path()
	dir := "."
	if pathErr == nil {
		dir = filepath.Dir(cfgPath)
	}
	var cfg config.Config
	var cfgErr error
	if pathErr == nil {
		cfg, cfgErr = config.Load(cfgPath)
	}

	log, closeLog, err := logging.Setup(logging.Options{
		Dir:     dir,
		Debug:   cfg.DebugConsole,
		Console: cfg.DebugConsole,
	})
	if err != nil {
		alert(fmt.Sprintf("The plugin failed to start: %s", err))
		return
	}

	log.Info("pocket relay plugin attached",
		slog.String("version", Version),
		slog.String("arch", runtime.GOARCH))
	if pathErr != nil {
		log.Warn("failed to locate the plugin directory", slog.Any("error", pathErr))
	}
	if cfgErr != nil {
		log.Warn("failed to load config", slog.Any("error", cfgErr))
	}

	freezer := freeze.New(freeze.OSControl(), log)
	table := redirect.NewTable(redirect.Hostname)
	resolver := redirect.NewResolver(table, log)
	sess := session.NewLocal(log, api.NewClient(log), session.DefaultFactory)
	ctrl := &persistingController{
		Controller: control.New(log, table, resolver, freezer, sess),
		log:        log,
		path:       cfgPath,
		cfg:        cfg,
	}

	bridge := overlay.NewBridge(log, ctrl, overlay.NewStatusRenderer(log), overlay.CtrlShiftP)
	if site, err := overlay.LocatePresentSite(log); err != nil {
		log.Error("overlay disabled, no presentation dispatch", slog.Any("error", err))
		alert(fmt.Sprintf("The in-game overlay could not be enabled: %s", err))
	} else if err := freezer.WithFrozen(func() error { return bridge.Attach(site) }); err != nil {
		log.Error("failed to attach presentation hook", slog.Any("error", err))
		alert(fmt.Sprintf("The in-game overlay could not be enabled: %s", err))
	}

	if !cfg.SkipUpdateCheck {
		go update.NewChecker(log, Version).Check(context.Background())
	}

	active = &pluginState{
		log:      log,
		closeLog: closeLog,
		freezer:  freezer,
		ctrl:     ctrl,
		bridge:   bridge,
	}
}

// Detach unwinds the plugin: the presentation hook first, then the session
// and the resolver patch through the controller, then logging. Must not run
// under the loader lock, the caller invokes it through the exported symbol
// before unloading.
func Detach() {
	mu.Lock()
	defer mu.Unlock()
	if active == nil {
		return
	}
	p := active
	active = nil

	err := p.freezer.WithFrozen(p.bridge.Uninstall)
	if err != nil && !errors.Is(err, hook.ErrNotInstalled) {
		p.log.Warn("failed to remove presentation hook", slog.Any("error", err))
	}
	p.ctrl.Close()

	p.log.Info("pocket relay plugin detached")
	if p.closeLog != nil {
		_ = p.closeLog()
	}
}

// alert pops a native message box. Players rarely find the log file, a
// startup failure has to be visible in game.
func alert(text string) {
	body, err := syscall.UTF16PtrFromString(text)
	if err != nil {
		return
	}
	caption, _ := syscall.UTF16PtrFromString("Pocket Relay")
	win.MessageBox(win.HWND(0), body, caption, win.MB_OK|win.MB_ICONERROR)
}
