package logging

import (
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/sys/windows"
	"golang.org/x/term"
)

var (
	kernel32     = syscall.NewLazyDLL("kernel32.dll")
	allocConsole = kernel32.NewProc("AllocConsole")
)

// openConsole attaches a console window to the process and returns a writer
// to it. The colored flag reports whether the console accepts the escape
// codes chalk emits.
func openConsole() (io.Writer, bool, error) {
	// AllocConsole fails when a console is already attached, CONOUT$ still
	// opens against that one.
	allocConsole.Call()

	out, err := os.OpenFile("CONOUT$", os.O_WRONLY, 0)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open console output: %w", err)
	}

	colored := false
	if term.IsTerminal(int(out.Fd())) {
		handle := windows.Handle(out.Fd())
		var mode uint32
		if windows.GetConsoleMode(handle, &mode) == nil &&
			windows.SetConsoleMode(handle, mode|windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING) == nil {
			colored = true
		}
	}
	return out, colored, nil
}
