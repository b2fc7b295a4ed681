package overlay

import (
	"syscall"

	"github.com/lxn/win"
)

var (
	user32           = syscall.NewLazyDLL("user32.dll")
	getAsyncKeyState = user32.NewProc("GetAsyncKeyState")
)

const keyP = 0x50

// CtrlShiftP reports whether the overlay show combination is held right
// now. Polled once per presented frame.
func CtrlShiftP() bool {
	return keyDown(win.VK_CONTROL) && keyDown(win.VK_SHIFT) && keyDown(keyP)
}

func keyDown(vk uintptr) bool {
	state, _, _ := getAsyncKeyState.Call(vk)
	return state&0x8000 != 0
}
