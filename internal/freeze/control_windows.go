package freeze

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32          = syscall.NewLazyDLL("kernel32.dll")
	procSuspendThread = kernel32.NewProc("SuspendThread")
)

// suspendThread calls kernel32 SuspendThread directly; x/sys/windows wraps
// ResumeThread but not its counterpart.
func suspendThread(thread windows.Handle) (uint32, error) {
	r, _, err := procSuspendThread.Call(uintptr(thread))
	if uint32(r) == 0xffffffff {
		return uint32(r), err
	}
	return uint32(r), nil
}

// osControl drives real threads through the toolhelp snapshot API.
type osControl struct{}

// OSControl returns the ThreadControl backed by the Windows thread APIs.
func OSControl() ThreadControl {
	return osControl{}
}

func (osControl) Snapshot() ([]uint32, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPTHREAD, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot threads: %w", err)
	}
	defer windows.CloseHandle(snap)

	pid := windows.GetCurrentProcessId()
	var entry windows.ThreadEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))

	var ids []uint32
	if err := windows.Thread32First(snap, &entry); err != nil {
		return nil, fmt.Errorf("failed to walk thread snapshot: %w", err)
	}
	for {
		if entry.OwnerProcessID == pid {
			ids = append(ids, entry.ThreadID)
		}
		if err := windows.Thread32Next(snap, &entry); err != nil {
			if err == windows.ERROR_NO_MORE_FILES {
				break
			}
			return nil, fmt.Errorf("failed to walk thread snapshot: %w", err)
		}
	}
	return ids, nil
}

func (osControl) CurrentThreadID() uint32 {
	return windows.GetCurrentThreadId()
}

func (osControl) Suspend(id uint32) error {
	thread, err := windows.OpenThread(windows.THREAD_SUSPEND_RESUME, false, id)
	if err != nil {
		return fmt.Errorf("failed to open thread %d: %w", id, err)
	}
	defer windows.CloseHandle(thread)
	if _, err := suspendThread(thread); err != nil {
		return fmt.Errorf("failed to suspend thread %d: %w", id, err)
	}
	return nil
}

func (osControl) Resume(id uint32) error {
	thread, err := windows.OpenThread(windows.THREAD_SUSPEND_RESUME, false, id)
	if err != nil {
		return fmt.Errorf("failed to open thread %d: %w", id, err)
	}
	defer windows.CloseHandle(thread)
	if _, err := windows.ResumeThread(thread); err != nil {
		return fmt.Errorf("failed to resume thread %d: %w", id, err)
	}
	return nil
}
