// Package hook installs and removes inline function hooks in the current
// process. A hook overwrites the head of the target function with a jump to a
// replacement, keeping the displaced instructions in an executable trampoline
// so the original can still be reached.
package hook

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
)

var (
	ErrAlreadyInstalled = errors.New("hook already installed at target")
	ErrNotInstalled     = errors.New("hook not installed")
)

// headSize is how much of the target head gets read for disassembly. The
// patch region never legally exceeds it: worst case is one instruction short
// of the far jump plus one maximal instruction.
const headSize = 32

var (
	mu        sync.Mutex
	installed = map[uintptr]*Hook{}
)

// Hook is the record of one installed patch. It owns the exact bytes the
// patch replaced; Uninstall writes them back unchanged.
type Hook struct {
	target        uintptr
	replacement   uintptr
	originalBytes []byte
	trampoline    *virtualAllocatedMemory
	patchSize     int
	arch          arch
	active        bool
}

// Install hooks the function at target, redirecting calls into replacement.
// replacement is an ordinary Go function; it is registered with
// syscall.NewCallback, so it must take uintptr-sized arguments and return one
// uintptr-sized result, matching the target's stdcall shape. Installing over
// an already hooked target reports ErrAlreadyInstalled and changes nothing.
//
// The caller is responsible for making sure no other thread is executing
// inside the patch region, see the freeze package.
func Install(target uintptr, replacement interface{}) (*Hook, error) {
	return install(target, syscall.NewCallback(replacement))
}

// InstallAddr hooks the function at target with an already prepared native
// entry point, such as a callback registered once and reused across
// installs. syscall.NewCallback registrations are never released, so hooks
// that come and go should prefer this over Install.
func InstallAddr(target, replacement uintptr) (*Hook, error) {
	return install(target, replacement)
}

// InstallByName hooks an exported function of a loaded DLL.
func InstallByName(dllName, funcName string, replacement interface{}) (*Hook, error) {
	dll, err := syscall.LoadDLL(dllName)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", dllName, err)
	}
	proc, err := dll.FindProc(funcName)
	if err != nil {
		return nil, fmt.Errorf("find %s!%s: %w", dllName, funcName, err)
	}
	return install(proc.Addr(), syscall.NewCallback(replacement))
}

func install(target, replacement uintptr) (*Hook, error) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := installed[target]; ok {
		return nil, ErrAlreadyInstalled
	}

	a, err := newRuntimeArch()
	if err != nil {
		return nil, err
	}

	head := make([]byte, headSize)
	if err := unsafeReadMemory(target, head); err != nil {
		return nil, err
	}
	insts, err := disassemble(head, a.DisassembleMode())
	if err != nil {
		return nil, fmt.Errorf("disassemble target head: %w", err)
	}
	patchSize, err := asmPatchSize(insts, jumpSize(a, target, replacement))
	if err != nil {
		return nil, err
	}

	if uint(patchSize)+a.FarJumpSize() > maxTrampolineSize(a) {
		return nil, fmt.Errorf("patch region of %d bytes exceeds trampoline", patchSize)
	}

	tramp, err := newVirtualAllocatedMemory(maxTrampolineSize(a), syscall.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("allocate trampoline: %w", err)
	}
	if _, err := tramp.Write(head[:patchSize]); err != nil {
		tramp.Close()
		return nil, err
	}
	jmpBack := newJumpAsm(a, tramp.Addr+uintptr(patchSize), target+uintptr(patchSize))
	if _, err := tramp.WriteAt(jmpBack, int64(patchSize)); err != nil {
		tramp.Close()
		return nil, err
	}

	patch := newJumpAsm(a, target, replacement)
	if err := withWritableMemory(target, patchSize, func() error {
		return unsafeWriteMemory(target, patch)
	}); err != nil {
		tramp.Close()
		return nil, fmt.Errorf("write jump patch: %w", err)
	}
	flushCodeCache(tramp.Addr, maxTrampolineSize(a))
	flushCodeCache(target, uint(patchSize))

	h := &Hook{
		target:        target,
		replacement:   replacement,
		originalBytes: append([]byte(nil), head[:patchSize]...),
		trampoline:    tramp,
		patchSize:     patchSize,
		arch:          a,
		active:        true,
	}
	installed[target] = h
	return h, nil
}

// Uninstall restores the original bytes at the target and releases the
// trampoline. Uninstalling a hook that is not installed reports
// ErrNotInstalled and changes nothing.
func (h *Hook) Uninstall() error {
	mu.Lock()
	defer mu.Unlock()
	if !h.active {
		return ErrNotInstalled
	}
	if err := withWritableMemory(h.target, h.patchSize, func() error {
		return unsafeWriteMemory(h.target, h.originalBytes)
	}); err != nil {
		return fmt.Errorf("restore original bytes: %w", err)
	}
	flushCodeCache(h.target, uint(h.patchSize))

	h.active = false
	delete(installed, h.target)
	if h.trampoline != nil {
		h.trampoline.Close()
		h.trampoline = nil
	}
	return nil
}

// Installed reports whether the patch bytes are currently written at the
// target.
func (h *Hook) Installed() bool {
	mu.Lock()
	defer mu.Unlock()
	return h.active
}

// Target returns the patched address.
func (h *Hook) Target() uintptr {
	return h.target
}

// Original returns the address of the trampoline holding the displaced head
// of the target, or 0 after Uninstall. Hook bodies use it to reach the
// original function.
func (h *Hook) Original() uintptr {
	mu.Lock()
	defer mu.Unlock()
	if !h.active || h.trampoline == nil {
		return 0
	}
	return h.trampoline.Addr
}

// Call invokes the original function through the trampoline. The returned
// error carries the thread's last error value, which can be stale nonzero
// even when the call succeeded; callers that know the target's contract
// should judge success from the first result.
func (h *Hook) Call(args ...uintptr) (uintptr, uintptr, error) {
	addr := h.Original()
	if addr == 0 {
		return 0, 0, ErrNotInstalled
	}
	r1, r2, errno := syscall.SyscallN(addr, args...)
	if errno != 0 {
		return r1, r2, errno
	}
	return r1, r2, nil
}
