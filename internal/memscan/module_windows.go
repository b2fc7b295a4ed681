package memscan

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// HostImage returns the mapped image of the process's executable module along
// with its base address. The slice aliases live process memory and must only
// be read.
func HostImage() ([]byte, uintptr, error) {
	// x/sys/windows wraps only GetModuleHandleEx; with UNCHANGED_REFCOUNT it
	// behaves exactly like GetModuleHandle(nil).
	var module windows.Handle
	err := windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT, nil, &module)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get module handle: %w", err)
	}
	var info windows.ModuleInfo
	err = windows.GetModuleInformation(windows.CurrentProcess(), module, &info, uint32(unsafe.Sizeof(info)))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query module information: %w", err)
	}
	image := unsafe.Slice((*byte)(unsafe.Pointer(info.BaseOfDll)), int(info.SizeOfImage))
	return image, info.BaseOfDll, nil
}

// FindInModule scans the executable image of the running process for p and
// returns the absolute address of the first match.
func FindInModule(p Pattern) (uintptr, error) {
	image, base, err := HostImage()
	if err != nil {
		return 0, err
	}
	off, ok := p.Find(image)
	if !ok {
		return 0, ErrNotFound
	}
	return base + uintptr(off), nil
}
