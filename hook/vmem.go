package hook

import (
	"syscall"
	"unsafe"
)

var (
	kernel32              = syscall.NewLazyDLL("kernel32.dll")
	virtualAlloc          = kernel32.NewProc("VirtualAlloc")
	virtualFree           = kernel32.NewProc("VirtualFree")
	virtualProtect        = kernel32.NewProc("VirtualProtect")
	flushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

const (
	_MEM_COMMIT  = 0x00001000
	_MEM_RELEASE = 0x8000
)

func changeMemoryProtectLevel(ptr uintptr, size, protectLevel int) (int, error) {
	oldProtectLevel := 0
	r, _, err := virtualProtect.Call(ptr, uintptr(size), uintptr(protectLevel), uintptr(unsafe.Pointer(&oldProtectLevel)))
	if r == 0 {
		return -1, err
	}
	return oldProtectLevel, nil
}

// withWritableMemory runs fn while ptr..ptr+size is PAGE_EXECUTE_READWRITE and
// restores the previous protection after, whether or not fn succeeds.
func withWritableMemory(ptr uintptr, size int, fn func() error) error {
	oldProtect, err := changeMemoryProtectLevel(ptr, size, syscall.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return err
	}
	fnErr := fn()
	if _, err := changeMemoryProtectLevel(ptr, size, oldProtect); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}

func unsafeReadMemory(ptr uintptr, out []byte) error {
	for i := range out {
		out[i] = *(*byte)(unsafe.Pointer(ptr + uintptr(i)))
	}
	return nil
}

func unsafeWriteMemory(ptr uintptr, in []byte) error {
	for i, b := range in {
		*(*byte)(unsafe.Pointer(ptr + uintptr(i))) = b
	}
	return nil
}

func flushCodeCache(ptr uintptr, size uint) {
	if h, err := syscall.GetCurrentProcess(); err == nil {
		flushInstructionCache.Call(uintptr(h), ptr, uintptr(size))
	}
}

type virtualAllocatedMemory struct {
	Addr uintptr
	Size uint
}

func newVirtualAllocatedMemory(size uint, protectLevel int) (*virtualAllocatedMemory, error) {
	addr, _, err := virtualAlloc.Call(0, uintptr(size), _MEM_COMMIT, uintptr(protectLevel))
	if addr == 0 {
		return nil, err
	}
	return &virtualAllocatedMemory{Addr: addr, Size: size}, nil
}

func (vmem *virtualAllocatedMemory) Read(p []byte) (int, error) {
	err := unsafeReadMemory(vmem.Addr, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (vmem *virtualAllocatedMemory) Write(p []byte) (int, error) {
	err := unsafeWriteMemory(vmem.Addr, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (vmem *virtualAllocatedMemory) WriteAt(p []byte, off int64) (int, error) {
	err := unsafeWriteMemory(vmem.Addr+uintptr(off), p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

func (vmem *virtualAllocatedMemory) Close() error {
	r, _, err := virtualFree.Call(vmem.Addr, 0, _MEM_RELEASE)
	if r == 0 {
		return err
	}
	return nil
}
