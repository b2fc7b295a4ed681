package hook

import (
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

func disassemble(src []byte, mode int) ([]x86asm.Inst, error) {
	r := make([]x86asm.Inst, 0, len(src)/15)
	for len(src) > 0 {
		inst, err := x86asm.Decode(src, mode)
		if err != nil {
			return nil, err
		}
		r = append(r, inst)
		src = src[inst.Len:]
	}
	return r, nil
}

// asmPatchSize widens the patch region to whole instructions until it covers
// the jump. A branch inside the region would be displaced to the trampoline
// with a now-wrong relative target, so those targets are refused.
func asmPatchSize(insts []x86asm.Inst, jumpSize uint) (int, error) {
	res := 0
	for i := 0; res < int(jumpSize) && i < len(insts); i++ {
		if isBranchInst(insts[i]) {
			return -1, fmt.Errorf("branch opcode found before jump patch area")
		}
		res += insts[i].Len
	}
	if res < int(jumpSize) {
		return -1, fmt.Errorf("unable to insert jmp within patch size")
	}
	return res, nil
}

func isBranchInst(inst x86asm.Inst) bool {
	instr := inst.String()
	return strings.HasPrefix(instr, "J") || strings.HasPrefix(instr, "CALL")
}

// Dump logs the disassembly of the patched target head and the trampoline at
// debug level. Useful on the debug console when a hook site misbehaves.
func (h *Hook) Dump(log *slog.Logger) {
	logDisas(log, "target", h.target, h.patchSize, h.arch)
	if h.trampoline != nil {
		logDisas(log, "trampoline", h.trampoline.Addr, int(maxTrampolineSize(h.arch)), h.arch)
	}
}

func logDisas(log *slog.Logger, name string, ptr uintptr, size int, a arch) {
	code := make([]byte, size)
	if err := unsafeReadMemory(ptr, code); err != nil {
		return
	}
	insts, err := disassemble(code, a.DisassembleMode())
	if err != nil {
		log.Debug("disassemble failed", slog.String("region", name), slog.String("error", err.Error()))
		return
	}
	addr := ptr
	for _, inst := range insts {
		log.Debug("disas",
			slog.String("region", name),
			slog.String("addr", fmt.Sprintf("0x%x", addr)),
			slog.String("inst", x86asm.IntelSyntax(inst, uint64(addr), nil)))
		addr += uintptr(inst.Len)
	}
}
