package overlay

import (
	"bytes"
	"testing"
)

func TestPresentDispatchPatternShape(t *testing.T) {
	if len(presentDispatchPattern.Mask) != len(presentDispatchPattern.Op) {
		t.Fatalf("mask length %d does not cover %d opcode bytes",
			len(presentDispatchPattern.Mask), len(presentDispatchPattern.Op))
	}
	for i, c := range presentDispatchPattern.Mask {
		wild := i >= 6 && i <= 9
		if wild != (c == '?') {
			t.Fatalf("mask byte %d = %q, handler address bytes alone are wildcards", i, c)
		}
	}
}

func TestPresentDispatchPatternMatches(t *testing.T) {
	mem := bytes.Repeat([]byte{0xCC}, 0x400)

	// Same prologue with a different handler record address.
	copy(mem[0x180:], presentDispatchPattern.Op)
	copy(mem[0x180+6:], []byte{0x10, 0x32, 0x54, 0x00})

	off, ok := presentDispatchPattern.Find(mem)
	if !ok || off != 0x180 {
		t.Fatalf("Find = %#x, %v, want 0x180, true", off, ok)
	}
}

func TestPresentDispatchPatternRejectsOtherPrologues(t *testing.T) {
	mem := bytes.Repeat([]byte{0xCC}, 0x400)

	// A prologue saving a different register should not pass for the
	// dispatch.
	copy(mem[0x40:], presentDispatchPattern.Op)
	mem[0x40+27] = 0xF9 // mov edi,ecx

	if off, ok := presentDispatchPattern.Find(mem); ok {
		t.Fatalf("pattern matched a different routine at %#x", off)
	}
}
