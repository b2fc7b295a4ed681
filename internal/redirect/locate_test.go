package redirect

import (
	"encoding/binary"
	"testing"
)

func TestLookupCallPatternShape(t *testing.T) {
	if len(lookupCallPattern.Mask) != len(lookupCallPattern.Op) {
		t.Fatalf("mask length %d does not match opcode length %d",
			len(lookupCallPattern.Mask), len(lookupCallPattern.Op))
	}
	if lookupCallPattern.Mask[:5] != "x????" {
		t.Fatalf("call displacement must be masked, got %q", lookupCallPattern.Mask[:5])
	}
}

// buildImage lays out a synthetic 32-bit game image: the lookup call site at
// callOff, its jmp thunk at thunkOff and the import slot at slotOff.
func buildImage(base uintptr, callOff, thunkOff, slotOff int, target uint32) []byte {
	image := make([]byte, 0x1000)
	copy(image[callOff:], lookupCallPattern.Op)
	disp := int32(thunkOff) - int32(callOff+5)
	binary.LittleEndian.PutUint32(image[callOff+1:], uint32(disp))
	image[thunkOff] = 0xFF
	image[thunkOff+1] = 0x25
	binary.LittleEndian.PutUint32(image[thunkOff+2:], uint32(base)+uint32(slotOff))
	binary.LittleEndian.PutUint32(image[slotOff:], target)
	return image
}

func TestDeriveResolverTarget(t *testing.T) {
	const base = uintptr(0x400000)

	t.Run("forward thunk", func(t *testing.T) {
		image := buildImage(base, 0x100, 0x200, 0x300, 0x76AB1234)

		off, ok := lookupCallPattern.Find(image)
		if !ok {
			t.Fatal("pattern should match the planted call site")
		}
		if off != 0x100 {
			t.Fatalf("pattern matched at %#x, want 0x100", off)
		}

		target, err := deriveResolverTarget(image, base, off)
		if err != nil {
			t.Fatalf("failed to derive target: %v", err)
		}
		if target != 0x76AB1234 {
			t.Fatalf("target = %#x, want 0x76ab1234", target)
		}
	})

	t.Run("backward thunk", func(t *testing.T) {
		image := buildImage(base, 0x500, 0x80, 0x40, 0x76AB1234)
		target, err := deriveResolverTarget(image, base, 0x500)
		if err != nil {
			t.Fatalf("failed to derive target: %v", err)
		}
		if target != 0x76AB1234 {
			t.Fatalf("target = %#x, want 0x76ab1234", target)
		}
	})
}

func TestDeriveResolverTargetErrors(t *testing.T) {
	const base = uintptr(0x400000)

	t.Run("thunk is not a jmp", func(t *testing.T) {
		image := buildImage(base, 0x100, 0x200, 0x300, 0x76AB1234)
		image[0x200] = 0x90
		if _, err := deriveResolverTarget(image, base, 0x100); err == nil {
			t.Fatal("expected an error for a non jmp thunk")
		}
	})

	t.Run("thunk outside image", func(t *testing.T) {
		image := buildImage(base, 0x100, 0x200, 0x300, 0x76AB1234)
		binary.LittleEndian.PutUint32(image[0x101:], 0x7FFFFFFF)
		if _, err := deriveResolverTarget(image, base, 0x100); err == nil {
			t.Fatal("expected an error for a thunk outside the image")
		}
	})

	t.Run("slot outside image", func(t *testing.T) {
		image := buildImage(base, 0x100, 0x200, 0x300, 0x76AB1234)
		binary.LittleEndian.PutUint32(image[0x202:], uint32(base)-8)
		if _, err := deriveResolverTarget(image, base, 0x100); err == nil {
			t.Fatal("expected an error for a slot outside the image")
		}
	})

	t.Run("empty slot", func(t *testing.T) {
		image := buildImage(base, 0x100, 0x200, 0x300, 0)
		if _, err := deriveResolverTarget(image, base, 0x100); err == nil {
			t.Fatal("expected an error for an empty import slot")
		}
	})

	t.Run("truncated call site", func(t *testing.T) {
		image := buildImage(base, 0x100, 0x200, 0x300, 0x76AB1234)
		if _, err := deriveResolverTarget(image, base, len(image)-2); err == nil {
			t.Fatal("expected an error for a truncated call site")
		}
	})
}
