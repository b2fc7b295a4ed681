package redirect

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/PocketRelay/PocketRelayClientPlugin/internal/memscan"
)

// Signature of the game's call into its gethostbyname import thunk, taken
// from the shipped 32-bit binary. The call displacement differs between
// builds and is masked out.
var lookupCallPattern = memscan.Pattern{
	Mask: "x????xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx",
	Op: []byte{
		0xE8, 0x8B, 0x9F, 0xF8, 0xFF, // call <jmp.&gethostbyname>
		0x85, 0xC0, // test eax,eax
		0x74, 0x2E, // je +0x2e
		0x8B, 0x48, 0x0C, // mov ecx,[eax+0xc]
		0x8B, 0x01, // mov eax,[ecx]
		0x0F, 0xB6, 0x10, // movzx edx,byte [eax]
		0x0F, 0xB6, 0x48, 0x01, // movzx ecx,byte [eax+1]
		0xC1, 0xE2, 0x08, // shl edx,8
		0x0B, 0xD1, // or edx,ecx
		0x0F, 0xB6, 0x48, 0x02, // movzx ecx,byte [eax+2]
		0x0F, 0xB6, 0x40, 0x03, // movzx eax,byte [eax+3]
		0xC1, 0xE2, 0x08, // shl edx,8
		0x0B, 0xD1, // or edx,ecx
		0xC1, 0xE2, 0x08, // shl edx,8
		0x0B, 0xD0, // or edx,eax
		0x89, 0x56, 0x04, // mov [esi+4],edx
		0xC7, 0x06, 0x01, 0x00, 0x00, 0x00, // mov dword [esi],1
	},
}

// deriveResolverTarget follows the matched call through the game's import
// thunk to the routine it lands on. The layout is the 32-bit image form the
// game ships: call rel32 into a jmp dword ptr [slot] thunk whose slot holds
// the imported address.
func deriveResolverTarget(image []byte, base uintptr, matchOff int) (uintptr, error) {
	if matchOff < 0 || matchOff+5 > len(image) {
		return 0, errors.New("call site is truncated")
	}
	disp := int32(binary.LittleEndian.Uint32(image[matchOff+1:]))
	thunk := int64(matchOff) + 5 + int64(disp)
	if thunk < 0 || thunk+6 > int64(len(image)) {
		return 0, fmt.Errorf("thunk offset %#x is outside the image", thunk)
	}
	if image[thunk] != 0xFF || image[thunk+1] != 0x25 {
		return 0, fmt.Errorf("no jmp thunk at %#x", base+uintptr(thunk))
	}
	slot := uintptr(binary.LittleEndian.Uint32(image[thunk+2:]))
	if slot < base || slot+4 > base+uintptr(len(image)) {
		return 0, fmt.Errorf("import slot %#x is outside the image", slot)
	}
	target := uintptr(binary.LittleEndian.Uint32(image[slot-base:]))
	if target == 0 {
		return 0, errors.New("import slot is empty")
	}
	return target, nil
}
