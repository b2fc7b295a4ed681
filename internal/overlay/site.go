package overlay

import "github.com/PocketRelay/PocketRelayClientPlugin/internal/memscan"

// Known address of the game's presentation dispatch. The shipped 32-bit
// binary is not relocated, so the absolute address holds on builds where the
// prologue pattern fails to match.
const presentDispatchAddr uintptr = 0x00453120

// Prologue of the presentation dispatch, taken from the shipped binary. The
// pushed handler record address is build-specific and masked out.
var presentDispatchPattern = memscan.Pattern{
	Mask: "xxxxxx????xxxxxxxxxxxxxxxxxxxxx",
	Op: []byte{
		0x55,       // push ebp
		0x8B, 0xEC, // mov ebp,esp
		0x6A, 0xFF, // push -1
		0x68, 0x28, 0xE6, 0x62, 0x00, // push offset handler
		0x64, 0xA1, 0x00, 0x00, 0x00, 0x00, // mov eax,fs:[0]
		0x50,             // push eax
		0x83, 0xEC, 0x50, // sub esp,0x50
		0x53, // push ebx
		0x56, // push esi
		0x57, // push edi
		0x89, 0x65, 0xF0, // mov [ebp-0x10],esp
		0x8B, 0xF1, // mov esi,ecx
		0x8B, 0x46, 0x1C, // mov eax,[esi+0x1c]
	},
}
