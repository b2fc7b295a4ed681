package redirect

import (
	"net"
	"unsafe"
)

const (
	afInet     = 2
	ipv4Length = 4
)

// hostent mirrors the winsock HOSTENT layout the game expects back from
// gethostbyname.
type hostent struct {
	name     *byte
	aliases  **byte
	addrType uint16
	length   uint16
	addrList **byte
}

// hostentRecord owns one synthesized resolution result. The buffers live as
// long as the record so the returned pointer stays valid after the hook
// returns, matching the winsock contract for gethostbyname results.
type hostentRecord struct {
	ent  hostent
	name []byte
	addr [ipv4Length]byte
	list [2]*byte
}

func newHostentRecord(hostname string) *hostentRecord {
	r := &hostentRecord{}
	r.name = append([]byte(hostname), 0)
	r.list[0] = &r.addr[0]
	r.ent = hostent{
		name:     &r.name[0],
		addrType: afInet,
		length:   ipv4Length,
		addrList: &r.list[0],
	}
	return r
}

// set stores ip as the record's single address and returns the pointer
// handed to the game.
func (r *hostentRecord) set(ip net.IP) uintptr {
	copy(r.addr[:], ip.To4())
	return uintptr(unsafe.Pointer(&r.ent))
}
