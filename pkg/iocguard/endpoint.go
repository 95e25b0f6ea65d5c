package iocguard

import (
	"fmt"
	"net"
)

// Endpoint identifies an IOC: its IPv4 address and the TCP port its reply
// named, decoded rather than assumed.
type Endpoint struct {
	IP   [4]byte
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", e.IP[0], e.IP[1], e.IP[2], e.IP[3], e.Port)
}

// TCPAddr returns the net.TCPAddr form used to dial this endpoint.
func (e Endpoint) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.IPv4(e.IP[0], e.IP[1], e.IP[2], e.IP[3]), Port: int(e.Port)}
}
