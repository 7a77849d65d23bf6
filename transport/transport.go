package transport

import (
	"errors"
	"net/netip"
)

var (
	ErrNoLink = errors.New("no link to destination")
	ErrClosed = errors.New("transport closed")

	// RecvBufferSize is the number of received datagrams a transport queues before dropping
	RecvBufferSize = 256
)

// Packet is a datagram received on one of the local interfaces
type Packet struct {
	Data []byte
	Src  netip.AddrPort
	// Iface is the local interface address that received the packet
	Iface netip.AddrPort
}

// Transport delivers datagrams between overlay nodes. A node may have several interfaces,
// the first address returned by Addrs is its primary address.
type Transport interface {
	Addrs() []netip.AddrPort
	// Broadcast sends data to every node directly reachable from iface
	Broadcast(iface netip.AddrPort, data []byte) error
	// Send unicasts data to dst out of iface
	Send(iface netip.AddrPort, dst netip.AddrPort, data []byte) error
	// Recv returns the channel of received packets, closed when the transport is closed
	Recv() <-chan Packet
	Close() error
}
