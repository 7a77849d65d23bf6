package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"sync"

	"golang.org/x/net/ipv4"
)

type udpIface struct {
	addr      netip.AddrPort
	index     int
	broadcast netip.AddrPort
}

// UDPTransport sends overlay datagrams over a single UDP socket shared by every local interface.
// The arrival interface of each datagram is recovered from IP_PKTINFO control messages.
type UDPTransport struct {
	addrs  []netip.AddrPort
	ifaces []udpIface
	conn   *ipv4.PacketConn
	recv   chan Packet
	log    *slog.Logger
	once   sync.Once
	done   chan struct{}
}

// ListenUDP binds the overlay port on all interfaces. Every address must carry the same port and be
// assigned to a local network interface.
func ListenUDP(ctx context.Context, log *slog.Logger, addrs []netip.AddrPort) (*UDPTransport, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("at least one address is required")
	}
	port := addrs[0].Port()
	for _, a := range addrs {
		if a.Port() != port {
			return nil, fmt.Errorf("interface %s does not use the overlay port %d", a, port)
		}
	}
	ifaces, err := resolveInterfaces(addrs)
	if err != nil {
		return nil, err
	}
	lc := net.ListenConfig{Control: controlSocket}
	pc, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind overlay port %d: %w", port, err)
	}
	conn := ipv4.NewPacketConn(pc)
	if err := conn.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst, true); err != nil {
		log.Warn("arrival interface detection unavailable, assuming the primary interface", "error", err)
	}
	t := &UDPTransport{
		addrs:  slices.Clone(addrs),
		ifaces: ifaces,
		conn:   conn,
		recv:   make(chan Packet, RecvBufferSize),
		log:    log,
		done:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func resolveInterfaces(addrs []netip.AddrPort) ([]udpIface, error) {
	sysIfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]udpIface, 0, len(addrs))
	for _, ap := range addrs {
		found := false
		for _, si := range sysIfaces {
			ifAddrs, err := si.Addrs()
			if err != nil {
				continue
			}
			for _, ia := range ifAddrs {
				ipNet, ok := ia.(*net.IPNet)
				if !ok {
					continue
				}
				ip, ok := netip.AddrFromSlice(ipNet.IP)
				if !ok || ip.Unmap() != ap.Addr() {
					continue
				}
				out = append(out, udpIface{
					addr:      ap,
					index:     si.Index,
					broadcast: netip.AddrPortFrom(directedBroadcast(ap.Addr(), ipNet.Mask), ap.Port()),
				})
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("address %s is not assigned to any local interface", ap.Addr())
		}
	}
	return out, nil
}

func directedBroadcast(addr netip.Addr, mask net.IPMask) netip.Addr {
	b := addr.As4()
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return netip.IPv4Unspecified()
	}
	for i := range b {
		b[i] |= ^mask[i]
	}
	return netip.AddrFrom4(b)
}

func (t *UDPTransport) lookup(addr netip.AddrPort) (udpIface, error) {
	idx := slices.IndexFunc(t.ifaces, func(i udpIface) bool {
		return i.addr == addr
	})
	if idx == -1 {
		return udpIface{}, fmt.Errorf("%s is not a local interface", addr)
	}
	return t.ifaces[idx], nil
}

func (t *UDPTransport) readLoop() {
	defer close(t.recv)
	buf := make([]byte, 65535)
	for {
		n, cm, src, err := t.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Debug("udp read failed", "error", err)
			continue
		}
		udpSrc, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		srcAp := udpSrc.AddrPort()
		srcAp = netip.AddrPortFrom(srcAp.Addr().Unmap(), srcAp.Port())
		if slices.ContainsFunc(t.addrs, func(a netip.AddrPort) bool { return a.Addr() == srcAp.Addr() }) {
			// our own broadcast
			continue
		}
		iface := t.addrs[0]
		if cm != nil {
			if i := slices.IndexFunc(t.ifaces, func(i udpIface) bool { return i.index == cm.IfIndex }); i != -1 {
				iface = t.ifaces[i].addr
			}
		}
		pkt := Packet{Data: slices.Clone(buf[:n]), Src: srcAp, Iface: iface}
		select {
		case t.recv <- pkt:
		case <-t.done:
			return
		default:
			t.log.Debug("receive queue full, dropping datagram", "src", srcAp)
		}
	}
}

func (t *UDPTransport) Addrs() []netip.AddrPort {
	return t.addrs
}

func (t *UDPTransport) write(i udpIface, dst netip.AddrPort, data []byte) error {
	cm := &ipv4.ControlMessage{IfIndex: i.index, Src: i.addr.Addr().AsSlice()}
	_, err := t.conn.WriteTo(data, cm, net.UDPAddrFromAddrPort(dst))
	return err
}

func (t *UDPTransport) Broadcast(iface netip.AddrPort, data []byte) error {
	i, err := t.lookup(iface)
	if err != nil {
		return err
	}
	return t.write(i, i.broadcast, data)
}

func (t *UDPTransport) Send(iface netip.AddrPort, dst netip.AddrPort, data []byte) error {
	i, err := t.lookup(iface)
	if err != nil {
		return err
	}
	return t.write(i, dst, data)
}

func (t *UDPTransport) Recv() <-chan Packet {
	return t.recv
}

func (t *UDPTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}
