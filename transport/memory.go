package transport

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-broadcast"
)

// LinkCfg describes the quality of a simulated link
type LinkCfg struct {
	Latency time.Duration
	Jitter  time.Duration
	Loss    float64
}

type frame struct {
	src  netip.AddrPort
	data []byte
}

// link is one direction of a connection between two interfaces
type link struct {
	LinkCfg
	from, to *memIface
	ch       chan interface{}
	stop     chan struct{}
}

type memIface struct {
	addr  netip.AddrPort
	owner *MemoryTransport
	// bcast fans a broadcast out to every outgoing link of this interface
	bcast broadcast.Broadcaster
	links map[netip.AddrPort]*link
}

// Network is an in-memory datagram network. Interfaces only reach the interfaces they are linked to.
type Network struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	rngMu  sync.Mutex
	rng    *rand.Rand
	ifaces map[netip.AddrPort]*memIface
	wg     sync.WaitGroup
}

func NewNetwork(seed uint64) *Network {
	ctx, cancel := context.WithCancel(context.Background())
	return &Network{
		ctx:    ctx,
		cancel: cancel,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		ifaces: make(map[netip.AddrPort]*memIface),
	}
}

// Attach creates a transport owning the given interface addresses
func (n *Network) Attach(addrs ...netip.AddrPort) (*MemoryTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(addrs) == 0 {
		return nil, fmt.Errorf("at least one address is required")
	}
	t := &MemoryTransport{
		net:   n,
		addrs: slices.Clone(addrs),
		recv:  make(chan Packet, RecvBufferSize),
	}
	for _, a := range addrs {
		if _, ok := n.ifaces[a]; ok {
			return nil, fmt.Errorf("address %s is already attached", a)
		}
	}
	for _, a := range addrs {
		n.ifaces[a] = &memIface{
			addr:  a,
			owner: t,
			bcast: broadcast.NewBroadcaster(64),
			links: make(map[netip.AddrPort]*link),
		}
	}
	return t, nil
}

// Connect links two interfaces in both directions
func (n *Network) Connect(a, b netip.AddrPort, cfg LinkCfg) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ctx.Err() != nil {
		return ErrClosed
	}
	ia, ok := n.ifaces[a]
	if !ok {
		return fmt.Errorf("interface %s is not attached", a)
	}
	ib, ok := n.ifaces[b]
	if !ok {
		return fmt.Errorf("interface %s is not attached", b)
	}
	n.addLink(ia, ib, cfg)
	n.addLink(ib, ia, cfg)
	return nil
}

// Disconnect removes both directions of the link between two interfaces
func (n *Network) Disconnect(a, b netip.AddrPort) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ia, ok := n.ifaces[a]; ok {
		n.removeLink(ia, b)
	}
	if ib, ok := n.ifaces[b]; ok {
		n.removeLink(ib, a)
	}
}

func (n *Network) addLink(from, to *memIface, cfg LinkCfg) {
	n.removeLink(from, to.addr)
	l := &link{
		LinkCfg: cfg,
		from:    from,
		to:      to,
		ch:      make(chan interface{}, 64),
		stop:    make(chan struct{}),
	}
	from.links[to.addr] = l
	from.bcast.Register(l.ch)
	n.wg.Add(1)
	go n.pump(l)
}

func (n *Network) removeLink(from *memIface, to netip.AddrPort) {
	l, ok := from.links[to]
	if !ok {
		return
	}
	delete(from.links, to)
	// the pump keeps draining until the broadcaster has dropped the channel
	from.bcast.Unregister(l.ch)
	close(l.stop)
}

func (n *Network) pump(l *link) {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-l.stop:
			return
		case m := <-l.ch:
			n.simulate(l, m.(frame))
		}
	}
}

func (n *Network) roll() (float64, float64) {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	return n.rng.Float64(), n.rng.Float64()
}

func (n *Network) simulate(l *link, f frame) {
	loss, jitter := n.roll()
	if loss < l.Loss {
		return
	}
	pkt := Packet{Data: f.data, Src: f.src, Iface: l.to.addr}
	if l.Latency == 0 && l.Jitter == 0 {
		l.to.owner.deliver(pkt)
		return
	}
	delay := l.Latency + time.Duration(jitter*float64(l.Jitter))
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case <-n.ctx.Done():
		case <-time.After(delay):
			l.to.owner.deliver(pkt)
		}
	}()
}

// Close stops every link, transports attached to the network stop receiving
func (n *Network) Close() {
	n.mu.Lock()
	if n.ctx.Err() != nil {
		n.mu.Unlock()
		return
	}
	for _, i := range n.ifaces {
		for to := range i.links {
			n.removeLink(i, to)
		}
		_ = i.bcast.Close()
	}
	n.cancel()
	n.mu.Unlock()
	n.wg.Wait()
}

// MemoryTransport is the Transport of a single node on a Network
type MemoryTransport struct {
	net    *Network
	addrs  []netip.AddrPort
	mu     sync.RWMutex
	recv   chan Packet
	closed bool
}

func (t *MemoryTransport) Addrs() []netip.AddrPort {
	return t.addrs
}

func (t *MemoryTransport) deliver(p Packet) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.recv <- p:
	default:
		// receive buffer overflow, the datagram is lost
	}
}

func (t *MemoryTransport) iface(addr netip.AddrPort) (*memIface, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}
	i, ok := t.net.ifaces[addr]
	if !ok || i.owner != t {
		return nil, fmt.Errorf("%s is not a local interface", addr)
	}
	return i, nil
}

func (t *MemoryTransport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

func (t *MemoryTransport) Broadcast(iface netip.AddrPort, data []byte) error {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	i, err := t.iface(iface)
	if err != nil {
		return err
	}
	if t.net.ctx.Err() != nil {
		return ErrClosed
	}
	// a full broadcaster drops the datagram like a congested link would
	i.bcast.TrySubmit(frame{src: iface, data: slices.Clone(data)})
	return nil
}

func (t *MemoryTransport) Send(iface netip.AddrPort, dst netip.AddrPort, data []byte) error {
	if slices.Contains(t.addrs, dst) {
		t.deliver(Packet{Data: slices.Clone(data), Src: iface, Iface: dst})
		return nil
	}
	t.net.mu.Lock()
	i, err := t.iface(iface)
	var l *link
	if err == nil {
		l = i.links[dst]
	}
	t.net.mu.Unlock()
	if err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("%s -> %s: %w", iface, dst, ErrNoLink)
	}
	select {
	case l.ch <- frame{src: iface, data: slices.Clone(data)}:
	case <-l.stop:
	case <-t.net.ctx.Done():
	}
	return nil
}

func (t *MemoryTransport) Recv() <-chan Packet {
	return t.recv
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.recv)
	return nil
}
