package core

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"

	"github.com/encodeous/overlay/perf"
	"github.com/encodeous/overlay/protocol"
	"github.com/encodeous/overlay/state"
	"github.com/encodeous/overlay/transport"
)

// Node owns the transport. It decodes inbound frames onto the main loop, and delivers overlay
// unicast either directly or, in routed mode, hop by hop along link-state routes.
type Node struct {
	*state.State
	Transport transport.Transport
}

func (n *Node) Init(s *state.State) error {
	n.State = s
	if t, ok := s.AuxConfig["transport"].(transport.Transport); ok {
		n.Transport = t
	} else {
		cfg, err := s.GetNode(s.Id)
		if err != nil {
			return err
		}
		t, err := transport.ListenUDP(s.Context, s.Log, cfg.Addresses)
		if err != nil {
			return fmt.Errorf("failed to open transport: %w", err)
		}
		n.Transport = t
	}
	s.Log.Debug("transport ready", "addrs", n.Transport.Addrs())
	go n.receive()
	return nil
}

func (n *Node) Cleanup(s *state.State) error {
	return n.Transport.Close()
}

func (n *Node) receive() {
	recv := n.Transport.Recv()
	for {
		select {
		case <-n.Context.Done():
			return
		case pkt, ok := <-recv:
			if !ok {
				return
			}
			perf.RecvPacketPerSecond.Add(1)
			perf.RecvBytesPerSecond.Add(float64(len(pkt.Data)))
			n.Dispatch(func(s *state.State) error {
				n.handlePacket(s, pkt)
				return nil
			})
		}
	}
}

func (n *Node) isLocal(addr netip.Addr) bool {
	return slices.ContainsFunc(n.Transport.Addrs(), func(ap netip.AddrPort) bool {
		return ap.Addr() == addr
	})
}

func (n *Node) handlePacket(s *state.State, pkt transport.Packet) {
	msg, err := protocol.Unmarshal(pkt.Data)
	if err != nil {
		logEvent(s.Log, MalformedMessage, "dropped undecodable frame", "src", pkt.Src, "error", err)
		return
	}
	switch m := msg.(type) {
	case protocol.LsMessage:
		Get[*LinkStateRouter](s).Handle(pkt, m)
	case protocol.ChordMessage:
		from, ok := s.ReverseLookup(pkt.Src.Addr())
		if !ok {
			logEvent(s.Log, UnknownSender, "chord message from unknown address", "src", pkt.Src, "type", m.Body.ChordType())
			return
		}
		Get[*Chord](s).Handle(from, m)
	case protocol.SearchMessage:
		from, ok := s.ReverseLookup(pkt.Src.Addr())
		if !ok {
			logEvent(s.Log, UnknownSender, "search message from unknown address", "src", pkt.Src, "type", m.Body.SearchType())
			return
		}
		Get[*Search](s).Handle(from, m)
	case protocol.Relay:
		n.handleRelay(s, pkt, m)
	}
}

func (n *Node) handleRelay(s *state.State, pkt transport.Packet, m protocol.Relay) {
	if n.isLocal(m.Dst) {
		n.handlePacket(s, transport.Packet{
			Data:  m.Payload,
			Src:   netip.AddrPortFrom(m.Src, pkt.Src.Port()),
			Iface: pkt.Iface,
		})
		return
	}
	if m.TTL <= 1 {
		logEvent(s.Log, TtlExpired, "dropped relayed frame", "src", m.Src, "dst", m.Dst)
		return
	}
	m.TTL--
	if err := n.relay(m); err != nil {
		logEvent(s.Log, DestinationUnreachable, "cannot relay frame", "src", m.Src, "dst", m.Dst, "error", err)
	}
}

func (n *Node) relay(m protocol.Relay) error {
	route, ok := Get[*LinkStateRouter](n.State).RouteOutput(m.Dst)
	if !ok {
		return state.ErrUnreachable
	}
	data, err := protocol.Marshal(m)
	if err != nil {
		return err
	}
	return n.write(route.Iface, route.NextHopRemote, data)
}

func (n *Node) write(iface, dst netip.AddrPort, data []byte) error {
	perf.SentPacketPerSecond.Add(1)
	perf.SentBytesPerSecond.Add(float64(len(data)))
	return n.Transport.Send(iface, dst, data)
}

// Broadcast sends a link-local message on iface
func (n *Node) Broadcast(iface netip.AddrPort, m protocol.Message) {
	data, err := protocol.Marshal(m)
	if err != nil {
		n.Log.Error("failed to encode broadcast", "error", err)
		return
	}
	perf.SentPacketPerSecond.Add(1)
	perf.SentBytesPerSecond.Add(float64(len(data)))
	if err := n.Transport.Broadcast(iface, data); err != nil {
		n.Log.Debug("broadcast failed", "iface", iface, "error", err)
	}
}

// SendLink sends a link-local message to dst over iface
func (n *Node) SendLink(iface, dst netip.AddrPort, m protocol.Message) {
	data, err := protocol.Marshal(m)
	if err != nil {
		n.Log.Error("failed to encode message", "error", err)
		return
	}
	if err := n.write(iface, dst, data); err != nil {
		n.Log.Debug("link send failed", "iface", iface, "dst", dst, "error", err)
	}
}

// SendAddr delivers an overlay message to the node owning dst
func (n *Node) SendAddr(dst netip.AddrPort, m protocol.Message) error {
	data, err := protocol.Marshal(m)
	if err != nil {
		return err
	}
	primary := n.Transport.Addrs()[0]
	if n.isLocal(dst.Addr()) {
		n.Dispatch(func(s *state.State) error {
			n.handlePacket(s, transport.Packet{Data: data, Src: primary, Iface: primary})
			return nil
		})
		return nil
	}
	if !n.Routed {
		err := n.write(primary, dst, data)
		if errors.Is(err, transport.ErrNoLink) {
			return fmt.Errorf("%w: %w", state.ErrUnreachable, err)
		}
		return err
	}
	if nb, ok := n.LinkState.Neighbours[dst.Addr()]; ok {
		return n.write(nb.Iface, nb.Remote, data)
	}
	return n.relay(protocol.Relay{
		Src:     primary.Addr(),
		Dst:     dst.Addr(),
		TTL:     state.MaxTTL,
		Payload: data,
	})
}

// Send delivers an overlay message to a node. Failures are reported to the failure callback and
// the message is dropped.
func (n *Node) Send(to state.NodeId, m protocol.Message) {
	dst, err := n.Resolve(to)
	if err == nil {
		err = n.SendAddr(dst, m)
	}
	if err != nil {
		n.onFailure(to, m, err)
	}
}

func (n *Node) onFailure(to state.NodeId, m protocol.Message, err error) {
	logEvent(n.Log, DestinationUnreachable, "dropped message", "to", to, "msg", describe(m), "error", err)
	Get[*Trace](n.State).Emit(UnreachableEvent{Node: n.Id, Target: to, Message: describe(m)})
}

func describe(m protocol.Message) string {
	switch m := m.(type) {
	case protocol.ChordMessage:
		return m.Body.ChordType().String()
	case protocol.SearchMessage:
		return m.Body.SearchType().String()
	case protocol.LsMessage:
		return m.Body.LsType().String()
	}
	return m.Family().String()
}
