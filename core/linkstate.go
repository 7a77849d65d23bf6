package core

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/encodeous/overlay/perf"
	"github.com/encodeous/overlay/protocol"
	"github.com/encodeous/overlay/state"
	"github.com/encodeous/overlay/transport"
	"github.com/gaissmai/bart"
)

// LinkStateRouter runs neighbour discovery and link-state routing for this node
type LinkStateRouter struct {
	*state.State
	// ForwardTable holds a /32 route for every reachable destination
	ForwardTable *bart.Table[state.RouteEntry]
}

func (r *LinkStateRouter) Init(s *state.State) error {
	r.State = s
	r.ForwardTable = new(bart.Table[state.RouteEntry])
	s.LinkState = state.NewLinkState(s.Id, Get[*Node](s).Transport.Addrs())

	s.Dispatch(func(s *state.State) error {
		BroadcastHello(s.LinkState, r)
		return nil
	})
	s.RepeatTask(func(s *state.State) error {
		AuditNeighbours(s.LinkState, r, time.Now())
		return nil
	}, state.HelloDelay)
	return nil
}

func (r *LinkStateRouter) Cleanup(s *state.State) error {
	return nil
}

func (r *LinkStateRouter) Broadcast(iface netip.AddrPort, msg protocol.LsMessage) {
	Get[*Node](r.State).Broadcast(iface, msg)
}

func (r *LinkStateRouter) Unicast(iface, dst netip.AddrPort, msg protocol.LsMessage) {
	Get[*Node](r.State).SendLink(iface, dst, msg)
}

func (r *LinkStateRouter) TableReplace(routes map[netip.Addr]state.RouteEntry) {
	perf.RouteRecomputations.Add(1)
	t := new(bart.Table[state.RouteEntry])
	for dst, e := range routes {
		t.Insert(netip.PrefixFrom(dst, dst.BitLen()), e)
	}
	r.ForwardTable = t
}

func (r *LinkStateRouter) Log(event Event, desc string, args ...any) {
	logEvent(r.Env.Log, event, desc, args...)
	if event == NeighbourAdded || event == NeighbourExpired {
		Get[*Trace](r.State).Emit(LogEvent{Node: r.Id, Event: event, Desc: desc})
	}
}

// RouteOutput returns the route used to reach dst
func (r *LinkStateRouter) RouteOutput(dst netip.Addr) (state.RouteEntry, bool) {
	return r.ForwardTable.Lookup(dst)
}

// Handle processes an inbound link-state message
func (r *LinkStateRouter) Handle(pkt transport.Packet, m protocol.LsMessage) {
	ls := r.LinkState
	switch body := m.Body.(type) {
	case protocol.HelloReq:
		HandleHelloRequest(ls, r, m, pkt.Src, pkt.Iface)
	case protocol.HelloRsp:
		HandleHelloResponse(ls, r, m, body, pkt.Src, pkt.Iface, time.Now())
	case protocol.Lsa:
		if HandleLsa(ls, r, m, body, pkt.Iface, time.Now()) {
			perf.LsaAccepted.Add(1)
		} else {
			perf.LsaDropped.Add(1)
		}
	case protocol.PingReq:
		r.handlePingRequest(pkt, m, body)
	case protocol.PingRsp:
		from, _ := r.ReverseLookup(m.Originator)
		Get[*Pinger](r.State).Complete(m.Seq, from, body.Message)
	}
}

func (r *LinkStateRouter) handlePingRequest(pkt transport.Packet, m protocol.LsMessage, req protocol.PingReq) {
	dst := netip.AddrPortFrom(m.Originator, pkt.Src.Port())
	if id, ok := r.ReverseLookup(m.Originator); ok {
		if ap, err := r.Resolve(id); err == nil {
			dst = ap
		}
	}
	err := Get[*Node](r.State).SendAddr(dst, protocol.LsMessage{
		Seq:        m.Seq,
		TTL:        state.MaxTTL,
		Originator: r.LinkState.Self,
		Body:       protocol.PingRsp{Message: req.Message},
	})
	if err != nil {
		r.Log(DestinationUnreachable, "cannot answer ping", "originator", m.Originator, "error", err)
	}
}

// DumpRoutes renders the routing table
func DumpRoutes(ls *state.LinkState) string {
	out := fmt.Sprintf("routes of %s (%s):\n", ls.Id, ls.Self)
	for _, e := range ls.SortedRoutes() {
		out += "  " + e.String() + "\n"
	}
	return out
}

func DumpNeighbours(ls *state.LinkState, now time.Time) string {
	out := fmt.Sprintf("neighbours of %s (%s):\n", ls.Id, ls.Self)
	for _, n := range ls.SortedNeighbours() {
		out += fmt.Sprintf("  %s %s via %s, seen %s ago\n", n.Id, n.Addr, n.Iface, now.Sub(n.LastSeen).Truncate(time.Millisecond))
	}
	return out
}

func DumpLsdb(ls *state.LinkState) string {
	out := fmt.Sprintf("link state database of %s (own seq %d):\n", ls.Id, ls.Seq)
	for _, o := range ls.LsdbOrder {
		rec := ls.Lsdb[o]
		out += fmt.Sprintf("  %s seq %d:", o, rec.Seq)
		for _, l := range rec.Neighbours {
			out += fmt.Sprintf(" %s/%d", l.Addr, l.Cost)
		}
		out += "\n"
	}
	return out
}
