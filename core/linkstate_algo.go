package core

import (
	"net/netip"
	"time"

	"github.com/encodeous/overlay/protocol"
	"github.com/encodeous/overlay/state"
)

// LinkRouter defines the side effects of the link-state protocol
type LinkRouter interface {
	// Broadcast sends msg to every node attached to the local interface iface
	Broadcast(iface netip.AddrPort, msg protocol.LsMessage)
	// Unicast sends msg to dst over the local interface iface
	Unicast(iface, dst netip.AddrPort, msg protocol.LsMessage)
	// TableReplace installs a freshly computed routing table
	TableReplace(routes map[netip.Addr]state.RouteEntry)
	Log(event Event, desc string, args ...any)
}

func BroadcastHello(ls *state.LinkState, r LinkRouter) {
	for _, iface := range ls.Interfaces {
		r.Broadcast(iface, protocol.LsMessage{
			Seq:        ls.Seq,
			TTL:        1,
			Originator: ls.Self,
			Body:       protocol.HelloReq{Message: string(ls.Id)},
		})
	}
}

func HandleHelloRequest(ls *state.LinkState, r LinkRouter, msg protocol.LsMessage, src, iface netip.AddrPort) {
	if msg.Originator == ls.Self {
		return
	}
	r.Unicast(iface, src, protocol.LsMessage{
		Seq:        msg.Seq,
		TTL:        1,
		Originator: ls.Self,
		Body:       protocol.HelloRsp{Message: string(ls.Id)},
	})
}

// HandleHelloResponse records the responder as a live neighbour reachable over iface
func HandleHelloResponse(ls *state.LinkState, r LinkRouter, msg protocol.LsMessage, rsp protocol.HelloRsp, src, iface netip.AddrPort, now time.Time) {
	if msg.Originator == ls.Self || !msg.Originator.IsValid() {
		return
	}
	n, ok := ls.Neighbours[msg.Originator]
	if !ok {
		n = &state.Neighbour{Addr: msg.Originator}
		ls.Neighbours[msg.Originator] = n
		r.Log(NeighbourAdded, "discovered neighbour", "addr", msg.Originator, "id", rsp.Message, "iface", iface)
	}
	n.Id = state.NodeId(rsp.Message)
	n.Remote = src
	n.Iface = iface
	n.LastSeen = now
	if !ok {
		ComputeRoutes(ls, r)
	}
}

// Advertise floods the current neighbour table under a fresh sequence number
func Advertise(ls *state.LinkState, r LinkRouter) {
	ls.Seq++
	lsa := protocol.Lsa{Neighbours: make([]protocol.LinkCost, 0, len(ls.Neighbours))}
	for _, n := range ls.SortedNeighbours() {
		lsa.Neighbours = append(lsa.Neighbours, protocol.LinkCost{Addr: n.Addr, Cost: state.LinkCost})
	}
	for _, iface := range ls.Interfaces {
		r.Broadcast(iface, protocol.LsMessage{
			Seq:        ls.Seq,
			TTL:        state.MaxTTL,
			Originator: ls.Self,
			Body:       lsa,
		})
	}
}

// AuditNeighbours runs once per hello period. It evicts silent neighbours and aged records, then
// probes for neighbours and advertises the local link state.
func AuditNeighbours(ls *state.LinkState, r LinkRouter, now time.Time) {
	changed := false
	for addr, n := range ls.Neighbours {
		if now.Sub(n.LastSeen) > state.NeighbourTimeout {
			delete(ls.Neighbours, addr)
			r.Log(NeighbourExpired, "neighbour timed out", "addr", addr, "id", n.Id, "last_seen", n.LastSeen)
			changed = true
		}
	}
	if state.LsaMaxAge > 0 {
		for origin, rec := range ls.Lsdb {
			if now.Sub(rec.Received) > state.LsaMaxAge {
				ls.DeleteRecord(origin)
				r.Log(RecordExpired, "link state record aged out", "origin", origin, "seq", rec.Seq)
				changed = true
			}
		}
	}
	if changed {
		ComputeRoutes(ls, r)
	}
	BroadcastHello(ls, r)
	Advertise(ls, r)
}

// HandleLsa stores an advertisement if it is newer than the stored record for its originator, then
// recomputes routes and floods it further. It reports whether the advertisement was accepted.
func HandleLsa(ls *state.LinkState, r LinkRouter, msg protocol.LsMessage, lsa protocol.Lsa, iface netip.AddrPort, now time.Time) bool {
	if msg.Originator == ls.Self {
		return false
	}
	rec, ok := ls.Lsdb[msg.Originator]
	if ok && rec.Seq >= msg.Seq {
		r.Log(LsaStale, "dropped stale advertisement", "origin", msg.Originator, "seq", msg.Seq, "stored", rec.Seq)
		return false
	}
	if !ok {
		ls.LsdbOrder = append(ls.LsdbOrder, msg.Originator)
	}
	nb := make([]state.LinkCostPair, 0, len(lsa.Neighbours))
	for _, l := range lsa.Neighbours {
		nb = append(nb, state.LinkCostPair{Addr: l.Addr, Cost: l.Cost})
	}
	ls.Lsdb[msg.Originator] = &state.LinkStateRecord{
		Seq:        msg.Seq,
		Iface:      iface,
		Neighbours: nb,
		Received:   now,
	}
	r.Log(LsaAccepted, "accepted advertisement", "origin", msg.Originator, "seq", msg.Seq, "neighbours", len(nb))
	ComputeRoutes(ls, r)

	if msg.TTL > 1 {
		fwd := msg
		fwd.TTL--
		for _, i := range ls.Interfaces {
			r.Broadcast(i, fwd)
		}
	}
	return true
}

func addCost(a, b uint32) uint32 {
	if a == state.INF || b == state.INF || a+b < a {
		return state.INF
	}
	return a + b
}

// ComputeRoutes runs Dijkstra from self over the local neighbour table and the link state database.
// Ties are broken by discovery order: self, neighbours by address, then originators in the order they were first heard.
func ComputeRoutes(ls *state.LinkState, r LinkRouter) {
	routes := make(map[netip.Addr]state.RouteEntry)
	neighbours := ls.SortedNeighbours()
	if len(neighbours) == 0 {
		ls.Routes = routes
		r.TableReplace(routes)
		r.Log(RoutesComputed, "no neighbours, routing table cleared")
		return
	}

	order := make([]netip.Addr, 0, len(ls.Lsdb)+len(neighbours)+1)
	seen := make(map[netip.Addr]struct{})
	add := func(a netip.Addr) {
		if _, ok := seen[a]; ok {
			return
		}
		seen[a] = struct{}{}
		order = append(order, a)
	}
	add(ls.Self)
	for _, n := range neighbours {
		add(n.Addr)
	}
	for _, o := range ls.LsdbOrder {
		add(o)
		for _, l := range ls.Lsdb[o].Neighbours {
			add(l.Addr)
		}
	}

	edges := func(u netip.Addr) []state.LinkCostPair {
		if u == ls.Self {
			out := make([]state.LinkCostPair, 0, len(neighbours))
			for _, n := range neighbours {
				out = append(out, state.LinkCostPair{Addr: n.Addr, Cost: state.LinkCost})
			}
			return out
		}
		if rec, ok := ls.Lsdb[u]; ok {
			return rec.Neighbours
		}
		return nil
	}

	dist := map[netip.Addr]uint32{ls.Self: 0}
	distOf := func(a netip.Addr) uint32 {
		if d, ok := dist[a]; ok {
			return d
		}
		return state.INF
	}
	firstHop := make(map[netip.Addr]netip.Addr)
	done := make(map[netip.Addr]struct{})

	for {
		var u netip.Addr
		best := state.INF
		for _, a := range order {
			if _, ok := done[a]; ok {
				continue
			}
			if d := distOf(a); d < best {
				best = d
				u = a
			}
		}
		if best == state.INF {
			break
		}
		done[u] = struct{}{}
		for _, e := range edges(u) {
			if e.Addr == ls.Self {
				continue
			}
			nd := addCost(best, e.Cost)
			if nd < distOf(e.Addr) {
				dist[e.Addr] = nd
				if u == ls.Self {
					firstHop[e.Addr] = e.Addr
				} else {
					firstHop[e.Addr] = firstHop[u]
				}
			}
		}
	}

	for dst := range done {
		if dst == ls.Self {
			continue
		}
		nh := firstHop[dst]
		n := ls.Neighbours[nh]
		routes[dst] = state.RouteEntry{
			Dest:          dst,
			NextHop:       nh,
			NextHopRemote: n.Remote,
			Iface:         n.Iface,
			Cost:          dist[dst],
		}
	}
	ls.Routes = routes
	r.TableReplace(routes)
	r.Log(RoutesComputed, "recomputed routing table", "routes", len(routes))
}
