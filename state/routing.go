package state

import (
	"cmp"
	"fmt"
	"maps"
	"net/netip"
	"slices"
	"time"
)

// Neighbour is a directly reachable node discovered through HELLO
type Neighbour struct {
	Id NodeId
	// Addr is the primary address of the neighbour, used as its link-state identity
	Addr netip.Addr
	// Remote is the address the neighbour answered from
	Remote netip.AddrPort
	// Iface is the local interface that received the response
	Iface    netip.AddrPort
	LastSeen time.Time
}

type LinkCostPair struct {
	Addr netip.Addr
	Cost uint32
}

// LinkStateRecord is the latest advertisement accepted from a remote originator
type LinkStateRecord struct {
	Seq        uint32
	Iface      netip.AddrPort
	Neighbours []LinkCostPair
	Received   time.Time
}

type RouteEntry struct {
	Dest          netip.Addr
	NextHop       netip.Addr
	NextHopRemote netip.AddrPort
	Iface         netip.AddrPort
	Cost          uint32
}

func (r RouteEntry) String() string {
	return fmt.Sprintf("%s via %s (%s) cost %d", r.Dest, r.NextHop, r.Iface, r.Cost)
}

// LinkState holds the neighbour table, link state database and derived routing table of a node
type LinkState struct {
	Self       netip.Addr
	Id         NodeId
	Interfaces []netip.AddrPort
	Seq        uint32
	Neighbours map[netip.Addr]*Neighbour
	Lsdb       map[netip.Addr]*LinkStateRecord
	// LsdbOrder records the order originators were first seen, for stable tie-breaking
	LsdbOrder []netip.Addr
	Routes    map[netip.Addr]RouteEntry
}

func NewLinkState(id NodeId, interfaces []netip.AddrPort) *LinkState {
	ls := &LinkState{
		Id:         id,
		Interfaces: interfaces,
		Neighbours: make(map[netip.Addr]*Neighbour),
		Lsdb:       make(map[netip.Addr]*LinkStateRecord),
		Routes:     make(map[netip.Addr]RouteEntry),
	}
	if len(interfaces) > 0 {
		ls.Self = interfaces[0].Addr()
	}
	return ls
}

// SortedNeighbours returns the neighbour table ordered by address
func (ls *LinkState) SortedNeighbours() []*Neighbour {
	return slices.SortedFunc(maps.Values(ls.Neighbours), func(a, b *Neighbour) int {
		return a.Addr.Compare(b.Addr)
	})
}

func (ls *LinkState) SortedRoutes() []RouteEntry {
	return slices.SortedFunc(maps.Values(ls.Routes), func(a, b RouteEntry) int {
		return cmp.Or(a.Dest.Compare(b.Dest), a.NextHop.Compare(b.NextHop))
	})
}

func (ls *LinkState) DeleteRecord(origin netip.Addr) {
	delete(ls.Lsdb, origin)
	ls.LsdbOrder = slices.DeleteFunc(ls.LsdbOrder, func(addr netip.Addr) bool {
		return addr == origin
	})
}
