package core

import (
	"net/netip"
	"testing"
	"time"

	"github.com/encodeous/overlay/protocol"
	"github.com/encodeous/overlay/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = netip.MustParseAddr("10.0.0.1")
	addrB = netip.MustParseAddr("10.0.0.2")
	addrC = netip.MustParseAddr("10.0.0.3")
	addrD = netip.MustParseAddr("10.0.0.4")
	port  = uint16(state.DefaultPort)
)

func ap(a netip.Addr) netip.AddrPort {
	return netip.AddrPortFrom(a, port)
}

func newLinkState(id state.NodeId, self netip.Addr) *state.LinkState {
	return state.NewLinkState(id, []netip.AddrPort{ap(self)})
}

func addNeighbour(ls *state.LinkState, h *RouterHarness, id state.NodeId, addr netip.Addr, now time.Time) {
	HandleHelloResponse(ls, h, protocol.LsMessage{TTL: 1, Originator: addr}, protocol.HelloRsp{Message: string(id)},
		ap(addr), ls.Interfaces[0], now)
}

func lsa(origin netip.Addr, seq uint32, ttl uint8, neighbours ...netip.Addr) (protocol.LsMessage, protocol.Lsa) {
	body := protocol.Lsa{}
	for _, n := range neighbours {
		body.Neighbours = append(body.Neighbours, protocol.LinkCost{Addr: n, Cost: state.LinkCost})
	}
	return protocol.LsMessage{Seq: seq, TTL: ttl, Originator: origin, Body: body}, body
}

func TestHelloRequestIsAnswered(t *testing.T) {
	h := &RouterHarness{}
	ls := newLinkState("a", addrA)
	HandleHelloRequest(ls, h, protocol.LsMessage{Seq: 4, TTL: 1, Originator: addrB, Body: protocol.HelloReq{Message: "b"}}, ap(addrB), ap(addrA))

	a := h.GetActions()
	a.AssertContains(t, "UNICAST", ap(addrA), ap(addrB), protocol.LsMessage{
		Seq:        4,
		TTL:        1,
		Originator: addrA,
		Body:       protocol.HelloRsp{Message: "a"},
	})
}

func TestHelloFromSelfIgnored(t *testing.T) {
	h := &RouterHarness{}
	ls := newLinkState("a", addrA)
	HandleHelloRequest(ls, h, protocol.LsMessage{TTL: 1, Originator: addrA, Body: protocol.HelloReq{Message: "a"}}, ap(addrA), ap(addrA))
	assert.Empty(t, h.GetActions())

	addNeighbour(ls, h, "a", addrA, time.Now())
	assert.Empty(t, ls.Neighbours)
}

func TestHelloResponseAddsNeighbour(t *testing.T) {
	h := &RouterHarness{}
	ls := newLinkState("a", addrA)
	now := time.Now()
	addNeighbour(ls, h, "b", addrB, now)

	require.Contains(t, ls.Neighbours, addrB)
	n := ls.Neighbours[addrB]
	assert.Equal(t, state.NodeId("b"), n.Id)
	assert.Equal(t, ap(addrB), n.Remote)
	assert.Equal(t, now, n.LastSeen)

	a := h.GetActions()
	a.AssertContains(t, "TABLE", 1)
	assert.Equal(t, state.RouteEntry{
		Dest:          addrB,
		NextHop:       addrB,
		NextHopRemote: ap(addrB),
		Iface:         ap(addrA),
		Cost:          1,
	}, ls.Routes[addrB])

	// a refresh only moves the timestamp
	later := now.Add(time.Second)
	addNeighbour(ls, h, "b", addrB, later)
	assert.Equal(t, later, ls.Neighbours[addrB].LastSeen)
	h.GetActions().AssertNotContains(t, "TABLE")
}

func TestLsaSequenceDedup(t *testing.T) {
	h := &RouterHarness{}
	ls := newLinkState("a", addrA)
	addNeighbour(ls, h, "b", addrB, time.Now())
	h.GetActions()

	accepted := make([]uint32, 0)
	for _, seq := range []uint32{5, 3, 7, 7, 9} {
		msg, body := lsa(addrB, seq, 1, addrA, addrC)
		if HandleLsa(ls, h, msg, body, ap(addrA), time.Now()) {
			accepted = append(accepted, seq)
		}
	}
	assert.Equal(t, []uint32{5, 7, 9}, accepted)
	assert.Equal(t, uint32(9), ls.Lsdb[addrB].Seq)
	assert.Equal(t, []netip.Addr{addrB}, ls.LsdbOrder)
}

func TestOwnLsaDropped(t *testing.T) {
	h := &RouterHarness{}
	ls := newLinkState("a", addrA)
	msg, body := lsa(addrA, 100, 4, addrB)
	assert.False(t, HandleLsa(ls, h, msg, body, ap(addrA), time.Now()))
	assert.Empty(t, ls.Lsdb)
	assert.Empty(t, h.GetActions())
}

func TestLsaFlooding(t *testing.T) {
	h := &RouterHarness{}
	ls := newLinkState("a", addrA)
	addNeighbour(ls, h, "b", addrB, time.Now())
	h.GetActions()

	msg, body := lsa(addrC, 1, 3, addrB)
	require.True(t, HandleLsa(ls, h, msg, body, ap(addrA), time.Now()))
	fwd := msg
	fwd.TTL = 2
	h.GetActions().AssertContains(t, "BROADCAST", ap(addrA), fwd)

	// the last hop of an advertisement is not flooded
	msg, body = lsa(addrD, 1, 1, addrB)
	require.True(t, HandleLsa(ls, h, msg, body, ap(addrA), time.Now()))
	h.GetActions().AssertNotContains(t, "BROADCAST")
}

func TestAdvertiseIncrementsSeq(t *testing.T) {
	h := &RouterHarness{}
	ls := newLinkState("a", addrA)
	now := time.Now()
	addNeighbour(ls, h, "d", addrD, now)
	addNeighbour(ls, h, "b", addrB, now)
	h.GetActions()

	Advertise(ls, h)
	Advertise(ls, h)
	assert.Equal(t, uint32(2), ls.Seq)
	a := h.GetActions()
	a.AssertContains(t, "BROADCAST", ap(addrA), protocol.LsMessage{
		Seq:        2,
		TTL:        state.MaxTTL,
		Originator: addrA,
		Body: protocol.Lsa{Neighbours: []protocol.LinkCost{
			{Addr: addrB, Cost: state.LinkCost},
			{Addr: addrD, Cost: state.LinkCost},
		}},
	})
}

func TestComputeRoutesRing(t *testing.T) {
	// A - B
	// |   |
	// D - C
	h := &RouterHarness{}
	ls := newLinkState("a", addrA)
	now := time.Now()
	addNeighbour(ls, h, "b", addrB, now)
	addNeighbour(ls, h, "d", addrD, now)

	for _, adv := range []struct {
		origin netip.Addr
		nb     []netip.Addr
	}{
		{addrB, []netip.Addr{addrA, addrC}},
		{addrC, []netip.Addr{addrB, addrD}},
		{addrD, []netip.Addr{addrC, addrA}},
	} {
		msg, body := lsa(adv.origin, 1, 1, adv.nb...)
		require.True(t, HandleLsa(ls, h, msg, body, ap(addrA), now))
	}

	require.Len(t, ls.Routes, 3)
	assert.Equal(t, addrB, ls.Routes[addrB].NextHop)
	assert.Equal(t, uint32(1), ls.Routes[addrB].Cost)
	assert.Equal(t, addrD, ls.Routes[addrD].NextHop)
	assert.Equal(t, uint32(1), ls.Routes[addrD].Cost)
	// both paths to C cost 2, the lower neighbour wins
	assert.Equal(t, addrB, ls.Routes[addrC].NextHop)
	assert.Equal(t, uint32(2), ls.Routes[addrC].Cost)
	assert.Equal(t, ap(addrB), ls.Routes[addrC].NextHopRemote)
	assert.Equal(t, ls.Routes, h.routes)
}

func TestComputeRoutesLine(t *testing.T) {
	// A - B - C - D
	h := &RouterHarness{}
	ls := newLinkState("a", addrA)
	now := time.Now()
	addNeighbour(ls, h, "b", addrB, now)
	for _, adv := range []struct {
		origin netip.Addr
		nb     []netip.Addr
	}{
		{addrD, []netip.Addr{addrC}},
		{addrC, []netip.Addr{addrB, addrD}},
		{addrB, []netip.Addr{addrA, addrC}},
	} {
		msg, body := lsa(adv.origin, 1, 1, adv.nb...)
		require.True(t, HandleLsa(ls, h, msg, body, ap(addrA), now))
	}
	for _, dst := range []netip.Addr{addrB, addrC, addrD} {
		assert.Equal(t, addrB, ls.Routes[dst].NextHop, "next hop of %s", dst)
	}
	assert.Equal(t, uint32(3), ls.Routes[addrD].Cost)
}

func TestComputeRoutesUnreachable(t *testing.T) {
	h := &RouterHarness{}
	ls := newLinkState("a", addrA)
	now := time.Now()
	addNeighbour(ls, h, "b", addrB, now)
	// D is advertised by C, but nothing connects C to A
	msg, body := lsa(addrC, 1, 1, addrD)
	require.True(t, HandleLsa(ls, h, msg, body, ap(addrA), now))
	assert.NotContains(t, ls.Routes, addrC)
	assert.NotContains(t, ls.Routes, addrD)
	assert.Contains(t, ls.Routes, addrB)
}

func TestNeighbourTimeout(t *testing.T) {
	h := &RouterHarness{}
	ls := newLinkState("a", addrA)
	now := time.Now()
	addNeighbour(ls, h, "b", addrB, now)
	addNeighbour(ls, h, "c", addrC, now.Add(state.NeighbourTimeout))
	h.GetActions()

	AuditNeighbours(ls, h, now.Add(state.NeighbourTimeout+time.Second))
	assert.NotContains(t, ls.Neighbours, addrB)
	assert.Contains(t, ls.Neighbours, addrC)
	assert.NotContains(t, ls.Routes, addrB)

	a := h.GetActions()
	a.AssertContains(t, "TABLE", 1)
	a.AssertContains(t, "BROADCAST", ap(addrA), protocol.LsMessage{
		TTL:        1,
		Originator: addrA,
		Body:       protocol.HelloReq{Message: "a"},
	})
}

func TestEmptyNeighbourTableClearsRoutes(t *testing.T) {
	h := &RouterHarness{}
	ls := newLinkState("a", addrA)
	now := time.Now()
	addNeighbour(ls, h, "b", addrB, now)
	msg, body := lsa(addrB, 1, 1, addrA, addrC)
	require.True(t, HandleLsa(ls, h, msg, body, ap(addrA), now))
	require.Len(t, ls.Routes, 2)
	h.GetActions()

	AuditNeighbours(ls, h, now.Add(state.NeighbourTimeout+time.Second))
	assert.Empty(t, ls.Routes)
	h.GetActions().AssertContains(t, "TABLE", 0)
}

func TestLsaAging(t *testing.T) {
	h := &RouterHarness{}
	ls := newLinkState("a", addrA)
	start := time.Now()
	msg, body := lsa(addrC, 1, 1, addrB)
	require.True(t, HandleLsa(ls, h, msg, body, ap(addrA), start))

	later := start.Add(state.LsaMaxAge + time.Second)
	addNeighbour(ls, h, "b", addrB, later)
	AuditNeighbours(ls, h, later)
	assert.NotContains(t, ls.Lsdb, addrC)
	assert.Empty(t, ls.LsdbOrder)
	assert.Contains(t, ls.Neighbours, addrB)

	// a purged originator is accepted again at any sequence number
	assert.True(t, HandleLsa(ls, h, msg, body, ap(addrA), later))
}

func TestSlowHelloKeepsLiveRecords(t *testing.T) {
	hello, timeout, maxAge := state.HelloDelay, state.NeighbourTimeout, state.LsaMaxAge
	t.Cleanup(func() {
		state.HelloDelay, state.NeighbourTimeout, state.LsaMaxAge = hello, timeout, maxAge
	})
	(&state.TimerCfg{Hello: 40 * time.Second}).ApplyTimers()

	h := &RouterHarness{}
	ls := newLinkState("a", addrA)
	start := time.Now()
	addNeighbour(ls, h, "b", addrB, start)
	msg, body := lsa(addrB, 1, 1, addrA, addrC)
	require.True(t, HandleLsa(ls, h, msg, body, ap(addrA), start))

	// b keeps answering hellos but its next advertisement is still in flight
	later := start.Add(state.HelloDelay)
	addNeighbour(ls, h, "b", addrB, later)
	AuditNeighbours(ls, h, later)
	assert.Contains(t, ls.Lsdb, addrB)
	assert.Contains(t, ls.Routes, addrC)
	h.GetLogs().AssertNotContains(t, "LOG", RecordExpired)
}

func TestSaturatingCost(t *testing.T) {
	assert.Equal(t, state.INF, addCost(state.INF, 1))
	assert.Equal(t, state.INF, addCost(state.INF-1, 5))
	assert.Equal(t, uint32(7), addCost(3, 4))
}
