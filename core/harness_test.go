package core

import (
	"cmp"
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"testing"

	"github.com/encodeous/overlay/protocol"
	"github.com/encodeous/overlay/state"
	gocmp "github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

type HarnessEvent struct {
	Message string
	Args    []any
}

func MakeEvent(msg string, args ...any) HarnessEvent {
	return HarnessEvent{
		Message: msg,
		Args:    args,
	}
}

// RouterHarness records every side effect requested by the protocol functions
type RouterHarness struct {
	actions []HarnessEvent
	txn     uint32
	routes  map[netip.Addr]state.RouteEntry
}

func (h *RouterHarness) NextTxn() uint32 {
	h.txn++
	return h.txn
}

func (h *RouterHarness) Broadcast(iface netip.AddrPort, msg protocol.LsMessage) {
	h.actions = append(h.actions, MakeEvent("BROADCAST", iface, msg))
}

func (h *RouterHarness) Unicast(iface, dst netip.AddrPort, msg protocol.LsMessage) {
	h.actions = append(h.actions, MakeEvent("UNICAST", iface, dst, msg))
}

func (h *RouterHarness) TableReplace(routes map[netip.Addr]state.RouteEntry) {
	h.routes = routes
	h.actions = append(h.actions, MakeEvent("TABLE", len(routes)))
}

func (h *RouterHarness) SendChord(to state.NodeId, txn uint32, body protocol.ChordBody) {
	h.actions = append(h.actions, MakeEvent("SEND_CHORD", to, body))
}

func (h *RouterHarness) LookupResolved(owner state.NodeId, txn uint32, req protocol.LookupReq) {
	h.actions = append(h.actions, MakeEvent("RESOLVED", owner, req))
}

func (h *RouterHarness) NodeRejoined(node, successor state.NodeId) {
	h.actions = append(h.actions, MakeEvent("REJOINED", node, successor))
}

func (h *RouterHarness) NodeLeaving(successor state.NodeId) {
	h.actions = append(h.actions, MakeEvent("LEAVING", successor))
}

func (h *RouterHarness) Lookup(key string, txn uint32, purpose state.LookupPurpose) {
	h.actions = append(h.actions, MakeEvent("LOOKUP", key, purpose, txn))
}

func (h *RouterHarness) SendSearch(to state.NodeId, txn uint32, body protocol.SearchBody) {
	h.actions = append(h.actions, MakeEvent("SEND_SEARCH", to, body))
}

func (h *RouterHarness) Deliver(query, docs []string) {
	h.actions = append(h.actions, MakeEvent("DELIVER", query, docs))
}

func (h *RouterHarness) Log(event Event, desc string, args ...any) {
	x := make([]any, 0)
	x = append(x, event)
	x = append(x, desc)
	x = append(x, args...)
	h.actions = append(h.actions, MakeEvent("LOG", x...))
}

type HarnessEvents []HarnessEvent

func (e HarnessEvents) String() string {
	out := make([]string, 0)
	for _, action := range e {
		cur := action.Message
		for _, arg := range action.Args {
			cur += " " + fmt.Sprint(arg)
		}
		out = append(out, cur)
	}
	slices.Sort(out)
	return strings.Join(out, "\n")
}

// GetActions drains the recorded side effects, log lines stay buffered for GetLogs
func (h *RouterHarness) GetActions() HarnessEvents {
	return h.drain(func(e HarnessEvent) bool { return e.Message != "LOG" })
}

// GetLogs drains the recorded log lines, other side effects stay buffered
func (h *RouterHarness) GetLogs() HarnessEvents {
	return h.drain(func(e HarnessEvent) bool { return e.Message == "LOG" })
}

func (h *RouterHarness) drain(take func(HarnessEvent) bool) HarnessEvents {
	x := make([]HarnessEvent, 0)
	rest := make([]HarnessEvent, 0)
	for _, action := range h.actions {
		if take(action) {
			x = append(x, action)
		} else {
			rest = append(rest, action)
		}
	}
	h.actions = rest
	return x
}

func (e HarnessEvents) contains(msg string, args ...any) bool {
	for _, event := range e {
		if event.Message != msg || len(event.Args) < len(args) {
			continue
		}
		match := true
		for i, arg := range args {
			if !gocmp.Equal(event.Args[i], arg, cmpopts.EquateComparable(netip.Addr{}, netip.AddrPort{})) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func (e HarnessEvents) AssertContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.contains(msg, args...) {
		return
	}
	t.Fatal("Expected event not found: ", msg, " with args: ", args, " in ", e)
}

func (e HarnessEvents) AssertNotContains(t *testing.T, msg string, args ...any) {
	t.Helper()
	if e.contains(msg, args...) {
		t.Fatal("Unexpected event found: ", msg, " with args: ", args, " in ", e)
	}
}

// SortedByKey orders ids by their ring position
func SortedByKey(ids ...state.NodeId) []state.NodeId {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b state.NodeId) int {
		return cmp.Compare(a.Key(), b.Key())
	})
	return out
}

// TrueOwner is the first node at or clockwise after key
func TrueOwner(ids []state.NodeId, key state.RingKey) state.NodeId {
	sorted := SortedByKey(ids...)
	for _, id := range sorted {
		if id.Key() >= key {
			return id
		}
	}
	return sorted[0]
}

type envelope struct {
	from, to state.NodeId
	msg      any
}

type resolution struct {
	Node  state.NodeId
	Owner state.NodeId
	Req   protocol.LookupReq
}

type delivery struct {
	Node  state.NodeId
	Query []string
	Docs  []string
}

// Cluster wires ring nodes together with an in-order message queue, so every exchange is deterministic
type Cluster struct {
	nodes     map[state.NodeId]*clusterNode
	order     []state.NodeId
	queue     []envelope
	resolved  []resolution
	delivered []delivery
	dropped   int
}

type clusterNode struct {
	c   *Cluster
	rs  *state.RingState
	ss  *state.SearchState
	txn uint32
	log HarnessEvents
}

func NewCluster(policy state.PredecessorPolicy, ids ...state.NodeId) *Cluster {
	c := &Cluster{nodes: make(map[state.NodeId]*clusterNode)}
	for _, id := range ids {
		c.nodes[id] = &clusterNode{
			c:  c,
			rs: state.NewRingState(id, policy),
			ss: state.NewSearchState(),
		}
		c.order = append(c.order, id)
	}
	return c
}

func (n *clusterNode) NextTxn() uint32 {
	n.txn++
	return n.txn
}

func (n *clusterNode) SendChord(to state.NodeId, txn uint32, body protocol.ChordBody) {
	n.c.queue = append(n.c.queue, envelope{from: n.rs.Id, to: to, msg: protocol.ChordMessage{Txn: txn, Body: body}})
}

func (n *clusterNode) SendSearch(to state.NodeId, txn uint32, body protocol.SearchBody) {
	n.c.queue = append(n.c.queue, envelope{from: n.rs.Id, to: to, msg: protocol.SearchMessage{Txn: txn, Body: body}})
}

func (n *clusterNode) LookupResolved(owner state.NodeId, txn uint32, req protocol.LookupReq) {
	n.c.resolved = append(n.c.resolved, resolution{Node: n.rs.Id, Owner: owner, Req: req})
	if req.Purpose == state.PurposeProbe {
		return
	}
	LookupResolved(n.ss, n, n.rs.Id, owner, txn, req)
}

func (n *clusterNode) NodeRejoined(node, successor state.NodeId) {
	HandoffOnRejoin(n.ss, n, n.rs.Id, node, successor)
}

func (n *clusterNode) NodeLeaving(successor state.NodeId) {
	HandoffOnLeave(n.ss, n, n.rs.Id, successor)
}

func (n *clusterNode) Lookup(key string, txn uint32, purpose state.LookupPurpose) {
	n.rs.Stats.Issued++
	Lookup(n.rs, n, txn, protocol.LookupReq{Key: key, Originator: n.rs.Id, Purpose: purpose})
}

func (n *clusterNode) Deliver(query, docs []string) {
	n.c.delivered = append(n.c.delivered, delivery{Node: n.rs.Id, Query: query, Docs: docs})
}

func (n *clusterNode) Log(event Event, desc string, args ...any) {
	n.log = append(n.log, MakeEvent("LOG", append([]any{event, desc}, args...)...))
}

func (c *Cluster) Node(id state.NodeId) *clusterNode {
	return c.nodes[id]
}

// Drain delivers queued messages until the cluster is quiet
func (c *Cluster) Drain(t *testing.T) {
	t.Helper()
	for steps := 0; len(c.queue) > 0; steps++ {
		require.Less(t, steps, 1_000_000, "cluster did not settle")
		env := c.queue[0]
		c.queue = c.queue[1:]
		n, ok := c.nodes[env.to]
		if !ok {
			c.dropped++
			continue
		}
		switch m := env.msg.(type) {
		case protocol.ChordMessage:
			HandleChord(n.rs, n, env.from, m)
		case protocol.SearchMessage:
			HandleSearch(n.ss, n, n.rs.Id, m)
		}
	}
}

// Join places id into the ring through helper and lets the ring stabilize
func (c *Cluster) Join(t *testing.T, id, helper state.NodeId) {
	t.Helper()
	n := c.nodes[id]
	RequestJoin(n.rs, n, helper)
	c.Drain(t)
	c.Stabilize(t, 2)
}

func (c *Cluster) Leave(t *testing.T, id state.NodeId) {
	t.Helper()
	n := c.nodes[id]
	Leave(n.rs, n)
	c.Drain(t)
	c.Stabilize(t, 2)
}

// Stabilize runs rounds of the periodic stabilization on every joined node
func (c *Cluster) Stabilize(t *testing.T, rounds int) {
	t.Helper()
	for range rounds {
		for _, id := range c.order {
			n := c.nodes[id]
			Stabilize(n.rs, n)
		}
		c.Drain(t)
	}
}

func (c *Cluster) FixFingers(t *testing.T) {
	t.Helper()
	for _, id := range c.order {
		n := c.nodes[id]
		FixFingers(n.rs, n)
	}
	c.Drain(t)
}

// Members returns the ids of every joined node
func (c *Cluster) Members() []state.NodeId {
	out := make([]state.NodeId, 0)
	for _, id := range c.order {
		if c.nodes[id].rs.Joined() {
			out = append(out, id)
		}
	}
	return out
}

// AssertRing checks that the successor and predecessor pointers of every member follow key order
func (c *Cluster) AssertRing(t *testing.T) {
	t.Helper()
	members := SortedByKey(c.Members()...)
	for i, id := range members {
		rs := c.nodes[id].rs
		succ := members[(i+1)%len(members)]
		pred := members[(i+len(members)-1)%len(members)]
		require.Equal(t, succ, rs.Successor, "successor of %s", id)
		require.Equal(t, pred, rs.Predecessor, "predecessor of %s", id)
		require.Equal(t, rs.Successor, rs.Fingers[0].Node, "finger 0 of %s", id)
	}
}

func (c *Cluster) TakeResolved() []resolution {
	r := c.resolved
	c.resolved = nil
	return r
}

func (c *Cluster) TakeDelivered() []delivery {
	d := c.delivered
	c.delivered = nil
	return d
}
