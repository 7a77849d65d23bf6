package core

import (
	"fmt"

	"github.com/encodeous/overlay/perf"
	"github.com/encodeous/overlay/protocol"
	"github.com/encodeous/overlay/state"
)

// Chord maintains ring membership, the finger table and lookup routing for this node
type Chord struct {
	*state.State
}

func (c *Chord) Init(s *state.State) error {
	c.State = s
	s.RingState = state.NewRingState(s.Id, s.PredecessorPolicy)
	s.RepeatTask(func(s *state.State) error {
		Stabilize(s.RingState, c)
		return nil
	}, state.StabilizeDelay)
	s.RepeatTask(func(s *state.State) error {
		FixFingers(s.RingState, c)
		return nil
	}, state.FixFingerDelay)
	return nil
}

func (c *Chord) Cleanup(s *state.State) error {
	st := s.RingState.Stats
	s.Log.Info("lookup statistics", "issued", st.Issued, "resolved", st.Resolved, "average_hops", fmt.Sprintf("%.2f", st.AverageHops()))
	return nil
}

func (c *Chord) SendChord(to state.NodeId, txn uint32, body protocol.ChordBody) {
	Get[*Node](c.State).Send(to, protocol.ChordMessage{Txn: txn, Body: body})
}

func (c *Chord) LookupResolved(owner state.NodeId, txn uint32, req protocol.LookupReq) {
	perf.LookupHops.Add(float64(req.Hops))
	Get[*Trace](c.State).Emit(LookupEvent{Node: c.Id, Owner: owner, Key: req.Key, Hops: req.Hops, Purpose: req.Purpose})
	if req.Purpose == state.PurposeProbe {
		rsp := protocol.LookupRsp{Owner: owner, Key: req.Key, Hops: req.Hops}
		if req.Originator == c.Id {
			ReportLookup(c, rsp)
			return
		}
		c.SendChord(req.Originator, txn, rsp)
		return
	}
	Get[*Search](c.State).LookupResolved(owner, txn, req)
}

func (c *Chord) NodeRejoined(node, successor state.NodeId) {
	Get[*Search](c.State).Rejoined(node, successor)
}

func (c *Chord) NodeLeaving(successor state.NodeId) {
	Get[*Search](c.State).Leaving(successor)
}

func (c *Chord) Log(event Event, desc string, args ...any) {
	logEvent(c.Env.Log, event, desc, args...)
	switch event {
	case JoinedRing, RingStateReport, LookupReport, SuccessorReport, PredecessorRejected, NotJoined:
		Get[*Trace](c.State).Emit(LogEvent{Node: c.Id, Event: event, Desc: desc})
	}
}

// StartLookup resolves the owner of key on behalf of this node
func (c *Chord) StartLookup(key string, txn uint32, purpose state.LookupPurpose) {
	c.RingState.Stats.Issued++
	Lookup(c.RingState, c, txn, protocol.LookupReq{Key: key, Originator: c.Id, Purpose: purpose})
}

// Handle processes an inbound ring message sent by from
func (c *Chord) Handle(from state.NodeId, m protocol.ChordMessage) {
	HandleChord(c.RingState, c, from, m)
}

// DumpFingers renders the finger table
func DumpFingers(rs *state.RingState) string {
	return rs.String() + "\n" + rs.FingerTable()
}

func DumpStats(rs *state.RingState, ss *state.SearchState) string {
	st := rs.Stats
	return fmt.Sprintf("lookups issued %d, resolved here %d, average hops %.2f\npending lookups %d\n",
		st.Issued, st.Resolved, st.AverageHops(), len(ss.Pending))
}
