package core

import (
	"github.com/encodeous/overlay/protocol"
	"github.com/encodeous/overlay/state"
)

// Ring defines the side effects of the Chord protocol
type Ring interface {
	NextTxn() uint32
	SendChord(to state.NodeId, txn uint32, body protocol.ChordBody)
	// LookupResolved is invoked on the node that found the owner of a key
	LookupResolved(owner state.NodeId, txn uint32, req protocol.LookupReq)
	// NodeRejoined is invoked when node was placed in the ring in front of successor
	NodeRejoined(node, successor state.NodeId)
	// NodeLeaving is invoked before this node clears its ring pointers
	NodeLeaving(successor state.NodeId)
	Log(event Event, desc string, args ...any)
}

func setSuccessor(rs *state.RingState, r Ring, succ state.NodeId) {
	if rs.Successor == succ {
		return
	}
	wasJoined := rs.Joined()
	rs.Successor = succ
	rs.Fingers[0] = state.Finger{Key: state.FingerTarget(rs.Key, 0), Node: succ}
	if !wasJoined && succ != state.Unbound {
		r.Log(JoinedRing, "joined ring", "successor", succ)
	}
	r.Log(SuccessorChanged, "successor changed", "successor", succ)
}

// Bootstrap makes this node a singleton ring
func Bootstrap(rs *state.RingState, r Ring) {
	rs.ResetFingers()
	rs.Predecessor = rs.Id
	setSuccessor(rs, r, rs.Id)
	for i := range rs.Fingers {
		rs.Fingers[i] = state.Finger{Key: state.FingerTarget(rs.Key, i), Node: rs.Id}
	}
}

// RequestJoin asks helper to place this node in its ring
func RequestJoin(rs *state.RingState, r Ring, helper state.NodeId) {
	if helper == rs.Id {
		Bootstrap(rs, r)
		return
	}
	r.SendChord(helper, r.NextTxn(), protocol.ReqJoin{Node: rs.Id})
}

// ExecuteJoin places joiner between this node and its successor, or passes the request along the ring.
func ExecuteJoin(rs *state.RingState, r Ring, txn uint32, joiner state.NodeId) {
	if !rs.Joined() {
		r.Log(NotJoined, "cannot place joining node", "joiner", joiner)
		return
	}
	if joiner == rs.Id {
		return
	}
	if rs.Singleton() {
		rs.Predecessor = joiner
		setSuccessor(rs, r, joiner)
		r.SendChord(joiner, txn, protocol.NewSucc{Node: rs.Id})
		r.NodeRejoined(joiner, rs.Id)
		return
	}
	if state.InInterval(joiner.Key(), rs.Key, rs.Successor.Key()) {
		old := rs.Successor
		r.SendChord(joiner, txn, protocol.NewSucc{Node: old})
		r.NodeRejoined(joiner, old)
		setSuccessor(rs, r, joiner)
		return
	}
	r.SendChord(rs.Successor, txn, protocol.FindSucc{Node: joiner})
}

// HandleSuccessorNotice adopts an announced successor. A departing sender is removed from the finger table.
func HandleSuccessorNotice(rs *state.RingState, r Ring, from state.NodeId, notice protocol.NewSucc) {
	if notice.Node == state.Unbound {
		return
	}
	setSuccessor(rs, r, notice.Node)
	if notice.Leave {
		replaceFinger(rs, from, notice.Node)
	}
	if rs.Successor != rs.Id {
		r.SendChord(rs.Successor, r.NextTxn(), protocol.StabilizeReq{})
	}
}

// HandlePredecessorNotice applies the configured predecessor policy to an announced predecessor
func HandlePredecessorNotice(rs *state.RingState, r Ring, from state.NodeId, notice protocol.NewPred) {
	if notice.Leave {
		replaceFinger(rs, from, rs.Id)
	}
	if rs.Predecessor == notice.Node {
		return
	}
	if rs.Policy == state.AcceptIfCloser && !notice.Leave &&
		rs.Predecessor != state.Unbound && rs.Predecessor != rs.Id &&
		notice.Node != state.Unbound &&
		!state.StrictlyBetween(notice.Node.Key(), rs.Predecessor.Key(), rs.Key) {
		r.Log(PredecessorRejected, "announced predecessor is not closer", "announced", notice.Node, "current", rs.Predecessor)
		return
	}
	rs.Predecessor = notice.Node
	r.Log(PredecessorChanged, "predecessor changed", "predecessor", notice.Node, "leave", notice.Leave)
}

func replaceFinger(rs *state.RingState, old, node state.NodeId) {
	if old == state.Unbound {
		return
	}
	for i := range rs.Fingers {
		if rs.Fingers[i].Node == old {
			rs.Fingers[i].Node = node
		}
	}
}

// Stabilize asks the successor for its predecessor. It runs periodically.
func Stabilize(rs *state.RingState, r Ring) {
	if !rs.Joined() {
		return
	}
	if rs.Singleton() {
		if rs.Predecessor == state.Unbound || rs.Predecessor == rs.Id {
			return
		}
		setSuccessor(rs, r, rs.Predecessor)
	}
	r.SendChord(rs.Successor, r.NextTxn(), protocol.StabilizeReq{})
}

func HandleStabilizeRequest(rs *state.RingState, r Ring, from state.NodeId, txn uint32) {
	if !rs.Joined() {
		return
	}
	r.SendChord(from, txn, protocol.StabilizeAnswer{Predecessor: rs.Predecessor})
}

// HandleStabilizeAnswer adopts the successor's predecessor when it lies between this node and the
// successor, then announces this node as the predecessor of the (possibly new) successor.
func HandleStabilizeAnswer(rs *state.RingState, r Ring, ans protocol.StabilizeAnswer) {
	if !rs.Joined() {
		return
	}
	p := ans.Predecessor
	if p != state.Unbound && p != rs.Id && state.StrictlyBetween(p.Key(), rs.Key, rs.Successor.Key()) {
		setSuccessor(rs, r, p)
	}
	if rs.Successor == rs.Id {
		return
	}
	r.SendChord(rs.Successor, r.NextTxn(), protocol.NewPred{Node: rs.Id})
}

// Leave splices this node out of the ring and hands its keys to the successor
func Leave(rs *state.RingState, r Ring) {
	if !rs.Joined() {
		r.Log(NotJoined, "cannot leave, not part of a ring")
		return
	}
	succ, pred := rs.Successor, rs.Predecessor
	if !rs.Singleton() {
		r.SendChord(succ, r.NextTxn(), protocol.NewPred{Node: pred, Leave: true})
		if pred != state.Unbound && pred != rs.Id {
			r.SendChord(pred, r.NextTxn(), protocol.NewSucc{Node: succ, Leave: true})
		}
	}
	r.NodeLeaving(succ)
	rs.Successor = state.Unbound
	rs.Predecessor = state.Unbound
	rs.ResetFingers()
	r.Log(SuccessorChanged, "left ring")
}

// FixFingers recomputes every finger. Entries covered by the successor are filled locally, the rest
// are resolved by requests that travel clockwise from the successor.
func FixFingers(rs *state.RingState, r Ring) {
	if !rs.Joined() {
		return
	}
	succKey := rs.Successor.Key()
	for i := range state.FingerCount {
		target := state.FingerTarget(rs.Key, i)
		rs.Fingers[i].Key = target
		if i == 0 || rs.Singleton() || state.InInterval(target, rs.Key, succKey) {
			rs.Fingers[i].Node = rs.Successor
			continue
		}
		r.SendChord(rs.Successor, r.NextTxn(), protocol.FingerReq{Key: target, Originator: rs.Id, Index: uint32(i)})
	}
}

func HandleFingerRequest(rs *state.RingState, r Ring, txn uint32, req protocol.FingerReq) {
	if !rs.Joined() {
		r.Log(NotJoined, "dropped finger request", "originator", req.Originator)
		return
	}
	if req.Originator == rs.Id {
		r.Log(UnknownTransaction, "finger request returned to its originator", "index", req.Index)
		return
	}
	if rs.Singleton() || state.InInterval(req.Key, rs.Key, rs.Successor.Key()) {
		r.SendChord(req.Originator, txn, protocol.FingerAnswer{Successor: rs.Successor, Key: req.Key, Index: req.Index})
		return
	}
	r.SendChord(rs.Successor, txn, req)
}

func HandleFingerAnswer(rs *state.RingState, r Ring, ans protocol.FingerAnswer) {
	if !rs.Joined() || ans.Index >= state.FingerCount {
		return
	}
	rs.Fingers[ans.Index] = state.Finger{Key: ans.Key, Node: ans.Successor}
	r.Log(FingerUpdated, "finger resolved", "index", ans.Index, "node", ans.Successor)
}

// Owns reports whether key falls in the ownership interval (predecessor, self]
func Owns(rs *state.RingState, key state.RingKey) bool {
	if rs.Singleton() {
		return true
	}
	if rs.Predecessor == state.Unbound {
		return false
	}
	return state.InInterval(key, rs.Predecessor.Key(), rs.Key)
}

func closestPrecedingFinger(rs *state.RingState, key state.RingKey) state.NodeId {
	for i := state.FingerCount - 1; i >= 0; i-- {
		f := rs.Fingers[i].Node
		if f == state.Unbound || f == rs.Id {
			continue
		}
		if state.StrictlyBetween(f.Key(), rs.Key, key) {
			return f
		}
	}
	return rs.Successor
}

// Lookup resolves the owner of req.Key, or forwards the request to the closest preceding finger
func Lookup(rs *state.RingState, r Ring, txn uint32, req protocol.LookupReq) {
	if !rs.Joined() {
		r.Log(NotJoined, "dropped lookup", "key", req.Key, "originator", req.Originator)
		return
	}
	key := state.HashKey(req.Key)
	owner := state.Unbound
	if Owns(rs, key) {
		owner = rs.Id
	} else if state.InInterval(key, rs.Key, rs.Successor.Key()) {
		owner = rs.Successor
	}
	if owner != state.Unbound {
		if req.Hops > 0 {
			req.Hops--
		}
		rs.Stats.Resolved++
		rs.Stats.Hops += uint64(req.Hops)
		r.Log(LookupCompleted, "lookup resolved", "key", req.Key, "owner", owner, "hops", req.Hops, "txn", txn)
		r.LookupResolved(owner, txn, req)
		return
	}
	next := closestPrecedingFinger(rs, key)
	req.Hops++
	r.Log(LookupForwarded, "forwarding lookup", "key", req.Key, "next", next, "hops", req.Hops)
	r.SendChord(next, txn, req)
}

// HandleRingState prints this node's ring pointers and passes the walk on until it returns to its originator
func HandleRingState(rs *state.RingState, r Ring, txn uint32, msg protocol.RingStateMsg) {
	walk := state.Pair[state.NodeId, uint32]{V1: msg.Originator, V2: txn}
	if msg.Originator == rs.Id || rs.LastWalk == walk {
		return
	}
	rs.LastWalk = walk
	r.Log(RingStateReport, rs.String(), "originator", msg.Originator)
	if !rs.Joined() || rs.Singleton() || rs.Successor == msg.Originator {
		return
	}
	r.SendChord(rs.Successor, txn, msg)
}

// WalkRing starts a ring state walk at this node
func WalkRing(rs *state.RingState, r Ring) {
	r.Log(RingStateReport, rs.String())
	if !rs.Joined() || rs.Singleton() {
		return
	}
	txn := r.NextTxn()
	rs.LastWalk = state.Pair[state.NodeId, uint32]{V1: rs.Id, V2: txn}
	r.SendChord(rs.Successor, txn, protocol.RingStateMsg{Originator: rs.Id})
}

// ReportLookup prints the answer to a probe lookup
func ReportLookup(r Ring, rsp protocol.LookupRsp) {
	r.Log(LookupReport, "key owner found", "key", rsp.Key, "ring_key", state.HashKey(rsp.Key), "owner", rsp.Owner, "hops", rsp.Hops)
}

// HandleChord dispatches an inbound ring message sent by from
func HandleChord(rs *state.RingState, r Ring, from state.NodeId, m protocol.ChordMessage) {
	switch body := m.Body.(type) {
	case protocol.ReqJoin:
		ExecuteJoin(rs, r, m.Txn, body.Node)
	case protocol.FindSucc:
		ExecuteJoin(rs, r, m.Txn, body.Node)
	case protocol.NewSucc:
		HandleSuccessorNotice(rs, r, from, body)
	case protocol.NewPred:
		HandlePredecessorNotice(rs, r, from, body)
	case protocol.StabilizeReq:
		HandleStabilizeRequest(rs, r, from, m.Txn)
	case protocol.StabilizeAnswer:
		HandleStabilizeAnswer(rs, r, body)
	case protocol.RingStateMsg:
		HandleRingState(rs, r, m.Txn, body)
	case protocol.LookupReq:
		Lookup(rs, r, m.Txn, body)
	case protocol.LookupRsp:
		ReportLookup(r, body)
	case protocol.FingerReq:
		HandleFingerRequest(rs, r, m.Txn, body)
	case protocol.FingerAnswer:
		HandleFingerAnswer(rs, r, body)
	case protocol.GetSuccessor:
		r.SendChord(from, m.Txn, protocol.GetSuccessorRsp{Successor: rs.Successor})
	case protocol.GetSuccessorRsp:
		succ := "-1"
		if body.Successor != state.Unbound {
			succ = string(body.Successor)
		}
		r.Log(SuccessorReport, "successor reported", "node", from, "successor", succ)
	}
}
