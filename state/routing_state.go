package state

import (
	"fmt"
	"strings"
)

type PredecessorPolicy string

const (
	// AcceptAlways overwrites the predecessor with every notice received
	AcceptAlways PredecessorPolicy = "accept-always"
	// AcceptIfCloser only adopts an announced predecessor that lies between the current one and self
	AcceptIfCloser PredecessorPolicy = "accept-if-closer"
)

type Finger struct {
	Key  RingKey
	Node NodeId
}

type LookupStats struct {
	Issued   uint64
	Resolved uint64
	Hops     uint64
}

func (l LookupStats) AverageHops() float64 {
	if l.Resolved == 0 {
		return 0
	}
	return float64(l.Hops) / float64(l.Resolved)
}

// RingState is the Chord membership state of a single node
type RingState struct {
	Id          NodeId
	Key         RingKey
	Predecessor NodeId
	Successor   NodeId
	Fingers     [FingerCount]Finger
	Policy      PredecessorPolicy
	Stats       LookupStats
	// LastWalk is the most recent ring state walk seen, by originator and txn
	LastWalk Pair[NodeId, uint32]
}

func NewRingState(id NodeId, policy PredecessorPolicy) *RingState {
	if policy == "" {
		policy = AcceptAlways
	}
	return &RingState{
		Id:     id,
		Key:    id.Key(),
		Policy: policy,
	}
}

func (r *RingState) Joined() bool {
	return r.Successor != Unbound
}

// Singleton reports whether this node is the only member of its ring
func (r *RingState) Singleton() bool {
	return r.Successor == r.Id
}

// ResetFingers clears the finger table
func (r *RingState) ResetFingers() {
	r.Fingers = [FingerCount]Finger{}
}

func (r *RingState) String() string {
	return fmt.Sprintf("ring{id: %s, key: %d, pred: %s, succ: %s}", r.Id, r.Key, fmtNode(r.Predecessor), fmtNode(r.Successor))
}

func (r *RingState) FingerTable() string {
	sb := strings.Builder{}
	for i, f := range r.Fingers {
		sb.WriteString(fmt.Sprintf(" %2d: %10d -> %s\n", i, f.Key, fmtNode(f.Node)))
	}
	return sb.String()
}

func fmtNode(n NodeId) string {
	if n == Unbound {
		return "-1"
	}
	return fmt.Sprintf("%s(%d)", n, n.Key())
}
