package core

import (
	"sync"

	"github.com/dustin/go-broadcast"
	"github.com/encodeous/overlay/state"
)

// Trace fans protocol events out to observers such as the simulator and tests.
// Events are dropped while the fan-out lags behind the main loop.
type Trace struct {
	broadcast.Broadcaster
	mu     sync.Mutex
	subs   []chan<- any
	closed bool
}

func (t *Trace) Init(s *state.State) error {
	t.Broadcaster = broadcast.NewBroadcaster(state.TraceBufferSize)
	return nil
}

func (t *Trace) Cleanup(s *state.State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for _, ch := range t.subs {
		t.Unregister(ch)
	}
	t.subs = nil
	return t.Broadcaster.Close()
}

// Subscribe registers an observer. The observer must keep draining ch until the node has stopped.
func (t *Trace) Subscribe(ch chan<- any) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.subs = append(t.subs, ch)
	t.Register(ch)
	return true
}

// Emit publishes an event without blocking the main loop
func (t *Trace) Emit(ev any) {
	t.TrySubmit(ev)
}

// LogEvent mirrors a reported protocol event
type LogEvent struct {
	Node  state.NodeId
	Event Event
	Desc  string
}

type SearchResultEvent struct {
	Node  state.NodeId
	Query []string
	Docs  []string
}

type LookupEvent struct {
	Node    state.NodeId
	Owner   state.NodeId
	Key     string
	Hops    uint16
	Purpose state.LookupPurpose
}

type PingEvent struct {
	Node     state.NodeId
	Peer     state.NodeId
	Message  string
	TimedOut bool
}

type UnreachableEvent struct {
	Node    state.NodeId
	Target  state.NodeId
	Message string
}
