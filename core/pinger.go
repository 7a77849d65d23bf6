package core

import (
	"context"
	"net/netip"
	"time"

	"github.com/encodeous/overlay/protocol"
	"github.com/encodeous/overlay/state"
	"github.com/jellydator/ttlcache/v3"
)

type pendingPing struct {
	Peer    state.NodeId
	Message string
	Sent    time.Time
}

// Pinger tracks outstanding PING requests. Requests without an answer within PingTimeout are reported as timed out.
type Pinger struct {
	*state.State
	pending *ttlcache.Cache[uint32, pendingPing]
}

func (p *Pinger) Init(s *state.State) error {
	p.State = s
	p.pending = ttlcache.New[uint32, pendingPing](
		ttlcache.WithTTL[uint32, pendingPing](state.PingTimeout),
		ttlcache.WithDisableTouchOnHit[uint32, pendingPing](),
	)
	p.pending.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[uint32, pendingPing]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		ping := item.Value()
		// eviction runs on the main loop, which must not block on its own queue
		go s.Dispatch(func(s *state.State) error {
			p.timedOut(ping)
			return nil
		})
	})
	s.RepeatTask(func(s *state.State) error {
		p.pending.DeleteExpired()
		return nil
	}, state.PingAuditDelay)
	return nil
}

func (p *Pinger) Cleanup(s *state.State) error {
	p.pending.DeleteAll()
	return nil
}

// Ping sends message to a node, the node echoes it back
func (p *Pinger) Ping(to state.NodeId, message string) error {
	dst, err := p.Resolve(to)
	if err != nil {
		return err
	}
	txn := p.NextTxn()
	p.pending.Set(txn, pendingPing{Peer: to, Message: message, Sent: time.Now()}, ttlcache.DefaultTTL)
	err = Get[*Node](p.State).SendAddr(dst, protocol.LsMessage{
		Seq:        txn,
		TTL:        state.MaxTTL,
		Originator: p.self(),
		Body:       protocol.PingReq{Message: message},
	})
	if err != nil {
		p.pending.Delete(txn)
		return err
	}
	return nil
}

func (p *Pinger) self() netip.Addr {
	return p.LinkState.Self
}

// Complete finishes the ping with transaction txn
func (p *Pinger) Complete(txn uint32, from state.NodeId, message string) {
	item, ok := p.pending.GetAndDelete(txn)
	if !ok {
		logEvent(p.Log, UnknownTransaction, "ping reply for unknown transaction", "txn", txn, "from", from)
		return
	}
	ping := item.Value()
	logEvent(p.Log, PingReply, "ping reply", "from", from, "message", message, "rtt", time.Since(ping.Sent))
	Get[*Trace](p.State).Emit(PingEvent{Node: p.Id, Peer: from, Message: message})
}

func (p *Pinger) timedOut(ping pendingPing) {
	logEvent(p.Log, PingTimedOut, "ping timed out", "peer", ping.Peer, "message", ping.Message)
	Get[*Trace](p.State).Emit(PingEvent{Node: p.Id, Peer: ping.Peer, Message: ping.Message, TimedOut: true})
}
