package state

import (
	"context"
	"log/slog"
	"net/netip"
	"slices"
	"sync/atomic"
)

type NodeId string

// Unbound marks a ring pointer that does not reference any node.
const Unbound NodeId = ""

type NyModule interface {
	Init(s *State) error
	Cleanup(s *State) error
}

// State access must be done only on a single Goroutine
type State struct {
	*Env
	Modules     map[string]NyModule
	LinkState   *LinkState
	RingState   *RingState
	SearchState *SearchState
	txn         uint32
}

// NextTxn returns a fresh transaction id, unique for the lifetime of this node.
func (s *State) NextTxn() uint32 {
	s.txn++
	return s.txn
}

// Env can be read from any Goroutine
type Env struct {
	DispatchChannel chan func(s *State) error
	CentralCfg
	LocalCfg
	Context  context.Context
	Cancel   context.CancelCauseFunc
	Log      *slog.Logger
	Started  atomic.Bool
	Stopping atomic.Bool
	// AuxConfig carries runtime objects that cannot be expressed in yaml, such as a simulated transport
	AuxConfig map[string]any
}

// Resolve returns the primary address of a node.
func (e *Env) Resolve(node NodeId) (netip.AddrPort, error) {
	cfg, err := e.GetNode(node)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if len(cfg.Addresses) == 0 {
		return netip.AddrPort{}, ErrUnreachable
	}
	return cfg.Addresses[0], nil
}

// ReverseLookup maps any interface address of a node back to its id.
func (e *Env) ReverseLookup(addr netip.Addr) (NodeId, bool) {
	for _, n := range e.Nodes {
		if slices.ContainsFunc(n.Addresses, func(ap netip.AddrPort) bool {
			return ap.Addr() == addr
		}) {
			return n.Id, true
		}
	}
	return Unbound, false
}

// PrimaryAddr returns the primary address of this node
func (e *Env) PrimaryAddr() netip.AddrPort {
	ap, _ := e.Resolve(e.Id)
	return ap
}
