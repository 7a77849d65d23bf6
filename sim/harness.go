package sim

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"runtime/pprof"
	"slices"
	"sync"
	"time"

	"github.com/encodeous/overlay/core"
	"github.com/encodeous/overlay/state"
	"github.com/encodeous/overlay/transport"
)

type Signal chan bool

func NewSignal() Signal {
	return make(chan bool)
}

func (s Signal) Trigger() {
	select {
	case <-s:
	default:
		close(s)
	}
}

func (s Signal) Triggered() bool {
	select {
	case <-s:
		return true
	default:
		return false
	}
}

func (s Signal) Wait() {
	<-s
}

// VirtualLink is a bidirectional link between two interfaces of the in-memory network
type VirtualLink struct {
	A, B netip.AddrPort
	transport.LinkCfg
}

func (v *VirtualLink) WithLatency(lat, jitter time.Duration) *VirtualLink {
	v.Latency = lat
	v.Jitter = jitter
	return v
}

func (v *VirtualLink) WithPacketLoss(loss float64) *VirtualLink {
	v.Loss = loss
	return v
}

// VirtualHarness runs a set of nodes over an in-memory network inside a single process
type VirtualHarness struct {
	Central state.CentralCfg
	Local   []state.LocalCfg
	// Link is applied to every pair connected through Central.Graph
	Link   transport.LinkCfg
	Links  []*VirtualLink
	Seed   uint64
	Level  slog.Level
	Net    *transport.Network
	States []*state.State
	// Events receives the trace events of every node. Events are dropped while nobody reads.
	Events chan any

	wg     sync.WaitGroup
	done   []Signal
	errs   chan error
	mu     sync.Mutex
	closed bool
}

// FromConfig builds a harness for a simulated scenario
func FromConfig(cfg *state.SimCfg) *VirtualHarness {
	v := &VirtualHarness{
		Central: cfg.CentralCfg,
		Link: transport.LinkCfg{
			Latency: cfg.Link.Latency,
			Jitter:  cfg.Link.Jitter,
			Loss:    cfg.Link.Loss,
		},
		Seed:  cfg.Seed,
		Level: slog.LevelInfo,
	}
	for _, n := range cfg.Nodes {
		v.Local = append(v.Local, cfg.LocalFor(n.Id))
	}
	return v
}

func (v *VirtualHarness) IndexOf(id state.NodeId) int {
	return slices.IndexFunc(v.Central.Nodes, func(cfg state.NodeCfg) bool {
		return cfg.Id == id
	})
}

// NewNode adds a node owning the given interface addresses, the first being its primary address
func (v *VirtualHarness) NewNode(id state.NodeId, addrs ...string) *state.LocalCfg {
	cfg := state.NodeCfg{Id: id}
	for _, a := range addrs {
		cfg.Addresses = append(cfg.Addresses, netip.MustParseAddrPort(a))
	}
	v.Central.Nodes = append(v.Central.Nodes, cfg)
	v.Local = append(v.Local, state.LocalCfg{Id: id})
	return &v.Local[len(v.Local)-1]
}

// AddLink connects two interfaces in addition to the links derived from the graph
func (v *VirtualHarness) AddLink(a, b string) *VirtualLink {
	link := &VirtualLink{
		A: netip.MustParseAddrPort(a),
		B: netip.MustParseAddrPort(b),
	}
	v.Links = append(v.Links, link)
	return link
}

func (v *VirtualHarness) links() ([]*VirtualLink, error) {
	out := slices.Clone(v.Links)
	if len(v.Central.Graph) == 0 {
		return out, nil
	}
	pairs, err := state.ParseGraph(v.Central.Graph, v.Central.GetNodeIds())
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		a, err := v.Central.GetNode(p.V1)
		if err != nil {
			return nil, err
		}
		b, err := v.Central.GetNode(p.V2)
		if err != nil {
			return nil, err
		}
		out = append(out, &VirtualLink{A: a.Addresses[0], B: b.Addresses[0], LinkCfg: v.Link})
	}
	return out, nil
}

// Start builds the network and runs every node. Errors of nodes that stop unexpectedly are sent on the returned channel.
func (v *VirtualHarness) Start() (<-chan error, error) {
	if err := state.CentralConfigValidator(&v.Central); err != nil {
		return nil, err
	}
	links, err := v.links()
	if err != nil {
		return nil, err
	}
	v.Net = transport.NewNetwork(v.Seed)
	v.States = make([]*state.State, len(v.Central.Nodes))
	v.done = make([]Signal, len(v.Central.Nodes))
	v.errs = make(chan error, len(v.Central.Nodes))
	if v.Events == nil {
		v.Events = make(chan any, 4096)
	}

	mts := make([]*transport.MemoryTransport, len(v.Central.Nodes))
	for idx, n := range v.Central.Nodes {
		mts[idx], err = v.Net.Attach(n.Addresses...)
		if err != nil {
			v.Net.Close()
			return nil, err
		}
	}
	for _, l := range links {
		if err := v.Net.Connect(l.A, l.B, l.LinkCfg); err != nil {
			v.Net.Close()
			return nil, fmt.Errorf("link %s <-> %s: %w", l.A, l.B, err)
		}
	}

	for idx, n := range v.Central.Nodes {
		s, err := core.New(v.Central, v.Local[idx], v.Level, map[string]any{
			"transport": mts[idx],
		})
		if err != nil {
			v.Stop()
			return nil, fmt.Errorf("failed to start %s: %w", n.Id, err)
		}
		v.States[idx] = s
		v.done[idx] = NewSignal()
		v.observe(s, v.done[idx])

		v.wg.Add(1)
		go func() {
			defer v.wg.Done()
			defer v.done[idx].Trigger()
			labels := pprof.Labels("overlay node", string(n.Id))
			pprof.Do(context.Background(), labels, func(_ context.Context) {
				if err := core.Run(s); err != nil {
					v.errs <- fmt.Errorf("%s: %w", n.Id, err)
				}
			})
		}()
	}
	return v.errs, nil
}

// observe forwards the trace of a node to Events until the node has stopped
func (v *VirtualHarness) observe(s *state.State, done Signal) {
	ch := make(chan any, state.TraceBufferSize)
	if !core.Get[*core.Trace](s).Subscribe(ch) {
		return
	}
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		for {
			select {
			case ev := <-ch:
				select {
				case v.Events <- ev:
				default:
				}
			case <-done:
				return
			}
		}
	}()
}

// Stop stops every node and the network, then waits for all of their goroutines
func (v *VirtualHarness) Stop() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	for idx, s := range v.States {
		if s == nil {
			continue
		}
		s.Cancel(core.ErrShutdown)
		if v.done[idx] != nil {
			v.done[idx].Wait()
		}
	}
	v.wg.Wait()
	if v.Net != nil {
		v.Net.Close()
	}
}

func (v *VirtualHarness) node(id state.NodeId) (*state.State, error) {
	idx := v.IndexOf(id)
	if idx == -1 || v.States[idx] == nil {
		return nil, fmt.Errorf("unknown node %q", id)
	}
	return v.States[idx], nil
}

// Exec runs an operator command on a node and returns its output
func (v *VirtualHarness) Exec(id state.NodeId, line string) (string, error) {
	s, err := v.node(id)
	if err != nil {
		return "", err
	}
	res, err := s.DispatchWait(func(s *state.State) (any, error) {
		return core.Exec(s, line)
	})
	if err != nil {
		return "", err
	}
	text, _ := res.(string)
	return text, nil
}

// Query evaluates fun on the main loop of a node
func Query[T any](v *VirtualHarness, id state.NodeId, fun func(s *state.State) T) (T, error) {
	var zero T
	s, err := v.node(id)
	if err != nil {
		return zero, err
	}
	res, err := s.DispatchWait(func(s *state.State) (any, error) {
		return fun(s), nil
	})
	if err != nil {
		return zero, err
	}
	return res.(T), nil
}

var ErrTimeout = errors.New("timed out waiting for event")

// Await returns the first event accepted by match
func (v *VirtualHarness) Await(timeout time.Duration, match func(ev any) bool) (any, error) {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-v.Events:
			if match(ev) {
				return ev, nil
			}
		case err := <-v.errs:
			return nil, err
		case <-deadline:
			return nil, ErrTimeout
		}
	}
}

// RingConsistent reports whether the joined nodes form a single ring ordered by key
func (v *VirtualHarness) RingConsistent() (bool, error) {
	type ptrs struct {
		id         state.NodeId
		pred, succ state.NodeId
	}
	members := make([]ptrs, 0)
	for _, n := range v.Central.Nodes {
		p, err := Query(v, n.Id, func(s *state.State) ptrs {
			return ptrs{id: s.Id, pred: s.RingState.Predecessor, succ: s.RingState.Successor}
		})
		if err != nil {
			return false, err
		}
		if p.succ != state.Unbound {
			members = append(members, p)
		}
	}
	if len(members) == 0 {
		return false, nil
	}
	slices.SortFunc(members, func(a, b ptrs) int {
		return cmp.Compare(a.id.Key(), b.id.Key())
	})
	for i, m := range members {
		succ := members[(i+1)%len(members)].id
		pred := members[(i+len(members)-1)%len(members)].id
		if m.succ != succ || m.pred != pred {
			return false, nil
		}
	}
	return true, nil
}
