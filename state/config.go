package state

import (
	"fmt"
	"maps"
	"net/netip"
	"slices"
	"strings"
	"time"
)

type NodeCfg struct {
	Id NodeId
	// Addresses are the interfaces of this node, the first one is the primary address
	Addresses []netip.AddrPort
}

// CentralCfg is the network-wide configuration shared by every node
type CentralCfg struct {
	Nodes []NodeCfg
	// Graph describes link adjacency for simulated networks, see ParseGraph
	Graph []string `yaml:",omitempty"`
}

// TimerCfg overrides protocol timers, zero values keep the defaults
type TimerCfg struct {
	Hello     time.Duration `yaml:"hello,omitempty"`
	Stabilize time.Duration `yaml:"stabilize,omitempty"`
	FixFinger time.Duration `yaml:"fix_finger,omitempty"`
	LsaMaxAge time.Duration `yaml:"lsa_max_age,omitempty"`
}

// LocalCfg represents local node-level configuration
type LocalCfg struct {
	Id                NodeId            // unique id for this node
	LogPath           string            `yaml:"log_path,omitempty"`           // if not empty, logs are also written to this file
	Routed            bool              `yaml:"routed,omitempty"`             // relay overlay unicast along link-state routes
	PredecessorPolicy PredecessorPolicy `yaml:"predecessor_policy,omitempty"` // accept-always or accept-if-closer
	DebugAddr         string            `yaml:"debug_addr,omitempty"`         // if not empty, serves /debug/metrics and expvar here
	Timers            *TimerCfg         `yaml:",omitempty"`
}

type SimLinkCfg struct {
	Latency time.Duration `yaml:",omitempty"`
	Jitter  time.Duration `yaml:",omitempty"`
	Loss    float64       `yaml:",omitempty"`
}

// SimStep is a single scenario instruction, either a command for a node or a pause
type SimStep struct {
	Node NodeId        `yaml:",omitempty"`
	Cmd  string        `yaml:",omitempty"`
	Wait time.Duration `yaml:",omitempty"`
}

// SimCfg describes a scenario run over the in-memory network
type SimCfg struct {
	CentralCfg        `yaml:",inline"`
	Link              SimLinkCfg
	Seed              uint64            `yaml:",omitempty"`
	Routed            bool              `yaml:",omitempty"`
	PredecessorPolicy PredecessorPolicy `yaml:"predecessor_policy,omitempty"`
	Timers            *TimerCfg         `yaml:",omitempty"`
	Script            []SimStep
}

// LocalFor derives the node-level configuration of a simulated node
func (c *SimCfg) LocalFor(id NodeId) LocalCfg {
	return LocalCfg{
		Id:                id,
		Routed:            c.Routed,
		PredecessorPolicy: c.PredecessorPolicy,
		Timers:            c.Timers,
	}
}

// ApplyTimers overrides the package level timers with the configured values
func (t *TimerCfg) ApplyTimers() {
	if t == nil {
		return
	}
	if t.Hello != 0 {
		HelloDelay = t.Hello
		NeighbourTimeout = 5 * HelloDelay
		// aging follows the hello period unless it was disabled
		if LsaMaxAge != 0 {
			LsaMaxAge = 6 * HelloDelay
		}
	}
	if t.Stabilize != 0 {
		StabilizeDelay = t.Stabilize
	}
	if t.FixFinger != 0 {
		FixFingerDelay = t.FixFinger
	}
	if t.LsaMaxAge != 0 {
		LsaMaxAge = t.LsaMaxAge
	}
}

func (c *CentralCfg) GetNodeIds() []string {
	ids := make([]string, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		ids = append(ids, string(n.Id))
	}
	return ids
}

func parseSymbolList(s string, validSymbols []string) ([]string, error) {
	spl := strings.Split(strings.TrimSpace(s), ",")
	line := make([]string, 0)
	for _, s := range spl {
		x := strings.TrimSpace(s)
		if x == "" {
			continue
		}
		if !slices.Contains(validSymbols, x) {
			return nil, fmt.Errorf(`%s is not a valid node/group`, x)
		}
		line = append(line, x)
	}
	if len(line) == 0 {
		return nil, fmt.Errorf(`node/group list must not be empty`)
	}
	slices.Sort(line)
	return line, nil
}

/*
ParseGraph Graph syntax is something like this:

Group1 = node1, node2, node3

Group2 = node4, node5

Group1, Group2, OtherNode // Group1, Group2, OtherNode will all be interconnected, but not within Group1 or Group2

Group1, Group1 // every node is connected to every other node

node8, node9 // node8 and node9 will be connected

graph represents the above graph
nodes represents a set of unique terminal nodes that the graph will evaluate down to
*/
func ParseGraph(graph []string, nodes []string) ([]Pair[NodeId, NodeId], error) {
	parsedPairings := make([]Pair[string, string], 0)
	groups := make(map[string][]string)
	symbols := slices.Clone(nodes)

	// pass 0, collect all symbols
	for _, line := range graph {
		line = strings.ToLower(strings.TrimSpace(line))
		if strings.Contains(line, "=") {
			spl := strings.Split(line, "=")
			if len(spl) != 2 {
				return nil, fmt.Errorf("invalid graph: %s. group definition must contain one '='", line)
			}
			grp := strings.TrimSpace(spl[0])
			if slices.Contains(nodes, grp) {
				return nil, fmt.Errorf("group name must not be a node name: %s", grp)
			}
			symbols = append(symbols, grp)
		}
	}
	slices.Sort(symbols)
	symbols = slices.Compact(symbols)

	// map: group -> groups it depends on
	topo := make(map[string][]string)
	expansion := make(map[string][]string)

	// pass 1, parse graph
	for _, line := range graph {
		line = strings.ToLower(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		if strings.Contains(line, "=") {
			spl := strings.Split(line, "=")
			grp := strings.TrimSpace(spl[0])
			if _, ok := groups[grp]; ok {
				return nil, fmt.Errorf("duplicate group name: %s", grp)
			}
			lst, err := parseSymbolList(spl[1], symbols)
			if err != nil {
				return nil, err
			}
			deps := make([]string, 0)
			for _, l := range lst {
				if !slices.Contains(nodes, l) {
					deps = append(deps, l)
				} else {
					expansion[grp] = append(expansion[grp], l)
				}
			}
			slices.Sort(deps)
			topo[grp] = slices.Compact(deps)
			groups[grp] = lst
		} else {
			names, err := parseSymbolList(line, symbols)
			if err != nil {
				return nil, err
			}
			if len(names) < 2 {
				return nil, fmt.Errorf("invalid pairing, %v", names)
			}
			for i, name := range names {
				for _, other := range names[:i] {
					parsedPairings = append(parsedPairings, MakeSortedPair(other, name))
				}
			}
			SortPairs(parsedPairings)
			parsedPairings = slices.Compact(parsedPairings)
		}
	}

	// pass 2, expand group names in topological order
	for len(topo) > 0 {
		var group string
		for k, v := range topo {
			if len(v) == 0 {
				group = k
				break
			}
		}
		if group == "" {
			cycleNodes := slices.Sorted(maps.Keys(topo))
			return nil, fmt.Errorf("cycle detected in graph: %v", cycleNodes)
		}
		delete(topo, group)

		for k, deps := range topo {
			if slices.Contains(deps, group) {
				expansion[k] = append(expansion[k], expansion[group]...)
				slices.Sort(expansion[k])
				expansion[k] = slices.Compact(expansion[k])
				topo[k] = slices.DeleteFunc(deps, func(dep string) bool {
					return dep == group
				})
			}
		}
	}

	// pass 3, rewrite pairings
	expand := func(sym string) []NodeId {
		if slices.Contains(nodes, sym) {
			return []NodeId{NodeId(sym)}
		}
		x := make([]NodeId, 0)
		for _, exp := range expansion[sym] {
			x = append(x, NodeId(exp))
		}
		return x
	}
	pairings := make([]Pair[NodeId, NodeId], 0)
	for _, pair := range parsedPairings {
		for _, x1 := range expand(pair.V1) {
			for _, y1 := range expand(pair.V2) {
				if x1 != y1 {
					pairings = append(pairings, MakeSortedPair(x1, y1))
				}
			}
		}
	}
	SortPairs(pairings)
	return slices.Compact(pairings), nil
}
