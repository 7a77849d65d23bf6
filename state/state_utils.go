package state

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
)

var ErrUnreachable = errors.New("destination unreachable")

func (c *CentralCfg) GetNode(node NodeId) (NodeCfg, error) {
	idx := slices.IndexFunc(c.Nodes, func(cfg NodeCfg) bool {
		return cfg.Id == node
	})
	if idx == -1 {
		return NodeCfg{}, fmt.Errorf("node %q not found: %w", node, ErrUnreachable)
	}
	return c.Nodes[idx], nil
}

func (c *CentralCfg) IsNode(node NodeId) bool {
	_, err := c.GetNode(node)
	return err == nil
}

// AddrKey converts an IPv4 address to its 32-bit wire representation
func AddrKey(addr netip.Addr) uint32 {
	b := addr.Unmap().As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func AddrFromKey(k uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(k >> 24), byte(k >> 16), byte(k >> 8), byte(k)})
}
