package state

import (
	"fmt"
	"net/netip"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
)

var namePattern, _ = regexp.Compile("^[0-9a-z._-]+$")

func PathValidator(s string) error {
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

func BindValidator(s string) error {
	_, err := netip.ParseAddrPort(s)
	return err
}

func AddrValidator(ap netip.AddrPort) error {
	if !ap.IsValid() {
		return fmt.Errorf("%s is not a valid address", ap)
	}
	if !ap.Addr().Unmap().Is4() {
		return fmt.Errorf("%s is not an IPv4 address", ap)
	}
	return nil
}

func PolicyValidator(p PredecessorPolicy) error {
	switch p {
	case "", AcceptAlways, AcceptIfCloser:
		return nil
	}
	return fmt.Errorf("unknown predecessor policy %q, expected %s or %s", p, AcceptAlways, AcceptIfCloser)
}

func CentralConfigValidator(cfg *CentralCfg) error {
	if len(cfg.Nodes) == 0 {
		return fmt.Errorf("no nodes defined")
	}
	ids := make([]NodeId, 0)
	addrs := make([]netip.Addr, 0)
	for _, node := range cfg.Nodes {
		err := NameValidator(string(node.Id))
		if err != nil {
			return err
		}
		if slices.Contains(ids, node.Id) {
			return fmt.Errorf("duplicate node id: %s", node.Id)
		}
		ids = append(ids, node.Id)
		if len(node.Addresses) == 0 {
			return fmt.Errorf("node %s has no addresses", node.Id)
		}
		for _, ap := range node.Addresses {
			err = AddrValidator(ap)
			if err != nil {
				return fmt.Errorf("node %s: %w", node.Id, err)
			}
			if slices.Contains(addrs, ap.Addr()) {
				return fmt.Errorf("address %s is assigned to more than one interface", ap.Addr())
			}
			addrs = append(addrs, ap.Addr())
		}
	}
	if len(cfg.Graph) != 0 {
		_, err := ParseGraph(cfg.Graph, cfg.GetNodeIds())
		if err != nil {
			return err
		}
	}
	return nil
}

func LocalConfigValidator(cfg *LocalCfg) error {
	err := NameValidator(string(cfg.Id))
	if err != nil {
		return err
	}
	if cfg.LogPath != "" {
		err = PathValidator(cfg.LogPath)
		if err != nil {
			return err
		}
	}
	if cfg.DebugAddr != "" {
		err = BindValidator(cfg.DebugAddr)
		if err != nil {
			return err
		}
	}
	return PolicyValidator(cfg.PredecessorPolicy)
}

// NodeConfigValidator checks that the local node is part of the network
func NodeConfigValidator(central *CentralCfg, local *LocalCfg) error {
	err := LocalConfigValidator(local)
	if err != nil {
		return err
	}
	if !central.IsNode(local.Id) {
		return fmt.Errorf("node %s is not defined in the network config", local.Id)
	}
	return nil
}

func SimConfigValidator(cfg *SimCfg) error {
	err := CentralConfigValidator(&cfg.CentralCfg)
	if err != nil {
		return err
	}
	err = PolicyValidator(cfg.PredecessorPolicy)
	if err != nil {
		return err
	}
	if cfg.Link.Loss < 0 || cfg.Link.Loss > 1 {
		return fmt.Errorf("link loss %f must be within [0, 1]", cfg.Link.Loss)
	}
	for i, step := range cfg.Script {
		if step.Cmd == "" && step.Wait == 0 {
			return fmt.Errorf("script step %d has neither cmd nor wait", i)
		}
		if step.Cmd != "" && !cfg.IsNode(step.Node) {
			return fmt.Errorf("script step %d targets unknown node %q", i, step.Node)
		}
	}
	return nil
}
