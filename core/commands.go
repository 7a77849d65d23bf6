package core

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/encodeous/overlay/protocol"
	"github.com/encodeous/overlay/state"
)

var ErrBadCommand = errors.New("malformed command")

// Exec runs an operator command on the main loop. The returned text is meant for the operator.
// A malformed command leaves the node untouched.
func Exec(s *state.State, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	verb, args := strings.ToUpper(fields[0]), fields[1:]
	need := func(n int, usage string) error {
		if len(args) < n {
			return fmt.Errorf("%w: usage: %s", ErrBadCommand, usage)
		}
		return nil
	}
	node := func(arg string) (state.NodeId, error) {
		id := state.NodeId(arg)
		if !s.IsNode(id) {
			return state.Unbound, fmt.Errorf("%w: unknown node %q", ErrBadCommand, arg)
		}
		return id, nil
	}

	chord := Get[*Chord](s)
	switch verb {
	case "JOIN":
		if err := need(1, "JOIN <helper>"); err != nil {
			return "", err
		}
		helper, err := node(args[0])
		if err != nil {
			return "", err
		}
		if s.RingState.Joined() {
			return "", fmt.Errorf("%s is already part of a ring", s.Id)
		}
		RequestJoin(s.RingState, chord, helper)
	case "LEAVE":
		if !s.RingState.Joined() {
			return "", fmt.Errorf("%s is not part of a ring", s.Id)
		}
		Leave(s.RingState, chord)
	case "RINGSTATE":
		WalkRing(s.RingState, chord)
		return s.RingState.String(), nil
	case "FIX":
		FixFingers(s.RingState, chord)
	case "PUBLISH":
		if err := need(1, "PUBLISH <file>"); err != nil {
			return "", err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return "", err
		}
		defer f.Close()
		entries, err := ParseMetadata(f)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrBadCommand, err)
		}
		if err := Get[*Search](s).Publish(entries); err != nil {
			return "", err
		}
		return fmt.Sprintf("publishing %d terms", len(entries)), nil
	case "SEARCH":
		if err := need(2, "SEARCH <node> <term>..."); err != nil {
			return "", err
		}
		exec, err := node(args[0])
		if err != nil {
			return "", err
		}
		return "", Get[*Search](s).Search(exec, args[1:])
	case "PING":
		if err := need(2, "PING <node> <message>"); err != nil {
			return "", err
		}
		peer, err := node(args[0])
		if err != nil {
			return "", err
		}
		return "", Get[*Pinger](s).Ping(peer, strings.Join(args[1:], " "))
	case "GETSUCC":
		if err := need(1, "GETSUCC <node>"); err != nil {
			return "", err
		}
		peer, err := node(args[0])
		if err != nil {
			return "", err
		}
		chord.SendChord(peer, s.NextTxn(), protocol.GetSuccessor{})
	case "LOOKUP":
		if err := need(1, "LOOKUP <term>"); err != nil {
			return "", err
		}
		if !s.RingState.Joined() {
			return "", fmt.Errorf("%s is not part of a ring", s.Id)
		}
		chord.StartLookup(args[0], s.NextTxn(), state.PurposeProbe)
	case "DUMP":
		if err := need(1, "DUMP ROUTES|NEIGHBORS|LSA|FINGERS|INDEX|STATS"); err != nil {
			return "", err
		}
		return dump(s, strings.ToUpper(args[0]))
	default:
		return "", fmt.Errorf("%w: unknown command %q", ErrBadCommand, fields[0])
	}
	return "", nil
}

func dump(s *state.State, table string) (string, error) {
	switch table {
	case "ROUTES", "ROUTING":
		return DumpRoutes(s.LinkState), nil
	case "NEIGHBORS", "NEIGHBOURS":
		return DumpNeighbours(s.LinkState, time.Now()), nil
	case "LSA", "LSDB":
		return DumpLsdb(s.LinkState), nil
	case "FINGERS", "RING":
		return DumpFingers(s.RingState), nil
	case "INDEX":
		return DumpIndex(s.SearchState), nil
	case "STATS":
		return DumpStats(s.RingState, s.SearchState), nil
	}
	return "", fmt.Errorf("%w: unknown table %q", ErrBadCommand, table)
}
