//go:build integration

package integration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/encodeous/overlay/sim"
	"github.com/encodeous/overlay/state"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	state.HelloDelay = 50 * time.Millisecond
	state.NeighbourTimeout = 5 * state.HelloDelay
	state.LsaMaxAge = 6 * state.HelloDelay
	state.StabilizeDelay = 50 * time.Millisecond
	state.FixFingerDelay = 100 * time.Millisecond
	state.PingTimeout = 300 * time.Millisecond
	state.PingAuditDelay = 50 * time.Millisecond
	os.Exit(m.Run())
}

// newMesh creates n fully connected nodes named a, b, c...
func newMesh(n int) (*sim.VirtualHarness, []state.NodeId) {
	vh := &sim.VirtualHarness{}
	ids := make([]state.NodeId, 0, n)
	for i := range n {
		id := state.NodeId(string(rune('a' + i)))
		vh.NewNode(id, fmt.Sprintf("10.0.0.%d:%d", i+1, state.DefaultPort))
		ids = append(ids, id)
	}
	names := make([]string, 0, n)
	for _, id := range ids {
		names = append(names, string(id))
	}
	vh.Central.Graph = []string{strings.Join(names, ", ")}
	return vh, ids
}

func start(t *testing.T, vh *sim.VirtualHarness) {
	t.Helper()
	_, err := vh.Start()
	require.NoError(t, err)
}

func exec(t *testing.T, vh *sim.VirtualHarness, id state.NodeId, cmd string) string {
	t.Helper()
	out, err := vh.Exec(id, cmd)
	require.NoError(t, err, "%s> %s", id, cmd)
	return out
}

func joined(vh *sim.VirtualHarness, id state.NodeId) bool {
	ok, err := sim.Query(vh, id, func(s *state.State) bool {
		return s.RingState.Joined()
	})
	return err == nil && ok
}

// formRing joins every node through the first one, one at a time
func formRing(t *testing.T, vh *sim.VirtualHarness, ids []state.NodeId) {
	t.Helper()
	for _, id := range ids {
		exec(t, vh, id, "JOIN "+string(ids[0]))
		require.Eventually(t, func() bool { return joined(vh, id) }, 5*time.Second, 10*time.Millisecond, "%s did not join", id)
	}
	require.Eventually(t, func() bool {
		ok, err := vh.RingConsistent()
		return err == nil && ok
	}, 10*time.Second, 20*time.Millisecond, "ring did not converge")
}

func indexSize(vh *sim.VirtualHarness, ids []state.NodeId) int {
	total := 0
	for _, id := range ids {
		n, err := sim.Query(vh, id, func(s *state.State) int {
			return s.SearchState.Index.Len()
		})
		if err == nil {
			total += n
		}
	}
	return total
}

func writeMetadata(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "docs.txt")
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	return p
}
