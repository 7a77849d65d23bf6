package sim

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/encodeous/overlay/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func twoNodes(t *testing.T) *VirtualHarness {
	t.Helper()
	v := &VirtualHarness{}
	v.NewNode("a", "10.3.0.1:1000")
	v.NewNode("b", "10.3.0.2:1000")
	v.Central.Graph = []string{"a, b"}
	_, err := v.Start()
	require.NoError(t, err)
	t.Cleanup(v.Stop)
	return v
}

func TestRunScript(t *testing.T) {
	defer goleak.VerifyNone(t)
	v := twoNodes(t)
	out := &bytes.Buffer{}
	err := RunScript(context.Background(), v, []state.SimStep{
		{Node: "a", Cmd: "JOIN a"},
		{Node: "b", Cmd: "JOIN a"},
		{Wait: 50 * time.Millisecond},
		{Node: "b", Cmd: "FROB"},
		{Node: "a", Cmd: "DUMP FINGERS"},
	}, out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[3] b> FROB: error: malformed command")
	assert.Contains(t, out.String(), "[4] a> DUMP FINGERS\nring{id: a")
	assert.NotContains(t, out.String(), "[0]")
	v.Stop()
}

func TestRunScriptCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)
	v := twoNodes(t)
	ctx, cancel := context.WithCancelCause(context.Background())
	stop := errors.New("interrupted")
	cancel(stop)
	err := RunScript(ctx, v, []state.SimStep{{Wait: time.Hour}}, &bytes.Buffer{})
	assert.ErrorIs(t, err, stop)
	v.Stop()
}

func TestHarnessRejectsBadGraph(t *testing.T) {
	v := &VirtualHarness{}
	v.NewNode("a", "10.3.0.1:1000")
	v.Central.Graph = []string{"a, nobody"}
	_, err := v.Start()
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	cfg := &state.SimCfg{
		CentralCfg: state.CentralCfg{Nodes: []state.NodeCfg{{Id: "a"}, {Id: "b"}}},
		Link:       state.SimLinkCfg{Latency: time.Millisecond, Loss: 0.5},
		Seed:       3,
		Routed:     true,
	}
	v := FromConfig(cfg)
	assert.Equal(t, 0.5, v.Link.Loss)
	assert.Equal(t, time.Millisecond, v.Link.Latency)
	assert.Equal(t, uint64(3), v.Seed)
	require.Len(t, v.Local, 2)
	assert.True(t, v.Local[1].Routed)
	assert.Equal(t, state.NodeId("b"), v.Local[1].Id)
	assert.Equal(t, 1, v.IndexOf("b"))
	assert.Equal(t, -1, v.IndexOf("c"))
}
