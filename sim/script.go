package sim

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/encodeous/overlay/state"
)

// RunScript executes scenario steps in order. Command output is written to out prefixed by the node id.
// A failing command is reported and the scenario continues.
func RunScript(ctx context.Context, v *VirtualHarness, steps []state.SimStep, out io.Writer) error {
	for i, step := range steps {
		if step.Wait > 0 {
			select {
			case <-ctx.Done():
				return context.Cause(ctx)
			case <-time.After(step.Wait):
			}
		}
		if step.Cmd == "" {
			continue
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		text, err := v.Exec(step.Node, step.Cmd)
		if err != nil {
			fmt.Fprintf(out, "[%d] %s> %s: error: %v\n", i, step.Node, step.Cmd, err)
			continue
		}
		if text = strings.TrimRight(text, "\n"); text != "" {
			fmt.Fprintf(out, "[%d] %s> %s\n%s\n", i, step.Node, step.Cmd, text)
		}
	}
	return nil
}
