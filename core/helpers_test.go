package core_test

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/najoast/kompics/core"
	"github.com/najoast/kompics/scheduler"
)

type Ping struct{ Seq int }

type Pong struct{ Seq int }

var PingPort = core.NewPortType("Ping",
	core.Request[Ping](),
	core.Indication[Pong](),
)

type Echo struct {
	core.Direct
	Msg string
}

type EchoReply struct {
	core.Reply
	Msg string
}

var EchoPort = core.NewPortType("Echo",
	core.Request[*Echo](),
	core.Indication[*EchoReply](),
)

const waitFor = 2 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSystem returns a running system backed by a pool of workers.
func newTestSystem(t *testing.T, workers int, opts ...core.SystemOption) *core.System {
	t.Helper()

	pool := scheduler.NewPool(scheduler.Options{Workers: workers, Logger: quietLogger()})
	opts = append([]core.SystemOption{core.WithLogger(quietLogger())}, opts...)
	sys := core.NewSystem(pool, opts...)
	pool.Proceed()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return sys
}

func awaitState(t *testing.T, c *core.Component, states ...core.State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, c.AwaitState(ctx, states...))
}

func startRoot(t *testing.T, sys *core.System, ctor core.Constructor) *core.Component {
	t.Helper()
	root, err := sys.CreateRoot(ctor)
	require.NoError(t, err)
	sys.Start(root)
	awaitState(t, root, core.Active)
	return root
}

func waitClosed(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitFor):
		t.Fatalf("timed out: %s", msg)
	}
}

// recorder collects entries from handlers running on any worker.
type recorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.entries = append(r.entries, s)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

// await waits until at least n entries were recorded.
func (r *recorder) await(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.list()) >= n
	}, waitFor, time.Millisecond)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}

type named string

func (n named) Name() string { return string(n) }

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}
