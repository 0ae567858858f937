/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package axiom

import (
	"context"
	"testing"

	metrics "github.com/docker/go-metrics"
	"github.com/stretchr/testify/require"
)

func TestGatewayWithoutMetricsSealsFine(t *testing.T) {
	g := NewGateway(nil, nil)
	sealed := g.Seal(context.Background(), []Commit{{Kind: KindProcessCreated, ProcessCreated: &ProcessCreated{PID: 1}}})
	require.Len(t, sealed, 1)
}

// newUnregisteredMetrics builds a Metrics the same way NewMetrics does, but
// skips metrics.Register so repeated test runs in one process don't hit
// go-metrics' "namespace already registered" panic on its shared registry.
func newUnregisteredMetrics(nsName string) *Metrics {
	ns := metrics.NewNamespace(nsName, "axiom", nil)
	return &Metrics{
		commits: ns.NewLabeledCounter("commits_total", "sealed commits by kind", "kind"),
		ipcSent: ns.NewCounter("ipc_sent_total", "IPC messages sent"),
		ipcRecv: ns.NewCounter("ipc_received_total", "IPC messages received"),
	}
}

func TestSetMetricsObservesSealedCommits(t *testing.T) {
	g := NewGateway(nil, nil)
	g.SetMetrics(newUnregisteredMetrics("zeroos_test_observe"))

	sealed := g.Seal(context.Background(), []Commit{
		{Kind: KindIPCSent, IPCSent: &IPCSent{}},
		{Kind: KindIPCReceived, IPCReceived: &IPCReceived{}},
	})
	require.Len(t, sealed, 2)
}

func TestNilMetricsObserveIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.observe([]Commit{{Kind: KindProcessCreated, ProcessCreated: &ProcessCreated{PID: 1}}})
	})
}
