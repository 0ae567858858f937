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

import metrics "github.com/docker/go-metrics"

// Metrics counts sealed commits and IPC traffic by kind, mirroring the
// `container`/`cgroups` Prometheus namespace core/metrics/cgroups/cgroups.go
// registers against go-metrics' default registry. Attaching one to a
// Gateway is optional: a nil *Metrics (the Gateway zero value) skips all
// counting, so tests that never call SetMetrics pay nothing for it.
type Metrics struct {
	commits metrics.LabeledCounter
	ipcSent metrics.Counter
	ipcRecv metrics.Counter
}

// NewMetrics registers a "zeroos" Prometheus namespace with per-kind commit
// counters and IPC send/receive counters, and returns a Metrics ready to
// attach to a Gateway with SetMetrics. Call once per process; registering
// the same namespace twice panics, the same constraint go-metrics.Register
// itself documents.
func NewMetrics() *Metrics {
	ns := metrics.NewNamespace("zeroos", "axiom", nil)
	m := &Metrics{
		commits: ns.NewLabeledCounter("commits_total", "sealed commits by kind", "kind"),
		ipcSent: ns.NewCounter("ipc_sent_total", "IPC messages sent"),
		ipcRecv: ns.NewCounter("ipc_received_total", "IPC messages received"),
	}
	metrics.Register(ns)
	return m
}

func (m *Metrics) observe(batch []Commit) {
	if m == nil {
		return
	}
	for _, c := range batch {
		m.commits.WithValues(c.Kind.String()).Inc()
		switch c.Kind {
		case KindIPCSent:
			m.ipcSent.Inc()
		case KindIPCReceived:
			m.ipcRecv.Inc()
		}
	}
}

// SetMetrics attaches m to g; every subsequent Seal observes its batch
// through it. Passing nil detaches metrics collection.
func (g *Gateway) SetMetrics(m *Metrics) {
	g.metrics = m
}
