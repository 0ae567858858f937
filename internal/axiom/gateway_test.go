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

	"github.com/stretchr/testify/require"
)

func TestGatewaySealEmptyBatchIsNoop(t *testing.T) {
	gw := NewGateway(nil, nil)
	sealed := gw.Seal(context.Background(), nil)
	require.Nil(t, sealed)
	require.Equal(t, 0, gw.Commits.Len())
}

func TestGatewaySealAppendsAndPublishes(t *testing.T) {
	gw := NewGateway(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := gw.Watch.Subscribe(ctx, nil)

	sealed := gw.Seal(context.Background(), []Commit{
		{Kind: KindProcessCreated, ProcessCreated: &ProcessCreated{PID: 1, Name: "init"}},
	})
	require.Len(t, sealed, 1)
	require.Equal(t, 1, gw.Commits.Len())

	select {
	case c := <-ch:
		require.Equal(t, sealed[0].ID, c.ID)
	default:
		t.Fatal("expected the sealed commit on the watch channel")
	}
}

func TestRequestIDStartsAtOne(t *testing.T) {
	var r RequestID
	require.EqualValues(t, 1, r.Next())
	require.EqualValues(t, 2, r.Next())
}

func TestSyslogBeginEndPairing(t *testing.T) {
	gw := NewGateway(nil, nil)

	gw.BeginSyscall(SyslogRequest{PID: 1, RequestID: 1, Syscall: 0x40})
	gw.EndSyscall(SyslogResponse{PID: 1, RequestID: 1, Result: 1})

	require.Len(t, gw.Syslog.Requests(), 1)
	require.Len(t, gw.Syslog.Responses(), 1)
	require.Equal(t, gw.Syslog.Requests()[0].RequestID, gw.Syslog.Responses()[0].RequestID)
}
