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

package endpoint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEndpointFIFOOrder(t *testing.T) {
	ep := New(1, 10)
	ep.Enqueue(Message{Tag: 1})
	ep.Enqueue(Message{Tag: 2})
	ep.Enqueue(Message{Tag: 3})

	for _, want := range []uint32{1, 2, 3} {
		msg, ok := ep.Dequeue()
		require.True(t, ok)
		require.Equal(t, want, msg.Tag)
	}
	_, ok := ep.Dequeue()
	require.False(t, ok, "dequeue on an empty endpoint must report false, not panic")
}

func TestEndpointMetrics(t *testing.T) {
	ep := New(1, 10)
	ep.Enqueue(Message{Data: []byte("abc")})
	ep.Enqueue(Message{Data: []byte("de")})
	require.EqualValues(t, 2, ep.Metrics.Delivered)
	require.EqualValues(t, 5, ep.Metrics.BytesQueued)
	require.Equal(t, 2, ep.Metrics.HighWaterMark)

	ep.Dequeue()
	require.EqualValues(t, 1, ep.Metrics.Received)
	require.Equal(t, 2, ep.Metrics.HighWaterMark, "high water mark must not shrink on dequeue")
}

func TestTableOwnedBy(t *testing.T) {
	tbl := NewTable()
	a := tbl.Allocate()
	b := tbl.Allocate()
	c := tbl.Allocate()
	tbl.Insert(New(a, 100))
	tbl.Insert(New(b, 100))
	tbl.Insert(New(c, 200))

	require.ElementsMatch(t, []ID{a, b}, tbl.OwnedBy(100))
	require.ElementsMatch(t, []ID{c}, tbl.OwnedBy(200))

	tbl.Remove(a)
	_, ok := tbl.Get(a)
	require.False(t, ok)
}
