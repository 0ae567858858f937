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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu  sync.Mutex
	got []Commit
}

func (s *recordingSink) Forward(_ context.Context, c Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, c)
	return nil
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestPublisherForwardsOnFirstAttempt(t *testing.T) {
	sink := &recordingSink{}
	p := NewPublisher(sink)
	defer p.Close()

	p.Publish(context.Background(), []Commit{{Kind: KindProcessCreated, ProcessCreated: &ProcessCreated{PID: 1}}})

	require.Eventually(t, func() bool { return sink.len() == 1 }, time.Second, 10*time.Millisecond)
}

func TestLogSinkNeverErrors(t *testing.T) {
	sink := LogSink{}
	err := sink.Forward(context.Background(), Commit{Kind: KindProcessCreated, ProcessCreated: &ProcessCreated{PID: 1}})
	require.NoError(t, err)
}
