// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package networker

import (
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
)

func newTestNetworker(t *testing.T) *Networker {
	t.Helper()
	return &Networker{
		log: log.NewNoOpLogger(),
		cfg: Config{
			AckTimeout:        10 * time.Millisecond,
			ReplyTimeout:      20 * time.Millisecond,
			ConnActiveTimeout: time.Second,
			ConnRequestLimit:  5,
		},
		cmdCh:   make(chan command, 8),
		done:    make(chan struct{}),
		conns:   make(map[string]*connState),
		pending: make(map[string]*pendingRequest),
	}
}

func TestSweepTimeoutsDeliversExactlyOnce(t *testing.T) {
	n := newTestNetworker(t)
	events := make(chan Event, 4)
	n.pending["r1"] = &pendingRequest{
		id:     "r1",
		events: events,
		nodes: map[string]*nodeState{
			"Node1": {status: statusSent, deadline: time.Now().Add(-time.Millisecond)},
		},
	}

	n.sweepTimeouts()
	n.sweepTimeouts() // second sweep must not re-deliver

	require.Len(t, events, 1)
	ev := <-events
	require.Equal(t, EventTimeout, ev.Kind)
	require.Equal(t, "Node1", ev.Alias)
}

func TestExtendTimeoutMovesToReplyBudget(t *testing.T) {
	n := newTestNetworker(t)
	n.pending["r1"] = &pendingRequest{
		id:     "r1",
		events: make(chan Event, 1),
		nodes: map[string]*nodeState{
			"Node1": {status: statusSent, deadline: time.Now().Add(n.cfg.AckTimeout)},
		},
	}
	before := n.pending["r1"].nodes["Node1"].deadline

	n.extendTimeout("r1", "Node1")

	ns := n.pending["r1"].nodes["Node1"]
	require.Equal(t, statusAcked, ns.status)
	require.True(t, ns.deadline.After(before))
}

func TestCleanTimeoutRemovesNodeBookkeeping(t *testing.T) {
	n := newTestNetworker(t)
	n.pending["r1"] = &pendingRequest{
		id:     "r1",
		events: make(chan Event, 1),
		nodes:  map[string]*nodeState{"Node1": {status: statusSent, deadline: time.Now()}},
	}

	n.cleanTimeout("r1", "Node1")

	_, ok := n.pending["r1"].nodes["Node1"]
	require.False(t, ok)
}

func TestFinishRequestClosesEventsChannel(t *testing.T) {
	n := newTestNetworker(t)
	events := make(chan Event)
	n.pending["r1"] = &pendingRequest{id: "r1", events: events, nodes: map[string]*nodeState{}}

	n.finish("r1")

	_, open := <-events
	require.False(t, open)
	_, ok := n.pending["r1"]
	require.False(t, ok)
}

func TestNextDeadlineFallsBackWhenNoPending(t *testing.T) {
	n := newTestNetworker(t)
	d := n.nextDeadline()
	require.Greater(t, d, time.Duration(0))
	require.LessOrEqual(t, d, 200*time.Millisecond)
}

func TestIdleBudgetForceFinishesRequest(t *testing.T) {
	n := newTestNetworker(t)
	events := make(chan Event, 1)
	n.pending["r1"] = &pendingRequest{
		id:       "r1",
		events:   events,
		idleDead: time.Now().Add(-time.Millisecond),
		nodes:    map[string]*nodeState{},
	}

	n.sweepTimeouts()

	_, ok := n.pending["r1"]
	require.False(t, ok)
	_, open := <-events
	require.False(t, open)
}
