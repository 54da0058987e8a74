// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package reqstream is the per-request view a handler coroutine awaits
// on: the NotStarted/Active/Terminated stream described in spec §4.3,
// built over the networker's event channel.
package reqstream

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/vdr/pool/networker"
)

type state int

const (
	stateActive state = iota
	stateTerminated
)

// net is the subset of *networker.Networker a Stream needs; defined
// as an interface so handler tests can substitute a fake networker
// without opening real sockets.
type net interface {
	Dispatch(id string, aliases []string, payload []byte)
	ExtendTimeout(id, alias string)
	CleanTimeout(id, alias string)
	FinishRequest(id string)
}

// Stream is a single pending request's event feed. It starts Active
// immediately: the networker's NewRequest call already completed
// synchronously by the time Stream is constructed, standing in for
// the upstream design's separate NotStarted-awaiting-Init state.
type Stream struct {
	id     string
	n      net
	events <-chan networker.Event

	mu      sync.Mutex
	st      state
	sentAt  map[string]time.Time
	onClose func()
}

// New wraps a networker's event channel as a Stream for request id.
func New(n net, id string, events <-chan networker.Event) *Stream {
	return &Stream{id: id, n: n, events: events, st: stateActive, sentAt: make(map[string]time.Time)}
}

// Dispatch fans the request out to aliases, recording send times for
// latency bookkeeping on the eventual Received.
func (s *Stream) Dispatch(aliases []string, payload []byte) {
	now := time.Now()
	s.mu.Lock()
	for _, a := range aliases {
		s.sentAt[a] = now
	}
	s.mu.Unlock()
	s.n.Dispatch(s.id, aliases, payload)
}

// ExtendTimeout pushes a node's deadline out after a REQACK.
func (s *Stream) ExtendTimeout(alias string) { s.n.ExtendTimeout(s.id, alias) }

// CleanTimeout clears one node's deadline bookkeeping, e.g. before a
// resend to a replacement node.
func (s *Stream) CleanTimeout(alias string) { s.n.CleanTimeout(s.id, alias) }

// Event is a RequestEvent: either a parsed reply (with latency since
// dispatch) or a timeout/network-error for one node.
type Event struct {
	networker.Event
	Latency time.Duration
}

// Next blocks for the next event, or returns ok=false once the stream
// is Terminated (including when the caller's context is done, which
// also terminates the stream permanently per drop semantics).
func (s *Stream) Next(ctx context.Context) (Event, bool) {
	s.mu.Lock()
	terminated := s.st == stateTerminated
	s.mu.Unlock()
	if terminated {
		return Event{}, false
	}

	select {
	case ev, ok := <-s.events:
		if !ok {
			s.terminate()
			return Event{}, false
		}
		s.mu.Lock()
		var latency time.Duration
		if sent, had := s.sentAt[ev.Alias]; had {
			latency = time.Since(sent)
		}
		s.mu.Unlock()
		return Event{Event: ev, Latency: latency}, true
	case <-ctx.Done():
		s.Close()
		return Event{}, false
	}
}

// Close terminates the stream, triggering FinishRequest exactly once
// so dropping a stream guarantees socket-level cancellation per spec
// §4.3/§5.
func (s *Stream) Close() {
	s.terminate()
}

func (s *Stream) terminate() {
	s.mu.Lock()
	if s.st == stateTerminated {
		s.mu.Unlock()
		return
	}
	s.st = stateTerminated
	s.mu.Unlock()
	s.n.FinishRequest(s.id)
}
