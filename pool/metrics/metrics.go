// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wires pool and networker counters into a caller's
// prometheus registry, following the teacher's thin
// Registry-wrapper-plus-prometheus-primitives pattern rather than a
// hand-rolled counter type.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Networker holds the event-loop counters: sends, timeouts, replies,
// and connections opened and rotated. The counters carry no labels,
// so there is no per-node breakdown.
type Networker struct {
	RequestsSent    prometheus.Counter
	RequestTimeouts prometheus.Counter
	RepliesReceived prometheus.Counter
	ConnsOpened     prometheus.Counter
	ConnsRotated    prometheus.Counter
}

// NewNetworker registers the networker's counters against reg.
func NewNetworker(reg prometheus.Registerer) (*Networker, error) {
	m := &Networker{
		RequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vdr_networker_requests_sent_total",
			Help: "Total requests dispatched to validator nodes.",
		}),
		RequestTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vdr_networker_request_timeouts_total",
			Help: "Total per-(request,node) timeouts delivered to handlers.",
		}),
		RepliesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vdr_networker_replies_received_total",
			Help: "Total wire replies delivered to handlers.",
		}),
		ConnsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vdr_networker_conns_opened_total",
			Help: "Total validator connections dialed.",
		}),
		ConnsRotated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vdr_networker_conns_rotated_total",
			Help: "Total connections closed for exceeding conn_request_limit.",
		}),
	}
	for _, c := range []prometheus.Collector{m.RequestsSent, m.RequestTimeouts, m.RepliesReceived, m.ConnsOpened, m.ConnsRotated} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Pool holds the facade-level outcome counters.
type Pool struct {
	Synced      prometheus.Counter
	NoConsensus prometheus.Counter
	Failed      prometheus.Counter
	Timeouts    prometheus.Counter
}

// NewPool registers the facade's outcome counters against reg.
func NewPool(reg prometheus.Registerer) (*Pool, error) {
	p := &Pool{
		Synced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vdr_pool_synced_total",
			Help: "Total requests that resolved to a Reply outcome.",
		}),
		NoConsensus: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vdr_pool_no_consensus_total",
			Help: "Total requests that resolved to NoConsensus.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vdr_pool_failed_total",
			Help: "Total requests that resolved to RequestFailed.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vdr_pool_timeouts_total",
			Help: "Total requests that resolved to Timeout.",
		}),
	}
	for _, c := range []prometheus.Collector{p.Synced, p.NoConsensus, p.Failed, p.Timeouts} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}
