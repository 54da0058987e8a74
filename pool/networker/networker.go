// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package networker is the heart of the pool driver: a single
// goroutine that owns every validator socket and all deadline
// bookkeeping, driven by a command channel instead of the upstream
// design's inproc command socket. A Go channel is the idiomatic
// stand-in for that inproc socket: it gives the same "one thread owns
// all I/O, everyone else posts commands" shape without a second ZMQ
// transport just to talk to itself.
package networker

import (
	"fmt"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/luxfi/log"

	"github.com/luxfi/vdr/ledger/wire"
	"github.com/luxfi/vdr/pool/genesis"
	"github.com/luxfi/vdr/pool/metrics"
	"github.com/luxfi/vdr/pool/transport"
)

// Config holds the timeout and connection-rotation parameters from
// spec §6's configuration defaults.
type Config struct {
	AckTimeout        time.Duration
	ReplyTimeout      time.Duration
	ConnActiveTimeout time.Duration
	ConnRequestLimit  int
}

type nodeStatus int

const (
	statusSent nodeStatus = iota
	statusAcked
	statusDone // Received, TimedOut, or NetworkError already delivered
)

type nodeState struct {
	status   nodeStatus
	deadline time.Time
}

type pendingRequest struct {
	id       string
	nodes    map[string]*nodeState
	events   chan Event
	idleDead time.Time // conn_active_timeout-based force-finish bound
	closed   bool
}

// connState tracks one open validator connection plus its rotation
// bookkeeping (age and distinct-requester count), per the REDESIGN
// note in spec §9 that rotation counts distinct sub_ids, not raw send
// volume.
type connState struct {
	conn     *transport.Conn
	subIDs   map[string]struct{} // distinct request ids routed over this connection
}

// Networker owns every validator socket and the request->pending map.
// All fields below this point are touched only from run(); external
// callers interact exclusively through the exported methods, which
// post commands over cmdCh.
type Networker struct {
	cfg        Config
	validators *genesis.Set
	self       transport.KeyPair
	metrics    *metrics.Networker
	log        log.Logger

	cmdCh chan command
	done  chan struct{}
	wg    sync.WaitGroup

	conns   map[string]*connState
	pending map[string]*pendingRequest
}

// New constructs a Networker; call Start to launch its goroutine.
func New(cfg Config, validators *genesis.Set, m *metrics.Networker, logger log.Logger) (*Networker, error) {
	self, err := transport.NewKeyPair()
	if err != nil {
		return nil, fmt.Errorf("networker: %w", err)
	}
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	return &Networker{
		cfg:        cfg,
		validators: validators,
		self:       self,
		metrics:    m,
		log:        logger,
		cmdCh:      make(chan command, 64),
		done:       make(chan struct{}),
		conns:      make(map[string]*connState),
		pending:    make(map[string]*pendingRequest),
	}, nil
}

// Start launches the dedicated event-loop goroutine.
func (n *Networker) Start() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.run()
	}()
}

// Stop tears down the loop and drops all remaining pendings, matching
// the "global exit command" in spec §5.
func (n *Networker) Stop() {
	select {
	case n.cmdCh <- command{kind: cmdExit}:
	case <-n.done:
	}
	n.wg.Wait()
}

// NewRequest allocates a pending request under the caller-chosen id
// and returns the channel the caller's handler coroutine should await
// on.
func (n *Networker) NewRequest(id string) <-chan Event {
	events := make(chan Event, 8)
	reply := make(chan struct{})
	n.post(command{kind: cmdNewRequest, reqID: id, events: events, ack: reply})
	<-reply
	return events
}

// Dispatch sends payload to the named validator aliases for request
// id, starting each at the ack_timeout budget.
func (n *Networker) Dispatch(id string, aliases []string, payload []byte) {
	n.post(command{kind: cmdDispatch, reqID: id, aliases: aliases, payload: payload})
}

// ExtendTimeout moves a node from the ack to the reply budget,
// invoked when a REQACK is observed.
func (n *Networker) ExtendTimeout(id, alias string) {
	n.post(command{kind: cmdExtendTimeout, reqID: id, aliases: []string{alias}})
}

// CleanTimeout clears a node's deadline bookkeeping without finishing
// the request, used before re-sending to a replacement node.
func (n *Networker) CleanTimeout(id, alias string) {
	n.post(command{kind: cmdCleanTimeout, reqID: id, aliases: []string{alias}})
}

// FinishRequest removes the pending and closes its events channel;
// any in-flight reply for it is discarded thereafter.
func (n *Networker) FinishRequest(id string) {
	n.post(command{kind: cmdFinishRequest, reqID: id})
}

func (n *Networker) post(c command) {
	select {
	case n.cmdCh <- c:
	case <-n.done:
	}
}

type commandKind int

const (
	cmdNewRequest commandKind = iota
	cmdDispatch
	cmdExtendTimeout
	cmdCleanTimeout
	cmdFinishRequest
	cmdExit
)

type command struct {
	kind    commandKind
	reqID   string
	aliases []string
	payload []byte
	events  chan Event
	ack     chan struct{}
}

// run is the single dedicated-goroutine loop: poll sockets with a
// deadline-derived bound, drain ready sockets, drain pending commands,
// sweep timeouts, repeat. Every field it touches is exclusive to this
// goroutine, matching spec §5's "no other task touches them".
func (n *Networker) run() {
	defer close(n.done)
	poller := zmq.NewPoller()
	socketAlias := make(map[*zmq.Socket]string)

	rebuildPoller := func() {
		poller = zmq.NewPoller()
		socketAlias = make(map[*zmq.Socket]string)
		for alias, cs := range n.conns {
			sock := cs.conn.FD()
			poller.Add(sock, zmq.POLLIN)
			socketAlias[sock] = alias
		}
	}

	for {
		timeout := n.nextDeadline()
		rebuildPoller()
		items, err := poller.Poll(timeout)
		if err != nil {
			n.log.Warn("networker poll error", log.Err(err))
		}
		for _, item := range items {
			alias, ok := socketAlias[item.Socket]
			if !ok {
				continue
			}
			n.handleSocketReadable(alias)
		}

		if n.drainCommands() {
			return
		}
		n.sweepTimeouts()
	}
}

// nextDeadline bounds the poll call by the soonest node or idle
// deadline across all pending requests, falling back to a conservative
// cap so the loop still wakes to notice new commands promptly.
func (n *Networker) nextDeadline() time.Duration {
	const fallback = 200 * time.Millisecond
	soonest := time.Now().Add(fallback)
	found := false
	for _, p := range n.pending {
		if !p.idleDead.IsZero() && p.idleDead.Before(soonest) {
			soonest = p.idleDead
			found = true
		}
		for _, ns := range p.nodes {
			if ns.status == statusDone || ns.deadline.IsZero() {
				continue
			}
			if ns.deadline.Before(soonest) {
				soonest = ns.deadline
				found = true
			}
		}
	}
	if !found {
		return fallback
	}
	d := time.Until(soonest)
	if d < 0 {
		d = 0
	}
	return d
}

// drainCommands processes every queued command without blocking,
// returning true if the loop should terminate.
func (n *Networker) drainCommands() bool {
	for {
		select {
		case c := <-n.cmdCh:
			if n.applyCommand(c) {
				return true
			}
		default:
			return false
		}
	}
}

func (n *Networker) applyCommand(c command) bool {
	switch c.kind {
	case cmdNewRequest:
		n.pending[c.reqID] = &pendingRequest{id: c.reqID, nodes: make(map[string]*nodeState), events: c.events}
		close(c.ack)
	case cmdDispatch:
		n.dispatch(c.reqID, c.aliases, c.payload)
	case cmdExtendTimeout:
		n.extendTimeout(c.reqID, c.aliases[0])
	case cmdCleanTimeout:
		n.cleanTimeout(c.reqID, c.aliases[0])
	case cmdFinishRequest:
		n.finish(c.reqID)
	case cmdExit:
		for id := range n.pending {
			n.finish(id)
		}
		for alias, cs := range n.conns {
			cs.conn.Close()
			delete(n.conns, alias)
		}
		return true
	}
	return false
}

func (n *Networker) dispatch(reqID string, aliases []string, payload []byte) {
	p, ok := n.pending[reqID]
	if !ok {
		return
	}
	now := time.Now()
	p.idleDead = now.Add(n.cfg.ConnActiveTimeout)
	for _, alias := range aliases {
		cs, err := n.connFor(alias)
		if err != nil {
			n.deliver(p, Event{Kind: EventNetworkError, Alias: alias, Err: err})
			continue
		}
		if err := cs.conn.Send(payload); err != nil {
			n.deliver(p, Event{Kind: EventNetworkError, Alias: alias, Err: err})
			continue
		}
		cs.subIDs[reqID] = struct{}{}
		p.nodes[alias] = &nodeState{status: statusSent, deadline: now.Add(n.cfg.AckTimeout)}
		if n.metrics != nil {
			n.metrics.RequestsSent.Inc()
		}
	}
}

func (n *Networker) extendTimeout(reqID, alias string) {
	p, ok := n.pending[reqID]
	if !ok {
		return
	}
	ns, ok := p.nodes[alias]
	if !ok {
		return
	}
	ns.status = statusAcked
	ns.deadline = time.Now().Add(n.cfg.ReplyTimeout)
}

func (n *Networker) cleanTimeout(reqID, alias string) {
	p, ok := n.pending[reqID]
	if !ok {
		return
	}
	delete(p.nodes, alias)
}

func (n *Networker) finish(reqID string) {
	p, ok := n.pending[reqID]
	if !ok {
		return
	}
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	delete(n.pending, reqID)
}

// deliver sends an event to a request's handler channel, marking the
// node done so exactly one of Received/Timeout/NetworkError is ever
// delivered for it (spec §8's per-dispatch exactly-once property). A
// full channel (a stalled or abandoned handler) drops the event rather
// than blocking the shared event loop.
func (n *Networker) deliver(p *pendingRequest, ev Event) {
	if p.closed {
		return
	}
	if ns, ok := p.nodes[ev.Alias]; ok {
		if ns.status == statusDone {
			return
		}
		ns.status = statusDone
	}
	if ev.Kind == EventReceived && n.metrics != nil {
		n.metrics.RepliesReceived.Inc()
	}
	select {
	case p.events <- ev:
	default:
		n.log.Warn("networker: dropping event, handler channel full",
			log.String("reqId", p.id), log.String("alias", ev.Alias))
	}
}

func (n *Networker) handleSocketReadable(alias string) {
	cs, ok := n.conns[alias]
	if !ok {
		return
	}
	raw, err := cs.conn.Recv(0)
	if err != nil {
		return
	}
	msg, err := wire.Parse(raw)
	if err != nil {
		n.log.Warn("networker: unparseable frame", log.String("alias", alias), log.Err(err))
		return
	}
	if msg.Op == wire.OpPing {
		cs.conn.Send([]byte(`"` + wire.PongLiteral + `"`))
		return
	}
	if msg.Op == wire.OpPong {
		return
	}

	reqID, err := requestIDOf(msg)
	if err != nil {
		n.log.Warn("networker: reply without reqId", log.String("alias", alias), log.Err(err))
		return
	}
	p, ok := n.pending[reqID]
	if !ok {
		return // no live pending: per spec §5, silently dropped
	}
	switch msg.Op {
	case wire.OpReqACK:
		n.extendTimeout(reqID, alias)
	default:
		n.deliver(p, Event{Kind: EventReceived, Alias: alias, Msg: msg})
	}
}

// requestIDOf extracts the correlation id a message carries. Only
// REPLY/REQACK/REQNACK/REJECT name their request explicitly; every
// other op (LEDGER_STATUS, CONSISTENCY_PROOF, CATCHUP_REQ/REP,
// POOL_LEDGER_TXNS) has none on the wire and defaults to the empty
// id, matching the status/catchup handlers dispatching under "" since
// at most one such request is ever in flight on a given networker.
func requestIDOf(msg wire.Message) (string, error) {
	switch msg.Op {
	case wire.OpReply:
		return wire.RequestID(msg.Reply.Result)
	case wire.OpReqACK:
		return msg.ReqACK.ReqID, nil
	case wire.OpReqNACK:
		return msg.ReqNACK.ReqID, nil
	case wire.OpReject:
		return msg.Reject.ReqID, nil
	default:
		return "", nil
	}
}

// sweepTimeouts delivers EventTimeout for any node whose deadline has
// elapsed, force-finishes requests whose idle budget elapsed, and
// closes idle, request-free connections past conn_active_timeout.
func (n *Networker) sweepTimeouts() {
	now := time.Now()
	for _, p := range n.pending {
		if !p.idleDead.IsZero() && now.After(p.idleDead) {
			n.finish(p.id)
			continue
		}
		for alias, ns := range p.nodes {
			if ns.status == statusDone || ns.deadline.IsZero() {
				continue
			}
			if now.After(ns.deadline) {
				n.deliver(p, Event{Kind: EventTimeout, Alias: alias})
				if n.metrics != nil {
					n.metrics.RequestTimeouts.Inc()
				}
			}
		}
	}

	for alias, cs := range n.conns {
		if n.connInUse(alias) {
			continue
		}
		if cs.conn.Age() > n.cfg.ConnActiveTimeout {
			cs.conn.Close()
			delete(n.conns, alias)
		}
	}
}

func (n *Networker) connInUse(alias string) bool {
	for _, p := range n.pending {
		if ns, ok := p.nodes[alias]; ok && ns.status != statusDone {
			return true
		}
	}
	return false
}

// connFor returns an open connection to alias, rotating to a fresh
// socket when the current one has carried conn_request_limit distinct
// requesters already (the REDESIGN §9 resolution: count distinct
// sub_ids, not raw sends).
func (n *Networker) connFor(alias string) (*connState, error) {
	if cs, ok := n.conns[alias]; ok {
		if len(cs.subIDs) < n.cfg.ConnRequestLimit {
			return cs, nil
		}
		cs.conn.Close()
		delete(n.conns, alias)
		if n.metrics != nil {
			n.metrics.ConnsRotated.Inc()
		}
	}
	vi, ok := n.validators.Get(alias)
	if !ok {
		return nil, fmt.Errorf("networker: unknown validator %q", alias)
	}
	conn, err := transport.Dial(alias, vi.ClientAddr, vi.EncKey, n.self)
	if err != nil {
		return nil, err
	}
	if n.metrics != nil {
		n.metrics.ConnsOpened.Inc()
	}
	cs := &connState{conn: conn, subIDs: make(map[string]struct{})}
	n.conns[alias] = cs
	return cs, nil
}
