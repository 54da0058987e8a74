// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pool is the facade spec §4.10 describes: it owns the
// networker, the local Merkle tree, and the validator set, and routes
// a caller's prepared request to whichever handler its method
// selects.
package pool

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/log"

	"github.com/luxfi/vdr/ledger/merkle"
	"github.com/luxfi/vdr/ledger/request"
	"github.com/luxfi/vdr/ledger/stateproof"
	"github.com/luxfi/vdr/ledger/wire"
	"github.com/luxfi/vdr/pool/choosenodes"
	"github.com/luxfi/vdr/pool/genesis"
	"github.com/luxfi/vdr/pool/handlers"
	"github.com/luxfi/vdr/pool/metrics"
	"github.com/luxfi/vdr/pool/networker"
	"github.com/luxfi/vdr/pool/perr"
	"github.com/luxfi/vdr/pool/reqstream"
)

// Config holds the pool-level knobs layered on top of the networker's
// own timeout/rotation settings, per spec §6.
type Config struct {
	Networker          networker.Config
	RequestReadNodes   int
	FreshnessThreshold time.Duration
	LedgerID           int
}

// DefaultConfig matches the spec §6 defaults.
func DefaultConfig() Config {
	return Config{
		Networker: networker.Config{
			AckTimeout:        20 * time.Second,
			ReplyTimeout:      100 * time.Second,
			ConnActiveTimeout: 5 * time.Second,
			ConnRequestLimit:  5,
		},
		RequestReadNodes:   2,
		FreshnessThreshold: 600 * time.Second,
		LedgerID:           1,
	}
}

// Pool is the facade. Open returns one bound to a fixed genesis
// validator set and local ledger state; Refresh and Submit are safe
// for concurrent use by multiple goroutines (the Shared variant in
// spec §5 differs only in how callers share a *Pool, never in this
// type's own locking).
type Pool struct {
	cfg        Config
	validators *genesis.Set
	net        *networker.Networker
	metrics    *metrics.Pool
	log        log.Logger

	mu          sync.Mutex
	tree        *merkle.Tree
	genesisTxns [][]byte

	reqSeq uint64
}

// Open parses the genesis transactions into a validator set, builds
// the local Merkle tree from them, and starts the networker.
func Open(cfg Config, genesisTxns []string, logger log.Logger, reg prometheus.Registerer) (*Pool, error) {
	if logger == nil {
		logger = log.NewNoOpLogger()
	}
	validators, err := genesis.Parse(genesisTxns, func(msg string) { logger.Warn(msg) })
	if err != nil {
		return nil, err
	}

	leaves := make([][]byte, len(genesisTxns))
	for i, line := range genesisTxns {
		leaves[i] = []byte(line)
	}
	tree := merkle.FromTxns(leaves)

	netMetrics, err := metrics.NewNetworker(reg)
	if err != nil {
		return nil, fmt.Errorf("pool: register networker metrics: %w", err)
	}
	poolMetrics, err := metrics.NewPool(reg)
	if err != nil {
		return nil, fmt.Errorf("pool: register pool metrics: %w", err)
	}
	net, err := networker.New(cfg.Networker, validators, netMetrics, logger)
	if err != nil {
		return nil, err
	}
	net.Start()

	return &Pool{
		cfg:         cfg,
		validators:  validators,
		net:         net,
		metrics:     poolMetrics,
		log:         logger,
		tree:        tree,
		genesisTxns: leaves,
	}, nil
}

// Close stops the networker and releases its connections.
func (p *Pool) Close() {
	p.net.Stop()
}

// GetTransactions returns the genesis/catchup transaction set backing
// the local tree, in append order.
func (p *Pool) GetTransactions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.genesisTxns))
	for i, t := range p.genesisTxns {
		out[i] = string(t)
	}
	return out
}

// newRNG returns a freshly seeded source for choosenodes.Choose. Go's
// global math/rand source is auto-seeded and safe for concurrent use,
// so drawing a seed from it per call gives each Submit/Refresh its own
// independent permutation without a shared, lock-guarded *rand.Rand.
func newRNG() *rand.Rand {
	return rand.New(rand.NewSource(rand.Int63()))
}

func (p *Pool) nextReqID() string {
	n := atomic.AddUint64(&p.reqSeq, 1)
	return fmt.Sprintf("internal-%d", n)
}

func (p *Pool) openStream(reqID string) *reqstream.Stream {
	events := p.net.NewRequest(reqID)
	return reqstream.New(p.net, reqID, events)
}

func (p *Pool) recordOutcome(err error) {
	if p.metrics == nil {
		return
	}
	switch {
	case err == nil:
		p.metrics.Synced.Inc()
	case errorsIsTimeout(err):
		p.metrics.Timeouts.Inc()
	case errorsIsNoConsensus(err):
		p.metrics.NoConsensus.Inc()
	default:
		p.metrics.Failed.Inc()
	}
}

func errorsIsTimeout(err error) bool {
	pe, ok := err.(*perr.Error)
	return ok && pe.Kind == perr.KindTimeout
}

func errorsIsNoConsensus(err error) bool {
	pe, ok := err.(*perr.Error)
	return ok && pe.Kind == perr.KindNoConsensus
}

// Refresh runs the status handler against the current local tree and,
// if a validator quorum reports a target ahead of it, catches up to
// that target. It returns nil when the pool was already synced, or
// the updated transaction set (including the newly fetched range)
// when a catchup completed.
func (p *Pool) Refresh(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	tree := p.tree
	p.mu.Unlock()

	reqID := p.nextReqID()
	stream := p.openStream(reqID)
	defer stream.Close()

	outcome, err := handlers.RunStatus(ctx, stream, tree, p.validators, reqID, p.cfg.LedgerID)
	p.recordOutcome(err)
	if err != nil {
		return nil, err
	}
	if outcome.Synced || !outcome.HasTarget {
		return nil, nil
	}

	p.log.Info("catchup target found", log.Int("target_size", outcome.TargetSize))

	catchupReqID := p.nextReqID()
	catchupStream := p.openStream(catchupReqID)
	defer catchupStream.Close()

	candidates := choosenodes.Choose(p.validators.Aliases(), nil, p.validators.N(), newRNG())
	catchupOutcome, err := handlers.RunCatchup(ctx, catchupStream, tree, candidates, outcome.TargetRoot, outcome.TargetSize, p.cfg.LedgerID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	for _, txn := range catchupOutcome.Txns {
		p.tree.Append(txn)
		p.genesisTxns = append(p.genesisTxns, txn)
	}
	updated := make([]string, len(p.genesisTxns))
	for i, t := range p.genesisTxns {
		updated[i] = string(t)
	}
	p.mu.Unlock()

	return updated, nil
}

// Submit dispatches a prepared request to the handler its Method
// selects: full multi-reply, single state-proofed read, or majority
// consensus, per spec §4.10.
func (p *Pool) Submit(ctx context.Context, prepared *request.Prepared) ([]byte, error) {
	reqID := prepared.ReqID
	if reqID == "" {
		return nil, perr.Input("submit: prepared request has no reqId")
	}
	stream := p.openStream(reqID)
	defer stream.Close()

	var result []byte
	var err error
	switch prepared.Method() {
	case request.MethodFull:
		var out map[string]handlers.NodeOutcome
		out, err = handlers.RunFull(ctx, stream, p.validators, prepared.ReqJSON, nil)
		if err == nil {
			result, err = formatFullReply(out)
		}
	case request.MethodSingle:
		window := stateproof.Window{}
		if prepared.SPTimestamps != nil {
			window.From = prepared.SPTimestamps.From
			window.To = prepared.SPTimestamps.To
		}
		cfg := handlers.SingleConfig{RequestReadNodes: p.cfg.RequestReadNodes, FreshnessThreshold: p.cfg.FreshnessThreshold}
		result, err = handlers.RunSingle(ctx, stream, p.validators, prepared.SPKey, window, cfg, newRNG(), prepared.ReqJSON)
	default:
		var msg wire.Message
		msg, err = handlers.RunConsensus(ctx, stream, p.validators, prepared.ReqJSON)
		if err == nil {
			result = msg.Reply.Result
		}
	}
	p.recordOutcome(err)
	return result, err
}

// SubmitAction sends a prepared request to every validator (or a
// caller-chosen subset) and returns each node's individual outcome
// with no consensus logic applied, per spec §4.8.
func (p *Pool) SubmitAction(ctx context.Context, prepared *request.Prepared, nodes []string) (map[string]handlers.NodeOutcome, error) {
	reqID := prepared.ReqID
	if reqID == "" {
		return nil, perr.Input("submit action: prepared request has no reqId")
	}
	stream := p.openStream(reqID)
	defer stream.Close()
	out, err := handlers.RunFull(ctx, stream, p.validators, prepared.ReqJSON, nodes)
	p.recordOutcome(err)
	return out, err
}
