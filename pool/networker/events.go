// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package networker

import "github.com/luxfi/vdr/ledger/wire"

// EventKind tags what happened to a dispatched (request, node) pair.
type EventKind int

const (
	// EventReceived carries one parsed reply from a node.
	EventReceived EventKind = iota
	// EventTimeout reports that a node's deadline elapsed with no
	// reply, per spec §5's per-(request,node) Sent->(Received|Timeout)
	// guarantee.
	EventTimeout
	// EventNetworkError reports a send/recv failure on a node's
	// connection; handlers treat it the same as a timeout.
	EventNetworkError
)

// Event is delivered on a request's channel exactly once per node per
// dispatch, matching the ordering guarantee in spec §5.
type Event struct {
	Kind  EventKind
	Alias string
	Msg   wire.Message // valid only when Kind == EventReceived
	Err   error        // valid only when Kind == EventNetworkError
}
