// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package perr defines the error taxonomy surfaced to callers of the
// pool facade, mirroring the sentinel-error style the teacher's
// config package uses (config/errors.go) rather than a hierarchy of
// custom exception types.
package perr

import "errors"

// Kind classifies an Error by the taxonomy in the design's error
// handling section.
type Kind string

const (
	KindInput        Kind = "input"
	KindResource     Kind = "resource"
	KindNetwork      Kind = "network"
	KindTimeout      Kind = "timeout"
	KindNoConsensus  Kind = "no_consensus"
	KindRequestFailed Kind = "request_failed"
	KindInvalidState Kind = "invalid_state"
)

// Sentinel errors with a fixed message. The constructors below neither
// return nor wrap them, so errors.Is(err, ErrTimeout) does not match a
// *Error of KindTimeout; the kind of an *Error is carried in its Kind
// field.
var (
	ErrTimeout      = errors.New("pool: request timed out")
	ErrNoConsensus  = errors.New("pool: no consensus reached")
	ErrInvalidState = errors.New("pool: invalid state")
)

// Error wraps an underlying cause with the taxonomy kind that
// determines how the pool facade and handlers should react to it.
type Error struct {
	Kind    Kind
	Message string
	Sample  []byte // populated for KindRequestFailed: one nack/reject sample
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error of the given kind with the given message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap builds an Error of the given kind around an existing error.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Input builds a KindInput error.
func Input(msg string) *Error { return New(KindInput, msg) }

// InvalidState builds a KindInvalidState error.
func InvalidState(msg string) *Error { return New(KindInvalidState, msg) }

// NoConsensus builds a KindNoConsensus error.
func NoConsensus(msg string) *Error { return New(KindNoConsensus, msg) }

// Timeout builds a KindTimeout error.
func Timeout(msg string) *Error { return New(KindTimeout, msg) }

// RequestFailed builds a KindRequestFailed error carrying one sample
// nack/reject payload, per §7's "sample is one of them".
func RequestFailed(msg string, sample []byte) *Error {
	return &Error{Kind: KindRequestFailed, Message: msg, Sample: sample}
}

// Network builds a KindNetwork error wrapping the underlying transport
// failure.
func Network(err error) *Error { return Wrap(KindNetwork, err) }
