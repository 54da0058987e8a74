// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package transport wraps the encrypted DEALER socket used to reach a
// single validator: one socket per connection, CURVE-secured against
// the validator's genesis-derived encryption key, matching the
// message-oriented (not stream-oriented) transport spec §6 describes.
package transport

import (
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/luxfi/vdr/pool/perr"
)

// KeyPair is an ephemeral Curve25519 keypair each networker generates
// once, at construction, and presents to every validator socket it
// opens.
type KeyPair struct {
	Public  string // z85-encoded
	Secret  string // z85-encoded
}

// NewKeyPair generates a fresh CURVE keypair via libzmq's CurveKeypair,
// the same call the teacher's transport layer would reach for.
func NewKeyPair() (KeyPair, error) {
	pub, sec, err := zmq.NewCurveKeypair()
	if err != nil {
		return KeyPair{}, fmt.Errorf("transport: generate curve keypair: %w", err)
	}
	return KeyPair{Public: pub, Secret: sec}, nil
}

// Conn is one encrypted DEALER connection to a validator node.
type Conn struct {
	Alias   string
	socket  *zmq.Socket
	opened  time.Time
	reqSent int
}

// Dial opens a CURVE-secured DEALER socket to a validator's client
// address, authenticating the server by its genesis-derived Curve25519
// key and presenting the driver's own ephemeral keypair.
func Dial(alias, addr string, serverKey [32]byte, self KeyPair) (*Conn, error) {
	sock, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		return nil, perr.Network(fmt.Errorf("transport: new socket for %s: %w", alias, err))
	}
	if err := sock.SetCurveServerkey(z85Encode(serverKey)); err != nil {
		sock.Close()
		return nil, perr.Network(fmt.Errorf("transport: set server key for %s: %w", alias, err))
	}
	if err := sock.SetCurvePublickey(self.Public); err != nil {
		sock.Close()
		return nil, perr.Network(fmt.Errorf("transport: set public key for %s: %w", alias, err))
	}
	if err := sock.SetCurveSecretkey(self.Secret); err != nil {
		sock.Close()
		return nil, perr.Network(fmt.Errorf("transport: set secret key for %s: %w", alias, err))
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, perr.Network(fmt.Errorf("transport: set linger for %s: %w", alias, err))
	}
	if err := sock.Connect(addr); err != nil {
		sock.Close()
		return nil, perr.Network(fmt.Errorf("transport: connect to %s (%s): %w", alias, addr, err))
	}
	return &Conn{Alias: alias, socket: sock, opened: time.Now()}, nil
}

// Send writes a single-frame message to the validator.
func (c *Conn) Send(data []byte) error {
	c.reqSent++
	if _, err := c.socket.SendBytes(data, 0); err != nil {
		return perr.Network(fmt.Errorf("transport: send to %s: %w", c.Alias, err))
	}
	return nil
}

// FD returns the underlying zmq socket for poller registration,
// matching the single dedicated event loop's use of zmq4's reactor-
// style Poller rather than a goroutine-per-socket design.
func (c *Conn) FD() *zmq.Socket { return c.socket }

// Recv reads one pending frame without blocking beyond the configured
// receive timeout.
func (c *Conn) Recv(timeout time.Duration) ([]byte, error) {
	if err := c.socket.SetRcvtimeo(timeout); err != nil {
		return nil, perr.Network(fmt.Errorf("transport: set rcvtimeo for %s: %w", c.Alias, err))
	}
	data, err := c.socket.RecvBytes(0)
	if err != nil {
		return nil, perr.Network(fmt.Errorf("transport: recv from %s: %w", c.Alias, err))
	}
	return data, nil
}

// Age reports how long this connection has been open, the input to
// the networker's conn_active_timeout rotation policy.
func (c *Conn) Age() time.Duration { return time.Since(c.opened) }

// RequestsSent reports how many times Send has been called on this
// connection, pong frames included. The networker's
// conn_request_limit rotation does not read it; it counts distinct
// request ids per connection instead.
func (c *Conn) RequestsSent() int { return c.reqSent }

// Close releases the socket.
func (c *Conn) Close() error {
	return c.socket.Close()
}

// z85Encode renders a raw 32-byte CURVE key in ZMQ's Z85 text
// encoding, the form SetCurveServerkey expects. Z85 encoding of a
// 32-byte (multiple-of-4) input cannot fail.
func z85Encode(key [32]byte) string {
	s, _ := zmq.Z85encode(string(key[:]))
	return s
}
