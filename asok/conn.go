// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package asok talks the admin socket protocol: a JSON request line,
// then either a 4-byte big-endian protocol version or a length-prefixed
// JSON reply. Connections advance through an explicit state machine and
// a whole cycle shares one wall-clock deadline.
package asok

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/cephmon/cephmon/schema"
)

// Request identifies one admin socket command. The numeric values go
// on the wire.
type Request uint32

const (
	// ReqVersion asks for the admin socket protocol version. Sent once
	// per daemon at initialization; the reply is the bare 4-byte
	// version, after which the connection walks FSID and Schema.
	ReqVersion Request = 0
	// ReqData fetches current counter values, every read cycle.
	ReqData Request = 1
	// ReqSchema enumerates counters and their type bits, once.
	ReqSchema Request = 2
	// ReqFSID fetches the cluster fsid via a config-get command.
	ReqFSID Request = 3

	// reqNone means the request has already been serviced.
	reqNone Request = 1000
)

func (r Request) wire() []byte {
	if r == ReqFSID {
		return []byte("{ \"prefix\": \"config get\",\"var\": \"fsid\" }\n")
	}
	return []byte(fmt.Sprintf("{ \"prefix\": \"%d\" }\n", uint32(r)))
}

type connState int

const (
	stateUnconnected connState = iota
	stateWriteRequest
	stateReadVersion
	stateReadLength
	stateReadJSON
)

// supportedVersion is the only admin socket protocol we speak.
const supportedVersion = 1

// maxReplyLen caps the server-declared JSON length; a daemon declaring
// more is broken or lying.
const maxReplyLen = 1 << 24

// ErrUnsupportedVersion is fatal for that daemon's initialization.
var ErrUnsupportedVersion = errors.New("unsupported admin socket protocol version")

// conn drives one daemon through one cycle. It is transient: created at
// cycle start, torn down when the daemon's request completes or fails.
type conn struct {
	daemon   *schema.Daemon
	request  Request
	state    connState
	sock     net.Conn
	jsonLen  uint32
	buf      []byte
	deadline time.Time
	proc     *processor
	logger   *zap.SugaredLogger
}

// run advances the state machine until the request sequence completes,
// the shared deadline cuts an I/O call short, or an error tears the
// connection down. The socket is closed on every exit path.
func (c *conn) run(ctx context.Context) error {
	defer c.close()
	for c.request != reqNone {
		if c.request == ReqData && len(c.daemon.Datasets) == 0 {
			// No counters registered; don't bother connecting.
			return nil
		}
		if err := c.step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) step(ctx context.Context) error {
	switch c.state {
	case stateUnconnected:
		return c.connect(ctx)
	case stateWriteRequest:
		return c.writeRequest()
	case stateReadVersion:
		return c.readVersion()
	case stateReadLength:
		return c.readLength()
	case stateReadJSON:
		return c.readJSON(ctx)
	default:
		return fmt.Errorf("connection to %s reached illegal state %d", c.daemon.Name, c.state)
	}
}

func (c *conn) connect(ctx context.Context) error {
	var d net.Dialer
	sock, err := d.DialContext(ctx, "unix", c.daemon.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.daemon.SocketPath, err)
	}
	if err := sock.SetDeadline(c.deadline); err != nil {
		sock.Close()
		return err
	}
	c.sock = sock
	c.state = stateWriteRequest
	return nil
}

func (c *conn) writeRequest() error {
	cmd := c.request.wire()
	if _, err := c.sock.Write(cmd); err != nil {
		return fmt.Errorf("failed to write request %d to %s: %w", c.request, c.daemon.Name, err)
	}
	if c.request == ReqVersion {
		c.state = stateReadVersion
	} else {
		c.state = stateReadLength
	}
	return nil
}

func (c *conn) readVersion() error {
	var raw [4]byte
	if _, err := io.ReadFull(c.sock, raw[:]); err != nil {
		return fmt.Errorf("failed to read version from %s: %w", c.daemon.Name, err)
	}
	version := binary.BigEndian.Uint32(raw[:])
	if version != supportedVersion {
		return fmt.Errorf("%w: daemon %s reports version %d", ErrUnsupportedVersion, c.daemon.Name, version)
	}
	c.daemon.Version = version
	c.logger.Debugf("Daemon %s identified as admin socket version %d", c.daemon.Name, version)

	// The version reply is not framed; reconnect for the next request.
	c.closeSocket()
	c.request = ReqFSID
	c.state = stateUnconnected
	return nil
}

func (c *conn) readLength() error {
	var raw [4]byte
	if _, err := io.ReadFull(c.sock, raw[:]); err != nil {
		return fmt.Errorf("failed to read reply length from %s: %w", c.daemon.Name, err)
	}
	c.jsonLen = binary.BigEndian.Uint32(raw[:])
	if c.jsonLen > maxReplyLen {
		return fmt.Errorf("daemon %s declared an absurd reply length %d", c.daemon.Name, c.jsonLen)
	}
	c.buf = make([]byte, c.jsonLen)
	c.state = stateReadJSON
	return nil
}

func (c *conn) readJSON(ctx context.Context) error {
	if _, err := io.ReadFull(c.sock, c.buf); err != nil {
		return fmt.Errorf("failed to read reply from %s: %w", c.daemon.Name, err)
	}
	if err := c.processReply(ctx); err != nil {
		return err
	}

	c.closeSocket()
	if c.request == ReqFSID {
		c.request = ReqSchema
		c.state = stateUnconnected
	} else {
		c.request = reqNone
	}
	return nil
}

func (c *conn) processReply(ctx context.Context) error {
	switch c.request {
	case ReqSchema:
		return c.proc.defineSchema(c.daemon, c.buf)
	case ReqFSID:
		return c.proc.parseFSID(c.daemon, c.buf)
	case ReqData:
		return c.proc.fetchData(ctx, c.daemon, c.buf, time.Now())
	default:
		return fmt.Errorf("no reply expected for request %d", c.request)
	}
}

func (c *conn) closeSocket() {
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
}

func (c *conn) close() {
	c.closeSocket()
	c.buf = nil
	c.jsonLen = 0
	c.state = stateUnconnected
}
