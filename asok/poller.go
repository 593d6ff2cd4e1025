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

package asok

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cephmon/cephmon/rates"
	"github.com/cephmon/cephmon/schema"
	"github.com/cephmon/cephmon/sink"
)

// defaultCycleTimeout bounds one whole cycle across all daemons.
const defaultCycleTimeout = time.Second

// ErrCycleTimeout reports that the shared deadline expired before every
// daemon finished. Daemons that completed in time were still processed.
var ErrCycleTimeout = errors.New("poll cycle deadline expired")

// Poller runs discovery and data cycles against a fixed set of daemons.
// Each cycle opens one connection per daemon, all racing one shared
// deadline; a slow or dead daemon never stalls the others.
type Poller struct {
	daemons []*schema.Daemon
	proc    *processor
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// PollerOption configures a Poller created by New.
type PollerOption func(*Poller)

// WithDaemons sets the daemons to poll.
func WithDaemons(daemons []*schema.Daemon) PollerOption {
	return func(p *Poller) { p.daemons = daemons }
}

// WithSink sets the destination for dispatched value lists.
func WithSink(s sink.Sink) PollerOption {
	return func(p *Poller) { p.proc.sink = s }
}

// WithHostname sets the host field stamped on every value list.
func WithHostname(host string) PollerOption {
	return func(p *Poller) { p.proc.host = host }
}

// WithCycleTimeout overrides the shared per-cycle deadline.
func WithCycleTimeout(d time.Duration) PollerOption {
	return func(p *Poller) { p.timeout = d }
}

// WithLongRunAvg reports latencies as lifetime averages instead of
// per-interval averages.
func WithLongRunAvg(enabled bool) PollerOption {
	return func(p *Poller) { p.proc.longRunAvg = enabled }
}

// WithSpecialMetricCoercion enables the compatibility coercion of
// filestore.journal_wr_bytes to a derive counter.
func WithSpecialMetricCoercion(enabled bool) PollerOption {
	return func(p *Poller) { p.proc.convertSpecial = enabled }
}

// WithPollerLogger sets the logger for the poller and its connections.
func WithPollerLogger(logger *zap.SugaredLogger) PollerOption {
	return func(p *Poller) {
		p.logger = logger
		p.proc.logger = logger
	}
}

// New builds a Poller. Daemons, a sink, and a logger are required.
func New(opts ...PollerOption) (*Poller, error) {
	p := &Poller{
		proc:    &processor{history: rates.NewHistory()},
		timeout: defaultCycleTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(p.daemons) == 0 {
		return nil, errors.New("at least one daemon is required")
	}
	if p.proc.sink == nil {
		return nil, errors.New("a sink is required")
	}
	if p.logger == nil {
		return nil, errors.New("a logger is required")
	}
	return p, nil
}

// Daemons returns the polled daemons. After Discover their schemas and
// fsids are populated.
func (p *Poller) Daemons() []*schema.Daemon {
	return p.daemons
}

// Discover runs the initialization cycle: each daemon answers version,
// fsid, and schema in turn. Daemons that fail discovery keep an empty
// schema and are skipped by later data cycles.
func (p *Poller) Discover(ctx context.Context) error {
	return p.runCycle(ctx, ReqVersion)
}

// Poll runs one data cycle and dispatches the resulting value lists.
func (p *Poller) Poll(ctx context.Context) error {
	return p.runCycle(ctx, ReqData)
}

// Reset drops the rate history, so the next data cycle re-baselines
// every latency counter.
func (p *Poller) Reset() {
	p.proc.history.Reset()
}

func (p *Poller) runCycle(ctx context.Context, req Request) error {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	deadline, _ := cctx.Deadline()

	errs := make([]error, len(p.daemons))
	var wg sync.WaitGroup
	for i, d := range p.daemons {
		c := &conn{
			daemon:   d,
			request:  req,
			deadline: deadline,
			proc:     p.proc,
			logger:   p.logger,
		}
		wg.Add(1)
		go func(i int, c *conn) {
			defer wg.Done()
			errs[i] = c.run(cctx)
		}(i, c)
	}
	wg.Wait()

	var timedOut bool
	for i, err := range errs {
		if err == nil {
			continue
		}
		// Connection errors must wrap their cause with %w: only deadline
		// errors escalate to a cycle-level timeout, everything else stays
		// a per-daemon warning.
		if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			timedOut = true
		}
		p.logger.Warnf("Daemon %s did not complete this cycle: %v", p.daemons[i].Name, err)
	}
	if timedOut {
		return fmt.Errorf("%w after %s", ErrCycleTimeout, p.timeout)
	}
	return nil
}
