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

package asok_test

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cephmon/cephmon/asok"
	"github.com/cephmon/cephmon/logger"
	"github.com/cephmon/cephmon/schema"
	"github.com/cephmon/cephmon/sink"
)

const testFsid = "6a89a236-55a1-4b83-9f5c-b292b93d0b04"

func newTestLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()
	l, err := logger.New(logger.WithLevel(zapcore.DebugLevel))
	require.NoError(t, err)
	return l
}

// memSink records everything dispatched to it. Connections run
// concurrently so it locks.
type memSink struct {
	mu       sync.Mutex
	datasets []sink.DataSet
	lists    []sink.ValueList
}

func (m *memSink) RegisterDataSet(ds sink.DataSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets = append(m.datasets, ds)
	return nil
}

func (m *memSink) Dispatch(_ context.Context, vl sink.ValueList) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists = append(m.lists, vl)
	return nil
}

func (m *memSink) Close() error { return nil }

func (m *memSink) ValueLists() []sink.ValueList {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sink.ValueList, len(m.lists))
	copy(out, m.lists)
	return out
}

// fakeDaemon answers the admin socket protocol: one request per
// connection, version replies unframed, everything else framed with a
// 4-byte big-endian length.
type fakeDaemon struct {
	ln        net.Listener
	version   uint32
	fsid      string
	schemaDoc string
	stall     bool

	mu      sync.Mutex
	dataDoc string
}

func startFakeDaemon(t *testing.T, path string) *fakeDaemon {
	t.Helper()
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	f := &fakeDaemon{ln: ln, version: 1, fsid: testFsid}
	t.Cleanup(func() { ln.Close() })
	go f.serve()
	return f
}

func (f *fakeDaemon) SetData(doc string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dataDoc = doc
}

func (f *fakeDaemon) currentData() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dataDoc
}

func (f *fakeDaemon) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeDaemon) handle(conn net.Conn) {
	defer conn.Close()
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	if f.stall {
		time.Sleep(2 * time.Second)
		return
	}
	switch gjson.Get(line, "prefix").String() {
	case "0":
		var raw [4]byte
		binary.BigEndian.PutUint32(raw[:], f.version)
		conn.Write(raw[:])
	case "config get":
		f.writeFramed(conn, fmt.Sprintf("{\"fsid\":%q}", f.fsid))
	case "2":
		f.writeFramed(conn, f.schemaDoc)
	case "1":
		f.writeFramed(conn, f.currentData())
	}
}

func (f *fakeDaemon) writeFramed(conn net.Conn, doc string) {
	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], uint32(len(doc)))
	conn.Write(raw[:])
	conn.Write([]byte(doc))
}

func newPoller(t *testing.T, daemons []*schema.Daemon, ms *memSink, opts ...asok.PollerOption) *asok.Poller {
	t.Helper()
	p, err := asok.New(append([]asok.PollerOption{
		asok.WithDaemons(daemons),
		asok.WithSink(ms),
		asok.WithHostname("node-1"),
		asok.WithPollerLogger(newTestLogger(t)),
	}, opts...)...)
	require.NoError(t, err)
	return p
}

func TestDiscoverAndPoll(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "ceph-osd.0.asok")
	fd := startFakeDaemon(t, sock)
	fd.schemaDoc = `{"osd":{"op_wip":{"type":2},"op_latency":{"type":5}},"filestore":{"journal_wr_bytes":{"type":5}}}`
	fd.SetData(`{"osd":{"op_wip":3,"op_latency":{"avgcount":2,"sum":10.0}},"filestore":{"journal_wr_bytes":{"avgcount":4,"sum":2048}}}`)

	d := schema.NewDaemon("osd.0", sock, "ceph", true)
	ms := &memSink{}
	p := newPoller(t, []*schema.Daemon{d}, ms, asok.WithSpecialMetricCoercion(true))

	require.NoError(t, p.Discover(context.Background()))
	assert.Equal(t, uint32(1), d.Version)
	assert.Equal(t, testFsid, d.Fsid)
	require.Len(t, d.Datasets, 2)

	fsDS := d.FindDataset("filestore")
	require.NotNil(t, fsDS)
	require.Len(t, fsDS.Counters, 1)
	assert.Equal(t, schema.Derive, fsDS.Counters[0].Kind)

	require.NoError(t, p.Poll(context.Background()))
	lists := ms.ValueLists()
	require.Len(t, lists, 2)

	osdVL := lists[0]
	assert.Equal(t, "osd", osdVL.Type)
	assert.Equal(t, "node-1", osdVL.Host)
	assert.Equal(t, "ceph", osdVL.Plugin)
	assert.Equal(t, "osd.0-ceph."+testFsid, osdVL.PluginInstance)
	require.Len(t, osdVL.Values, 2)
	assert.Equal(t, 3.0, osdVL.Values[0].Gauge)
	// The first interval has no baseline yet.
	assert.True(t, math.IsNaN(osdVL.Values[1].Gauge))

	fsVL := lists[1]
	assert.Equal(t, "filestore", fsVL.Type)
	require.Len(t, fsVL.Values, 1)
	assert.Equal(t, sink.Derive, fsVL.Values[0].Kind)
	assert.Equal(t, int64(2048), fsVL.Values[0].Derive)

	fd.SetData(`{"osd":{"op_wip":4,"op_latency":{"avgcount":4,"sum":20.0}},"filestore":{"journal_wr_bytes":{"avgcount":6,"sum":4096}}}`)
	require.NoError(t, p.Poll(context.Background()))
	lists = ms.ValueLists()
	require.Len(t, lists, 4)
	assert.Equal(t, 4.0, lists[2].Values[0].Gauge)
	// (20.0 - 10.0) / (4 - 2)
	assert.Equal(t, 5.0, lists[2].Values[1].Gauge)
	assert.Equal(t, int64(4096), lists[3].Values[0].Derive)
}

func TestPollLongRunAvg(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "ceph-osd.1.asok")
	fd := startFakeDaemon(t, sock)
	fd.schemaDoc = `{"osd":{"op_latency":{"type":5}}}`
	fd.SetData(`{"osd":{"op_latency":{"avgcount":2,"sum":10.0}}}`)

	d := schema.NewDaemon("osd.1", sock, "ceph", false)
	ms := &memSink{}
	p := newPoller(t, []*schema.Daemon{d}, ms, asok.WithLongRunAvg(true))

	require.NoError(t, p.Discover(context.Background()))
	require.NoError(t, p.Poll(context.Background()))

	lists := ms.ValueLists()
	require.Len(t, lists, 1)
	require.Len(t, lists[0].Values, 1)
	// Lifetime averages need no baseline.
	assert.Equal(t, 5.0, lists[0].Values[0].Gauge)
}

func TestPollFloatFormattedDerive(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "ceph-osd.2.asok")
	fd := startFakeDaemon(t, sock)
	fd.schemaDoc = `{"filestore":{"journal_wr_bytes":{"type":5}}}`
	// Daemons print the sum float-formatted even for byte counters.
	fd.SetData(`{"filestore":{"journal_wr_bytes":{"avgcount":4,"sum":2048.000000}}}`)

	d := schema.NewDaemon("osd.2", sock, "ceph", true)
	ms := &memSink{}
	p := newPoller(t, []*schema.Daemon{d}, ms, asok.WithSpecialMetricCoercion(true))

	require.NoError(t, p.Discover(context.Background()))
	require.NoError(t, p.Poll(context.Background()))

	lists := ms.ValueLists()
	require.Len(t, lists, 1)
	require.Len(t, lists[0].Values, 1)
	assert.Equal(t, sink.Derive, lists[0].Values[0].Kind)
	assert.Equal(t, int64(2048), lists[0].Values[0].Derive)
}

func TestDiscoverUnsupportedVersion(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "ceph-mon.a.asok")
	fd := startFakeDaemon(t, sock)
	fd.version = 2
	fd.schemaDoc = `{"mon":{"num_sessions":{"type":2}}}`

	d := schema.NewDaemon("mon.a", sock, "ceph", false)
	ms := &memSink{}
	p := newPoller(t, []*schema.Daemon{d}, ms)

	// The daemon is dropped from the cycle, not a cycle failure.
	require.NoError(t, p.Discover(context.Background()))
	assert.Empty(t, d.Datasets)
	assert.Empty(t, d.Fsid)

	// Data cycles skip daemons without a schema entirely.
	require.NoError(t, p.Poll(context.Background()))
	assert.Empty(t, ms.ValueLists())
}

func TestCycleTimeout(t *testing.T) {
	dir := t.TempDir()

	goodSock := filepath.Join(dir, "ceph-osd.0.asok")
	good := startFakeDaemon(t, goodSock)
	good.schemaDoc = `{"osd":{"op_wip":{"type":2}}}`

	stuckSock := filepath.Join(dir, "ceph-osd.1.asok")
	stuck := startFakeDaemon(t, stuckSock)
	stuck.stall = true

	daemons := []*schema.Daemon{
		schema.NewDaemon("osd.0", goodSock, "ceph", false),
		schema.NewDaemon("osd.1", stuckSock, "ceph", false),
	}
	ms := &memSink{}
	p := newPoller(t, daemons, ms, asok.WithCycleTimeout(200*time.Millisecond))

	err := p.Discover(context.Background())
	require.ErrorIs(t, err, asok.ErrCycleTimeout)

	// The responsive daemon still completed discovery.
	assert.NotEmpty(t, daemons[0].Datasets)
	assert.Empty(t, daemons[1].Datasets)
}

func TestPollUnreachableDaemon(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "ceph-osd.9.asok")
	d := schema.NewDaemon("osd.9", sock, "ceph", false)
	ms := &memSink{}
	p := newPoller(t, []*schema.Daemon{d}, ms, asok.WithCycleTimeout(200*time.Millisecond))

	// Nothing is listening: discovery fails fast for that daemon and the
	// cycle itself still completes inside the deadline.
	require.NoError(t, p.Discover(context.Background()))
	assert.Empty(t, d.Datasets)
}

func TestNewValidation(t *testing.T) {
	d := schema.NewDaemon("osd.0", "/run/ceph/ceph-osd.0.asok", "ceph", false)
	ms := &memSink{}
	l := newTestLogger(t)

	t.Run("missing daemons", func(t *testing.T) {
		_, err := asok.New(asok.WithSink(ms), asok.WithPollerLogger(l))
		assert.Error(t, err)
	})

	t.Run("missing sink", func(t *testing.T) {
		_, err := asok.New(asok.WithDaemons([]*schema.Daemon{d}), asok.WithPollerLogger(l))
		assert.Error(t, err)
	})

	t.Run("missing logger", func(t *testing.T) {
		_, err := asok.New(asok.WithDaemons([]*schema.Daemon{d}), asok.WithSink(ms))
		assert.Error(t, err)
	})
}
