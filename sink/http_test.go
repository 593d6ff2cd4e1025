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

package sink_test

import (
	"compress/gzip"
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zapcore"

	"github.com/cephmon/cephmon/logger"
	"github.com/cephmon/cephmon/sink"
)

type capturedRequest struct {
	path   string
	header http.Header
	body   string
}

func captureServer(t *testing.T, status int) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var captured []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gz, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		body, err := io.ReadAll(gz)
		require.NoError(t, err)
		captured = append(captured, capturedRequest{
			path:   r.URL.Path,
			header: r.Header.Clone(),
			body:   string(body),
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func newSink(t *testing.T, url string, opts ...sink.HTTPOption) *sink.HTTP {
	t.Helper()
	l, err := logger.New(logger.WithLevel(zapcore.DebugLevel))
	require.NoError(t, err)
	s, err := sink.NewHTTP(append([]sink.HTTPOption{
		sink.WithURL(url),
		sink.WithLogger(l),
	}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDispatch(t *testing.T) {
	srv, captured := captureServer(t, http.StatusAccepted)
	s := newSink(t, srv.URL, sink.WithAPIKey("key-123"))

	at := time.Unix(1700000000, 123456000)
	vl := sink.ValueList{
		Host:           "ceph-node-1",
		Plugin:         "ceph",
		PluginInstance: "osd.0-ceph.6a89a236-55a1-4b83-9f5c-b292b93d0b04",
		Type:           "osd",
		Time:           at,
		Values: []sink.Value{
			{Kind: sink.Gauge, Gauge: 2.5},
			{Kind: sink.Derive, Derive: 1024},
			{Kind: sink.Gauge, Gauge: math.NaN()},
		},
	}
	require.NoError(t, s.Dispatch(context.Background(), vl))

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, "/v1/values", req.path)
	assert.Equal(t, "gzip", req.header.Get("Content-Encoding"))
	assert.Equal(t, "application/json", req.header.Get("Content-Type"))
	assert.Equal(t, "ApiKey key-123", req.header.Get("Authorization"))
	assert.True(t, strings.HasPrefix(req.header.Get("User-Agent"), "cephmon/"))

	body := req.body
	assert.Equal(t, "ceph-node-1", gjson.Get(body, "host").String())
	assert.Equal(t, "ceph", gjson.Get(body, "plugin").String())
	assert.Equal(t, "osd.0-ceph.6a89a236-55a1-4b83-9f5c-b292b93d0b04", gjson.Get(body, "plugin_instance").String())
	assert.Equal(t, "osd", gjson.Get(body, "type").String())
	assert.Equal(t, at.UnixNano()/int64(time.Microsecond), gjson.Get(body, "time").Int())
	assert.Equal(t, 2.5, gjson.Get(body, "values.0").Float())
	assert.Equal(t, int64(1024), gjson.Get(body, "values.1").Int())
	// NaN gauges travel as null.
	assert.Equal(t, gjson.Null, gjson.Get(body, "values.2").Type)
}

func TestRegisterDataSet(t *testing.T) {
	srv, captured := captureServer(t, http.StatusOK)
	s := newSink(t, srv.URL, sink.WithSecretToken("token-456"))

	ds := sink.DataSet{
		Type: "osd",
		Sources: []sink.DataSource{
			{Name: "OpWip", Kind: sink.Gauge, Min: math.NaN(), Max: math.NaN()},
			{Name: "OpInBytes", Kind: sink.Derive, Min: 0, Max: math.NaN()},
		},
	}
	require.NoError(t, s.RegisterDataSet(ds))

	require.Len(t, *captured, 1)
	req := (*captured)[0]
	assert.Equal(t, "/v1/datasets", req.path)
	assert.Equal(t, "Bearer token-456", req.header.Get("Authorization"))

	body := req.body
	assert.Equal(t, "osd", gjson.Get(body, "type").String())
	assert.Equal(t, "OpWip", gjson.Get(body, "sources.0.name").String())
	assert.Equal(t, "gauge", gjson.Get(body, "sources.0.kind").String())
	// Unbounded sources omit min/max.
	assert.False(t, gjson.Get(body, "sources.0.min").Exists())
	assert.Equal(t, "derive", gjson.Get(body, "sources.1.kind").String())
	assert.Equal(t, 0.0, gjson.Get(body, "sources.1.min").Float())
	assert.False(t, gjson.Get(body, "sources.1.max").Exists())
}

func TestDispatchUnhealthyTransport(t *testing.T) {
	srv, captured := captureServer(t, http.StatusInternalServerError)
	s := newSink(t, srv.URL)

	vl := sink.ValueList{Host: "h", Plugin: "ceph", Type: "osd", Time: time.Now()}
	require.Error(t, s.Dispatch(context.Background(), vl))
	require.Len(t, *captured, 1)

	// Within the grace period the sink refuses without posting.
	require.Error(t, s.Dispatch(context.Background(), vl))
	assert.Len(t, *captured, 1)
}

func TestNewHTTPValidation(t *testing.T) {
	l, err := logger.New(logger.WithLevel(zapcore.DebugLevel))
	require.NoError(t, err)

	t.Run("missing url", func(t *testing.T) {
		_, err := sink.NewHTTP(sink.WithLogger(l))
		assert.Error(t, err)
	})

	t.Run("missing logger", func(t *testing.T) {
		_, err := sink.NewHTTP(sink.WithURL("http://localhost:9000"))
		assert.Error(t, err)
	})
}
