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

package sink

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.elastic.co/fastjson"
	"go.uber.org/zap"

	"github.com/cephmon/cephmon/version"
)

const (
	defaultForwarderTimeout = 3 * time.Second

	// after a failed post the transport is considered failing for this
	// long; polls within the window skip dispatch instead of piling up
	// timeouts.
	failureGracePeriod = 10 * time.Second
)

// HTTP forwards value batches to a collector endpoint as gzipped JSON.
type HTTP struct {
	mu         sync.Mutex
	lastFail   time.Time
	bufferPool sync.Pool
	client     *http.Client
	serverURL  string
	apiKey     string
	token      string
	logger     *zap.SugaredLogger
}

// NewHTTP returns an HTTP sink posting to serverURL.
func NewHTTP(opts ...HTTPOption) (*HTTP, error) {
	s := HTTP{
		bufferPool: sync.Pool{New: func() interface{} {
			return &bytes.Buffer{}
		}},
		client: &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
			Timeout:   defaultForwarderTimeout,
		},
	}

	for _, opt := range opts {
		opt(&s)
	}

	if s.serverURL == "" {
		return nil, errors.New("sink URL cannot be empty")
	}
	if s.logger == nil {
		return nil, errors.New("logger cannot be empty")
	}

	// normalize server URL
	if !strings.HasSuffix(s.serverURL, "/") {
		s.serverURL = s.serverURL + "/"
	}

	return &s, nil
}

// HTTPOption configures an HTTP sink.
type HTTPOption func(*HTTP)

// WithURL sets the collector endpoint.
func WithURL(url string) HTTPOption {
	return func(s *HTTP) {
		s.serverURL = url
	}
}

// WithAPIKey sets the ApiKey authorization header value.
func WithAPIKey(key string) HTTPOption {
	return func(s *HTTP) {
		s.apiKey = key
	}
}

// WithSecretToken sets the Bearer authorization token.
func WithSecretToken(token string) HTTPOption {
	return func(s *HTTP) {
		s.token = token
	}
}

// WithForwarderTimeout bounds each post to the collector.
func WithForwarderTimeout(timeout time.Duration) HTTPOption {
	return func(s *HTTP) {
		s.client.Timeout = timeout
	}
}

// WithLogger configures a custom zap logger to be used by the sink.
func WithLogger(logger *zap.SugaredLogger) HTTPOption {
	return func(s *HTTP) {
		s.logger = logger
	}
}

// RegisterDataSet announces a dataset shape to the collector so it can
// provision the series before values arrive.
func (s *HTTP) RegisterDataSet(ds DataSet) error {
	var w fastjson.Writer
	if err := ds.MarshalFastJSON(&w); err != nil {
		return err
	}
	return s.post(context.Background(), "v1/datasets", w.Bytes())
}

// Dispatch posts one value batch. A failing transport short-circuits
// until a post succeeds again.
func (s *HTTP) Dispatch(ctx context.Context, vl ValueList) error {
	if s.isUnhealthy() {
		return errors.New("sink transport is unhealthy")
	}
	var w fastjson.Writer
	if err := vl.MarshalFastJSON(&w); err != nil {
		return err
	}
	return s.post(ctx, "v1/values", w.Bytes())
}

// Close releases the transport.
func (s *HTTP) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *HTTP) post(ctx context.Context, endpointURI string, body []byte) error {
	buf := s.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		s.bufferPool.Put(buf)
	}()

	gw, err := gzip.NewWriterLevel(buf, gzip.BestSpeed)
	if err != nil {
		return err
	}
	if _, err := gw.Write(body); err != nil {
		return fmt.Errorf("failed to compress data: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("failed to write compressed data to buffer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+endpointURI, buf)
	if err != nil {
		return fmt.Errorf("failed to create a new request when posting to the sink: %w", err)
	}
	req.Header.Add("Content-Encoding", "gzip")
	req.Header.Add("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent)
	if s.apiKey != "" {
		req.Header.Add("Authorization", "ApiKey "+s.apiKey)
	} else if s.token != "" {
		req.Header.Add("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.markFailed()
		return fmt.Errorf("failed to post to the sink: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}
	s.markFailed()
	return fmt.Errorf("sink returned unexpected status code: %d", resp.StatusCode)
}

func (s *HTTP) isUnhealthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastFail) < failureGracePeriod
}

func (s *HTTP) markFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFail = time.Now()
}
