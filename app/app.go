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

package app

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.elastic.co/ecszap"
	"go.uber.org/zap"

	"github.com/cephmon/cephmon/asok"
	"github.com/cephmon/cephmon/config"
	"github.com/cephmon/cephmon/logger"
	"github.com/cephmon/cephmon/schema"
	"github.com/cephmon/cephmon/sink"
)

const defaultInterval = 10 * time.Second

// App is the main application.
type App struct {
	logger   *zap.SugaredLogger
	sink     sink.Sink
	poller   *asok.Poller
	interval time.Duration
}

// New returns an App or an error if the creation failed.
func New(ctx context.Context, opts ...ConfigOption) (*App, error) {
	c := appConfig{interval: defaultInterval}

	for _, opt := range opts {
		opt(&c)
	}

	app := &App{interval: c.interval}

	var err error

	if app.logger, err = buildLogger(c.logLevel); err != nil {
		return nil, err
	}

	cfg, err := config.Load(c.configPath, app.logger)
	if err != nil {
		return nil, err
	}

	daemons := make([]*schema.Daemon, 0, len(cfg.Daemons))
	for _, d := range cfg.Daemons {
		daemons = append(daemons, schema.NewDaemon(d.Name, d.SocketPath, d.Cluster, cfg.ConvertSpecialMetricTypes))
	}

	apiKey, secretToken := loadSinkCredentials(ctx, c.awsConfig, app.logger)

	sinkOpts := []sink.HTTPOption{
		sink.WithURL(c.sinkURL),
		sink.WithLogger(app.logger),
		sink.WithAPIKey(apiKey),
		sink.WithSecretToken(secretToken),
	}

	if forwarderTimeout, ok, err := parseDurationTimeout(app.logger, "CEPHMON_SINK_TIMEOUT", "CEPHMON_SINK_TIMEOUT_SECONDS"); err != nil || ok {
		if err != nil {
			return nil, err
		}
		sinkOpts = append(sinkOpts, sink.WithForwarderTimeout(forwarderTimeout))
	}

	if app.sink, err = sink.NewHTTP(sinkOpts...); err != nil {
		return nil, err
	}

	host := c.hostname
	if host == "" {
		if host, err = os.Hostname(); err != nil {
			return nil, fmt.Errorf("failed to determine hostname: %w", err)
		}
	}

	pollerOpts := []asok.PollerOption{
		asok.WithDaemons(daemons),
		asok.WithSink(app.sink),
		asok.WithHostname(host),
		asok.WithLongRunAvg(cfg.LongRunAvgLatency),
		asok.WithSpecialMetricCoercion(cfg.ConvertSpecialMetricTypes),
		asok.WithPollerLogger(app.logger),
	}
	if c.cycleTimeout > 0 {
		pollerOpts = append(pollerOpts, asok.WithCycleTimeout(c.cycleTimeout))
	}

	if app.poller, err = asok.New(pollerOpts...); err != nil {
		return nil, err
	}

	return app, nil
}

func parseDurationTimeout(l *zap.SugaredLogger, flag string, deprecatedFlag string) (time.Duration, bool, error) {
	if strValue, ok := os.LookupEnv(flag); ok {
		d, err := time.ParseDuration(strValue)
		if err != nil {
			return 0, false, fmt.Errorf("failed to parse %s: %w", flag, err)
		}

		return d, true, nil
	}

	if strValueSeconds, ok := os.LookupEnv(deprecatedFlag); ok {
		l.Warnf("%s is deprecated, please consider moving to %s", deprecatedFlag, flag)

		seconds, err := strconv.Atoi(strValueSeconds)
		if err != nil {
			return 0, false, fmt.Errorf("failed to parse %s: %w", deprecatedFlag, err)
		}

		return time.Duration(seconds) * time.Second, true, nil
	}

	return 0, false, nil
}

func buildLogger(level string) (*zap.SugaredLogger, error) {
	if level == "" {
		level = "info"
	}

	l, err := logger.ParseLogLevel(level)
	if err != nil {
		return nil, err
	}

	return logger.New(
		logger.WithEncoderConfig(ecszap.NewDefaultEncoderConfig().ToZapCoreEncoderConfig()),
		logger.WithLevel(l),
	)
}
