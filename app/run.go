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
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cephmon/cephmon/asok"
	"github.com/cephmon/cephmon/schema"
	"github.com/cephmon/cephmon/sink"
)

// Run discovers the configured daemons, registers their datasets with
// the sink, and polls until the context is canceled. Per-cycle failures
// are logged, not fatal; a daemon that was down at startup simply
// contributes no data.
func (app *App) Run(ctx context.Context) error {
	defer func() {
		app.poller.Reset()
		if err := app.sink.Close(); err != nil {
			app.logger.Warnf("Error while closing the sink: %v", err)
		}
	}()

	if err := app.poller.Discover(ctx); err != nil {
		if !errors.Is(err, asok.ErrCycleTimeout) {
			return fmt.Errorf("daemon discovery failed: %w", err)
		}
		app.logger.Warnf("Discovery incomplete: %v", err)
	}

	usable := 0
	for _, d := range app.poller.Daemons() {
		if len(d.Datasets) == 0 {
			app.logger.Warnf("Daemon %s advertised no datasets and will be skipped", d.Name)
			continue
		}
		usable++
		for _, ds := range d.Datasets {
			if err := app.sink.RegisterDataSet(dataSetFor(ds)); err != nil {
				app.logger.Warnf("Failed to register dataset %s: %v", ds.Name, err)
			}
		}
	}
	if usable == 0 {
		return errors.New("no daemon completed discovery")
	}
	app.logger.Infof("Discovery complete, polling %d daemons every %s", usable, app.interval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(app.interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				app.logger.Info("Received a signal, exiting...")
				return nil
			case <-ticker.C:
				if err := app.poller.Poll(gctx); err != nil {
					if errors.Is(err, asok.ErrCycleTimeout) {
						app.logger.Warnf("Poll cycle incomplete: %v", err)
						continue
					}
					app.logger.Errorf("Poll cycle failed: %v", err)
				}
			}
		}
	})

	return g.Wait()
}

func dataSetFor(ds *schema.Dataset) sink.DataSet {
	sources := make([]sink.DataSource, len(ds.Counters))
	for i, ctr := range ds.Counters {
		kind := sink.Gauge
		if ctr.Kind == schema.Derive {
			kind = sink.Derive
		}
		sources[i] = sink.DataSource{
			Name: ctr.Name,
			Kind: kind,
			Min:  ctr.Min,
			Max:  ctr.Max,
		}
	}
	return sink.DataSet{Type: ds.Name, Sources: sources}
}
