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
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cephmon/cephmon/keypath"
	"github.com/cephmon/cephmon/rates"
	"github.com/cephmon/cephmon/schema"
	"github.com/cephmon/cephmon/sink"
)

// pluginInstanceMax bounds the dispatched plugin instance string.
const pluginInstanceMax = 63

// processor interprets JSON replies. One processor is shared by all
// connections of a Poller; per-reply parsing state lives on the stack.
type processor struct {
	history        *rates.History
	sink           sink.Sink
	host           string
	longRunAvg     bool
	convertSpecial bool
	logger         *zap.SugaredLogger
}

// defineSchema registers every counter the daemon advertises. Counters
// whose mangled name would not fit are logged and skipped; the rest of
// the schema is still usable.
func (p *processor) defineSchema(d *schema.Daemon, data []byte) error {
	r := keypath.NewReducer(func(val, path string) keypath.Result {
		bits, err := strconv.Atoi(val)
		if err != nil {
			p.logger.Debugf("Ignoring non-integer type bits %q at %s", val, path)
			return keypath.Handled
		}
		if err := d.AddCounter(path, bits); err != nil {
			if errors.Is(err, schema.ErrNameTooLong) {
				p.logger.Warnf("Skipping counter %s on daemon %s: %v", path, d.Name, err)
				return keypath.Handled
			}
			return keypath.Abort
		}
		return keypath.Handled
	}, p.convertSpecial)
	if err := r.Traverse(data); err != nil {
		return fmt.Errorf("failed to parse schema for %s: %w", d.Name, err)
	}
	p.logger.Debugf("Daemon %s advertises %d datasets", d.Name, len(d.Datasets))
	return nil
}

// parseFSID records the cluster fsid. The reducer only surfaces the
// top-level fsid string, so any handled key is the one we want.
func (p *processor) parseFSID(d *schema.Daemon, data []byte) error {
	r := keypath.NewReducer(func(val, path string) keypath.Result {
		d.Fsid = val
		return keypath.Handled
	}, p.convertSpecial)
	if err := r.Traverse(data); err != nil {
		return fmt.Errorf("failed to parse fsid reply for %s: %w", d.Name, err)
	}
	if d.Fsid == "" {
		p.logger.Warnf("Daemon %s returned no usable fsid", d.Name)
	}
	return nil
}

// latencyState buffers the avgcount half of a latency pair until the
// matching sum leaf arrives. Replies interleave pairs strictly, so a
// single slot suffices per reply.
type latencyState struct {
	avgcount uint64
	pending  bool
}

// fetchData parses a data reply into per-dataset value rows and
// dispatches one value list per dataset, in schema registration order.
func (p *processor) fetchData(ctx context.Context, d *schema.Daemon, data []byte, now time.Time) error {
	vals := make([][]sink.Value, len(d.Datasets))
	for i, ds := range d.Datasets {
		row := make([]sink.Value, len(ds.Counters))
		for j, ctr := range ds.Counters {
			if ctr.Kind == schema.Derive {
				row[j] = sink.Value{Kind: sink.Derive}
			} else {
				row[j] = sink.Value{Kind: sink.Gauge, Gauge: math.NaN()}
			}
		}
		vals[i] = row
	}

	var lat latencyState
	r := keypath.NewReducer(func(val, path string) keypath.Result {
		return p.fetchLeaf(d, vals, &lat, val, path)
	}, p.convertSpecial)
	if err := r.Traverse(data); err != nil {
		return fmt.Errorf("failed to parse data reply for %s: %w", d.Name, err)
	}

	instance := pluginInstance(d)
	for i, ds := range d.Datasets {
		vl := sink.ValueList{
			Host:           p.host,
			Plugin:         "ceph",
			PluginInstance: instance,
			Type:           ds.Name,
			Time:           now,
			Values:         vals[i],
		}
		if err := p.sink.Dispatch(ctx, vl); err != nil {
			return fmt.Errorf("failed to dispatch %s/%s: %w", instance, ds.Name, err)
		}
	}
	return nil
}

func (p *processor) fetchLeaf(d *schema.Daemon, vals [][]sink.Value, lat *latencyState, val, path string) keypath.Result {
	dsName, raw := schema.SplitKey(path)
	di := -1
	for i, ds := range d.Datasets {
		if ds.Name == dsName {
			di = i
			break
		}
	}
	if di < 0 {
		p.logger.Debugf("Daemon %s reported value for unknown dataset %s", d.Name, dsName)
		return keypath.Handled
	}
	ds := d.Datasets[di]
	ci := ds.FindCounter(schema.CompactName(raw))
	if ci < 0 {
		// The counter may have been registered under its full leaf
		// name; ask the reducer to replay with the path unshortened.
		return keypath.RetryFullPath
	}
	ctr := ds.Counters[ci]
	slot := &vals[di][ci]

	if ctr.IsLatency() {
		if !lat.pending {
			n, err := parseUintPrefix(val)
			if err != nil {
				p.logger.Debugf("Bad avgcount %q at %s: %v", val, path, err)
				return keypath.Handled
			}
			lat.avgcount, lat.pending = n, true
			return keypath.Handled
		}
		sum, err := strconv.ParseFloat(val, 64)
		lat.pending = false
		if err != nil {
			p.logger.Debugf("Bad latency sum %q at %s: %v", val, path, err)
			return keypath.Handled
		}
		count := lat.avgcount
		if count == 0 {
			count = 1
		}
		if p.longRunAvg {
			slot.Gauge = rates.LongRunAvg(sum, count)
		} else {
			slot.Gauge = p.history.IntervalAvg(rates.Key{Dataset: dsName, Counter: ctr.Name}, sum, count)
		}
		return keypath.Handled
	}

	if ctr.Kind == schema.Derive {
		n, err := parseUintPrefix(val)
		if err != nil {
			p.logger.Debugf("Bad derive value %q at %s: %v", val, path, err)
			return keypath.Handled
		}
		slot.Derive = int64(n)
	} else {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			p.logger.Debugf("Bad gauge value %q at %s: %v", val, path, err)
			return keypath.Handled
		}
		slot.Gauge = f
	}
	return keypath.Handled
}

// parseUintPrefix reads the integer prefix of val. Daemons print some
// integer counters float-formatted ("2048.000000", latency sums in
// particular); parsing stops at the decimal point.
func parseUintPrefix(val string) (uint64, error) {
	if dot := strings.IndexByte(val, '.'); dot >= 0 {
		val = val[:dot]
	}
	return strconv.ParseUint(val, 10, 64)
}

// pluginInstance composes "<name>-<cluster>.<fsid>", dropping trailing
// components that would push past the budget rather than truncating
// them mid-way.
func pluginInstance(d *schema.Daemon) string {
	instance := d.Name
	if len(instance) > pluginInstanceMax {
		return instance[:pluginInstanceMax]
	}
	if d.Cluster != "" && pluginInstanceMax-len(instance) >= len(d.Cluster)+1 {
		instance += "-" + d.Cluster
		if d.Fsid != "" && pluginInstanceMax-len(instance) >= len(d.Fsid)+1 {
			instance += "." + d.Fsid
		}
	}
	return instance
}
