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

// Package schema models one monitored daemon's metric schema: named
// datasets of typed counters, populated once during schema discovery
// and only read during data fetch.
package schema

import (
	"errors"
	"math"
)

// Perfcounter type bits reported by the daemon schema.
const (
	TypeLatency = 0x4 // cumulative sum/count pair
	TypeDerive  = 0x8 // monotonically increasing counter
)

// ErrNameTooLong marks a counter whose raw key path exceeds
// MaxLongName. The counter is skipped; others proceed.
var ErrNameTooLong = errors.New("counter name too long")

// Kind is a counter's value representation.
type Kind int

const (
	// Gauge is a point-in-time reading (latency averages included).
	Gauge Kind = iota
	// Derive is a monotonic counter reading; downstream computes rates.
	Derive
)

// Counter is one named, typed data source within a Dataset.
type Counter struct {
	// Name is the mangled fixed-width display name.
	Name string
	// TypeBits are the perfcounter bits as reported (or coerced).
	TypeBits int
	// Kind selects the dispatched value representation.
	Kind Kind
	// Min and Max bound the dispatched series. Derive counters floor at
	// zero so a daemon restart resetting the counter cannot go negative.
	Min, Max float64
}

// IsLatency reports whether the counter is fed by an avgcount/sum pair.
func (c Counter) IsLatency() bool { return c.TypeBits&TypeLatency != 0 }

// Dataset is a named group of counters reported together as one value
// batch. Counter names are unique within a dataset.
type Dataset struct {
	Name     string
	Counters []Counter
}

// FindCounter returns the index of the named counter, or -1.
func (ds *Dataset) FindCounter(name string) int {
	for i := range ds.Counters {
		if ds.Counters[i].Name == name {
			return i
		}
	}
	return -1
}

// Daemon is one monitored target. Cluster comes from the socket path at
// configuration time; Fsid and Version are fetched during discovery.
type Daemon struct {
	Name       string
	SocketPath string
	Cluster    string
	Fsid       string
	Version    uint32

	// Datasets keeps registration order; dispatch order depends on it.
	Datasets []*Dataset

	convertSpecial bool
}

// NewDaemon returns a Daemon with an empty schema. convertSpecial
// enables the filestore.journal_wr_bytes type coercion.
func NewDaemon(name, socketPath, cluster string, convertSpecial bool) *Daemon {
	return &Daemon{
		Name:           name,
		SocketPath:     socketPath,
		Cluster:        cluster,
		convertSpecial: convertSpecial,
	}
}

// FindDataset returns the named dataset, or nil.
func (d *Daemon) FindDataset(name string) *Dataset {
	for _, ds := range d.Datasets {
		if ds.Name == name {
			return ds
		}
	}
	return nil
}

// AddCounter registers the counter at the given key path with the type
// bits the daemon reported. Called once per counter during schema
// discovery; data fetch never grows the schema.
func (d *Daemon) AddCounter(keyPath string, typeBits int) error {
	if len(keyPath)+1 > MaxLongName+1 {
		return ErrNameTooLong
	}

	dsetName, raw := SplitKey(keyPath)
	name := CompactName(raw)

	// Ceph reports journal_wr_bytes as a sum/count pair although it
	// behaves like every other bytes counter; force it to derive.
	if d.convertSpecial && dsetName == "filestore" && name == "JournalWrBytes" {
		typeBits = TypeDerive | 0x2
	}

	ds := d.FindDataset(dsetName)
	if ds == nil {
		ds = &Dataset{Name: dsetName}
		d.Datasets = append(d.Datasets, ds)
	}

	kind := Gauge
	min := math.NaN()
	if typeBits&TypeDerive != 0 {
		kind = Derive
		min = 0
	}
	ds.Counters = append(ds.Counters, Counter{
		Name:     name,
		TypeBits: typeBits,
		Kind:     kind,
		Min:      min,
		Max:      math.NaN(),
	})
	return nil
}
