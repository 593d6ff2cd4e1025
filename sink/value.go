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
	"math"
	"time"

	"go.elastic.co/fastjson"
)

// Kind is the dispatched value representation.
type Kind int

const (
	// Gauge is a point-in-time float reading.
	Gauge Kind = iota
	// Derive is a monotonic integer reading; the sink side computes the
	// rate.
	Derive
)

func (k Kind) String() string {
	if k == Derive {
		return "derive"
	}
	return "gauge"
}

// Value is one typed reading within a batch. Only the field matching
// Kind is meaningful.
type Value struct {
	Kind   Kind
	Gauge  float64
	Derive int64
}

// MarshalFastJSON writes the value in its typed form. An unknown gauge
// (NaN) is written as null; JSON has no NaN.
func (v Value) MarshalFastJSON(w *fastjson.Writer) error {
	if v.Kind == Derive {
		w.Int64(v.Derive)
		return nil
	}
	if math.IsNaN(v.Gauge) || math.IsInf(v.Gauge, 0) {
		w.RawString("null")
		return nil
	}
	w.Float64(v.Gauge)
	return nil
}

// ValueList is one named, timestamped batch of values: all counters of
// one dataset of one daemon for one poll. Values match the dataset's
// registered counter order.
type ValueList struct {
	Host           string
	Plugin         string
	PluginInstance string
	Type           string
	Time           time.Time
	Values         []Value
}

// MarshalFastJSON writes the batch for the dispatch endpoint.
func (vl *ValueList) MarshalFastJSON(w *fastjson.Writer) error {
	var firstErr error
	w.RawByte('{')
	w.RawString(`"host":`)
	w.String(vl.Host)
	w.RawString(`,"plugin":`)
	w.String(vl.Plugin)
	if vl.PluginInstance != "" {
		w.RawString(`,"plugin_instance":`)
		w.String(vl.PluginInstance)
	}
	w.RawString(`,"type":`)
	w.String(vl.Type)
	w.RawString(`,"time":`)
	w.Int64(vl.Time.UnixNano() / int64(time.Microsecond))
	w.RawString(`,"values":[`)
	for i, v := range vl.Values {
		if i > 0 {
			w.RawByte(',')
		}
		if err := v.MarshalFastJSON(w); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.RawString(`]}`)
	return firstErr
}

// DataSource describes one counter of a registered dataset shape.
type DataSource struct {
	Name     string
	Kind     Kind
	Min, Max float64
}

// DataSet is the shape registered with the sink before any values for
// it are dispatched.
type DataSet struct {
	Type    string
	Sources []DataSource
}

// MarshalFastJSON writes the dataset registration payload.
func (ds *DataSet) MarshalFastJSON(w *fastjson.Writer) error {
	w.RawByte('{')
	w.RawString(`"type":`)
	w.String(ds.Type)
	w.RawString(`,"sources":[`)
	for i, s := range ds.Sources {
		if i > 0 {
			w.RawByte(',')
		}
		w.RawByte('{')
		w.RawString(`"name":`)
		w.String(s.Name)
		w.RawString(`,"kind":`)
		w.String(s.Kind.String())
		if !math.IsNaN(s.Min) {
			w.RawString(`,"min":`)
			w.Float64(s.Min)
		}
		if !math.IsNaN(s.Max) {
			w.RawString(`,"max":`)
			w.Float64(s.Max)
		}
		w.RawByte('}')
	}
	w.RawString(`]}`)
	return nil
}
