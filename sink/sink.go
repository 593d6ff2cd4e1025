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

// Package sink is the dispatch boundary: the poller hands it named,
// typed, timestamped value batches and the sink owns storage and
// forwarding.
package sink

import "context"

// Sink receives dataset shapes at discovery time and value batches
// every poll. Dispatch may fail; the caller aborts the remainder of
// that daemon's cycle but continues with other daemons.
type Sink interface {
	RegisterDataSet(ds DataSet) error
	Dispatch(ctx context.Context, vl ValueList) error
	Close() error
}
