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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cephmon/cephmon/schema"
)

func TestPluginInstance(t *testing.T) {
	const fsid = "6a89a236-55a1-4b83-9f5c-b292b93d0b04"

	newDaemon := func(name, cluster, fsid string) *schema.Daemon {
		d := schema.NewDaemon(name, "/run/ceph/x.asok", cluster, false)
		d.Fsid = fsid
		return d
	}

	t.Run("full form", func(t *testing.T) {
		got := pluginInstance(newDaemon("osd.0", "ceph", fsid))
		assert.Equal(t, "osd.0-ceph."+fsid, got)
	})

	t.Run("no fsid discovered", func(t *testing.T) {
		got := pluginInstance(newDaemon("osd.0", "ceph", ""))
		assert.Equal(t, "osd.0-ceph", got)
	})

	t.Run("fsid dropped when over budget", func(t *testing.T) {
		// name+cluster leave less than 37 bytes of headroom.
		name := strings.Repeat("a", 20)
		got := pluginInstance(newDaemon(name, "longclustername", fsid))
		assert.Equal(t, name+"-longclustername", got)
		assert.LessOrEqual(t, len(got), pluginInstanceMax)
	})

	t.Run("cluster dropped when over budget", func(t *testing.T) {
		name := strings.Repeat("a", 60)
		got := pluginInstance(newDaemon(name, "ceph", fsid))
		assert.Equal(t, name, got)
	})

	t.Run("overlong name truncated", func(t *testing.T) {
		name := strings.Repeat("a", 80)
		got := pluginInstance(newDaemon(name, "ceph", fsid))
		assert.Equal(t, name[:pluginInstanceMax], got)
	})
}
