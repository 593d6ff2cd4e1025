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

// Package config loads the daemon list and the two polling mode flags
// from a JSON configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Daemon types that may appear in an admin socket file name.
var daemonTypes = []string{"osd", "mon", "mds"}

// ErrBadSocketPath marks a socket path that is not an absolute or
// ./-relative path to an admin socket.
var ErrBadSocketPath = errors.New("bad admin socket path")

// Daemon is one monitored daemon block from the configuration file.
type Daemon struct {
	// Name identifies the daemon in logs and in the dispatched
	// plugin instance.
	Name string
	// SocketPath is the admin socket, absolute or ./-relative.
	SocketPath string
	// Cluster is derived from the socket file name, never configured.
	Cluster string
}

// Config is the full poller configuration.
type Config struct {
	Daemons []Daemon

	// LongRunAvgLatency reports latency averages since daemon start
	// instead of per poll interval.
	LongRunAvgLatency bool

	// ConvertSpecialMetricTypes forces filestore.journal_wr_bytes to a
	// derive counter the way every other bytes counter behaves. On by
	// default.
	ConvertSpecialMetricTypes bool
}

// Load reads the configuration file at path. Malformed daemon blocks
// are logged and skipped; an unreadable or non-JSON file is an error,
// as is a configuration without a single usable daemon.
func Load(path string, logger *zap.SugaredLogger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("config file %s is not valid JSON", path)
	}

	cfg := Config{ConvertSpecialMetricTypes: true}
	cfg.LongRunAvgLatency = gjson.GetBytes(data, "long_run_avg_latency").Bool()
	if conv := gjson.GetBytes(data, "convert_special_metric_types"); conv.Exists() {
		cfg.ConvertSpecialMetricTypes = conv.Bool()
	}

	gjson.ParseBytes(data).ForEach(func(key, _ gjson.Result) bool {
		switch key.String() {
		case "daemons", "long_run_avg_latency", "convert_special_metric_types":
		default:
			logger.Warnf("Ignoring unknown option %s", key.String())
		}
		return true
	})

	gjson.GetBytes(data, "daemons").ForEach(func(_, block gjson.Result) bool {
		d, err := parseDaemonBlock(block, logger)
		if err != nil {
			logger.Errorf("Skipping daemon block %s: %v", block.Raw, err)
			return true
		}
		cfg.Daemons = append(cfg.Daemons, d)
		return true
	})

	if len(cfg.Daemons) == 0 {
		return nil, errors.New("no usable daemon blocks configured")
	}
	return &cfg, nil
}

func parseDaemonBlock(block gjson.Result, logger *zap.SugaredLogger) (Daemon, error) {
	block.ForEach(func(key, _ gjson.Result) bool {
		switch key.String() {
		case "name", "socket_path":
		default:
			logger.Warnf("Ignoring unknown daemon option %s", key.String())
		}
		return true
	})

	d := Daemon{
		Name:       block.Get("name").String(),
		SocketPath: block.Get("socket_path").String(),
	}
	if d.Name == "" {
		return d, errors.New("you must configure a daemon name")
	}
	if d.SocketPath == "" {
		return d, errors.New("you must configure an administrative socket path")
	}
	if !strings.HasPrefix(d.SocketPath, "/") && !strings.HasPrefix(d.SocketPath, "./") {
		return d, fmt.Errorf("%w: must begin with '/' or './': %s", ErrBadSocketPath, d.SocketPath)
	}

	cluster, err := ParseClusterName(d.SocketPath)
	if err != nil {
		return d, err
	}
	d.Cluster = cluster
	return d, nil
}

// ParseClusterName derives the cluster name from an admin socket path
// of the form .../<cluster><type>.<id>.asok with type one of osd, mon
// or mds.
func ParseClusterName(socketPath string) (string, error) {
	base := filepath.Base(socketPath)
	if !strings.HasSuffix(base, ".asok") {
		return "", fmt.Errorf("%w: %s is not an admin socket", ErrBadSocketPath, socketPath)
	}

	idx := -1
	for _, t := range daemonTypes {
		if i := strings.Index(base, t); i >= 0 {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return "", fmt.Errorf("%w: no daemon type in %s", ErrBadSocketPath, socketPath)
	}

	cluster := strings.TrimRight(base[:idx], "-._")
	if cluster == "" {
		return "", fmt.Errorf("%w: no cluster name in %s", ErrBadSocketPath, socketPath)
	}
	return cluster, nil
}
