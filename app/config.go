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
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

type appConfig struct {
	configPath   string
	logLevel     string
	hostname     string
	sinkURL      string
	interval     time.Duration
	cycleTimeout time.Duration
	awsConfig    aws.Config
}

// ConfigOption is used to configure the collector application.
type ConfigOption func(*appConfig)

// WithConfigPath sets the path of the daemon configuration file.
func WithConfigPath(path string) ConfigOption {
	return func(c *appConfig) {
		c.configPath = path
	}
}

// WithLogLevel sets the log level.
func WithLogLevel(level string) ConfigOption {
	return func(c *appConfig) {
		c.logLevel = level
	}
}

// WithHostname overrides the host name stamped on dispatched values.
// Defaults to the OS hostname.
func WithHostname(host string) ConfigOption {
	return func(c *appConfig) {
		c.hostname = host
	}
}

// WithSinkURL sets the metric sink base URL.
func WithSinkURL(url string) ConfigOption {
	return func(c *appConfig) {
		c.sinkURL = url
	}
}

// WithInterval sets the spacing between data cycles.
func WithInterval(d time.Duration) ConfigOption {
	return func(c *appConfig) {
		c.interval = d
	}
}

// WithCycleTimeout sets the shared deadline of each poll cycle.
func WithCycleTimeout(d time.Duration) ConfigOption {
	return func(c *appConfig) {
		c.cycleTimeout = d
	}
}

// WithAWSConfig sets the AWS config, used to resolve sink credentials
// from Secrets Manager.
func WithAWSConfig(awsConfig aws.Config) ConfigOption {
	return func(c *appConfig) {
		c.awsConfig = awsConfig
	}
}
