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

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"

	"github.com/cephmon/cephmon/app"
)

const defaultConfigPath = "/etc/cephmon/cephmon.json"

func main() {
	if err := mainWithError(); err != nil {
		log.Fatal(err)
	}
}

func mainWithError() error {
	// Global context
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// A .env file is optional; the environment wins on conflicts.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load .env file: %v", err)
	}

	configPath := os.Getenv("CEPHMON_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	appConfigs := []app.ConfigOption{
		app.WithConfigPath(configPath),
		app.WithLogLevel(os.Getenv("CEPHMON_LOG_LEVEL")),
		app.WithSinkURL(os.Getenv("CEPHMON_SINK_URL")),
		app.WithHostname(os.Getenv("CEPHMON_HOSTNAME")),
	}

	if raw := os.Getenv("CEPHMON_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("failed to parse CEPHMON_INTERVAL: %v", err)
		}
		appConfigs = append(appConfigs, app.WithInterval(interval))
	}

	if raw := os.Getenv("CEPHMON_CYCLE_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("failed to parse CEPHMON_CYCLE_TIMEOUT: %v", err)
		}
		appConfigs = append(appConfigs, app.WithCycleTimeout(timeout))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load AWS default config: %v", err)
	}
	appConfigs = append(appConfigs, app.WithAWSConfig(cfg))

	application, err := app.New(ctx, appConfigs...)
	if err != nil {
		return fmt.Errorf("failed to create the app: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("error while running: %v", err)
	}

	return nil
}
