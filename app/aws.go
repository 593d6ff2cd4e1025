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
	"encoding/base64"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"
)

// loadSinkCredentials resolves the sink API key and secret token from
// the environment, preferring AWS Secrets Manager references when set.
// The Secrets Manager client is only built if a reference is present.
func loadSinkCredentials(ctx context.Context, cfg aws.Config, logger *zap.SugaredLogger) (string, string) {
	var manager *secretsmanager.Client
	lazyManager := func() *secretsmanager.Client {
		if manager == nil {
			manager = secretsmanager.NewFromConfig(cfg)
		}
		return manager
	}

	apiKey := os.Getenv("CEPHMON_SINK_API_KEY")
	if secretID, ok := os.LookupEnv("CEPHMON_SECRETS_MANAGER_API_KEY_ID"); ok {
		result, err := loadSecret(ctx, lazyManager(), secretID)
		if err != nil {
			logger.Warnf("Could not load the sink API key from AWS Secrets Manager. Dispatching metrics will likely fail. Is 'CEPHMON_SECRETS_MANAGER_API_KEY_ID=%s' correct? Error message: %v", secretID, err)
			apiKey = ""
		} else {
			logger.Infof("Using the sink API key retrieved from AWS Secrets Manager.")
			apiKey = result
		}
	}

	secretToken := os.Getenv("CEPHMON_SINK_SECRET_TOKEN")
	if secretID, ok := os.LookupEnv("CEPHMON_SECRETS_MANAGER_SECRET_TOKEN_ID"); ok {
		result, err := loadSecret(ctx, lazyManager(), secretID)
		if err != nil {
			logger.Warnf("Could not load the sink secret token from AWS Secrets Manager. Dispatching metrics will likely fail. Is 'CEPHMON_SECRETS_MANAGER_SECRET_TOKEN_ID=%s' correct? Error message: %v", secretID, err)
			secretToken = ""
		} else {
			logger.Infof("Using the sink secret token retrieved from AWS Secrets Manager.")
			secretToken = result
		}
	}

	return apiKey, secretToken
}

func loadSecret(ctx context.Context, manager *secretsmanager.Client, secretID string) (string, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId:     ptrFromString(secretID),
		VersionStage: ptrFromString("AWSCURRENT"),
	}

	result, err := manager.GetSecretValue(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve secret value: %w", err)
	}

	if result.SecretString != nil {
		return *result.SecretString, nil
	}

	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(result.SecretBinary)))
	n, err := base64.StdEncoding.Decode(decoded, result.SecretBinary)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 encoded secret: %w", err)
	}

	return string(decoded[:n]), nil
}

func ptrFromString(v string) *string {
	return &v
}
