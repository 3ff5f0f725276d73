// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package bedrock serves Claude through Amazon Bedrock. Credentials follow
// the AWS chain: explicit keys, then a named profile, then the default chain
// (environment, shared config, instance role).
package bedrock

import (
	"context"
	"fmt"
	"os"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	sdkbedrock "github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/llm/anthropic"
)

const (
	// DefaultModelID is the default Claude inference profile on Bedrock.
	DefaultModelID = "us.anthropic.claude-sonnet-4-5-20250929-v1:0"
	// DefaultRegion is used when neither config nor environment name one.
	DefaultRegion = "us-east-1"
)

// Config holds configuration for the Bedrock client.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string
	ModelID         string
	MaxTokens       int
	Temperature     float64
	Timeout         time.Duration
	RateLimiter     *llm.RateLimiter
}

// LoadAWSConfig resolves region and credentials for cfg.
func LoadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	if region == "" {
		region = DefaultRegion
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	case cfg.Profile != "":
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewClient creates a Claude client that talks to Bedrock.
func NewClient(ctx context.Context, cfg Config) (*anthropic.Client, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.ModelID
	if model == "" {
		model = os.Getenv("AWS_BEDROCK_MODEL_ID")
	}
	if model == "" {
		model = DefaultModelID
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = anthropic.DefaultTimeout
	}

	client := sdk.NewClient(
		sdkbedrock.WithConfig(awsCfg),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(0),
	)
	return anthropic.NewWithSDK(client, "bedrock", anthropic.Config{
		Model:       model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		RateLimiter: cfg.RateLimiter,
	}), nil
}
