// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// S3Config holds connection settings for the archive destination.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	KeyPrefix string
}

// ColumnsConfig maps extract headers to billing columns. Empty fields
// fall back to the upstream extract's fixed header names.
type ColumnsConfig struct {
	InvoiceID string `yaml:"invoice_id"`
	AccountID string `yaml:"account_id"`
	Product   string `yaml:"product"`
	UsageDate string `yaml:"usage_date"`
	Quantity  string `yaml:"quantity"`
	UnitPrice string `yaml:"unit_price"`
	Total     string `yaml:"total"`
}

// Config holds all configuration for the ingestion service.
type Config struct {
	// Postgres
	DatabaseURL string

	// Redis (optional; empty disables redelivery detection)
	RedisURL string

	// Archive destination
	S3            S3Config
	ArchivePolicy string // "best-effort" or "required"

	// Sink selects what the pipeline feeds: "archive+store" or
	// "archive-only" (no Postgres, audit trail only)
	Sink string

	// Inbound transport conventions
	AttachmentPrefix string
	Extension        string

	// Billing column mapping
	Columns ColumnsConfig

	// Server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	S3 struct {
		Endpoint  string `yaml:"endpoint"`
		Bucket    string `yaml:"bucket"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Region    string `yaml:"region"`
		UseSSL    *bool  `yaml:"use_ssl"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"s3"`
	Archive struct {
		Policy string `yaml:"policy"`
	} `yaml:"archive"`
	Sink string `yaml:"sink"`
	Inbound struct {
		AttachmentPrefix string `yaml:"attachment_prefix"`
		Extension        string `yaml:"extension"`
	} `yaml:"inbound"`
	Billing struct {
		Columns ColumnsConfig `yaml:"columns"`
	} `yaml:"billing"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case os.IsNotExist(err):
		// Environment-only deployment; every key has an env fallback.
	default:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	useSSL := envOrDefaultBool("S3_USE_SSL", true)
	if raw.S3.UseSSL != nil {
		useSSL = *raw.S3.UseSSL
	}

	cfg := &Config{
		DatabaseURL: firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:    firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		S3: S3Config{
			Endpoint:  firstNonEmpty(raw.S3.Endpoint, os.Getenv("S3_ENDPOINT")),
			Bucket:    firstNonEmpty(raw.S3.Bucket, os.Getenv("S3_BUCKET")),
			AccessKey: firstNonEmpty(raw.S3.AccessKey, os.Getenv("S3_ACCESS_KEY")),
			SecretKey: firstNonEmpty(raw.S3.SecretKey, os.Getenv("S3_SECRET_KEY")),
			Region:    firstNonEmpty(raw.S3.Region, os.Getenv("S3_REGION")),
			UseSSL:    useSSL,
			KeyPrefix: firstNonEmpty(raw.S3.KeyPrefix, envOrDefault("S3_KEY_PREFIX", "invoices")),
		},
		ArchivePolicy:    firstNonEmpty(raw.Archive.Policy, envOrDefault("ARCHIVE_POLICY", "best-effort")),
		Sink:             firstNonEmpty(raw.Sink, envOrDefault("SINK", "archive+store")),
		AttachmentPrefix: firstNonEmpty(raw.Inbound.AttachmentPrefix, envOrDefault("ATTACHMENT_PREFIX", "attachment")),
		Extension:        firstNonEmpty(raw.Inbound.Extension, envOrDefault("EXTRACT_EXTENSION", ".csv")),
		Columns:          raw.Billing.Columns,
		Port:             raw.Server.Port,
	}
	if cfg.Port == 0 {
		cfg.Port = envOrDefaultInt("PORT", 8080)
	}

	if cfg.Sink != "archive+store" && cfg.Sink != "archive-only" {
		return nil, fmt.Errorf("sink must be %q or %q, got %q", "archive+store", "archive-only", cfg.Sink)
	}
	if cfg.DatabaseURL == "" && cfg.Sink != "archive-only" {
		return nil, fmt.Errorf("database URL is required — set database.url or DATABASE_URL")
	}
	if cfg.S3.Endpoint == "" || cfg.S3.Bucket == "" {
		return nil, fmt.Errorf("archive destination is required — set s3.endpoint and s3.bucket")
	}
	if cfg.S3.AccessKey == "" || cfg.S3.SecretKey == "" {
		return nil, fmt.Errorf("archive credentials are required — set s3.access_key and s3.secret_key")
	}
	if cfg.ArchivePolicy != "best-effort" && cfg.ArchivePolicy != "required" {
		return nil, fmt.Errorf("archive.policy must be %q or %q, got %q", "best-effort", "required", cfg.ArchivePolicy)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
