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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

const testYAML = `
database:
  url: ${TEST_DATABASE_URL}
s3:
  endpoint: minio:9000
  bucket: billing-archive
  access_key: testkey
  secret_key: testsecret
  use_ssl: false
archive:
  policy: required
inbound:
  extension: .csv
server:
  port: 9090
`

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
}

// TestLoad_YAMLWithEnvExpansion verifies YAML parsing and ${VAR} expansion.
func TestLoad_YAMLWithEnvExpansion(t *testing.T) {
	writeConfig(t, testYAML)
	t.Setenv("TEST_DATABASE_URL", "postgres://ingest:pw@db:5432/billing")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://ingest:pw@db:5432/billing" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.S3.Bucket != "billing-archive" || cfg.S3.UseSSL {
		t.Errorf("S3 = %+v", cfg.S3)
	}
	if cfg.ArchivePolicy != "required" {
		t.Errorf("ArchivePolicy = %q, want required", cfg.ArchivePolicy)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	// Defaults for unspecified keys
	if cfg.AttachmentPrefix != "attachment" {
		t.Errorf("AttachmentPrefix = %q, want attachment", cfg.AttachmentPrefix)
	}
	if cfg.S3.KeyPrefix != "invoices" {
		t.Errorf("KeyPrefix = %q, want invoices", cfg.S3.KeyPrefix)
	}
}

// TestLoad_MissingDatabase verifies that a missing store connection is a
// startup error rather than a silent misconfiguration.
func TestLoad_MissingDatabase(t *testing.T) {
	writeConfig(t, `
s3:
  endpoint: minio:9000
  bucket: b
  access_key: k
  secret_key: s
`)
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing database URL")
	}
}

// TestLoad_ArchiveOnlySink verifies that the archive-only sink does not
// require a database connection.
func TestLoad_ArchiveOnlySink(t *testing.T) {
	writeConfig(t, `
sink: archive-only
s3:
  endpoint: minio:9000
  bucket: b
  access_key: k
  secret_key: s
`)
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sink != "archive-only" {
		t.Errorf("Sink = %q, want archive-only", cfg.Sink)
	}
}

// TestLoad_InvalidPolicy verifies policy validation.
func TestLoad_InvalidPolicy(t *testing.T) {
	writeConfig(t, `
database:
  url: postgres://x
s3:
  endpoint: minio:9000
  bucket: b
  access_key: k
  secret_key: s
archive:
  policy: sometimes
`)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid archive policy")
	}
}
