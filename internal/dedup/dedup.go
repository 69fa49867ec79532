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

// Package dedup detects webhook redeliveries using a Redis SET with TTL
// keyed on the attachment's content fingerprint. The filter is an
// optimization only: the billing upsert is idempotent by natural key, so
// a missed or failed dedup check is always safe.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long we remember a seen attachment. The upstream
	// sender gives up redelivering well within a day.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "billing:seen:"
)

// Filter tracks which attachment fingerprints have already been ingested.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// Fingerprint returns the content fingerprint for an attachment payload.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Seen reports whether the fingerprint has already been ingested. It is
// read-only: the caller marks the fingerprint only after the batch
// commits, so a failed run stays eligible for redelivery.
func (f *Filter) Seen(ctx context.Context, fingerprint string) (bool, error) {
	key := fmt.Sprintf("%s%s", keyPrefix, fingerprint)

	n, err := f.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup EXISTS: %w", err)
	}

	return n > 0, nil
}

// MarkSeen records the fingerprint after a committed ingestion.
func (f *Filter) MarkSeen(ctx context.Context, fingerprint string) error {
	key := fmt.Sprintf("%s%s", keyPrefix, fingerprint)

	if err := f.rdb.Set(ctx, key, 1, f.ttl).Err(); err != nil {
		return fmt.Errorf("dedup SET: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (f *Filter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return f.rdb.Ping(ctx).Err()
}
