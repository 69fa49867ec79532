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

// Ledgerline — Archive Replay Command
//
// Standalone CLI tool that replays archived billing extracts from the
// object store into Postgres. Intended for seeding a rebuilt database
// from the audit trail; the natural-key upsert makes replays safe to
// repeat.
//
// Usage:
//
//	go run ./cmd/backfill/ [--prefix invoices/2025] [--since 720h] [--dry-run]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"

	"github.com/ledgerline/ingestion/internal/archive"
	"github.com/ledgerline/ingestion/internal/billing"
	"github.com/ledgerline/ingestion/internal/config"
	"github.com/ledgerline/ingestion/internal/tabular"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	prefixFlag := flag.String("prefix", "", "Key prefix to replay (default: the configured archive prefix)")
	sinceFlag := flag.String("since", "", "Only replay objects modified within this lookback (e.g. 720h; empty = all)")
	dryRunFlag := flag.Bool("dry-run", false, "Parse and count rows without writing to Postgres")
	flag.Parse()

	var since time.Duration
	if *sinceFlag != "" {
		d, err := time.ParseDuration(*sinceFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid --since duration %q: %v\n", *sinceFlag, err)
			os.Exit(1)
		}
		since = d
	}

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	prefix := *prefixFlag
	if prefix == "" {
		prefix = cfg.S3.KeyPrefix + "/"
	}

	slog.Info("starting archive replay",
		"bucket", cfg.S3.Bucket,
		"prefix", prefix,
		"dry_run", *dryRunFlag,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cols := columnMap(cfg.Columns)

	// --- Connect to PostgreSQL ---
	var store *billing.Store
	if !*dryRunFlag {
		pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to create Postgres pool", "error", err)
			os.Exit(1)
		}
		defer pgPool.Close()

		store, err = billing.NewStore(ctx, pgPool, cols)
		if err != nil {
			slog.Error("failed to initialise billing store", "error", err)
			os.Exit(1)
		}
	}

	// --- Archive Client ---
	client, err := archive.NewClient(archive.ClientConfig{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Region:    cfg.S3.Region,
		UseSSL:    cfg.S3.UseSSL,
	})
	if err != nil {
		slog.Error("failed to create archive client", "error", err)
		os.Exit(1)
	}

	// --- Replay ---
	var (
		objects  int
		skipped  int
		failures int
		inserted int
		updated  int
		rowsSkip int
	)
	cutoff := time.Time{}
	if since > 0 {
		cutoff = time.Now().UTC().Add(-since)
	}

	start := time.Now()
	for obj := range client.ListObjects(ctx, cfg.S3.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			slog.Error("listing archive objects failed", "error", obj.Err)
			os.Exit(1)
		}

		if !strings.HasSuffix(strings.ToLower(obj.Key), strings.ToLower(cfg.Extension)) {
			skipped++
			continue
		}
		if !cutoff.IsZero() && obj.LastModified.Before(cutoff) {
			skipped++
			continue
		}

		objects++
		table, err := fetchAndParse(ctx, client, cfg.S3.Bucket, obj.Key)
		if err != nil {
			slog.Warn("skipping unreadable archive object", "key", obj.Key, "error", err)
			failures++
			continue
		}

		if *dryRunFlag {
			lines, skip := billing.MapLines(table, cols)
			inserted += len(lines)
			rowsSkip += skip
			slog.Info("would replay object", "key", obj.Key, "rows", len(lines), "skipped_rows", skip)
			continue
		}

		summary, err := store.UpsertBatch(ctx, table)
		if err != nil {
			slog.Error("replay upsert failed", "key", obj.Key, "error", err)
			failures++
			continue
		}
		inserted += summary.Inserted
		updated += summary.Updated
		rowsSkip += summary.Skipped
	}

	// --- Summary ---
	slog.Info("archive replay complete",
		"objects", objects,
		"objects_skipped", skipped,
		"objects_failed", failures,
		"rows_inserted", inserted,
		"rows_updated", updated,
		"rows_skipped", rowsSkip,
		"elapsed", time.Since(start),
	)
}

// fetchAndParse downloads one archived extract and parses it.
func fetchAndParse(ctx context.Context, client *minio.Client, bucket, key string) (*tabular.Table, error) {
	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get archive object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read archive object: %w", err)
	}

	return tabular.Parse(data)
}

// columnMap applies the fixed extract header names wherever the config
// leaves a column unmapped.
func columnMap(c config.ColumnsConfig) billing.ColumnMap {
	cols := billing.DefaultColumns()
	if c.InvoiceID != "" {
		cols.InvoiceID = c.InvoiceID
	}
	if c.AccountID != "" {
		cols.AccountID = c.AccountID
	}
	if c.Product != "" {
		cols.Product = c.Product
	}
	if c.UsageDate != "" {
		cols.UsageDate = c.UsageDate
	}
	if c.Quantity != "" {
		cols.Quantity = c.Quantity
	}
	if c.UnitPrice != "" {
		cols.UnitPrice = c.UnitPrice
	}
	if c.Total != "" {
		cols.Total = c.Total
	}
	return cols
}
