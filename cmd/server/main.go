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

// Ledgerline — Billing Ingestion Service
//
// Entry point for the billing ingestion service. It:
//  1. Loads configuration from config.yaml / environment
//  2. Connects to PostgreSQL and the S3-compatible archive
//  3. Optionally connects to Redis for redelivery detection
//  4. Serves the SendGrid Inbound Parse webhook endpoint
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ledgerline/ingestion/internal/archive"
	"github.com/ledgerline/ingestion/internal/billing"
	"github.com/ledgerline/ingestion/internal/config"
	"github.com/ledgerline/ingestion/internal/dedup"
	"github.com/ledgerline/ingestion/internal/pipeline"
	"github.com/ledgerline/ingestion/internal/webhook"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting billing ingestion service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"sink", cfg.Sink,
		"archive_policy", cfg.ArchivePolicy,
		"bucket", cfg.S3.Bucket,
		"extension", cfg.Extension,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL (archive+store sink only) ---
	var store *billing.Store
	var pgPool *pgxpool.Pool
	if cfg.Sink != "archive-only" {
		pgPool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to create Postgres pool", "error", err)
			os.Exit(1)
		}
		defer pgPool.Close()

		if err := pgPool.Ping(ctx); err != nil {
			slog.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to PostgreSQL")

		store, err = billing.NewStore(ctx, pgPool, columnMap(cfg.Columns))
		if err != nil {
			slog.Error("failed to initialise billing store", "error", err)
			os.Exit(1)
		}
	}

	// --- Archive Destination ---
	s3Client, err := archive.NewClient(archive.ClientConfig{
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

	if err := archive.EnsureBucket(ctx, s3Client, cfg.S3.Bucket); err != nil {
		// Under best-effort policy the service can still ingest.
		if cfg.ArchivePolicy == string(archive.PolicyRequired) {
			slog.Error("archive bucket unavailable", "error", err)
			os.Exit(1)
		}
		slog.Warn("archive bucket unavailable, continuing under best-effort policy", "error", err)
	}
	writer := archive.NewWriter(s3Client, cfg.S3.Bucket, cfg.S3.KeyPrefix)
	slog.Info("archive destination ready", "bucket", cfg.S3.Bucket)

	// --- Redelivery Filter (optional) ---
	var filter pipeline.RedeliveryFilter
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)

		f := dedup.NewFilter(rdb)
		if err := f.Ping(ctx); err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		filter = f
		slog.Info("connected to Redis, redelivery detection enabled")
	} else {
		slog.Info("no Redis configured, redelivery detection disabled")
	}

	// --- Pipeline ---
	// A typed-nil *Store must not become a non-nil Upserter interface.
	var upserter pipeline.Upserter
	if store != nil {
		upserter = store
	}
	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Archiver:         writer,
		Store:            upserter,
		Filter:           filter,
		ArchivePolicy:    archive.Policy(cfg.ArchivePolicy),
		AttachmentPrefix: cfg.AttachmentPrefix,
		Extension:        cfg.Extension,
	})

	// --- Webhook Server ---
	handler := webhook.NewHandler(runner)
	health := func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			if err := store.Ping(r.Context()); err != nil {
				http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		if rdb != nil {
			if err := rdb.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	}

	ready, err := webhook.Serve(ctx, cfg.Port, handler, health)
	if err != nil {
		slog.Error("failed to start webhook server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("billing ingestion service ready", "port", cfg.Port)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel() // Stops the webhook server

	if rdb != nil {
		rdb.Close()
	}
	if pgPool != nil {
		pgPool.Close()
	}

	slog.Info("billing ingestion service stopped")
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
