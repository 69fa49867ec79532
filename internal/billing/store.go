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

// Package billing provides a Postgres-backed store for billing lines.
// Parsed extract rows are mapped onto the billing_lines schema and applied
// in a single transaction as natural-key upserts, which makes re-running
// the same batch after a webhook redelivery a no-op for the store.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerline/ingestion/internal/models"
	"github.com/ledgerline/ingestion/internal/tabular"
)

// ColumnMap names the extract headers that feed each billing_lines column.
type ColumnMap struct {
	InvoiceID string
	AccountID string
	Product   string
	UsageDate string
	Quantity  string
	UnitPrice string
	Total     string
}

// DefaultColumns returns the header names the upstream billing extract uses.
func DefaultColumns() ColumnMap {
	return ColumnMap{
		InvoiceID: "Invoice Number",
		AccountID: "Account Number",
		Product:   "Product",
		UsageDate: "Usage Date",
		Quantity:  "Quantity",
		UnitPrice: "Unit Price",
		Total:     "Total",
	}
}

// Summary reports the fate of every record in one upsert batch. The
// inserted/updated split is informational and best-effort under
// concurrent writers.
type Summary struct {
	Inserted int
	Updated  int
	Skipped  int
}

// Rows returns the number of records actually applied to the store.
func (s Summary) Rows() int {
	return s.Inserted + s.Updated
}

// Store applies billing line batches to Postgres.
type Store struct {
	pool *pgxpool.Pool
	cols ColumnMap
}

// NewStore creates a billing store backed by the given Postgres pool.
// It ensures the billing_lines table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool, cols ColumnMap) (*Store, error) {
	s := &Store{pool: pool, cols: cols}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure billing schema: %w", err)
	}
	slog.Info("billing store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS billing_lines (
			id         BIGSERIAL PRIMARY KEY,
			invoice_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			product    TEXT NOT NULL,
			usage_date TEXT NOT NULL,
			quantity   NUMERIC NOT NULL DEFAULT 0,
			unit_price NUMERIC NOT NULL DEFAULT 0,
			total      NUMERIC NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(invoice_id, account_id, product, usage_date)
		);
		CREATE INDEX IF NOT EXISTS idx_billing_invoice ON billing_lines(invoice_id);
		CREATE INDEX IF NOT EXISTS idx_billing_account ON billing_lines(account_id);
	`)
	return err
}

// upsertSQL overwrites only the measure columns on natural-key conflict.
// (xmax = 0) distinguishes a fresh insert from an overwrite.
const upsertSQL = `
	INSERT INTO billing_lines
		(invoice_id, account_id, product, usage_date, quantity, unit_price, total)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (invoice_id, account_id, product, usage_date) DO UPDATE SET
		quantity   = EXCLUDED.quantity,
		unit_price = EXCLUDED.unit_price,
		total      = EXCLUDED.total,
		updated_at = NOW()
	RETURNING (xmax = 0)
`

// UpsertBatch maps parsed records onto billing lines and applies them in
// one transaction. Records missing a natural-key component are skipped and
// counted; any other failure rolls back the whole batch so no partial
// state is ever visible.
func (s *Store) UpsertBatch(ctx context.Context, table *tabular.Table) (*Summary, error) {
	lines, skipped := MapLines(table, s.cols)

	summary := &Summary{Skipped: skipped}
	if len(lines) == 0 {
		slog.Info("upsert batch had no persistable rows", "skipped", skipped)
		return summary, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin upsert transaction: %w", err)
	}
	// No-op after a successful commit.
	defer tx.Rollback(ctx)

	for _, line := range lines {
		var inserted bool
		err := tx.QueryRow(ctx, upsertSQL,
			line.InvoiceID, line.AccountID, line.Product, line.UsageDate,
			line.Quantity, line.UnitPrice, line.Total,
		).Scan(&inserted)
		if err != nil {
			return nil, fmt.Errorf("upsert line %s/%s: %w", line.InvoiceID, line.AccountID, err)
		}
		if inserted {
			summary.Inserted++
		} else {
			summary.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit upsert transaction: %w", err)
	}

	slog.Info("upsert batch applied",
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
	)

	return summary, nil
}

// Ping checks the Postgres connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// MapLines converts parsed records into billing lines. Records missing any
// natural-key component are excluded and counted, never fatal.
func MapLines(table *tabular.Table, cols ColumnMap) ([]models.BillingLine, int) {
	var lines []models.BillingLine
	skipped := 0

	for i, rec := range table.Records {
		line := MapLine(rec, cols)
		if !line.HasNaturalKey() {
			slog.Info("skipping record with incomplete natural key",
				"row", i+1,
				"invoice_id", line.InvoiceID,
				"account_id", line.AccountID,
			)
			skipped++
			continue
		}
		lines = append(lines, line)
	}

	return lines, skipped
}

// MapLine maps one record's named fields onto the billing line schema.
// Numeric fields default to zero when absent or non-numeric.
func MapLine(rec tabular.Record, cols ColumnMap) models.BillingLine {
	return models.BillingLine{
		InvoiceID: rec[cols.InvoiceID],
		AccountID: rec[cols.AccountID],
		Product:   rec[cols.Product],
		UsageDate: rec[cols.UsageDate],
		Quantity:  parseMeasure(rec[cols.Quantity]),
		UnitPrice: parseMeasure(rec[cols.UnitPrice]),
		Total:     parseMeasure(rec[cols.Total]),
	}
}

// parseMeasure parses a numeric measure, tolerating currency symbols and
// thousands separators. Anything unparseable becomes zero.
func parseMeasure(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// IsConfigError reports whether a store failure is a configuration or
// credential problem a human must fix, where redelivery cannot help.
func IsConfigError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// Class 28: invalid authorization; 3D000: database does not exist.
	return strings.HasPrefix(pgErr.Code, "28") || pgErr.Code == "3D000"
}
