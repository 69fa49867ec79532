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

package billing

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ledgerline/ingestion/internal/tabular"
)

func sampleRecord() tabular.Record {
	return tabular.Record{
		"Invoice Number": "INV-100",
		"Account Number": "ACC-7",
		"Product":        "Object Storage",
		"Usage Date":     "2025-03-01",
		"Quantity":       "12",
		"Unit Price":     "0.023",
		"Total":          "0.276",
	}
}

// TestMapLine verifies field mapping with the default column names.
func TestMapLine(t *testing.T) {
	line := MapLine(sampleRecord(), DefaultColumns())

	if line.InvoiceID != "INV-100" || line.AccountID != "ACC-7" {
		t.Errorf("key = %s/%s, want INV-100/ACC-7", line.InvoiceID, line.AccountID)
	}
	if line.Product != "Object Storage" || line.UsageDate != "2025-03-01" {
		t.Errorf("key = %s/%s, want Object Storage/2025-03-01", line.Product, line.UsageDate)
	}
	if line.Quantity != 12 || line.UnitPrice != 0.023 || line.Total != 0.276 {
		t.Errorf("measures = %v/%v/%v", line.Quantity, line.UnitPrice, line.Total)
	}
}

// TestMapLine_NumericDefaults verifies that absent or malformed measures
// become zero instead of failing the record.
func TestMapLine_NumericDefaults(t *testing.T) {
	rec := sampleRecord()
	rec["Quantity"] = "twelve"
	rec["Unit Price"] = ""
	delete(rec, "Total")

	line := MapLine(rec, DefaultColumns())
	if line.Quantity != 0 || line.UnitPrice != 0 || line.Total != 0 {
		t.Errorf("measures = %v/%v/%v, want zeros", line.Quantity, line.UnitPrice, line.Total)
	}
	if !line.HasNaturalKey() {
		t.Error("record with bad measures must keep its natural key")
	}
}

// TestParseMeasure verifies tolerant numeric parsing.
func TestParseMeasure(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"42", 42},
		{" 3.14 ", 3.14},
		{"$1,234.50", 1234.5},
		{"", 0},
		{"n/a", 0},
		{"-7.5", -7.5},
	}
	for _, tt := range tests {
		if got := parseMeasure(tt.in); got != tt.want {
			t.Errorf("parseMeasure(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestMapLines_NaturalKeySkip verifies that records missing a key
// component are counted and excluded, not fatal.
func TestMapLines_NaturalKeySkip(t *testing.T) {
	missingInvoice := sampleRecord()
	missingInvoice["Invoice Number"] = ""

	missingDate := sampleRecord()
	delete(missingDate, "Usage Date")

	table := &tabular.Table{
		Records: []tabular.Record{sampleRecord(), missingInvoice, missingDate},
	}

	lines, skipped := MapLines(table, DefaultColumns())
	if len(lines) != 1 {
		t.Errorf("lines = %d, want 1", len(lines))
	}
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
}

// TestIsConfigError verifies SQLSTATE classification.
func TestIsConfigError(t *testing.T) {
	auth := &pgconn.PgError{Code: "28P01"} // invalid_password
	if !IsConfigError(auth) {
		t.Error("28P01 should be a config error")
	}
	if !IsConfigError(fmt.Errorf("upsert: %w", &pgconn.PgError{Code: "3D000"})) {
		t.Error("wrapped 3D000 should be a config error")
	}
	if IsConfigError(&pgconn.PgError{Code: "40001"}) { // serialization_failure
		t.Error("40001 should not be a config error")
	}
	if IsConfigError(fmt.Errorf("dial tcp: connection refused")) {
		t.Error("plain connectivity error should not be a config error")
	}
}

// TestSummaryRows verifies the applied-row count.
func TestSummaryRows(t *testing.T) {
	s := Summary{Inserted: 3, Updated: 2, Skipped: 4}
	if s.Rows() != 5 {
		t.Errorf("Rows() = %d, want 5", s.Rows())
	}
}
