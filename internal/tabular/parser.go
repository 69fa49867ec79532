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

// Package tabular parses delimited billing extracts into ordered records.
// The parser is deliberately forgiving: the first non-empty line defines
// the column set, and data rows with too few or too many fields are
// padded or truncated rather than rejected. Only input with no usable
// header at all fails the parse.
package tabular

import (
	"bytes"
	"fmt"
	"strings"
)

// utf8BOM is the byte-order mark some exporters prepend to CSV files.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Record maps column names to trimmed string values for one data row.
// Keys are always a subset of the table's Columns.
type Record map[string]string

// Table is the result of parsing one delimited extract.
type Table struct {
	Columns []string
	Records []Record
}

// Parse converts raw delimited text into a Table.
//
// Behavior:
//   - a leading UTF-8 BOM is stripped
//   - lines that are empty after trimming are discarded
//   - the first retained line is the header
//   - short rows get empty strings for missing trailing columns,
//     long rows have excess fields discarded
//   - all values are trimmed of surrounding whitespace
func Parse(raw []byte) (*Table, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)

	var lines []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("parse tabular: input has no rows")
	}

	columns := splitFields(lines[0])
	if len(columns) == 0 || allEmpty(columns) {
		return nil, fmt.Errorf("parse tabular: header row has no columns")
	}

	table := &Table{Columns: columns}
	for _, line := range lines[1:] {
		fields := splitFields(line)

		rec := make(Record, len(columns))
		for i, col := range columns {
			if i < len(fields) {
				rec[col] = fields[i]
			} else {
				rec[col] = ""
			}
		}
		// Fields beyond the header width are dropped.
		table.Records = append(table.Records, rec)
	}

	return table, nil
}

// splitFields splits a comma-delimited line and trims each field.
func splitFields(line string) []string {
	parts := strings.Split(line, ",")
	fields := make([]string, len(parts))
	for i, p := range parts {
		fields[i] = strings.TrimSpace(p)
	}
	return fields
}

func allEmpty(fields []string) bool {
	for _, f := range fields {
		if f != "" {
			return false
		}
	}
	return true
}
