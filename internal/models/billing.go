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

package models

// BillingLine is the canonical persisted billing row. The natural key is
// (InvoiceID, AccountID, Product, UsageDate); re-ingesting the same key
// overwrites only the measure fields.
type BillingLine struct {
	InvoiceID string
	AccountID string
	Product   string
	UsageDate string
	Quantity  float64
	UnitPrice float64
	Total     float64
}

// HasNaturalKey reports whether every natural-key component is present.
// Lines without a complete key are never persisted.
func (l BillingLine) HasNaturalKey() bool {
	return l.InvoiceID != "" && l.AccountID != "" && l.Product != "" && l.UsageDate != ""
}
