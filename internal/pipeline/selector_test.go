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

package pipeline

import (
	"testing"

	"github.com/ledgerline/ingestion/internal/models"
)

func eventWith(atts ...models.Attachment) *models.InboundEvent {
	return &models.InboundEvent{
		From:        "billing@acme.com",
		To:          "ingest@ledgerline.io",
		Subject:     "March invoice",
		Attachments: atts,
	}
}

// TestSelectAttachment_PicksCSVByExtension verifies that a non-extract
// file earlier in field order is passed over.
func TestSelectAttachment_PicksCSVByExtension(t *testing.T) {
	event := eventWith(
		models.Attachment{FieldName: "attachment1", Filename: "report.pdf"},
		models.Attachment{FieldName: "attachment2", Filename: "data.csv"},
	)

	att, hadCandidates := SelectAttachment(event, "attachment", ".csv")
	if !hadCandidates {
		t.Fatal("hadCandidates = false, want true")
	}
	if att == nil || att.Filename != "data.csv" {
		t.Fatalf("selected = %v, want data.csv", att)
	}
}

// TestSelectAttachment_CaseInsensitive verifies prefix and extension
// matching ignore case.
func TestSelectAttachment_CaseInsensitive(t *testing.T) {
	event := eventWith(
		models.Attachment{FieldName: "Attachment1", Filename: "INVOICE.CSV"},
	)

	att, _ := SelectAttachment(event, "attachment", ".csv")
	if att == nil {
		t.Fatal("selected = nil, want INVOICE.CSV")
	}
}

// TestSelectAttachment_IgnoresNonCandidateFields verifies that plain form
// fields are never candidates even with a matching filename.
func TestSelectAttachment_IgnoresNonCandidateFields(t *testing.T) {
	event := eventWith(
		models.Attachment{FieldName: "upload", Filename: "data.csv"},
	)

	att, hadCandidates := SelectAttachment(event, "attachment", ".csv")
	if att != nil {
		t.Fatalf("selected = %v, want nil", att)
	}
	if hadCandidates {
		t.Error("hadCandidates = true, want false")
	}
}

// TestSelectAttachment_NoMatch verifies candidates present but no extract.
func TestSelectAttachment_NoMatch(t *testing.T) {
	event := eventWith(
		models.Attachment{FieldName: "attachment1", Filename: "report.pdf"},
	)

	att, hadCandidates := SelectAttachment(event, "attachment", ".csv")
	if att != nil {
		t.Fatalf("selected = %v, want nil", att)
	}
	if !hadCandidates {
		t.Error("hadCandidates = false, want true")
	}
}

// TestSelectAttachment_Empty verifies the no-attachments case.
func TestSelectAttachment_Empty(t *testing.T) {
	att, hadCandidates := SelectAttachment(eventWith(), "attachment", ".csv")
	if att != nil || hadCandidates {
		t.Errorf("got (%v, %v), want (nil, false)", att, hadCandidates)
	}
}

// TestSelectAttachment_FirstMatchWins verifies field-enumeration order.
func TestSelectAttachment_FirstMatchWins(t *testing.T) {
	event := eventWith(
		models.Attachment{FieldName: "attachment1", Filename: "first.csv"},
		models.Attachment{FieldName: "attachment2", Filename: "second.csv"},
	)

	att, _ := SelectAttachment(event, "attachment", ".csv")
	if att == nil || att.Filename != "first.csv" {
		t.Fatalf("selected = %v, want first.csv", att)
	}
}
