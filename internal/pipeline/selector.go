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
	"strings"

	"github.com/ledgerline/ingestion/internal/models"
)

// SelectAttachment locates the billing extract among an event's file parts.
//
// Candidates are attachments whose multipart field name begins with the
// transport's attachment prefix token, case-insensitively (SendGrid
// enumerates file parts as attachment1, attachment2, …). The chosen
// attachment is the first candidate whose filename carries the billing
// extract extension. hadCandidates distinguishes "no file parts at all"
// from "file parts present but none extract-shaped"; both are normal,
// non-retryable outcomes.
func SelectAttachment(event *models.InboundEvent, prefix, extension string) (att *models.Attachment, hadCandidates bool) {
	for i := range event.Attachments {
		a := &event.Attachments[i]
		if !strings.HasPrefix(strings.ToLower(a.FieldName), strings.ToLower(prefix)) {
			continue
		}
		hadCandidates = true
		if strings.HasSuffix(strings.ToLower(a.Filename), strings.ToLower(extension)) {
			return a, true
		}
	}
	return nil, hadCandidates
}
