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

// Package models defines the data structures shared across the ingestion service.
package models

// Attachment represents one file part of an inbound email delivery.
// FieldName is the multipart field the transport used to carry the file
// (e.g. "attachment1"); Filename is the name the sender gave the file.
type Attachment struct {
	FieldName   string
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// InboundEvent represents one webhook delivery of a received email.
// It lives only for the duration of a single pipeline run and is never
// persisted.
type InboundEvent struct {
	From        string
	To          string
	Subject     string
	Attachments []Attachment
}
