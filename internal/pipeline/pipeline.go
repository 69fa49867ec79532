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

// Package pipeline orchestrates one ingestion run per inbound event:
// attachment selection, archival, tabular parsing, and the transactional
// billing upsert. Each run is independent; the runner holds no state
// across events, so concurrent deliveries need no coordination.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ledgerline/ingestion/internal/archive"
	"github.com/ledgerline/ingestion/internal/billing"
	"github.com/ledgerline/ingestion/internal/dedup"
	"github.com/ledgerline/ingestion/internal/models"
	"github.com/ledgerline/ingestion/internal/tabular"
)

// Outcome identifies the terminal state of one ingestion run.
type Outcome string

const (
	// OutcomeUpserted means the full pipeline ran and the batch committed.
	OutcomeUpserted Outcome = "upserted"
	// OutcomeArchived means the archive-only sink accepted the extract;
	// no store is configured.
	OutcomeArchived Outcome = "archived"
	// OutcomeDuplicate means the attachment was already ingested; the
	// archive still received a fresh audit copy.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeNoAttachment means the event carried no file parts.
	OutcomeNoAttachment Outcome = "no_attachment"
	// OutcomeNoMatch means file parts were present but none looked like a
	// billing extract.
	OutcomeNoMatch Outcome = "no_matching_attachment"
	// OutcomeParseFailed means the extract was structurally unreadable.
	OutcomeParseFailed Outcome = "parse_failed"
	// OutcomeArchiveFailed means the archive write failed under the
	// required policy.
	OutcomeArchiveFailed Outcome = "archive_failed"
	// OutcomeUpsertFailed means the store rolled the batch back for a
	// transient reason.
	OutcomeUpsertFailed Outcome = "upsert_failed"
	// OutcomeConfigError means a human must fix credentials or
	// configuration; redelivery cannot help.
	OutcomeConfigError Outcome = "config_error"
)

// Result summarises one completed run.
type Result struct {
	Outcome    Outcome
	RunID      string
	ArchiveKey string
	Rows       int // parsed data rows, for archive-only runs
	Summary    *billing.Summary
	Err        error
}

// Archiver persists raw attachment bytes to the audit store.
type Archiver interface {
	Archive(ctx context.Context, att models.Attachment, prov archive.Provenance) (*archive.Object, error)
}

// Upserter applies a parsed table to the billing store.
type Upserter interface {
	UpsertBatch(ctx context.Context, table *tabular.Table) (*billing.Summary, error)
}

// RedeliveryFilter remembers which attachment fingerprints have been
// ingested. Seen is read-only; the runner calls MarkSeen only after the
// upsert commits, so a failed run is still redeliverable.
type RedeliveryFilter interface {
	Seen(ctx context.Context, fingerprint string) (bool, error)
	MarkSeen(ctx context.Context, fingerprint string) error
}

// Runner executes the ingestion pipeline for inbound events. A nil Store
// configures the archive-only sink: extracts are archived and parsed but
// never persisted.
type Runner struct {
	archiver      Archiver
	store         Upserter
	filter        RedeliveryFilter // nil disables redelivery detection
	archivePolicy archive.Policy

	attachmentPrefix string
	extension        string
}

// RunnerConfig holds dependencies for the pipeline runner.
type RunnerConfig struct {
	Archiver         Archiver
	Store            Upserter
	Filter           RedeliveryFilter
	ArchivePolicy    archive.Policy
	AttachmentPrefix string
	Extension        string
}

// NewRunner creates a pipeline runner.
func NewRunner(cfg RunnerConfig) *Runner {
	policy := cfg.ArchivePolicy
	if policy == "" {
		policy = archive.PolicyBestEffort
	}
	prefix := cfg.AttachmentPrefix
	if prefix == "" {
		prefix = "attachment"
	}
	ext := cfg.Extension
	if ext == "" {
		ext = ".csv"
	}
	return &Runner{
		archiver:         cfg.Archiver,
		store:            cfg.Store,
		filter:           cfg.Filter,
		archivePolicy:    policy,
		attachmentPrefix: prefix,
		extension:        ext,
	}
}

// Run executes one ingestion run. Steps are strictly sequential: the
// archive write precedes parsing so a later parse failure still leaves an
// audit copy of the raw input. Every failure is absorbed into a Result;
// no error escapes to the transport layer.
func (r *Runner) Run(ctx context.Context, event *models.InboundEvent) Result {
	runID := uuid.NewString()

	slog.Info("ingestion run started",
		"run_id", runID,
		"from", event.From,
		"subject", event.Subject,
		"attachments", len(event.Attachments),
	)

	// --- Select ---
	att, hadCandidates := SelectAttachment(event, r.attachmentPrefix, r.extension)
	if att == nil {
		outcome := OutcomeNoAttachment
		if hadCandidates {
			outcome = OutcomeNoMatch
		}
		slog.Info("no billing extract in delivery", "run_id", runID, "outcome", string(outcome))
		return Result{Outcome: outcome, RunID: runID}
	}

	// --- Archive ---
	archiveKey := ""
	obj, err := r.archiver.Archive(ctx, *att, archive.Provenance{
		From:      event.From,
		To:        event.To,
		Subject:   event.Subject,
		FieldName: att.FieldName,
		Filename:  att.Filename,
	})
	if err != nil {
		// Archival is the whole run under the archive-only sink, so a
		// failed write always aborts there.
		mandatory := r.archivePolicy == archive.PolicyRequired || r.store == nil
		if archive.IsConfigError(err) {
			slog.Error("archive destination misconfigured", "run_id", runID, "error", err)
			if mandatory {
				return Result{Outcome: OutcomeConfigError, RunID: runID, Err: err}
			}
		}
		if mandatory {
			slog.Error("archive write failed, aborting run", "run_id", runID, "error", err)
			return Result{Outcome: OutcomeArchiveFailed, RunID: runID, Err: err}
		}
		// best-effort: continue without an audit copy
		slog.Warn("archive write failed, continuing without audit copy",
			"run_id", runID,
			"filename", att.Filename,
			"error", err,
		)
	} else {
		archiveKey = obj.Key
	}

	// --- Parse ---
	table, err := tabular.Parse(att.Data)
	if err != nil {
		slog.Error("billing extract unparseable",
			"run_id", runID,
			"filename", att.Filename,
			"size", len(att.Data),
			"error", err,
		)
		return Result{Outcome: OutcomeParseFailed, RunID: runID, ArchiveKey: archiveKey, Err: err}
	}

	// --- Archive-only sink ---
	if r.store == nil {
		slog.Info("extract archived without store",
			"run_id", runID,
			"archive_key", archiveKey,
			"rows", len(table.Records),
		)
		return Result{Outcome: OutcomeArchived, RunID: runID, ArchiveKey: archiveKey, Rows: len(table.Records)}
	}

	// --- Redelivery check ---
	// Runs after archival on purpose: the audit trail records every
	// delivery, duplicates included. The check is read-only here; the
	// fingerprint is marked only once the upsert commits, so a run that
	// fails past this point stays eligible for redelivery.
	fingerprint := dedup.Fingerprint(att.Data)
	if r.filter != nil {
		seen, err := r.filter.Seen(ctx, fingerprint)
		if err != nil {
			slog.Warn("redelivery check failed, proceeding", "run_id", runID, "error", err)
		} else if seen {
			slog.Info("duplicate delivery detected, upsert skipped",
				"run_id", runID,
				"filename", att.Filename,
				"rows", len(table.Records),
			)
			return Result{Outcome: OutcomeDuplicate, RunID: runID, ArchiveKey: archiveKey}
		}
	}

	// --- Upsert ---
	summary, err := r.store.UpsertBatch(ctx, table)
	if err != nil {
		if billing.IsConfigError(err) {
			slog.Error("billing store misconfigured", "run_id", runID, "error", err)
			return Result{Outcome: OutcomeConfigError, RunID: runID, ArchiveKey: archiveKey, Err: err}
		}
		slog.Error("upsert batch failed, rolled back",
			"run_id", runID,
			"rows", len(table.Records),
			"error", err,
		)
		return Result{Outcome: OutcomeUpsertFailed, RunID: runID, ArchiveKey: archiveKey, Err: err}
	}

	if r.filter != nil {
		if err := r.filter.MarkSeen(ctx, fingerprint); err != nil {
			// The upsert is idempotent, so a lost mark only costs a
			// redundant re-run on the next redelivery.
			slog.Warn("failed to record delivery fingerprint", "run_id", runID, "error", err)
		}
	}

	slog.Info("ingestion run complete",
		"run_id", runID,
		"archive_key", archiveKey,
		"inserted", summary.Inserted,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
	)

	return Result{Outcome: OutcomeUpserted, RunID: runID, ArchiveKey: archiveKey, Summary: summary}
}
