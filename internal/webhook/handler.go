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

// Package webhook handles SendGrid Inbound Parse deliveries. SendGrid
// POSTs each received email as a multipart form and redelivers on any
// non-2xx response, so the handler acknowledges every expected outcome
// with 200 and reserves failure statuses for configuration errors a
// human must fix.
package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/ledgerline/ingestion/internal/models"
	"github.com/ledgerline/ingestion/internal/pipeline"
)

// maxFormMemory bounds in-memory multipart parsing; larger file parts
// spill to disk.
const maxFormMemory = 32 << 20

// Pipeline runs one ingestion pass over an inbound event.
type Pipeline interface {
	Run(ctx context.Context, event *models.InboundEvent) pipeline.Result
}

// Handler processes inbound email webhook requests.
type Handler struct {
	pipeline Pipeline
}

// NewHandler creates an inbound email handler.
func NewHandler(p Pipeline) *Handler {
	return &Handler{pipeline: p}
}

// ServeInbound handles the inbound email endpoint.
//
//   - GET is a liveness probe
//   - POST carries one email delivery as multipart form data: scalar
//     fields from/to/subject plus attachmentN file parts
func (h *Handler) ServeInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "billing-inbound endpoint is alive")
		return
	}

	event, err := decodeInboundForm(r)
	if err != nil {
		// Redelivery cannot fix a malformed sender payload.
		slog.Error("failed to decode inbound form", "error", err)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ignored: unreadable form data")
		return
	}

	res := h.pipeline.Run(r.Context(), event)
	status, body := respond(res)

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

// respond maps a pipeline outcome onto the webhook response contract.
func respond(res pipeline.Result) (int, string) {
	switch res.Outcome {
	case pipeline.OutcomeUpserted:
		s := res.Summary
		return http.StatusOK, fmt.Sprintf("ok: %d rows applied (%d inserted, %d updated, %d skipped)",
			s.Rows(), s.Inserted, s.Updated, s.Skipped)
	case pipeline.OutcomeArchived:
		return http.StatusOK, fmt.Sprintf("ok: archived %d rows", res.Rows)
	case pipeline.OutcomeDuplicate:
		return http.StatusOK, "ok: duplicate delivery, rows already applied"
	case pipeline.OutcomeNoAttachment:
		return http.StatusOK, "ok: no attachments"
	case pipeline.OutcomeNoMatch:
		return http.StatusOK, "ok: no billing extract attached"
	case pipeline.OutcomeParseFailed:
		return http.StatusOK, "ignored: extract unparseable, logged"
	case pipeline.OutcomeArchiveFailed:
		return http.StatusOK, "ignored: archive unavailable, logged"
	case pipeline.OutcomeUpsertFailed:
		return http.StatusOK, "ignored: store unavailable, logged"
	case pipeline.OutcomeConfigError:
		return http.StatusInternalServerError, "configuration error, operator attention required"
	default:
		return http.StatusOK, "ok"
	}
}

// decodeInboundForm converts a multipart POST into an InboundEvent.
// Attachments keep their multipart field names so the selector can apply
// the transport's enumeration convention; field names are sorted because
// Go's parsed multipart form is a map with no stable order.
func decodeInboundForm(r *http.Request) (*models.InboundEvent, error) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		return nil, fmt.Errorf("parse multipart form: %w", err)
	}

	event := &models.InboundEvent{
		From:    r.FormValue("from"),
		To:      r.FormValue("to"),
		Subject: r.FormValue("subject"),
	}

	form := r.MultipartForm
	if form == nil {
		return event, nil
	}

	fields := make([]string, 0, len(form.File))
	for field := range form.File {
		fields = append(fields, field)
	}
	sortFieldNames(fields)

	for _, field := range fields {
		for _, fh := range form.File[field] {
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("open file part %s: %w", field, err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("read file part %s: %w", field, err)
			}

			event.Attachments = append(event.Attachments, models.Attachment{
				FieldName:   field,
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Size:        fh.Size,
				Data:        data,
			})
		}
	}

	return event, nil
}

// sortFieldNames orders multipart field names by their trailing ordinal
// when the alphabetic stems match, so attachment2 precedes attachment10.
// Names without an ordinal fall back to a plain string compare.
func sortFieldNames(fields []string) {
	sort.Slice(fields, func(i, j int) bool {
		si, ni, oki := splitOrdinal(fields[i])
		sj, nj, okj := splitOrdinal(fields[j])
		if oki && okj && si == sj {
			return ni < nj
		}
		return fields[i] < fields[j]
	})
}

// splitOrdinal splits a field name into its stem and trailing number.
func splitOrdinal(s string) (stem string, n int, ok bool) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return s, 0, false
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return s, 0, false
	}
	return s[:i], n, true
}

// Serve starts the webhook HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned channel
// before starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler, health http.HandlerFunc) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/inbound/sendgrid", handler.ServeInbound)
	if health != nil {
		mux.HandleFunc("/health", health)
	}

	server := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("webhook server shutdown incomplete", "error", err)
		}
	}()

	go func() {
		slog.Info("webhook server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, nil
}
