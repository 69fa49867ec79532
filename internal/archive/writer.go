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

// Package archive persists raw billing attachments to S3-compatible object
// storage as a write-once audit trail. Archival is intentionally not
// deduplicated: a redelivered event produces a new object under a new
// timestamp-qualified key, and the relational store remains the sole
// correctness boundary.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ledgerline/ingestion/internal/models"
)

// Policy selects how the pipeline treats an archival failure.
type Policy string

const (
	// PolicyBestEffort logs the failure and lets the run continue to
	// parse and upsert without an audit copy.
	PolicyBestEffort Policy = "best-effort"

	// PolicyRequired aborts the run when the archive write fails.
	PolicyRequired Policy = "required"
)

// metaMaxLen caps sanitized metadata values. S3 user metadata travels in
// HTTP headers, so free-text values from email senders are both character-
// restricted and length-capped before attachment.
const metaMaxLen = 200

// periodPattern matches a YYYY-MM billing period embedded in a filename,
// e.g. "invoice-2025-03.csv".
var periodPattern = regexp.MustCompile(`(20\d{2})-(0[1-9]|1[0-2])`)

// Provenance is the metadata bag recorded alongside an archived object.
type Provenance struct {
	From      string
	To        string
	Subject   string
	FieldName string
	Filename  string
}

// Object describes a completed archive write.
type Object struct {
	Key         string
	Size        int64
	ContentType string
}

// ClientConfig holds connection settings for the object store.
type ClientConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// NewClient creates a minio client for the archive destination.
func NewClient(cfg ClientConfig) (*minio.Client, error) {
	// minio-go expects host:port, not a full URL
	endpoint := cfg.Endpoint
	secure := cfg.UseSSL
	if strings.HasPrefix(endpoint, "https://") {
		endpoint = strings.TrimPrefix(endpoint, "https://")
		secure = true
	} else if strings.HasPrefix(endpoint, "http://") {
		endpoint = strings.TrimPrefix(endpoint, "http://")
		secure = false
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create archive client: %w", err)
	}
	return client, nil
}

// EnsureBucket creates the archive bucket if it does not exist.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check archive bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create archive bucket: %w", err)
		}
	}
	return nil
}

// objectPutter is the slice of the minio client the writer needs.
type objectPutter interface {
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Writer archives raw attachment bytes under period-partitioned keys.
type Writer struct {
	client objectPutter
	bucket string
	prefix string

	now   func() time.Time
	newID func() string
}

// NewWriter creates an archive writer targeting the given bucket. The key
// prefix is the top-level segment of every object key (e.g. "invoices").
func NewWriter(client *minio.Client, bucket, prefix string) *Writer {
	return newWriter(client, bucket, prefix)
}

func newWriter(client objectPutter, bucket, prefix string) *Writer {
	return &Writer{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString()[:8] },
	}
}

// Archive performs a single write attempt and surfaces failure to the
// caller; retry policy belongs to the orchestrator.
func (w *Writer) Archive(ctx context.Context, att models.Attachment, prov Provenance) (*Object, error) {
	key := w.objectKey(att.Filename)

	contentType := att.ContentType
	if contentType == "" {
		contentType = "text/csv"
	}

	opts := minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"from":     sanitizeMeta(prov.From),
			"to":       sanitizeMeta(prov.To),
			"subject":  sanitizeMeta(prov.Subject),
			"field":    sanitizeMeta(prov.FieldName),
			"filename": sanitizeMeta(prov.Filename),
		},
	}

	info, err := w.client.PutObject(ctx, w.bucket, key, bytes.NewReader(att.Data), int64(len(att.Data)), opts)
	if err != nil {
		return nil, fmt.Errorf("archive put %s: %w", key, err)
	}

	slog.Info("attachment archived",
		"key", key,
		"size", info.Size,
		"filename", att.Filename,
	)

	return &Object{
		Key:         key,
		Size:        info.Size,
		ContentType: contentType,
	}, nil
}

// objectKey builds the storage key for an attachment. The year/month
// partition comes from a YYYY-MM token in the filename when present — the
// upstream filename is the authoritative billing period — and from the
// ingestion clock otherwise.
func (w *Writer) objectKey(filename string) string {
	now := w.now()

	year, month, ok := periodFromFilename(filename)
	if !ok {
		year = fmt.Sprintf("%04d", now.Year())
		month = fmt.Sprintf("%02d", int(now.Month()))
	}

	name := sanitizeMeta(filename)
	if name == "" {
		name = "attachment"
	}

	return fmt.Sprintf("%s/%s/%s/%s-%s-%s",
		w.prefix, year, month,
		now.Format("20060102T150405Z"), w.newID(), name,
	)
}

// periodFromFilename extracts a YYYY-MM billing period from a filename.
func periodFromFilename(filename string) (year, month string, ok bool) {
	m := periodPattern.FindStringSubmatch(filename)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// sanitizeMeta restricts a free-text value to [A-Za-z0-9._-] and caps its
// length, guarding storage metadata against header-injection-style input.
func sanitizeMeta(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		if b.Len() >= metaMaxLen {
			break
		}
	}
	return b.String()
}

// IsConfigError reports whether an archive failure requires operator
// intervention (bad bucket or credentials) rather than redelivery.
func IsConfigError(err error) bool {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return false
	}
	switch resp.Code {
	case "NoSuchBucket", "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return true
	}
	return resp.StatusCode == http.StatusForbidden
}
