package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MattCarneiro/forms/internal/forms"
	"github.com/MattCarneiro/forms/internal/storage"
	"github.com/MattCarneiro/forms/internal/webhook"
)

// BlobUploader stores one payload and returns its durable URL.
type BlobUploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Processor is the consume-side state machine. Per dequeued job:
// store the blob, reconcile the form record, broadcast a status event,
// and fire the one-time completion webhook when the last field lands.
// A nil return from Process acknowledges the delivery; any error rejects
// it without requeue.
type Processor struct {
	store    forms.StateStore
	blobs    BlobUploader
	notifier *webhook.Notifier
	baseURL  string
	nowFunc  func() time.Time
}

// NewProcessor creates a worker processor with its collaborators
// injected.
func NewProcessor(store forms.StateStore, blobs BlobUploader, notifier *webhook.Notifier, baseURL string) *Processor {
	return &Processor{
		store:    store,
		blobs:    blobs,
		notifier: notifier,
		baseURL:  baseURL,
		nowFunc:  time.Now,
	}
}

// Process handles one delivery body.
func (p *Processor) Process(ctx context.Context, body []byte) error {
	var job forms.UploadJob
	if err := json.Unmarshal(body, &job); err != nil {
		// A malformed payload can never become processable.
		return fmt.Errorf("malformed job payload: %w", err)
	}
	key := job.Key()
	log.Info().Str("form", key.RecordKey()).Str("field", job.FieldName).Str("file", job.OriginalName).Msg("job received")

	objectKey := storage.ObjectKey(job.Type, job.OwnerID, job.SubID, job.FieldName, job.OriginalName)
	url, err := p.blobs.Upload(ctx, objectKey, job.Payload, job.MimeType)
	if err != nil {
		// Persistent store failures would requeue-loop forever; reject
		// and leave reprocessing to an operator.
		return fmt.Errorf("store blob for field %q: %w", job.FieldName, err)
	}

	rec, err := forms.LoadRecord(ctx, p.store, key)
	if err != nil {
		return fmt.Errorf("read form record: %w", err)
	}
	if rec == nil {
		// The record was deleted after enqueue. A race to tolerate,
		// not an error: drop the orphaned job.
		log.Warn().Str("form", key.RecordKey()).Msg("form record missing, dropping orphaned job")
		return nil
	}

	now := p.nowFunc()
	if err := rec.MarkUploaded(job.FieldName, job.OriginalName, url, now); err != nil {
		// The field set changed since enqueue; the job has no home
		// anymore. Same orphan race as a deleted record.
		log.Warn().Err(err).Str("form", key.RecordKey()).Msg("job field no longer on record, dropping")
		return nil
	}
	if err := forms.SaveRecord(ctx, p.store, rec); err != nil {
		// Ack only happens after this write lands; rejecting here may
		// leave the field unreconciled until manual intervention.
		log.Error().Err(err).Str("form", key.RecordKey()).Str("field", job.FieldName).Msg("form record write failed after blob store")
		return fmt.Errorf("persist uploaded status: %w", err)
	}
	log.Info().Str("form", key.RecordKey()).Str("field", job.FieldName).Str("url", url).Msg("field uploaded")

	p.publishStatus(ctx, key, job.FieldName, url)
	p.maybeComplete(ctx, key)
	return nil
}

// publishStatus broadcasts the field's new status. Fire and forget.
func (p *Processor) publishStatus(ctx context.Context, key forms.Key, field, url string) {
	evt := forms.StatusEvent{
		Type:      key.Type,
		OwnerID:   key.OwnerID,
		SubID:     key.SubID,
		Code:      key.Code,
		FieldName: field,
		Status:    forms.StatusUploaded,
		URL:       url,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := p.store.Publish(ctx, forms.StatusChannel, payload); err != nil {
		log.Warn().Err(err).Msg("status event publish failed")
	}
}

// maybeComplete fires the completion webhook when every field is
// uploaded and the record has not fired before. The condition is
// re-checked against a fresh read so concurrent consumers converge on
// the same record state; the webhookSent check-then-set keeps the fire
// best-effort single, not strictly exactly-once under true concurrent
// writers.
func (p *Processor) maybeComplete(ctx context.Context, key forms.Key) {
	rec, err := forms.LoadRecord(ctx, p.store, key)
	if err != nil || rec == nil {
		return
	}
	if !rec.AllUploaded() || rec.WebhookSent {
		return
	}
	if !p.notifier.CompletionEnabled() {
		log.Warn().Str("form", key.RecordKey()).Msg("form complete but completion webhook disabled")
		return
	}

	formURL := p.baseURL + key.Path()
	if err := p.notifier.SendCompletion(ctx, formURL); err != nil {
		// Best effort: log, never block acknowledgment or retry the
		// upload.
		log.Error().Err(err).Str("form", key.RecordKey()).Msg("completion webhook failed")
		return
	}
	if !rec.MarkWebhookSent() {
		return
	}
	if err := forms.SaveRecord(ctx, p.store, rec); err != nil {
		log.Error().Err(err).Str("form", key.RecordKey()).Msg("failed to persist webhookSent flag")
		return
	}
	log.Info().Str("form", key.RecordKey()).Msg("completion webhook sent")
}
