package forms

import (
	"fmt"
	"time"
)

// NewRecord builds a fresh record for a key. Field names are normalized
// and de-duplicated; insertion order is preserved.
func NewRecord(key Key, fields []string, redirectURL string, now time.Time) *Record {
	return &Record{
		Type:        key.Type,
		OwnerID:     key.OwnerID,
		SubID:       key.SubID,
		Code:        key.Code,
		Fields:      NormalizeFields(fields),
		Uploaded:    map[string]UploadStatus{},
		RedirectURL: redirectURL,
		CreatedAt:   now.UnixMilli(),
		WebhookSent: false,
	}
}

// HasField reports whether the normalized name is one of the record's
// known fields.
func (r *Record) HasField(field string) bool {
	for _, f := range r.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// State transitions. A field only ever advances
// absent -> pending -> uploaded; every mutation path goes through these
// methods so no handler can regress a field or double-arm the webhook.

// MarkPending records that a file for the field was accepted and
// enqueued. Rejects unknown fields and fields that already completed.
func (r *Record) MarkPending(field, originalName string, now time.Time) error {
	if !r.HasField(field) {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	if cur, ok := r.Uploaded[field]; ok && cur.Status == StatusUploaded {
		return fmt.Errorf("%w: %q", ErrAlreadyUploaded, field)
	}
	r.Uploaded[field] = UploadStatus{
		Status:       StatusPending,
		OriginalName: originalName,
		Timestamp:    now.UnixMilli(),
	}
	return nil
}

// MarkUploaded records the durable blob for the field. Re-delivery of an
// already-uploaded field overwrites with equivalent data; that keeps
// duplicate queue deliveries a safe no-op.
func (r *Record) MarkUploaded(field, originalName, url string, now time.Time) error {
	if !r.HasField(field) {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	r.Uploaded[field] = UploadStatus{
		Status:       StatusUploaded,
		OriginalName: originalName,
		URL:          url,
		Timestamp:    now.UnixMilli(),
	}
	return nil
}

// MarkWebhookSent flips the single-fire completion guard. Returns false
// when the webhook was already recorded as sent.
func (r *Record) MarkWebhookSent() bool {
	if r.WebhookSent {
		return false
	}
	r.WebhookSent = true
	return true
}

// Reset replaces the field set and wipes all upload state, restarting
// the record's lifetime. CreatedAt and the webhook guard start over.
func (r *Record) Reset(fields []string, now time.Time) {
	r.Fields = NormalizeFields(fields)
	r.Uploaded = map[string]UploadStatus{}
	r.CreatedAt = now.UnixMilli()
	r.WebhookSent = false
}

// AllUploaded reports whether every known field reached uploaded. O(n)
// over the field list; recomputed per delivery.
func (r *Record) AllUploaded() bool {
	if len(r.Fields) == 0 {
		return false
	}
	for _, f := range r.Fields {
		if st, ok := r.Uploaded[f]; !ok || st.Status != StatusUploaded {
			return false
		}
	}
	return true
}

// HasActivity reports whether any field is pending or uploaded. The
// sweeper never touches a record with activity, regardless of age.
func (r *Record) HasActivity() bool {
	for _, st := range r.Uploaded {
		if st.Status == StatusPending || st.Status == StatusUploaded {
			return true
		}
	}
	return false
}

// Expired reports whether the record is past the expiration window and
// has seen zero upload activity.
func (r *Record) Expired(now time.Time, window time.Duration) bool {
	if r.HasActivity() {
		return false
	}
	return now.UnixMilli()-r.CreatedAt > window.Milliseconds()
}
