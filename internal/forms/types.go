package forms

import (
	"errors"
	"fmt"
)

// Upload statuses for a single field.
const (
	StatusPending  = "pending"
	StatusUploaded = "uploaded"
)

// StatusChannel is the pub/sub channel carrying fire-and-forget status
// events. Delivery is not guaranteed; listeners are purely observational.
const StatusChannel = "upload-status"

var (
	ErrFormNotFound        = errors.New("form not found")
	ErrUnknownField        = errors.New("unknown field")
	ErrAlreadyUploaded     = errors.New("field already has an uploaded file")
	ErrDisallowedExtension = errors.New("file extension not allowed")
	ErrFileTooLarge        = errors.New("file exceeds the maximum size")
	ErrInvalidLink         = errors.New("invalid form link")
)

// Key identifies one form instance. Type/OwnerID/SubID name the logical
// form; Code distinguishes the current instance so a reset can mint a
// fresh link without orphaning lookups.
type Key struct {
	Type    string `json:"type"`
	OwnerID string `json:"ownerId"`
	SubID   string `json:"subId"`
	Code    string `json:"code"`
}

// RecordKey is the state-store key holding the form record.
func (k Key) RecordKey() string {
	return fmt.Sprintf("form:%s:%s:%s:%s", k.Type, k.OwnerID, k.SubID, k.Code)
}

// AliasKey is the state-store key mapping the logical identity to the
// current code.
func (k Key) AliasKey() string {
	return fmt.Sprintf("formid:%s:%s:%s", k.Type, k.OwnerID, k.SubID)
}

// BlobPrefix is the object-store folder holding every file uploaded for
// this logical form.
func (k Key) BlobPrefix() string {
	return fmt.Sprintf("%s/%s/%s/", k.Type, k.OwnerID, k.SubID)
}

// Path is the URL path of the form page.
func (k Key) Path() string {
	return fmt.Sprintf("/forms/%s/%s/%s/%s", k.Type, k.OwnerID, k.SubID, k.Code)
}

// UploadStatus tracks one field's progress. Absence of an entry means
// the field was never attempted.
type UploadStatus struct {
	Status       string `json:"status"`
	OriginalName string `json:"originalName"`
	URL          string `json:"url,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// Record is the form record persisted in the state store, one per form
// instance. Fields keeps insertion order; step numbering on the form
// page follows it.
type Record struct {
	Type        string                  `json:"type"`
	OwnerID     string                  `json:"ownerId"`
	SubID       string                  `json:"subId"`
	Code        string                  `json:"code"`
	Fields      []string                `json:"fields"`
	Uploaded    map[string]UploadStatus `json:"uploaded"`
	RedirectURL string                  `json:"redirectUrl,omitempty"`
	CreatedAt   int64                   `json:"createdAt"`
	WebhookSent bool                    `json:"webhookSent"`
}

// Key returns the composite key of the record.
func (r *Record) Key() Key {
	return Key{Type: r.Type, OwnerID: r.OwnerID, SubID: r.SubID, Code: r.Code}
}

// UploadJob is the queue message produced on upload and consumed by the
// worker. Payload is the raw file content; encoding/json carries it
// base64-encoded on the wire.
type UploadJob struct {
	Type         string `json:"type"`
	OwnerID      string `json:"ownerId"`
	SubID        string `json:"subId"`
	Code         string `json:"code"`
	FieldName    string `json:"fieldName"`
	OriginalName string `json:"originalName"`
	Payload      []byte `json:"payload"`
	MimeType     string `json:"mimeType"`
}

// Key returns the form key the job belongs to.
func (j UploadJob) Key() Key {
	return Key{Type: j.Type, OwnerID: j.OwnerID, SubID: j.SubID, Code: j.Code}
}

// StatusEvent is broadcast on StatusChannel after a field reaches
// uploaded. Best effort only.
type StatusEvent struct {
	Type      string `json:"type"`
	OwnerID   string `json:"ownerId"`
	SubID     string `json:"subId"`
	Code      string `json:"code"`
	FieldName string `json:"fieldName"`
	Status    string `json:"status"`
	URL       string `json:"url"`
}
