package forms

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// QueuePublisher publishes a serialized upload job to the durable queue.
type QueuePublisher interface {
	Publish(ctx context.Context, body []byte) error
}

// BlobDeleter removes every stored object under a folder prefix.
type BlobDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// ServiceConfig carries the policy knobs the producer enforces.
type ServiceConfig struct {
	BaseURL            string
	AllowedFormats     []string
	MaxFileSize        int64
	DefaultRedirectURL string
}

// Service implements the producer-side form operations: create, reset,
// upload, delete, listing and redirect lookup. The consumer side lives
// in the worker.
type Service struct {
	store   StateStore
	queue   QueuePublisher
	blobs   BlobDeleter
	cfg     ServiceConfig
	allowed map[string]struct{}
	nowFunc func() time.Time
}

// NewService wires a Service from its collaborators.
func NewService(store StateStore, queue QueuePublisher, blobs BlobDeleter, cfg ServiceConfig) *Service {
	allowed := make(map[string]struct{}, len(cfg.AllowedFormats))
	for _, f := range cfg.AllowedFormats {
		allowed[strings.ToLower(strings.TrimSpace(f))] = struct{}{}
	}
	return &Service{
		store:   store,
		queue:   queue,
		blobs:   blobs,
		cfg:     cfg,
		allowed: allowed,
		nowFunc: time.Now,
	}
}

// CreateInput names a logical form and its desired field set.
type CreateInput struct {
	Type        string
	OwnerID     string
	SubID       string
	Fields      []string
	RedirectURL string
}

// Create creates the form for the identity, or updates it in place when
// it already exists. The instance code is reused via the alias record so
// repeated creates keep the same shareable link. Changing the field set
// wipes existing uploads and re-arms the completion webhook.
func (s *Service) Create(ctx context.Context, in CreateInput) (string, error) {
	alias := Key{Type: in.Type, OwnerID: in.OwnerID, SubID: in.SubID}
	code, err := s.store.Get(ctx, alias.AliasKey())
	if err != nil {
		return "", fmt.Errorf("get form alias: %w", err)
	}
	if code == nil {
		fresh, err := newCode()
		if err != nil {
			return "", err
		}
		code = []byte(fresh)
		if err := s.store.Set(ctx, alias.AliasKey(), code); err != nil {
			return "", fmt.Errorf("set form alias: %w", err)
		}
	}

	key := Key{Type: in.Type, OwnerID: in.OwnerID, SubID: in.SubID, Code: string(code)}
	rec, err := LoadRecord(ctx, s.store, key)
	if err != nil {
		return "", err
	}
	now := s.nowFunc()
	if rec == nil {
		redirect := in.RedirectURL
		if redirect == "" {
			redirect = s.cfg.DefaultRedirectURL
		}
		rec = NewRecord(key, in.Fields, redirect, now)
		log.Info().Str("form", key.RecordKey()).Strs("fields", rec.Fields).Msg("form created")
	} else {
		next := NormalizeFields(in.Fields)
		if !equalFields(rec.Fields, next) {
			// Field set changed: uploads so far belong to the old
			// layout, so they are discarded and the webhook re-armed.
			// CreatedAt is untouched; only an explicit reset restarts
			// the record's lifetime.
			rec.Fields = next
			rec.Uploaded = map[string]UploadStatus{}
			rec.WebhookSent = false
			log.Info().Str("form", key.RecordKey()).Strs("fields", next).Msg("form fields replaced, uploads cleared")
		}
		if in.RedirectURL != "" && rec.RedirectURL != in.RedirectURL {
			rec.RedirectURL = in.RedirectURL
		}
	}
	if err := SaveRecord(ctx, s.store, rec); err != nil {
		return "", err
	}
	return s.FormURL(key), nil
}

// Reset fully replaces the form behind a link: new field set, cleared
// uploads, fresh CreatedAt, webhook re-armed. The code embedded in the
// link is kept and re-pinned as the current instance.
func (s *Service) Reset(ctx context.Context, link string, fields []string) (string, error) {
	key, err := ParseLink(link)
	if err != nil {
		return "", err
	}
	rec := NewRecord(key, fields, "", s.nowFunc())
	if err := SaveRecord(ctx, s.store, rec); err != nil {
		return "", err
	}
	if err := s.store.Set(ctx, key.AliasKey(), []byte(key.Code)); err != nil {
		return "", fmt.Errorf("set form alias: %w", err)
	}
	log.Info().Str("form", key.RecordKey()).Msg("form reset")
	return link, nil
}

// Get fetches a record, returning (nil, nil) when it does not exist.
func (s *Service) Get(ctx context.Context, key Key) (*Record, error) {
	return LoadRecord(ctx, s.store, key)
}

// UploadInput is one submitted file.
type UploadInput struct {
	OriginalName string
	Size         int64
	MimeType     string
	Data         []byte
}

// Upload validates a submitted file and hands it to the pipeline:
// publish the job first (a dead broker fails the request loudly), then
// mark the field pending. Validation failures leave no side effects.
func (s *Service) Upload(ctx context.Context, key Key, field string, file UploadInput) error {
	rec, err := LoadRecord(ctx, s.store, key)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrFormNotFound
	}

	field = NormalizeField(field)
	if !rec.HasField(field) {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	if cur, ok := rec.Uploaded[field]; ok && cur.Status == StatusUploaded {
		return fmt.Errorf("%w: %q", ErrAlreadyUploaded, field)
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(file.OriginalName), "."))
	if _, ok := s.allowed[ext]; !ok {
		return fmt.Errorf("%w: field %q accepts %s", ErrDisallowedExtension, field, strings.Join(s.cfg.AllowedFormats, ", "))
	}
	if file.Size > s.cfg.MaxFileSize {
		return fmt.Errorf("%w: field %q allows at most %.2f MB", ErrFileTooLarge, field, float64(s.cfg.MaxFileSize)/(1024*1024))
	}

	job := UploadJob{
		Type:         key.Type,
		OwnerID:      key.OwnerID,
		SubID:        key.SubID,
		Code:         key.Code,
		FieldName:    field,
		OriginalName: file.OriginalName,
		Payload:      file.Data,
		MimeType:     file.MimeType,
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode upload job: %w", err)
	}
	if err := s.queue.Publish(ctx, body); err != nil {
		return fmt.Errorf("publish upload job: %w", err)
	}

	now := s.nowFunc()
	if err := rec.MarkPending(field, file.OriginalName, now); err != nil {
		return err
	}
	if err := SaveRecord(ctx, s.store, rec); err != nil {
		// The job is already queued; report the failure rather than
		// leave the caller believing nothing happened.
		return fmt.Errorf("mark field pending after publish: %w", err)
	}
	log.Info().Str("form", key.RecordKey()).Str("field", field).Str("file", file.OriginalName).Msg("upload queued")
	return nil
}

// Delete cascades: object-store folder first, then record and alias.
func (s *Service) Delete(ctx context.Context, key Key) error {
	if err := s.blobs.DeletePrefix(ctx, key.BlobPrefix()); err != nil {
		return fmt.Errorf("delete form blobs: %w", err)
	}
	if err := s.store.Del(ctx, key.RecordKey(), key.AliasKey()); err != nil {
		return fmt.Errorf("delete form keys: %w", err)
	}
	log.Info().Str("form", key.RecordKey()).Msg("form deleted")
	return nil
}

// DeleteByLink resolves a shareable link and deletes the form behind it.
func (s *Service) DeleteByLink(ctx context.Context, link string) error {
	key, err := ParseLink(link)
	if err != nil {
		return err
	}
	rec, err := LoadRecord(ctx, s.store, key)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrFormNotFound
	}
	return s.Delete(ctx, key)
}

// List returns every form record in the store. Records whose key does
// not parse are skipped; a record that vanishes mid-scan is not an
// error.
func (s *Service) List(ctx context.Context) ([]Record, error) {
	keys, err := s.store.Keys(ctx, "form:*:*:*:*")
	if err != nil {
		return nil, fmt.Errorf("scan form keys: %w", err)
	}
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		parts := strings.Split(k, ":")
		if len(parts) != 5 {
			continue
		}
		key := Key{Type: parts[1], OwnerID: parts[2], SubID: parts[3], Code: parts[4]}
		rec, err := LoadRecord(ctx, s.store, key)
		if err != nil || rec == nil {
			continue
		}
		// The key is authoritative for identity; old records may
		// predate the embedded fields.
		rec.Type, rec.OwnerID, rec.SubID, rec.Code = key.Type, key.OwnerID, key.SubID, key.Code
		out = append(out, *rec)
	}
	return out, nil
}

// RedirectURL picks a redirect destination for a logical identity: a
// random one among its redirect-bearing instances, else the configured
// default.
func (s *Service) RedirectURL(ctx context.Context, formType, ownerID, subID string) string {
	pattern := fmt.Sprintf("form:%s:%s:%s:*", formType, ownerID, subID)
	keys, err := s.store.Keys(ctx, pattern)
	if err != nil {
		log.Warn().Err(err).Str("pattern", pattern).Msg("redirect lookup failed")
		return s.cfg.DefaultRedirectURL
	}
	var candidates []string
	for _, k := range keys {
		raw, err := s.store.Get(ctx, k)
		if err != nil || raw == nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if rec.RedirectURL != "" {
			candidates = append(candidates, rec.RedirectURL)
		}
	}
	if len(candidates) == 0 {
		return s.cfg.DefaultRedirectURL
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(candidates))))
	if err != nil {
		return candidates[0]
	}
	return candidates[n.Int64()]
}

// FormURL builds the shareable link for a form key.
func (s *Service) FormURL(key Key) string {
	return s.cfg.BaseURL + key.Path()
}

// ParseLink extracts the form key from a shareable link of the shape
// {base}/forms/{type}/{ownerId}/{subId}/{code}.
func ParseLink(link string) (Key, error) {
	u, err := url.Parse(link)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	segs := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segs) != 5 || segs[0] != "forms" {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidLink, link)
	}
	return Key{Type: segs[1], OwnerID: segs[2], SubID: segs[3], Code: segs[4]}, nil
}

// newCode mints a fresh instance code, 8 random bytes hex-encoded.
func newCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate form code: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
