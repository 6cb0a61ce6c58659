package forms

import (
	"context"
	"encoding/json"
	"fmt"
)

// StateStore is the durable key-value capability the form model runs
// on. Get returns (nil, nil) for a missing key. All record mutations
// are read-modify-write without a transaction guarantee; the accepted
// eventual-consistency window is documented on the consumer's
// completion check.
type StateStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Publish(ctx context.Context, channel string, payload []byte) error
}

// LoadRecord fetches and decodes the record for a key. Returns
// (nil, nil) when the record does not exist.
func LoadRecord(ctx context.Context, store StateStore, key Key) (*Record, error) {
	raw, err := store.Get(ctx, key.RecordKey())
	if err != nil {
		return nil, fmt.Errorf("get form record: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode form record %s: %w", key.RecordKey(), err)
	}
	if rec.Uploaded == nil {
		rec.Uploaded = map[string]UploadStatus{}
	}
	return &rec, nil
}

// SaveRecord encodes and persists the record under its composite key.
func SaveRecord(ctx context.Context, store StateStore, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode form record: %w", err)
	}
	if err := store.Set(ctx, rec.Key().RecordKey(), raw); err != nil {
		return fmt.Errorf("set form record: %w", err)
	}
	return nil
}
