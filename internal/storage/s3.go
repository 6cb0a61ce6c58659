// Package storage persists uploaded files to S3 under a folder-like key
// layout, {type}/{ownerId}/{subId}/{fieldName}/{uuid}{ext}, enumerable
// by prefix for cascading deletion.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/MattCarneiro/forms/internal/aws"
)

// Store is the object-store handle, bound to one bucket.
type Store struct {
	client aws.S3API
	bucket string
	region string
}

// New returns a Store bound to a bucket in a region.
func New(client aws.S3API, bucket, region string) *Store {
	return &Store{client: client, bucket: bucket, region: region}
}

// ObjectKey builds a blob key for an upload. The random uuid segment
// guarantees no collision even when a retried delivery stores the same
// field twice.
func ObjectKey(formType, ownerID, subID, fieldName, originalName string) string {
	ext := strings.ToLower(path.Ext(originalName))
	return fmt.Sprintf("%s/%s/%s/%s/%s%s", formType, ownerID, subID, fieldName, uuid.NewString(), ext)
}

// Upload stores the payload under key and returns the object's public
// URL.
func (s *Store) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s%s: %w", apiErrorCode(err), key, err)
	}
	log.Debug().Str("key", key).Int("bytes", len(body)).Msg("object stored")
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), nil
}

// DeletePrefix removes every object under the prefix. Listings are
// drained iteratively until no truncated page remains; zero matching
// objects is a success.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) error {
	for {
		listed, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket: &s.bucket,
			Prefix: &prefix,
		})
		if err != nil {
			return fmt.Errorf("list objects under %q: %w", prefix, err)
		}
		if len(listed.Contents) == 0 {
			return nil
		}

		objects := make([]s3types.ObjectIdentifier, 0, len(listed.Contents))
		for _, obj := range listed.Contents {
			objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
		}
		deleted, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: &s.bucket,
			Delete: &s3types.Delete{
				Objects: objects,
				Quiet:   sdkaws.Bool(true),
			},
		})
		if err != nil {
			return fmt.Errorf("delete %d objects under %q: %w", len(objects), prefix, err)
		}
		if len(deleted.Errors) > 0 {
			first := deleted.Errors[0]
			return fmt.Errorf("delete under %q left %d objects, first %s: %s",
				prefix, len(deleted.Errors), sdkaws.ToString(first.Key), sdkaws.ToString(first.Message))
		}
		log.Debug().Str("prefix", prefix).Int("count", len(objects)).Msg("objects deleted")

		if !sdkaws.ToBool(listed.IsTruncated) {
			return nil
		}
		// Truncated listing: the deleted page is gone, so listing from
		// the start again converges without a continuation token.
	}
}

// apiErrorCode renders the service error code for log and error text,
// empty when the error carries none.
func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return "[" + apiErr.ErrorCode() + "] "
	}
	return ""
}
