package s3

import (
	"bytes"
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/rfdb/rfdb/blobstore"
)

// ErrExists is returned by PutIfNotExists when the object already
// exists.
var ErrExists = errors.New("s3: object already exists")

// ExpressStore implements blobstore.Store on an S3 Express One Zone
// directory bucket (name ending in --azid--x-s3). Express buckets give
// single-digit-millisecond access and support conditional writes, which
// PutIfNotExists uses to make manifest version files first-writer-wins:
// two processes racing to publish MANIFEST-000007 cannot both succeed.
type ExpressStore struct {
	Store
}

// NewExpressStore creates a store on a directory bucket.
func NewExpressStore(client Client, bucket, rootPrefix string) *ExpressStore {
	return &ExpressStore{Store: Store{client: client, bucket: bucket, prefix: rootPrefix}}
}

// PutIfNotExists publishes data under name only when no object exists
// there yet, via an If-None-Match conditional write.
func (s *ExpressStore) PutIfNotExists(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "PreconditionFailed", "ConditionalRequestConflict":
				return ErrExists
			}
		}
		return err
	}
	return nil
}

var _ blobstore.Store = (*ExpressStore)(nil)
