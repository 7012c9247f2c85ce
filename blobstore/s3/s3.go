package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/rfdb/rfdb/blobstore"
	"github.com/rfdb/rfdb/internal/hash"
)

// Client is the subset of the S3 API the stores use. *s3.Client
// satisfies it; tests substitute fakes.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Store implements blobstore.Store on a standard S3 bucket. Manifest
// writes ride single PutObject calls, which S3 applies atomically;
// archive segments stream through multipart uploads.
type Store struct {
	client Client
	bucket string
	prefix string
}

// NewStore creates an S3 blob store. rootPrefix is prepended to all
// names, e.g. "rfdb/myproject".
func NewStore(client Client, bucket, rootPrefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: rootPrefix}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Open opens a blob for streaming reads.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapNotFound(err)
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapNotFound(err)
	}
	return &s3Blob{body: resp.Body, size: aws.ToInt64(head.ContentLength)}, nil
}

// Get reads a whole blob.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	blob, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return blobstore.ReadAll(blob)
}

// Put publishes data under name in one atomic PutObject, carrying a
// CRC32C checksum S3 verifies server-side.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:         aws.String(s.bucket),
		Key:            aws.String(s.key(name)),
		Body:           bytes.NewReader(data),
		ContentLength:  aws.Int64(int64(len(data))),
		ChecksumCRC32C: aws.String(encodeCRC32C(data)),
	})
	return err
}

// Create starts a streaming multipart upload. The object appears only
// when Close succeeds; Abort discards the parts.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return newUploadBlob(ctx, s.client, s.bucket, s.key(name)), nil
}

// Delete removes a blob. S3 DeleteObject on a missing key succeeds, so
// the missing-is-ok contract comes for free.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	return err
}

// List returns the names of all blobs with the given prefix, relative
// to the store's root prefix, sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	return listObjects(ctx, s.client, s.bucket, s.key(prefix), s.prefix)
}

func listObjects(ctx context.Context, client Client, bucket, fullPrefix, rootPrefix string) ([]string, error) {
	var names []string
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			name := aws.ToString(obj.Key)
			if rootPrefix != "" {
				name = strings.TrimPrefix(strings.TrimPrefix(name, rootPrefix), "/")
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func mapNotFound(err error) error {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return blobstore.ErrNotFound
	}
	return err
}

func encodeCRC32C(data []byte) string {
	sum := hash.CRC32C(data)
	b := []byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)}
	return base64.StdEncoding.EncodeToString(b)
}

// s3Blob wraps one GetObject body.
type s3Blob struct {
	body io.ReadCloser
	size int64
}

func (b *s3Blob) Read(p []byte) (int, error) { return b.body.Read(p) }
func (b *s3Blob) Close() error               { return b.body.Close() }
func (b *s3Blob) Size() int64                { return b.size }

// uploadBlob streams writes into a multipart upload via the transfer
// manager. CRC32C checksums cover every part.
type uploadBlob struct {
	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan error
	closed atomic.Bool
}

func newUploadBlob(ctx context.Context, client Client, bucket, key string) *uploadBlob {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	blob := &uploadBlob{pw: pw, cancel: cancel, done: make(chan error, 1)}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.LeavePartsOnError = false
	})
	go func() {
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:            aws.String(bucket),
			Key:               aws.String(key),
			Body:              pr,
			ChecksumAlgorithm: types.ChecksumAlgorithmCrc32c,
		})
		_ = pr.CloseWithError(err)
		blob.done <- err
	}()
	return blob
}

func (b *uploadBlob) Write(p []byte) (int, error) {
	if b.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return b.pw.Write(p)
}

// Close finishes the upload; the object becomes visible only when it
// returns nil.
func (b *uploadBlob) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return io.ErrClosedPipe
	}
	if err := b.pw.Close(); err != nil {
		return err
	}
	defer b.cancel()
	return <-b.done
}

// Abort discards the upload. The transfer manager cleans up any parts
// already sent. Safe to call after a failed Close.
func (b *uploadBlob) Abort() error {
	firstClose := b.closed.CompareAndSwap(false, true)
	_ = b.pw.CloseWithError(context.Canceled)
	b.cancel()
	if firstClose {
		<-b.done
	}
	return nil
}
