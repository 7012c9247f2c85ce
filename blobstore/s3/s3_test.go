package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfdb/rfdb/blobstore"
)

// fakeS3 is an in-memory Client. It honors the pieces of the API the
// store depends on: checksum capture, If-None-Match, prefix listing and
// multipart sessions.
type fakeS3 struct {
	mu        sync.Mutex
	objects   map[string][]byte
	checksums map[string]string
	uploads   map[string]map[int32][]byte
	nextID    int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:   make(map[string][]byte),
		checksums: make(map[string]string),
		uploads:   make(map[string]map[int32][]byte),
	}
}

func (f *fakeS3) GetObject(_ context.Context, params *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, params *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &awss3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, params *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(params.Key)
	if params.IfNoneMatch != nil {
		if _, exists := f.objects[key]; exists {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}
		}
	}
	f.objects[key] = data
	f.checksums[key] = aws.ToString(params.ChecksumCRC32C)
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, params *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(params.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, params *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := &awss3.ListObjectsV2Output{}
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, params *awss3.CreateMultipartUploadInput, _ ...func(*awss3.Options)) (*awss3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = make(map[int32][]byte)
	return &awss3.CreateMultipartUploadOutput{
		UploadId: aws.String(id),
		Key:      params.Key,
	}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, params *awss3.UploadPartInput, _ ...func(*awss3.Options)) (*awss3.UploadPartOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	parts, ok := f.uploads[aws.ToString(params.UploadId)]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	parts[aws.ToInt32(params.PartNumber)] = data
	return &awss3.UploadPartOutput{
		ETag: aws.String(fmt.Sprintf("etag-%d", aws.ToInt32(params.PartNumber))),
	}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, params *awss3.CompleteMultipartUploadInput, _ ...func(*awss3.Options)) (*awss3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(params.UploadId)
	parts, ok := f.uploads[id]
	if !ok {
		return nil, &types.NoSuchUpload{}
	}
	numbers := make([]int32, 0, len(parts))
	for n := range parts {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	var buf bytes.Buffer
	for _, n := range numbers {
		buf.Write(parts[n])
	}
	f.objects[aws.ToString(params.Key)] = buf.Bytes()
	delete(f.uploads, id)
	return &awss3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, params *awss3.AbortMultipartUploadInput, _ ...func(*awss3.Options)) (*awss3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, aws.ToString(params.UploadId))
	return &awss3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

func TestStore_PutGet(t *testing.T) {
	fake := newFakeS3()
	store := NewStore(fake, "bucket", "rfdb/proj")
	ctx := context.Background()

	data := []byte("manifest payload")
	require.NoError(t, store.Put(ctx, "manifest/CURRENT", data))

	// Names are rooted under the store prefix and carry a CRC32C.
	stored, ok := fake.object("rfdb/proj/manifest/CURRENT")
	require.True(t, ok)
	assert.Equal(t, data, stored)
	assert.Equal(t, encodeCRC32C(data), fake.checksums["rfdb/proj/manifest/CURRENT"])

	got, err := store.Get(ctx, "manifest/CURRENT")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = store.Get(ctx, "manifest/MISSING")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_OpenReportsSize(t *testing.T) {
	fake := newFakeS3()
	store := NewStore(fake, "bucket", "")
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "blob", []byte("12345")))

	blob, err := store.Open(ctx, "blob")
	require.NoError(t, err)
	assert.Equal(t, int64(5), blob.Size())
	got, err := blobstore.ReadAll(blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("12345"), got)
}

func TestStore_ListTrimsRootPrefix(t *testing.T) {
	fake := newFakeS3()
	store := NewStore(fake, "bucket", "rfdb/proj")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "manifest/MANIFEST-000001", []byte("a")))
	require.NoError(t, store.Put(ctx, "manifest/MANIFEST-000002", []byte("b")))
	require.NoError(t, store.Put(ctx, "snapshots/000001/COMPLETE", []byte("1")))

	names, err := store.List(ctx, "manifest/")
	require.NoError(t, err)
	assert.Equal(t, []string{"manifest/MANIFEST-000001", "manifest/MANIFEST-000002"}, names)
}

func TestStore_DeleteMissingIsOK(t *testing.T) {
	store := NewStore(newFakeS3(), "bucket", "")
	assert.NoError(t, store.Delete(context.Background(), "nope"))
}

func TestStore_CreateCloseAbort(t *testing.T) {
	fake := newFakeS3()
	store := NewStore(fake, "bucket", "rfdb/proj")
	ctx := context.Background()

	wb, err := store.Create(ctx, "files/seg.lz4")
	require.NoError(t, err)
	_, err = wb.Write([]byte("part one "))
	require.NoError(t, err)
	_, err = wb.Write([]byte("part two"))
	require.NoError(t, err)

	_, visible := fake.object("rfdb/proj/files/seg.lz4")
	assert.False(t, visible, "object must not appear before Close")
	require.NoError(t, wb.Close())

	got, err := store.Get(ctx, "files/seg.lz4")
	require.NoError(t, err)
	assert.Equal(t, []byte("part one part two"), got)

	// An aborted write leaves nothing behind.
	wb, err = store.Create(ctx, "files/aborted.lz4")
	require.NoError(t, err)
	_, err = wb.Write([]byte("doomed"))
	require.NoError(t, err)
	require.NoError(t, wb.Abort())
	_, err = store.Get(ctx, "files/aborted.lz4")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestExpressStore_PutIfNotExists(t *testing.T) {
	fake := newFakeS3()
	store := NewExpressStore(fake, "bucket--usw2-az1--x-s3", "rfdb/proj")
	ctx := context.Background()

	require.NoError(t, store.PutIfNotExists(ctx, "manifest/MANIFEST-000007", []byte("first")))
	err := store.PutIfNotExists(ctx, "manifest/MANIFEST-000007", []byte("second"))
	assert.ErrorIs(t, err, ErrExists)

	got, err := store.Get(ctx, "manifest/MANIFEST-000007")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got, "the first writer wins")
}
