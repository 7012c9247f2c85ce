package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/rfdb/rfdb/blobstore"
)

// ErrConcurrentCommit is returned when another writer advanced the
// snapshot chain first. The caller should reload the current manifest
// and retry its commit.
var ErrConcurrentCommit = errors.New("s3: concurrent manifest commit")

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// CommitStore layers DynamoDB conditional writes over an S3-backed
// store to make the manifest CURRENT pointer a compare-and-swap.
// Manifest version files and everything else go straight to S3;
// advancing CURRENT inserts a (base_uri, version) item with
// attribute_not_exists(version), so of two racing writers exactly one
// wins and the other gets ErrConcurrentCommit instead of silently
// orphaning a snapshot.
//
// Table schema: partition key base_uri (S), sort key version (N).
type CommitStore struct {
	inner     blobstore.Store
	ddb       DDBClient
	tableName string
	baseURI   string
}

// NewCommitStore wraps inner with DynamoDB commit coordination.
// baseURI identifies the database in the table, e.g.
// "s3://bucket/rfdb/myproject".
func NewCommitStore(inner blobstore.Store, ddb DDBClient, tableName, baseURI string) *CommitStore {
	return &CommitStore{inner: inner, ddb: ddb, tableName: tableName, baseURI: baseURI}
}

const currentName = "manifest/CURRENT"

// Put routes CURRENT through the DynamoDB commit log and everything
// else to the inner store.
func (s *CommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name == currentName {
		return s.commit(ctx, string(data))
	}
	return s.inner.Put(ctx, name, data)
}

// Get serves CURRENT from the newest committed DynamoDB item.
func (s *CommitStore) Get(ctx context.Context, name string) ([]byte, error) {
	if name == currentName {
		_, manifestName, err := s.latest(ctx)
		if err != nil {
			return nil, err
		}
		if manifestName == "" {
			return nil, blobstore.ErrNotFound
		}
		return []byte(manifestName), nil
	}
	return s.inner.Get(ctx, name)
}

func (s *CommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name == currentName {
		data, err := s.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		return blobstore.NewMemoryBlob(data), nil
	}
	return s.inner.Open(ctx, name)
}

func (s *CommitStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return s.inner.Create(ctx, name)
}

// Delete removes a blob. Deleting CURRENT drops the whole commit chain
// for this base URI, which only database teardown should do.
func (s *CommitStore) Delete(ctx context.Context, name string) error {
	if name == currentName {
		return s.deleteChain(ctx)
	}
	return s.inner.Delete(ctx, name)
}

func (s *CommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	names, err := s.inner.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	// The inner store never holds CURRENT; synthesize it when the
	// commit log has entries so manifest discovery sees a complete
	// directory.
	if strings.HasPrefix(currentName, prefix) {
		if v, _, err := s.latest(ctx); err == nil && v > 0 {
			names = append(names, currentName)
		}
	}
	return names, nil
}

// latest returns the newest committed chain version and the manifest
// file name it points at.
func (s *CommitStore) latest(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("s3: query commit log: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}
	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: commit item missing version")
	}
	nameAttr, ok := item["manifest_name"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: commit item missing manifest_name")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("s3: bad commit version %q: %w", versionAttr.Value, err)
	}
	return version, nameAttr.Value, nil
}

// commit writes the chain entry for the manifest being published. The
// slot comes from the version encoded in the manifest's own name, not
// from a re-read of the newest item, so a writer that was overtaken
// after loading its base manifest collides on the occupied slot and
// gets ErrConcurrentCommit instead of silently publishing stale state.
func (s *CommitStore) commit(ctx context.Context, manifestName string) error {
	next, err := manifestVersion(manifestName)
	if err != nil {
		return err
	}

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":      &types.AttributeValueMemberS{Value: s.baseURI},
			"version":       &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"manifest_name": &types.AttributeValueMemberS{Value: manifestName},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return ErrConcurrentCommit
		}
		return fmt.Errorf("s3: commit version %d: %w", next, err)
	}
	return nil
}

// manifestVersion extracts the chain version from a manifest file name
// of the form "manifest/MANIFEST-000042".
func manifestVersion(name string) (uint64, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(name), "manifest/MANIFEST-")
	if !ok {
		return 0, fmt.Errorf("s3: malformed manifest name %q", name)
	}
	version, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || version == 0 {
		return 0, fmt.Errorf("s3: malformed manifest name %q", name)
	}
	return version, nil
}

func (s *CommitStore) deleteChain(ctx context.Context) error {
	for {
		version, _, err := s.latest(ctx)
		if err != nil {
			return err
		}
		if version == 0 {
			return nil
		}
		_, err = s.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
				"version":  &types.AttributeValueMemberN{Value: strconv.FormatUint(version, 10)},
			},
		})
		if err != nil {
			return err
		}
	}
}

var _ blobstore.Store = (*CommitStore)(nil)
