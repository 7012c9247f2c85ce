package s3

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewDefaultStore builds a Store using the default AWS credential and
// region chain (environment, shared config files, IMDS).
func NewDefaultStore(ctx context.Context, bucket, rootPrefix string, optFns ...func(*config.LoadOptions) error) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, err
	}
	return NewStore(s3.NewFromConfig(cfg), bucket, rootPrefix), nil
}

// NewDefaultCommitStore builds a CommitStore whose blobs live in the
// given bucket and whose manifest pointer is arbitrated through the
// DynamoDB table. baseURI keys the pointer chain; use one URI per
// database, e.g. "s3://bucket/rfdb/myproject".
func NewDefaultCommitStore(ctx context.Context, bucket, rootPrefix, tableName, baseURI string, optFns ...func(*config.LoadOptions) error) (*CommitStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, err
	}
	inner := NewStore(s3.NewFromConfig(cfg), bucket, rootPrefix)
	return NewCommitStore(inner, dynamodb.NewFromConfig(cfg), tableName, baseURI), nil
}
