// Package s3 provides blobstore.Store implementations backed by Amazon
// S3: a standard store for snapshot manifests and archives, an S3
// Express One Zone variant, and a DynamoDB-coordinated commit store
// that gives the manifest CURRENT pointer the compare-and-swap
// semantics plain S3 lacks, so multiple writers cannot silently
// clobber each other's snapshot chain.
package s3
