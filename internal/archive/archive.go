// Package archive copies the records of completed runs into a blob bucket
// as a JSON document plus a DOT rendering of the execution graph
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/kode4food/buildflow/pkg/api"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

type (
	// Archiver stores completed runs outside the live run store
	Archiver interface {
		Archive(context.Context, *api.RunRecord, []byte) error
		Get(context.Context, api.RunID) (*api.RunRecord, error)
		Graph(context.Context, api.RunID) ([]byte, error)
		Close() error
	}

	// BlobArchiver implements Archiver using gocloud.dev/blob, supporting
	// S3, GCS, Azure Blob Storage, local files and memory buckets
	BlobArchiver struct {
		bucket *blob.Bucket
		prefix string
	}
)

const (
	recordExt = ".json"
	graphExt  = ".dot"
)

var (
	ErrBucketRequired = errors.New("bucket is required")
	ErrRecordRequired = errors.New("run record is required")
	ErrNotArchived    = errors.New("run not archived")
)

var _ Archiver = (*BlobArchiver)(nil)

// NewBlobArchiver opens the bucket named by bucketURL
func NewBlobArchiver(
	ctx context.Context, bucketURL, prefix string,
) (*BlobArchiver, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return NewBucketArchiver(bucket, prefix)
}

// NewBucketArchiver wraps an already opened bucket
func NewBucketArchiver(
	bucket *blob.Bucket, prefix string,
) (*BlobArchiver, error) {
	if bucket == nil {
		return nil, ErrBucketRequired
	}
	return &BlobArchiver{
		bucket: bucket,
		prefix: normalizePrefix(prefix),
	}, nil
}

// Archive writes the run record and, when present, its DOT graph
func (a *BlobArchiver) Archive(
	ctx context.Context, rec *api.RunRecord, dot []byte,
) error {
	if rec == nil {
		return ErrRecordRequired
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	opts := &blob.WriterOptions{ContentType: "application/json"}
	if err := a.bucket.WriteAll(
		ctx, a.keyFor(rec.ID, recordExt), data, opts,
	); err != nil {
		return err
	}

	if len(dot) == 0 {
		return nil
	}
	opts = &blob.WriterOptions{ContentType: "text/vnd.graphviz"}
	return a.bucket.WriteAll(ctx, a.keyFor(rec.ID, graphExt), dot, opts)
}

// Get reads an archived run record
func (a *BlobArchiver) Get(
	ctx context.Context, id api.RunID,
) (*api.RunRecord, error) {
	data, err := a.read(ctx, id, recordExt)
	if err != nil {
		return nil, err
	}

	var rec api.RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Graph reads the archived DOT rendering of a run
func (a *BlobArchiver) Graph(
	ctx context.Context, id api.RunID,
) ([]byte, error) {
	return a.read(ctx, id, graphExt)
}

// Delete removes the archived objects of a run. Missing objects are not an
// error
func (a *BlobArchiver) Delete(ctx context.Context, id api.RunID) error {
	for _, ext := range []string{recordExt, graphExt} {
		err := a.bucket.Delete(ctx, a.keyFor(id, ext))
		if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return err
		}
	}
	return nil
}

func (a *BlobArchiver) Close() error {
	return a.bucket.Close()
}

func (a *BlobArchiver) read(
	ctx context.Context, id api.RunID, ext string,
) ([]byte, error) {
	data, err := a.bucket.ReadAll(ctx, a.keyFor(id, ext))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotArchived, id)
		}
		return nil, err
	}
	return data, nil
}

func (a *BlobArchiver) keyFor(id api.RunID, ext string) string {
	return a.prefix + string(id) + ext
}

func normalizePrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}
