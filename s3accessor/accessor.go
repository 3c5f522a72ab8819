// Package s3accessor provides a zipkit.FileAccessor that resolves paths
// against an Amazon S3 bucket and key prefix instead of a local filesystem.
//
// S3 has no real directories; a path is a "directory" when keys exist under
// it as a common prefix. Open therefore reports such paths as nil slots, the
// same contract a local directory produces, and GetInfo disambiguates with a
// single extra request. The batched Open call is exactly what amortises the
// per-path network round trip the zipkit.Writer batches for.
package s3accessor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/trungnn/zipkit"
)

// Client is the subset of the Amazon S3 API used by Accessor.
type Client interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Accessor is a zipkit.FileAccessor whose root is an S3 bucket plus an
// optional key prefix.
type Accessor struct {
	client Client
	bucket string
	prefix string
}

var _ zipkit.FileAccessor = &Accessor{}

// New returns an accessor rooted at s3://bucket/prefix. An empty prefix
// roots the accessor at the bucket itself.
func New(client Client, bucket, prefix string) *Accessor {
	return &Accessor{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// keyOf resolves a root-relative path to a full object key.
func (a *Accessor) keyOf(relpath string) string {
	return path.Join(a.prefix, relpath)
}

// relOf undoes keyOf.
func (a *Accessor) relOf(key string) string {
	if a.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, a.prefix+"/")
}

func (a *Accessor) List(ctx context.Context, dir string) (files, subdirs []string, err error) {
	if path.IsAbs(dir) {
		return nil, nil, fmt.Errorf("list directory (path=%s) error: %w", dir, zipkit.ErrAbsolutePath)
	}

	searchPrefix := a.keyOf(dir)
	if searchPrefix != "" {
		searchPrefix += "/"
	}

	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(a.bucket),
		Prefix:    aws.String(searchPrefix),
		Delimiter: aws.String("/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("list directory (path=%s) error: %w", dir, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == searchPrefix {
				// directory marker object for dir itself.
				continue
			}
			files = append(files, a.relOf(key))
		}

		for _, cp := range page.CommonPrefixes {
			subdirs = append(subdirs, a.relOf(strings.TrimSuffix(aws.ToString(cp.Prefix), "/")))
		}
	}

	return files, subdirs, nil
}

func (a *Accessor) Open(ctx context.Context, paths []string) ([]fs.File, error) {
	files := make([]fs.File, len(paths))

	for i, p := range paths {
		if path.IsAbs(p) {
			closeAll(files)
			return nil, fmt.Errorf("open file (path=%s) error: %w", p, zipkit.ErrAbsolutePath)
		}

		out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(a.keyOf(p)),
		})
		if err != nil {
			var noSuchKey *types.NoSuchKey
			if !errors.As(err, &noSuchKey) {
				closeAll(files)
				return nil, fmt.Errorf("open file (path=%s) error: %w", p, err)
			}

			// common prefix or vanished key; GetInfo disambiguates.
			log.Printf(`cannot open "%s": no such key`, p)
			continue
		}

		files[i] = &object{
			body:    out.Body,
			name:    p,
			size:    aws.ToInt64(out.ContentLength),
			modTime: aws.ToTime(out.LastModified),
		}
	}

	return files, nil
}

func (a *Accessor) GetInfo(ctx context.Context, p string) (zipkit.Info, error) {
	if path.IsAbs(p) {
		return zipkit.Info{}, fmt.Errorf("describe entry (path=%s) error: %w", p, zipkit.ErrAbsolutePath)
	}

	out, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.keyOf(p)),
	})
	if err == nil {
		return zipkit.Info{ModTime: aws.ToTime(out.LastModified)}, nil
	}

	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return zipkit.Info{}, fmt.Errorf("describe entry (path=%s) error: %w", p, err)
	}

	// No object at the key itself; the path is a directory iff keys exist
	// under it. Use the newest child on the first page as the timestamp.
	page, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucket),
		Prefix:  aws.String(a.keyOf(p) + "/"),
		MaxKeys: aws.Int32(1000),
	})
	if err != nil {
		return zipkit.Info{}, fmt.Errorf("describe entry (path=%s) error: %w", p, err)
	}
	if len(page.Contents) == 0 {
		return zipkit.Info{}, fmt.Errorf("describe entry (path=%s) error: no such key", p)
	}

	var modTime time.Time
	for _, obj := range page.Contents {
		if t := aws.ToTime(obj.LastModified); t.After(modTime) {
			modTime = t
		}
	}

	return zipkit.Info{IsDir: true, ModTime: modTime}, nil
}

// object adapts a GetObject response body to fs.File so it can flow through
// the zipkit.FileAccessor contract.
type object struct {
	body    io.ReadCloser
	name    string
	size    int64
	modTime time.Time
}

var _ fs.File = &object{}

func (o *object) Read(p []byte) (int, error) {
	return o.body.Read(p)
}

func (o *object) Close() error {
	return o.body.Close()
}

func (o *object) Stat() (fs.FileInfo, error) {
	return objectInfo{o}, nil
}

type objectInfo struct {
	o *object
}

func (i objectInfo) Name() string       { return path.Base(i.o.name) }
func (i objectInfo) Size() int64        { return i.o.size }
func (i objectInfo) Mode() fs.FileMode  { return 0o644 }
func (i objectInfo) ModTime() time.Time { return i.o.modTime }
func (i objectInfo) IsDir() bool        { return false }
func (i objectInfo) Sys() any           { return nil }

func closeAll(files []fs.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
