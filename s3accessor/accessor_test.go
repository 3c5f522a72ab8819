package s3accessor

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trungnn/zipkit"
)

type fakeObject struct {
	data []byte
	mod  time.Time
}

// fakeS3 emulates just enough of ListObjectsV2 (prefix + delimiter),
// GetObject and HeadObject over an in-memory key space.
type fakeS3 struct {
	objects map[string]fakeObject
}

func (f *fakeS3) keys() []string {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	out := &s3.ListObjectsV2Output{}
	seen := map[string]bool{}

	for _, key := range f.keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		if rest := key[len(prefix):]; delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}

		obj := f.objects[key]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.mod),
		})
	}

	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(obj.mod),
	}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}

	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(obj.mod),
	}, nil
}

func newFakeS3() *fakeS3 {
	mod := time.Date(2023, 8, 9, 10, 11, 12, 0, time.UTC)
	return &fakeS3{objects: map[string]fakeObject{
		"data/a.txt":        {data: []byte("hello"), mod: mod},
		"data/logs/x.log":   {data: []byte("x"), mod: mod.Add(time.Hour)},
		"data/logs/y.log":   {data: []byte("yy"), mod: mod.Add(2 * time.Hour)},
		"unrelated/z.txt":   {data: []byte("z"), mod: mod},
		"data/empty-object": {mod: mod},
	}}
}

func TestAccessorList(t *testing.T) {
	ctx := context.Background()
	a := New(newFakeS3(), "bucket", "data")

	files, subdirs, err := a.List(ctx, "")
	require.NoErrorf(t, err, "List() error = %v", err)
	assert.Equal(t, []string{"a.txt", "empty-object"}, files)
	assert.Equal(t, []string{"logs"}, subdirs)

	files, subdirs, err = a.List(ctx, "logs")
	require.NoError(t, err)
	assert.Equal(t, []string{"logs/x.log", "logs/y.log"}, files)
	assert.Empty(t, subdirs)
}

func TestAccessorOpen(t *testing.T) {
	ctx := context.Background()
	a := New(newFakeS3(), "bucket", "data")

	// a batch mixing a real object, a common prefix, and a missing key gets
	// one slot each, nil for the latter two.
	files, err := a.Open(ctx, []string{"a.txt", "logs", "missing"})
	require.NoErrorf(t, err, "Open() error = %v", err)
	require.Len(t, files, 3)

	require.NotNil(t, files[0])
	data, err := io.ReadAll(files[0])
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	fi, err := files[0].Stat()
	require.NoError(t, err)
	assert.Equal(t, "a.txt", fi.Name())
	assert.EqualValues(t, 5, fi.Size())
	require.NoError(t, files[0].Close())

	assert.Nil(t, files[1])
	assert.Nil(t, files[2])
}

func TestAccessorGetInfo(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	a := New(client, "bucket", "data")

	info, err := a.GetInfo(ctx, "a.txt")
	require.NoError(t, err)
	assert.False(t, info.IsDir)

	// a common prefix is a directory; the newest child supplies the timestamp.
	info, err = a.GetInfo(ctx, "logs")
	require.NoError(t, err)
	assert.True(t, info.IsDir)
	assert.Equal(t, client.objects["data/logs/y.log"].mod, info.ModTime)

	_, err = a.GetInfo(ctx, "missing")
	assert.Error(t, err)
}

func TestAccessorRejectsAbsolutePaths(t *testing.T) {
	ctx := context.Background()
	a := New(newFakeS3(), "bucket", "data")

	_, _, err := a.List(ctx, "/abs")
	assert.ErrorIs(t, err, zipkit.ErrAbsolutePath)

	_, err = a.Open(ctx, []string{"/abs"})
	assert.ErrorIs(t, err, zipkit.ErrAbsolutePath)

	_, err = a.GetInfo(ctx, "/abs")
	assert.ErrorIs(t, err, zipkit.ErrAbsolutePath)
}

// The whole pipeline runs against S3 exactly as it does against a local
// directory: BFS enumeration, batched opens, directory entries.
func TestZipFromS3(t *testing.T) {
	ctx := context.Background()
	a := New(newFakeS3(), "bucket", "data")

	var buf bytes.Buffer
	err := zipkit.Zip(ctx, zipkit.Config{Accessor: a, DestWriter: &buf})
	require.NoErrorf(t, err, "Zip() error = %v", err)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"a.txt", "empty-object", "logs/", "logs/x.log", "logs/y.log"}, names)
}
