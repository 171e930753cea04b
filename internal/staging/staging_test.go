package staging

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	apperrors "samasy.io/samasy/internal/pkg/errors"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"fs":     fsStore,
		"memory": NewMemoryStore(),
		"s3":     newS3Store(newFakeS3(), "bucket", "staged"),
	}
}

func readAll(t *testing.T, s Store, name string) string {
	t.Helper()
	rc, err := s.Get(context.Background(), name)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestStore_PutGetListDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			info, err := s.Put(ctx, "b.tsv", strings.NewReader("second"))
			require.NoError(t, err)
			require.Equal(t, int64(6), info.Size)
			_, err = s.Put(ctx, "a.tsv", strings.NewReader("first"))
			require.NoError(t, err)

			// Restaging replaces the content.
			_, err = s.Put(ctx, "b.tsv", strings.NewReader("replaced"))
			require.NoError(t, err)
			require.Equal(t, "replaced", readAll(t, s, "b.tsv"))

			infos, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, infos, 2)
			require.Equal(t, "a.tsv", infos[0].Name)
			require.Equal(t, "b.tsv", infos[1].Name)

			removed, err := s.Delete(ctx, "a.tsv")
			require.NoError(t, err)
			require.True(t, removed)
			removed, err = s.Delete(ctx, "a.tsv")
			require.NoError(t, err)
			require.False(t, removed)

			_, err = s.Get(ctx, "a.tsv")
			require.ErrorIs(t, err, apperrors.ErrNotFound)
			require.Equal(t, apperrors.CodeStagedFileNotFound, apperrors.CodeOf(err))
		})
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, n := range []string{"x.tsv", "y.tsv", "z.tsv"} {
				_, err := s.Put(ctx, n, strings.NewReader(n))
				require.NoError(t, err)
			}
			removed, err := Reset(ctx, s)
			require.NoError(t, err)
			require.Equal(t, 3, removed)
			infos, err := s.List(ctx)
			require.NoError(t, err)
			require.Empty(t, infos)
		})
	}
}

func TestCleanName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain", input: "run1.tsv", want: "run1.tsv"},
		{name: "nested", input: "2024/run1.tsv", want: "2024/run1.tsv"},
		{name: "trimmed", input: "  run1.tsv ", want: "run1.tsv"},
		{name: "empty", input: "  ", wantErr: true},
		{name: "traversal", input: "../etc/passwd", wantErr: true},
		{name: "absolute", input: "/etc/passwd", wantErr: true},
		{name: "backslash", input: `a\b`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cleanName(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, apperrors.ErrInvalid)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Driver: "memory"})
	require.NoError(t, err)
	require.Equal(t, DriverMemory, s.Driver())

	s, err = Open(ctx, Config{Dir: t.TempDir()})
	require.NoError(t, err)
	require.Equal(t, DriverFilesystem, s.Driver())

	_, err = Open(ctx, Config{Driver: "s3"})
	require.Error(t, err)

	_, err = Open(ctx, Config{Driver: "ftp"})
	require.Error(t, err)
}

// fakeS3 is an in-memory stand-in for the S3 client.
type fakeS3 struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objs: map[string][]byte{}} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objs[aws.ToString(in.Key)] = b
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objs[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objs[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(b))), LastModified: aws.Time(time.Now())}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objs, aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := aws.ToString(in.Prefix)
	var keys []string
	for k := range f.objs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objs[k])))})
	}
	return out, nil
}
