// Package fsxs3 implements fsx.FileSystem over an S3 bucket. The embedded
// storage backend can point its snapshots here instead of local disk.
package fsxs3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aimemory/platform/pkg/fsx"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3FileSystem adapts one bucket to the fsx contract. Paths map directly
// to object keys; directories are the usual S3 prefix convention.
type S3FileSystem struct {
	client *s3.Client
	bucket string
}

func New(client *s3.Client, bucket string) *S3FileSystem {
	return &S3FileSystem{client: client, bucket: bucket}
}

var _ fsx.FileSystem = (*S3FileSystem)(nil)

// ============================================================================
// FileReader
// ============================================================================

func (f *S3FileSystem) ReadFile(ctx context.Context, p string) ([]byte, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(p),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (f *S3FileSystem) ReadFileStream(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(p),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (f *S3FileSystem) Stat(ctx context.Context, p string) (fsx.FileInfo, error) {
	out, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(p),
	})
	if err != nil {
		return fsx.FileInfo{}, err
	}

	info := fsx.FileInfo{
		Name:        path.Base(p),
		ContentType: aws.ToString(out.ContentType),
		Metadata:    out.Metadata,
	}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		info.ModTime = *out.LastModified
	}
	return info, nil
}

func (f *S3FileSystem) List(ctx context.Context, p string) ([]fsx.FileInfo, error) {
	prefix := strings.TrimPrefix(p, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var infos []fsx.FileInfo
	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(f.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, cp := range page.CommonPrefixes {
			infos = append(infos, fsx.FileInfo{
				Name:  path.Base(strings.TrimSuffix(aws.ToString(cp.Prefix), "/")),
				IsDir: true,
			})
		}
		for _, obj := range page.Contents {
			info := fsx.FileInfo{Name: path.Base(aws.ToString(obj.Key))}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.ModTime = *obj.LastModified
			} else {
				info.ModTime = time.Time{}
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func (f *S3FileSystem) Exists(ctx context.Context, p string) (bool, error) {
	_, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(p),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ============================================================================
// FileWriter
// ============================================================================

func (f *S3FileSystem) WriteFile(ctx context.Context, p string, data []byte) error {
	_, err := f.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(p),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (f *S3FileSystem) WriteFileStream(ctx context.Context, p string, r io.Reader) error {
	_, err := f.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(p),
		Body:   r,
	})
	return err
}

// CreateDir writes the zero-byte prefix marker convention.
func (f *S3FileSystem) CreateDir(ctx context.Context, p string) error {
	key := strings.TrimSuffix(p, "/") + "/"
	_, err := f.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(nil),
	})
	return err
}

// ============================================================================
// FileDeleter
// ============================================================================

func (f *S3FileSystem) DeleteFile(ctx context.Context, p string) error {
	_, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(p),
	})
	return err
}

func (f *S3FileSystem) DeleteDir(ctx context.Context, p string, recursive bool) error {
	prefix := strings.TrimSuffix(p, "/") + "/"
	if !recursive {
		return f.DeleteFile(ctx, prefix)
	}

	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(f.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			if _, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(f.bucket),
				Key:    obj.Key,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// ============================================================================
// PathOperations
// ============================================================================

func (f *S3FileSystem) Join(elem ...string) string {
	return path.Join(elem...)
}
