// Package s3 implements fsops.FileSystem over an S3 bucket. Virtual paths
// map to object keys under a configurable prefix; directories are zero-byte
// marker objects with a trailing slash. Writes are staged per handle and
// flushed on fsync and release.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bridgefs/bridgefs/internal/fsops"
	"github.com/bridgefs/bridgefs/pkg/errors"
	"github.com/bridgefs/bridgefs/pkg/retry"
	"github.com/bridgefs/bridgefs/pkg/utils"
)

// Config holds S3 adapter configuration.
type Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	Retry retry.Config `yaml:"retry"`
}

// FS is the S3-backed operations object.
type FS struct {
	client  *awss3.Client
	bucket  string
	prefix  string
	retryer *retry.Retryer
	log     *utils.StructuredLogger

	mu      sync.Mutex
	handles map[uint64]*openFile
	next    uint64
}

type openFile struct {
	path   string
	data   []byte
	loaded bool
	dirty  bool
}

// New creates an S3 adapter and verifies the bucket is reachable.
func New(ctx context.Context, cfg Config) (*FS, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeConnectionFailed, "loading AWS configuration").WithCause(err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	fsys := &FS{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  normalizePrefix(cfg.Prefix),
		retryer: retry.New(cfg.Retry),
		log:     utils.DefaultLogger().WithComponent("s3"),
		handles: make(map[uint64]*openFile),
		next:    1,
	}

	if _, err := client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, errors.Newf(errors.ErrCodeConnectionFailed, "bucket %s not reachable", cfg.Bucket).WithCause(err)
	}
	return fsys, nil
}

// normalizePrefix reduces a configured key prefix to either "" or a
// slash-terminated key fragment.
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return prefix
}

func (f *FS) fileKey(path string) string {
	return f.prefix + utils.CanonicalPath(path)
}

func (f *FS) dirKey(path string) string {
	key := f.fileKey(path)
	if key == f.prefix || key == "" {
		return f.prefix
	}
	return key + "/"
}

func dirAttr() *fsops.Attr {
	return &fsops.Attr{Mode: os.ModeDir | 0o755, Nlink: 2, Mtime: time.Now()}
}

// Lookup implements fsops.FileSystem.
func (f *FS) Lookup(ctx context.Context, path string) (*fsops.Attr, error) {
	return f.Getattr(ctx, path)
}

// Getattr implements fsops.FileSystem.
func (f *FS) Getattr(ctx context.Context, path string) (*fsops.Attr, error) {
	if utils.CanonicalPath(path) == "" {
		return dirAttr(), nil
	}

	head, err := f.headObject(ctx, f.fileKey(path))
	if err == nil {
		attr := &fsops.Attr{Mode: 0o644, Nlink: 1}
		if head.ContentLength != nil {
			attr.Size = *head.ContentLength
		}
		if head.LastModified != nil {
			attr.Mtime = *head.LastModified
			attr.Atime = *head.LastModified
			attr.Ctime = *head.LastModified
		}
		return attr, nil
	}
	if !errors.Is(err, fsops.ErrNotExist) {
		return nil, err
	}

	// not an object; a directory exists when anything lives under its key
	exists, err := f.prefixExists(ctx, f.dirKey(path))
	if err != nil {
		return nil, err
	}
	if exists {
		return dirAttr(), nil
	}
	return nil, fsops.ErrNotExist
}

// Open implements fsops.FileSystem.
func (f *FS) Open(ctx context.Context, path string, _ int) (uint64, error) {
	if _, err := f.headObject(ctx, f.fileKey(path)); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fh := f.next
	f.next++
	f.handles[fh] = &openFile{path: path}
	return fh, nil
}

// Create implements fsops.FileSystem.
func (f *FS) Create(ctx context.Context, path string, _ os.FileMode) (uint64, error) {
	if err := f.putObject(ctx, f.fileKey(path), nil); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	fh := f.next
	f.next++
	f.handles[fh] = &openFile{path: path, loaded: true}
	return fh, nil
}

func (f *FS) handle(fh uint64) (*openFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	of, ok := f.handles[fh]
	if !ok {
		return nil, fsops.ErrBadHandle
	}
	return of, nil
}

// Release implements fsops.FileSystem.
func (f *FS) Release(ctx context.Context, _ string, fh uint64) error {
	f.mu.Lock()
	of, ok := f.handles[fh]
	delete(f.handles, fh)
	f.mu.Unlock()
	if !ok {
		return fsops.ErrBadHandle
	}
	return f.flush(ctx, of)
}

func (f *FS) flush(ctx context.Context, of *openFile) error {
	if !of.dirty {
		return nil
	}
	if err := f.putObject(ctx, f.fileKey(of.path), of.data); err != nil {
		return err
	}
	of.dirty = false
	return nil
}

// Read implements fsops.FileSystem.
func (f *FS) Read(ctx context.Context, path string, fh uint64, dest []byte, off int64) (int, error) {
	of, err := f.handle(fh)
	if err != nil {
		return 0, err
	}
	if of.loaded {
		if off >= int64(len(of.data)) {
			return 0, nil
		}
		return copy(dest, of.data[off:]), nil
	}
	data, err := f.getObjectRange(ctx, f.fileKey(path), off, int64(len(dest)))
	if err != nil {
		return 0, err
	}
	return copy(dest, data), nil
}

// Write implements fsops.FileSystem.
func (f *FS) Write(ctx context.Context, path string, fh uint64, data []byte, off int64) (int, error) {
	of, err := f.handle(fh)
	if err != nil {
		return 0, err
	}
	if err := f.load(ctx, of); err != nil {
		return 0, err
	}
	end := off + int64(len(data))
	if end > int64(len(of.data)) {
		grown := make([]byte, end)
		copy(grown, of.data)
		of.data = grown
	}
	copy(of.data[off:], data)
	of.dirty = true
	return len(data), nil
}

func (f *FS) load(ctx context.Context, of *openFile) error {
	if of.loaded {
		return nil
	}
	data, err := f.getObjectRange(ctx, f.fileKey(of.path), 0, 0)
	if err != nil {
		if errors.Is(err, fsops.ErrNotExist) {
			data = nil
		} else {
			return err
		}
	}
	of.data = data
	of.loaded = true
	return nil
}

// Truncate implements fsops.FileSystem.
func (f *FS) Truncate(ctx context.Context, path string, size int64) error {
	data, err := f.getObjectRange(ctx, f.fileKey(path), 0, 0)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		resized := make([]byte, size)
		copy(resized, data)
		data = resized
	}
	return f.putObject(ctx, f.fileKey(path), data)
}

// Readdir implements fsops.FileSystem.
func (f *FS) Readdir(ctx context.Context, path string) ([]fsops.DirEntry, error) {
	prefix := f.dirKey(path)
	var entries []fsops.DirEntry
	seen := make(map[string]bool)

	paginator := awss3.NewListObjectsV2Paginator(f.client, &awss3.ListObjectsV2Input{
		Bucket:    aws.String(f.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, translateError(err, "ListObjects", prefix)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" && !seen[name] {
				seen[name] = true
				entries = append(entries, fsops.DirEntry{Name: name, Mode: os.ModeDir | 0o755})
			}
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			entries = append(entries, fsops.DirEntry{Name: name, Mode: 0o644})
		}
	}
	return entries, nil
}

// Mkdir implements fsops.FileSystem.
func (f *FS) Mkdir(ctx context.Context, path string, _ os.FileMode) error {
	if _, err := f.Getattr(ctx, path); err == nil {
		return fsops.ErrExist
	} else if !errors.Is(err, fsops.ErrNotExist) {
		return err
	}
	return f.putObject(ctx, f.dirKey(path), nil)
}

// Unlink implements fsops.FileSystem.
func (f *FS) Unlink(ctx context.Context, path string) error {
	if _, err := f.headObject(ctx, f.fileKey(path)); err != nil {
		return err
	}
	return f.deleteObject(ctx, f.fileKey(path))
}

// Rmdir implements fsops.FileSystem.
func (f *FS) Rmdir(ctx context.Context, path string) error {
	prefix := f.dirKey(path)
	exists, err := f.prefixExists(ctx, prefix)
	if err != nil {
		return err
	}
	if !exists {
		return fsops.ErrNotExist
	}
	out, err := f.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket:  aws.String(f.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return translateError(err, "ListObjects", prefix)
	}
	for _, obj := range out.Contents {
		if aws.ToString(obj.Key) != prefix {
			return fsops.ErrNotEmpty
		}
	}
	return f.deleteObject(ctx, prefix)
}

// Rename implements fsops.FileSystem.
func (f *FS) Rename(ctx context.Context, src, dst string) error {
	attr, err := f.Getattr(ctx, src)
	if err != nil {
		return err
	}
	if !attr.IsDir() {
		if err := f.copyObject(ctx, f.fileKey(src), f.fileKey(dst)); err != nil {
			return err
		}
		return f.deleteObject(ctx, f.fileKey(src))
	}

	// directory: move every key under the source prefix
	srcPrefix, dstPrefix := f.dirKey(src), f.dirKey(dst)
	paginator := awss3.NewListObjectsV2Paginator(f.client, &awss3.ListObjectsV2Input{
		Bucket: aws.String(f.bucket),
		Prefix: aws.String(srcPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return translateError(err, "ListObjects", srcPrefix)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			newKey := dstPrefix + strings.TrimPrefix(key, srcPrefix)
			if err := f.copyObject(ctx, key, newKey); err != nil {
				return err
			}
			if err := f.deleteObject(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fsync implements fsops.FileSystem.
func (f *FS) Fsync(ctx context.Context, _ string, fh uint64) error {
	of, err := f.handle(fh)
	if err != nil {
		return err
	}
	return f.flush(ctx, of)
}

// Statfs implements fsops.FileSystem.
func (f *FS) Statfs(_ context.Context, _ string) (*fsops.StatVFS, error) {
	// object stores have no meaningful capacity; report a roomy volume
	return &fsops.StatVFS{
		BlockSize:   4096,
		Blocks:      1 << 40,
		BlocksFree:  1 << 39,
		BlocksAvail: 1 << 39,
		Files:       1 << 30,
		FilesFree:   1 << 29,
		NameMax:     1024,
	}, nil
}

// IsInUse implements fsops.FileSystem.
func (f *FS) IsInUse() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles) > 0
}

// Close implements fsops.FileSystem.
func (f *FS) Close() error {
	f.mu.Lock()
	handles := f.handles
	f.handles = make(map[uint64]*openFile)
	f.mu.Unlock()

	if len(handles) > 0 {
		f.log.Warn("closing with open handles", map[string]interface{}{"count": len(handles)})
	}
	ctx := context.Background()
	var firstErr error
	for _, of := range handles {
		if err := f.flush(ctx, of); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

/*
 * S3 object calls, each behind the retryer. prefixExists, like the list
 * calls in Readdir and Rmdir, is not retried:
 */

func (f *FS) headObject(ctx context.Context, key string) (*awss3.HeadObjectOutput, error) {
	var out *awss3.HeadObjectOutput
	err := f.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		var err error
		out, err = f.client.HeadObject(ctx, &awss3.HeadObjectInput{
			Bucket: aws.String(f.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return translateError(err, "HeadObject", key)
		}
		return nil
	})
	return out, err
}

func (f *FS) getObjectRange(ctx context.Context, key string, off, size int64) ([]byte, error) {
	var rangeHeader *string
	if off > 0 || size > 0 {
		if size > 0 {
			rangeHeader = aws.String(fmt.Sprintf("bytes=%d-%d", off, off+size-1))
		} else {
			rangeHeader = aws.String(fmt.Sprintf("bytes=%d-", off))
		}
	}
	var data []byte
	err := f.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		out, err := f.client.GetObject(ctx, &awss3.GetObjectInput{
			Bucket: aws.String(f.bucket),
			Key:    aws.String(key),
			Range:  rangeHeader,
		})
		if err != nil {
			return translateError(err, "GetObject", key)
		}
		defer out.Body.Close()
		data, err = io.ReadAll(out.Body)
		if err != nil {
			return errors.NewError(errors.ErrCodeNetworkError, "reading object body").WithCause(err)
		}
		return nil
	})
	return data, err
}

func (f *FS) putObject(ctx context.Context, key string, data []byte) error {
	err := f.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		_, err := f.client.PutObject(ctx, &awss3.PutObjectInput{
			Bucket:        aws.String(f.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		})
		if err != nil {
			return translateError(err, "PutObject", key)
		}
		return nil
	})
	return err
}

func (f *FS) deleteObject(ctx context.Context, key string) error {
	err := f.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		_, err := f.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
			Bucket: aws.String(f.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return translateError(err, "DeleteObject", key)
		}
		return nil
	})
	return err
}

func (f *FS) copyObject(ctx context.Context, srcKey, dstKey string) error {
	err := f.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		_, err := f.client.CopyObject(ctx, &awss3.CopyObjectInput{
			Bucket:     aws.String(f.bucket),
			Key:        aws.String(dstKey),
			CopySource: aws.String(f.bucket + "/" + srcKey),
		})
		if err != nil {
			return translateError(err, "CopyObject", srcKey)
		}
		return nil
	})
	return err
}

func (f *FS) prefixExists(ctx context.Context, prefix string) (bool, error) {
	out, err := f.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
		Bucket:  aws.String(f.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, translateError(err, "ListObjects", prefix)
	}
	return len(out.Contents) > 0, nil
}

// translateError classifies an S3 failure: absent keys become
// fsops.ErrNotExist (never retried), everything else becomes a retryable
// network error.
func translateError(err error, op, key string) error {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%s %s: %w", op, key, fsops.ErrNotExist)
	}
	return errors.Newf(errors.ErrCodeNetworkError, "%s %s", op, key).WithCause(err)
}
