package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/spf13/afero"

	"github.com/isodrop/isodrop/pkg/errors"
)

// Scheme prefixes remote disc image references.
const Scheme = "s3://"

// Ref addresses an object in a bucket.
type Ref struct {
	Bucket string
	Key    string
}

func (r Ref) String() string {
	return Scheme + r.Bucket + "/" + r.Key
}

// IsRemote reports whether image refers to an object store rather than a
// local path.
func IsRemote(image string) bool {
	return strings.HasPrefix(image, Scheme)
}

// ParseRef parses s3://bucket/key. The key may be empty when allowEmptyKey is
// set, which is how prefixes for listing are given.
func ParseRef(uri string, allowEmptyKey bool) (Ref, error) {
	if !IsRemote(uri) {
		return Ref{}, fmt.Errorf("not an %s reference: %s", Scheme, uri)
	}
	rest := strings.TrimPrefix(uri, Scheme)
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Ref{}, fmt.Errorf("missing bucket in %s", uri)
	}
	if key == "" && !allowEmptyKey {
		return Ref{}, fmt.Errorf("missing object key in %s", uri)
	}
	return Ref{Bucket: bucket, Key: key}, nil
}

// LocalName is the file name a downloaded object is stored under.
func LocalName(key string) string {
	return filepath.Base(filepath.FromSlash(key))
}

// objectAPI is the part of the S3 API the client calls.
type objectAPI interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Client reads disc images from one bucket.
type Client struct {
	api    objectAPI
	bucket string
	fs     afero.Fs
}

// NewClient creates an anonymous client for bucket. Downloads go to the OS
// filesystem.
func NewClient(ctx context.Context, bucket, region string) (*Client, error) {
	slog.Info("s3_client_init", "bucket", bucket, "region", region)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return newClient(s3.NewFromConfig(cfg), bucket, afero.NewOsFs()), nil
}

func newClient(api objectAPI, bucket string, fs afero.Fs) *Client {
	return &Client{api: api, bucket: bucket, fs: fs}
}

// Object is a listed bucket entry.
type Object struct {
	Key  string
	Size int64
}

// DownloadResult describes a downloaded image.
type DownloadResult struct {
	LocalPath string
	SHA256    string
	Size      int64
}

// Download copies key to localPath while hashing it. The partial file is
// removed on failure.
func (c *Client) Download(ctx context.Context, key, localPath string) (*DownloadResult, error) {
	slog.Info("image_download_start", "bucket", c.bucket, "key", key)

	obj, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("image_get_failed", "bucket", c.bucket, "key", key, "error", err)
		return nil, errors.Wrap(err, "failed to get image")
	}
	defer obj.Body.Close()

	f, err := c.fs.Create(localPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create local image")
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), obj.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = c.fs.Remove(localPath)
		slog.Error("image_download_failed", "key", key, "error", err)
		return nil, errors.Wrap(err, "failed to download image")
	}

	sum := hex.EncodeToString(hash.Sum(nil))
	slog.Info("image_download_complete",
		"key", key,
		"size_mb", size/1024/1024,
		"local_path", localPath,
		"sha256", sum[:16]+"...",
	)

	return &DownloadResult{LocalPath: localPath, SHA256: sum, Size: size}, nil
}

// List returns every object under prefix, following continuation tokens.
func (c *Client) List(ctx context.Context, prefix string) ([]Object, error) {
	pages := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	var objects []Object
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			slog.Error("image_list_failed", "bucket", c.bucket, "prefix", prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list images")
		}
		for _, o := range page.Contents {
			if o.Key == nil {
				continue
			}
			objects = append(objects, Object{Key: *o.Key, Size: aws.ToInt64(o.Size)})
		}
	}

	slog.Debug("image_list_complete", "bucket", c.bucket, "prefix", prefix, "count", len(objects))
	return objects, nil
}

// Exists reports whether key is present. A missing object is not an error.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}

	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	slog.Error("image_head_failed", "bucket", c.bucket, "key", key, "error", err)
	return false, errors.Wrap(err, "failed to check image")
}
