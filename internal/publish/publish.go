// Package publish copies evaluation artifacts to S3-compatible object storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"sam2-eval/internal/results"
)

const (
	EndpointEnv  = "SAM2EVAL_S3_ENDPOINT"
	AccessKeyEnv = "SAM2EVAL_S3_ACCESS_KEY"
	SecretKeyEnv = "SAM2EVAL_S3_SECRET_KEY"
	RegionEnv    = "SAM2EVAL_S3_REGION"
	UseSSLEnv    = "SAM2EVAL_S3_USE_SSL"

	DefaultEndpoint = "localhost:9000"
)

var ErrMissingCredentials = errors.New("object storage credentials are not set")

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

// OptionsFromEnv fills connection settings from SAM2EVAL_S3_* variables.
// Explicit values in base win.
func OptionsFromEnv(base Options) Options {
	out := base
	out.Endpoint = valueOrDefault(base.Endpoint, valueOrDefault(os.Getenv(EndpointEnv), DefaultEndpoint))
	out.AccessKey = valueOrDefault(base.AccessKey, os.Getenv(AccessKeyEnv))
	out.SecretKey = valueOrDefault(base.SecretKey, os.Getenv(SecretKeyEnv))
	out.Region = valueOrDefault(base.Region, os.Getenv(RegionEnv))
	if !base.UseSSL {
		out.UseSSL = strings.EqualFold(os.Getenv(UseSSLEnv), "true")
	}
	return out
}

type Artifact struct {
	LocalPath   string `json:"local_path"`
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
}

type Uploaded struct {
	Artifact
	Size int64 `json:"size"`
}

// ObjectPutter is the slice of *minio.Client that uploads need.
type ObjectPutter interface {
	FPutObject(ctx context.Context, bucket, key, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Uploader struct {
	client ObjectPutter
	bucket string
	logger *slog.Logger
}

func NewUploader(ctx context.Context, opts Options, logger *slog.Logger) (*Uploader, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	if opts.AccessKey == "" || opts.SecretKey == "" {
		return nil, fmt.Errorf("%w (%s, %s)", ErrMissingCredentials, AccessKeyEnv, SecretKeyEnv)
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio connection: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}
	return NewUploaderWithClient(client, opts.Bucket, logger), nil
}

func NewUploaderWithClient(client ObjectPutter, bucket string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{client: client, bucket: bucket, logger: logger}
}

func (u *Uploader) Upload(ctx context.Context, a Artifact) (Uploaded, error) {
	info, err := u.client.FPutObject(ctx, u.bucket, a.Key, a.LocalPath, minio.PutObjectOptions{
		ContentType: a.ContentType,
	})
	if err != nil {
		return Uploaded{}, fmt.Errorf("upload %s to %s/%s: %w", a.LocalPath, u.bucket, a.Key, err)
	}
	u.logger.Info("artifact uploaded", "bucket", u.bucket, "key", a.Key, "size", info.Size)
	return Uploaded{Artifact: a, Size: info.Size}, nil
}

// UploadAll stops at the first failure and returns what was uploaded so far.
func (u *Uploader) UploadAll(ctx context.Context, artifacts []Artifact) ([]Uploaded, error) {
	out := make([]Uploaded, 0, len(artifacts))
	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		up, err := u.Upload(ctx, a)
		if err != nil {
			return out, err
		}
		out = append(out, up)
	}
	return out, nil
}

// PlanArtifacts lists the plot (when present) and every run's summary table
// under <prefix>/<dataset>/. Runs without a summary are left out.
func PlanArtifacts(plotPath string, runs []results.Run, prefix, dataset string) ([]Artifact, error) {
	out := []Artifact{}
	if plotPath != "" {
		if _, err := os.Stat(plotPath); err != nil {
			return nil, fmt.Errorf("plot %s: %w", plotPath, err)
		}
		out = append(out, Artifact{
			LocalPath:   plotPath,
			Key:         ObjectKey(prefix, dataset, filepath.Base(plotPath)),
			ContentType: ContentType(plotPath),
		})
	}
	for _, r := range runs {
		src := r.SummaryPath()
		if _, err := os.Stat(src); err != nil {
			continue
		}
		out = append(out, Artifact{
			LocalPath:   src,
			Key:         ObjectKey(prefix, dataset, filepath.Base(r.Dir), results.SummaryFileName),
			ContentType: ContentType(src),
		})
	}
	return out, nil
}

func ObjectKey(prefix string, parts ...string) string {
	segs := []string{}
	for _, p := range append([]string{prefix}, parts...) {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p != "" {
			segs = append(segs, p)
		}
	}
	return path.Join(segs...)
}

func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".txt", ".log":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
