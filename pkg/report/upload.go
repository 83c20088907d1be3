package report

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/devicelab-dev/otp-handoff/pkg/logger"
)

// objectPutter is the part of the S3 client the uploader needs.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader copies a report directory to s3://bucket/prefix/.
type Uploader struct {
	client objectPutter
	bucket string
	prefix string
}

// NewUploader creates an S3 uploader. If endpoint is non-empty,
// path-style addressing is enabled (for MinIO and similar).
func NewUploader(ctx context.Context, bucket, prefix, region, endpoint string) (*Uploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return newUploader(s3.NewFromConfig(cfg, s3opts...), bucket, prefix), nil
}

func newUploader(client objectPutter, bucket, prefix string) *Uploader {
	return &Uploader{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// UploadDir uploads every file under dir, keyed by its path relative to dir.
// It returns the number of objects written.
func (u *Uploader) UploadDir(ctx context.Context, dir string) (int, error) {
	count := 0
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(u.prefix, filepath.ToSlash(rel))

		f, err := os.Open(p) //#nosec G304 -- walking the report dir
		if err != nil {
			return err
		}
		defer f.Close()

		contentType := mime.TypeByExtension(filepath.Ext(p))
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		if _, err := u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(u.bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String(contentType),
		}); err != nil {
			return fmt.Errorf("s3 put object %s: %w", key, err)
		}
		logger.Debug("uploaded s3://%s/%s", u.bucket, key)
		count++
		return nil
	})
	return count, err
}

// URL returns the s3:// location of the uploaded report.
func (u *Uploader) URL() string {
	if u.prefix == "" {
		return "s3://" + u.bucket + "/"
	}
	return "s3://" + u.bucket + "/" + u.prefix + "/"
}
