package payload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pithecene-io/shortlist/remote"
)

const s3Scheme = "s3://"

// S3Config holds connection settings for s3:// resume sources.
type S3Config struct {
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not subdomain).
	UsePathStyle bool
}

// ObjectStore is the subset of the S3 API used to read resume sources.
type ObjectStore interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client creates an S3 client using the AWS SDK default credential
// chain (env vars, shared config, IAM role).
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsConfig, s3Opts...), nil
}

// IsS3URL reports whether src is an s3:// URL.
func IsS3URL(src string) bool {
	return strings.HasPrefix(src, s3Scheme)
}

// ParseS3URL splits s3://bucket/prefix into bucket and prefix.
func ParseS3URL(src string) (bucket, prefix string, err error) {
	rest := strings.TrimPrefix(src, s3Scheme)
	parts := strings.SplitN(rest, "/", 2)
	bucket = parts[0]
	if bucket == "" {
		return "", "", fmt.Errorf("invalid S3 source %q: bucket is required", src)
	}
	if len(parts) > 1 {
		prefix = parts[1]
	}
	return bucket, prefix, nil
}

// Object is a PDF stored in S3.
type Object struct {
	store  ObjectStore
	bucket string
	key    string
	size   int64
}

// Name returns the last element of the object key.
func (o *Object) Name() string { return path.Base(o.key) }

// Key returns the object key.
func (o *Object) Key() string { return o.key }

// Size returns the object size in bytes.
func (o *Object) Size() int64 { return o.size }

// ContentType implements remote.Artifact.
func (o *Object) ContentType() string { return PDFContentType }

// Open streams the object body.
func (o *Object) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := o.store.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", o.bucket, o.key, err)
	}
	return out.Body, nil
}

// resolveS3 lists every object directly under the prefix. Keys in deeper
// "directories" are skipped, matching the non-recursive local behaviour.
func (r *Resolver) resolveS3(ctx context.Context, src string, sel *Selection, add func(string, remote.Artifact)) error {
	if r.objects == nil {
		return errors.New("s3 sources require storage configuration")
	}
	bucket, prefix, err := ParseS3URL(src)
	if err != nil {
		return err
	}

	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	pages := s3.NewListObjectsV2Paginator(r.objects, input)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list %s: %w", src, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			if rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/"); strings.Contains(rel, "/") {
				continue
			}
			if !IsPDF(key) {
				sel.Rejected = append(sel.Rejected, path.Base(key))
				continue
			}
			add(s3Scheme+bucket+"/"+key, &Object{
				store:  r.objects,
				bucket: bucket,
				key:    key,
				size:   aws.ToInt64(obj.Size),
			})
		}
	}
	return nil
}
