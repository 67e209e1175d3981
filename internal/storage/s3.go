package storage

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/keithlinneman/bucketedge/internal/xerrors"
)

// S3API is the subset of *s3.Client the bucket needs.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type S3Options struct {
	Bucket string

	// Prefix is prepended to every key, with a single "/" separator.
	Prefix string

	// MaxListKeys caps List. Zero means 10000.
	MaxListKeys int
}

// S3Bucket serves objects from an S3 or S3-compatible (R2, MinIO) bucket.
type S3Bucket struct {
	client S3API
	opts   S3Options
}

func NewS3Bucket(client S3API, opts S3Options) (*S3Bucket, error) {
	if client == nil {
		return nil, xerrors.New("s3 client is required")
	}
	if opts.Bucket == "" {
		return nil, xerrors.New("s3 bucket name is required")
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	if opts.MaxListKeys <= 0 {
		opts.MaxListKeys = 10000
	}
	return &S3Bucket{client: client, opts: opts}, nil
}

type ClientOptions struct {
	// Endpoint overrides the service endpoint, e.g. https://<account>.r2.cloudflarestorage.com
	Endpoint  string
	Region    string
	PathStyle bool
}

// NewS3Client builds an S3 client from an AWS config with the R2/MinIO knobs applied.
func NewS3Client(awsCfg aws.Config, opts ClientOptions) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.Region != "" {
			o.Region = opts.Region
		}
		o.UsePathStyle = opts.PathStyle
	})
}

func (b *S3Bucket) objectKey(key string) string {
	if b.opts.Prefix == "" {
		return key
	}
	return b.opts.Prefix + "/" + key
}

func (b *S3Bucket) Get(ctx context.Context, key string) (*Object, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return nil, b.mapErr(err, "get", key)
	}
	return &Object{
		ObjectInfo: ObjectInfo{
			Key:          key,
			Size:         aws.ToInt64(out.ContentLength),
			ETag:         aws.ToString(out.ETag),
			LastModified: aws.ToTime(out.LastModified),
		},
		Body: out.Body,
	}, nil
}

func (b *S3Bucket) Head(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return ObjectInfo{}, b.mapErr(err, "head", key)
	}
	return ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         aws.ToString(out.ETag),
		LastModified: aws.ToTime(out.LastModified),
	}, nil
}

// List returns up to MaxListKeys objects under the prefix, keys relative to it.
func (b *S3Bucket) List(ctx context.Context) ([]ObjectInfo, error) {
	in := &s3.ListObjectsV2Input{Bucket: aws.String(b.opts.Bucket)}
	if b.opts.Prefix != "" {
		in.Prefix = aws.String(b.opts.Prefix + "/")
	}

	var out []ObjectInfo
	p := s3.NewListObjectsV2Paginator(b.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return out, xerrors.Wrapf(err, "list s3://%s/%s", b.opts.Bucket, b.opts.Prefix)
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			if b.opts.Prefix != "" {
				key = strings.TrimPrefix(key, b.opts.Prefix+"/")
			}
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			out = append(out, ObjectInfo{
				Key:          key,
				Size:         aws.ToInt64(o.Size),
				ETag:         aws.ToString(o.ETag),
				LastModified: aws.ToTime(o.LastModified),
			})
			if len(out) >= b.opts.MaxListKeys {
				return out, nil
			}
		}
	}
	return out, nil
}

func (b *S3Bucket) mapErr(err error, op, key string) error {
	if isS3NotFound(err) {
		return ErrNotFound
	}
	return xerrors.Wrapf(err, "%s s3://%s/%s", op, b.opts.Bucket, b.objectKey(key))
}

// HeadObject reports a bare 404 as NotFound; some S3-compatible stores use
// only the error code, so fall back to the smithy API error.
func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if xerrors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if xerrors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if xerrors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
