package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 reads objects from a bucket. The arXiv bulk bucket is requester-pays,
// so requests carry the requester payer header unless disabled.
type S3 struct {
	client        *s3.Client
	bucket        string
	requesterPays bool
}

// NewS3 builds a client from the default AWS credential chain
// (environment, shared config, instance role).
func NewS3(ctx context.Context, bucket, region string, requesterPays bool) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3{client: s3.NewFromConfig(cfg), bucket: bucket, requesterPays: requesterPays}, nil
}

// Fetch implements ObjectStore.
func (s *S3) Fetch(ctx context.Context, key string, w io.Writer) (int64, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if s.requesterPays {
		in.RequestPayer = types.RequestPayerRequester
	}
	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return 0, fmt.Errorf("s3://%s/%s: %w", s.bucket, key, ErrNotFound)
		}
		return 0, fmt.Errorf("get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	n, err := io.Copy(w, out.Body)
	if err != nil {
		return n, fmt.Errorf("read s3://%s/%s: %w", s.bucket, key, err)
	}
	return n, nil
}

// String names the bucket for logs.
func (s *S3) String() string {
	return "s3://" + s.bucket
}
