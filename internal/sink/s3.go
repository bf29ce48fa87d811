// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sink

import (
	"bytes"
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nishisan-dev/chunkcore/internal/chunkcore"
	"github.com/nishisan-dev/chunkcore/internal/digest"
)

// S3ContentSink stores each chunk as an object keyed by its digest hex
// under an optional key prefix, the teacher's AWS upload stack repurposed
// from whole-archive upload to per-chunk content addressing.
type S3ContentSink struct {
	client *s3.Client
	bucket string
	prefix string
	cache  *lru.Cache[digest.Digest, struct{}]
}

// NewS3ContentSink loads the default AWS config chain (environment,
// shared config, IMDS) for region and credentials. When accessKeyID and
// secretAccessKey are both non-empty, they override the chain with a
// static provider instead — the path used for self-hosted S3-compatible
// backends that don't participate in IMDS/shared-config discovery.
func NewS3ContentSink(ctx context.Context, bucket, prefix, region, accessKeyID, secretAccessKey string, cacheSize int) (*S3ContentSink, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, chunkcore.Wrap("sink.NewS3ContentSink", chunkcore.KindSinkError, err)
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[digest.Digest, struct{}](cacheSize)
	if err != nil {
		return nil, chunkcore.Wrap("sink.NewS3ContentSink", chunkcore.KindSinkError, err)
	}
	return &S3ContentSink{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		cache:  cache,
	}, nil
}

func (s *S3ContentSink) key(d digest.Digest) string {
	if s.prefix == "" {
		return d.String()
	}
	return s.prefix + "/" + d.String()
}

func (s *S3ContentSink) Contains(ctx context.Context, d digest.Digest) (bool, error) {
	if _, ok := s.cache.Get(d); ok {
		return true, nil
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(d)),
	})
	if err == nil {
		s.cache.Add(d, struct{}{})
		return true, nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey") {
		return false, nil
	}
	return false, chunkcore.Wrap("sink.S3ContentSink.Contains", chunkcore.KindSinkError, err)
}

func (s *S3ContentSink) Put(ctx context.Context, d digest.Digest, data []byte) (bool, error) {
	present, err := s.Contains(ctx, d)
	if err != nil {
		return false, err
	}
	if present {
		return false, nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(d)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return false, chunkcore.Wrap("sink.S3ContentSink.Put", chunkcore.KindSinkError, err)
	}
	s.cache.Add(d, struct{}{})
	return true, nil
}
