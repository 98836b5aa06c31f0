package upstream

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint   string
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	UseSSL     bool
	PathStyle  bool
	PresignTTL time.Duration
}

// S3Stager stages images in a bucket and hands out presigned GET URLs,
// for deployments that would rather not push user images to tmpfiles.
type S3Stager struct {
	cl     *minio.Client
	bucket string
	ttl    time.Duration
	now    func() time.Time
}

func NewS3Stager(cfg S3Config) (*S3Stager, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}
	cl, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("while creating s3 client: %w", err)
	}
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3Stager{cl: cl, bucket: cfg.Bucket, ttl: ttl, now: time.Now}, nil
}

// Stage puts f under staging/ and presigns a GET for it.
func (s *S3Stager) Stage(ctx context.Context, f File) (StagingReference, error) {
	key := fmt.Sprintf("staging/%d-%s%s", s.now().UnixMilli(), uuid.NewString(), strings.ToLower(path.Ext(f.Name)))
	_, err := s.cl.PutObject(ctx, s.bucket, key, f.Body, f.Size, minio.PutObjectOptions{
		ContentType: f.ContentType,
	})
	if err != nil {
		return StagingReference{}, s.wrap(err)
	}
	u, err := s.cl.PresignedGetObject(ctx, s.bucket, key, s.ttl, url.Values{})
	if err != nil {
		return StagingReference{}, s.wrap(err)
	}
	return StagingReference{URL: u.String()}, nil
}

func (s *S3Stager) wrap(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != 0 {
		return &TransportError{Host: s.cl.EndpointURL().Host, Class: ClassStatus, StatusCode: resp.StatusCode, Message: resp.Message, Err: err}
	}
	return classify(s.cl.EndpointURL().Host, err)
}
