// Package avatar normalizes uploaded profile images and stores them on
// S3 or the local filesystem.
package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"

	"channel-audit/internal/config"
)

// avatarSize is the square edge every stored avatar is cropped to.
const avatarSize = 400

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Service crops, re-encodes, and stores avatars.
type Service struct {
	maxBytes int64
	local    uploader
	s3       uploader
}

// NewService chooses an uploader: S3 when a bucket is configured,
// the local output directory otherwise.
func NewService(ctx context.Context, cfg config.Config) (*Service, error) {
	var s3Upload uploader
	if cfg.AvatarS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s3Upload = &s3Uploader{client: client, bucket: cfg.AvatarS3Bucket}
	}

	baseDir := cfg.AvatarOutputDir
	if baseDir == "" {
		baseDir = "./avatars"
	}

	maxBytes := cfg.AvatarMaxBytes
	if maxBytes == 0 {
		maxBytes = 5 * 1024 * 1024
	}

	return &Service{
		maxBytes: maxBytes,
		local:    &localUploader{baseDir: baseDir},
		s3:       s3Upload,
	}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AvatarS3Region),
	}
	if cfg.AvatarS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.AvatarS3Endpoint,
					HostnameImmutable: cfg.AvatarS3PathStyle,
					SigningRegion:     cfg.AvatarS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.AvatarS3PathStyle
	}), nil
}

// Store crops the image to a centered square, re-encodes it as JPEG,
// and uploads it under a per-user key. Returns the stored location.
func (s *Service) Store(ctx context.Context, userID string, data []byte) (string, error) {
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("avatar too large (>%d bytes)", s.maxBytes)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode avatar: %w", err)
	}

	img = imaging.Fill(img, avatarSize, avatarSize, imaging.Center, imaging.Lanczos)

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("encode avatar: %w", err)
	}

	key := fmt.Sprintf("avatars/user_%s.jpg", sanitizeID(userID))

	up := s.local
	if s.s3 != nil {
		up = s.s3
	}
	if up == nil {
		return "", errors.New("no uploader configured")
	}

	url, err := up.Upload(ctx, key, buf.Bytes(), "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("upload avatar: %w", err)
	}
	return url, nil
}

func sanitizeID(id string) string {
	id = filepath.Clean(id)
	id = strings.TrimPrefix(id, string(filepath.Separator))
	return strings.ReplaceAll(id, string(filepath.Separator), "_")
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
