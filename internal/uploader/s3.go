package uploader

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/clipshelf/internal/models"
)

// S3Protocol uploads to an S3-compatible bucket.
//
// Settings: bucket and region (required), endpoint, access_key, secret_key,
// prefix, path_style. Without keys the default AWS credential chain is used.
type S3Protocol struct{}

func (S3Protocol) Name() string { return "s3" }

func (S3Protocol) Validate(settings map[string]string) error {
	errs := validation.Errors{
		"bucket":   validation.Validate(settings["bucket"], validation.Required),
		"region":   validation.Validate(settings["region"], validation.Required),
		"endpoint": validation.Validate(settings["endpoint"], absURL),
	}
	if (settings["access_key"] == "") != (settings["secret_key"] == "") {
		errs["secret_key"] = validation.NewError("validation_keys_pair", "access_key and secret_key must be set together")
	}
	if v := settings["path_style"]; v != "" {
		if _, err := strconv.ParseBool(v); err != nil {
			errs["path_style"] = validation.NewError("validation_bool", "must be a boolean")
		}
	}
	return errs.Filter()
}

func (p S3Protocol) NewUploader(ctx context.Context, server models.Server) (Uploader, error) {
	s := server.Settings
	if err := p.Validate(s); err != nil {
		return nil, fmt.Errorf("uploader: server %q: %w", server.Name, err)
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(s["region"])}
	if s["access_key"] != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s["access_key"], s["secret_key"], "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("uploader: load aws config: %w", err)
	}

	pathStyle, _ := strconv.ParseBool(s["path_style"])
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if s["endpoint"] != "" {
			o.BaseEndpoint = aws.String(s["endpoint"])
		}
		o.UsePathStyle = pathStyle
	})
	return &s3Uploader{
		up:     manager.NewUploader(client),
		bucket: s["bucket"],
		prefix: s["prefix"],
	}, nil
}

type s3Uploader struct {
	up     *manager.Uploader
	bucket string
	prefix string
}

func (u *s3Uploader) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if u.prefix != "" {
		key = path.Join(u.prefix, key)
	}
	out, err := u.up.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("uploader: s3 put %s/%s: %w", u.bucket, key, err)
	}
	return out.Location, nil
}
