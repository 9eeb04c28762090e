// Package upload stores documents submitted through the portal into S3 so
// the ingestion pipeline can pick them up.
package upload

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/rs/zerolog"
)

const (
	// MaxFileSize caps a single uploaded file.
	MaxFileSize = 50 << 20

	// MaxFiles caps the number of files per request.
	MaxFiles = 10
)

// Result describes one stored file.
type Result struct {
	Name string `json:"name"`
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// Uploader writes submitted files to an S3 bucket.
type Uploader struct {
	s3     s3iface.S3API
	bucket string
	logger zerolog.Logger

	now func() time.Time
}

func New(bucket string, logger zerolog.Logger) *Uploader {
	sess := session.Must(session.NewSession(aws.NewConfig()))
	return NewWithClient(s3.New(sess), bucket, logger)
}

func NewWithClient(api s3iface.S3API, bucket string, logger zerolog.Logger) *Uploader {
	return &Uploader{
		s3:     api,
		bucket: bucket,
		logger: logger,
		now:    time.Now,
	}
}

// Enabled reports whether a destination bucket is configured.
func (u *Uploader) Enabled() bool {
	return u.bucket != ""
}

// Store writes one file under a date-partitioned key and returns where it
// landed.
func (u *Uploader) Store(ctx context.Context, name string, size int64, body io.ReadSeeker) (Result, error) {
	key := path.Join("uploads", u.now().UTC().Format("2006-01-02"), path.Base(name))
	_, err := u.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		u.logger.Warn().Err(err).Str("key", key).Msg("failed to store upload")
		return Result{}, fmt.Errorf("failed to store %v: %w", name, err)
	}

	u.logger.Info().Str("key", key).Int64("size", size).Msg("stored upload")
	return Result{Name: name, Key: key, Size: size}, nil
}

// DecodeFileName undoes the latin1 mangling multipart parsers apply to
// non-ASCII filenames. If the bytes do not form valid UTF-8 the original
// name is kept.
func DecodeFileName(name string) string {
	buf := make([]byte, 0, len(name))
	for _, r := range name {
		if r > 0xff {
			return name
		}
		buf = append(buf, byte(r))
	}
	if utf8.Valid(buf) {
		return string(buf)
	}
	return name
}
