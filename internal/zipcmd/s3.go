package zipcmd

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/trungnn/zipkit"
)

// zipToS3 streams the archive to s3://bucket/key through a pipe, so the
// whole ZIP never has to exist on local disk.
func zipToS3(ctx context.Context, cfg zipkit.Config, bucket, key string) error {
	awscfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load default config error: %w", err)
	}

	uploader := manager.NewUploader(s3.NewFromConfig(awscfg))

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   pr,
		})

		// unblock the archiving side if the upload dies first.
		_ = pr.CloseWithError(err)
		done <- err
	}()

	cfg.DestWriter = pw
	zerr := zipkit.Zip(ctx, cfg)
	_ = pw.CloseWithError(zerr)

	if uerr := <-done; zerr == nil && uerr != nil {
		return fmt.Errorf("upload archive (bucket=%s, key=%s) error: %w", bucket, key, uerr)
	}

	return zerr
}
