// Package bucket publishes run files to an S3 bucket. It is the
// alternative to the JSON-RPC workspace service for deployments that keep
// run output in object storage.
package bucket

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/deixis/runbox/internal/artifact"
	"github.com/deixis/runbox/internal/workspace"
)

const defaultContentType = "application/octet-stream"

// Publisher writes each file as an object under Prefix in Bucket. The
// caller token only selects the remote directory; S3 access uses the
// AWS credential chain.
type Publisher struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.SugaredLogger
}

// New loads the default AWS configuration and returns a Publisher.
func New(ctx context.Context, bucket, prefix, region string, logger *zap.SugaredLogger) (*Publisher, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewWithClient(s3.NewFromConfig(cfg), bucket, prefix, logger), nil
}

// NewWithClient returns a Publisher using an existing client.
func NewWithClient(client *s3.Client, bucket, prefix string, logger *zap.SugaredLogger) *Publisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Publisher{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Key returns the object key for name below remoteDir.
func (p *Publisher) Key(remoteDir, name string) string {
	return strings.TrimPrefix(path.Join(p.prefix, remoteDir, name), "/")
}

// Publish uploads files in order. A failed object is recorded and the
// rest are still attempted.
func (p *Publisher) Publish(ctx context.Context, _ string, remoteDir string, files []workspace.File) *workspace.BatchResult {
	res := &workspace.BatchResult{
		TotalFiles: len(files),
		Files:      make([]workspace.UploadRecord, 0, len(files)),
		RemoteDir:  remoteDir,
	}
	for _, f := range files {
		key := p.Key(remoteDir, f.Name)
		rec := workspace.UploadRecord{
			FileName:   f.Name,
			RemotePath: "s3://" + p.bucket + "/" + key,
		}
		if err := p.put(ctx, key, f.Local); err != nil {
			rec.Error = err.Error()
			p.logger.Warnw("s3 upload failed", "file", f.Name, "key", key, "error", err)
		} else {
			rec.Success = true
			p.logger.Debugw("s3 upload done", "file", f.Name, "key", key)
		}
		res.Files = append(res.Files, rec)
		if rec.Success {
			res.Successful++
		} else {
			res.Failed++
		}
	}
	res.Success = res.Failed == 0
	return res
}

func (p *Publisher) put(ctx context.Context, key, local string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	contentType, _ := artifact.Classify(local)
	if contentType == "" {
		contentType = defaultContentType
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return nil
}
