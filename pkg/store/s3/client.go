package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientOptions configures NewClient.
type ClientOptions struct {
	Endpoint        Endpoint
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle overrides the addressing style derived from Endpoint.
	ForcePathStyle bool

	// MaxRetries is the total number of attempts per request, including the
	// first one. Zero selects 3.
	MaxRetries int
}

// NewClient builds an aws S3 client and the matching presign client.
func NewClient(ctx context.Context, opts ClientOptions) (*s3.Client, *s3.PresignClient, error) {
	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(opts.Endpoint.Region))

	// Static credentials when provided, otherwise the default chain.
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint.Custom {
			o.BaseEndpoint = aws.String(opts.Endpoint.URL)
		}
		o.UsePathStyle = opts.ForcePathStyle || !opts.Endpoint.BucketInHost
	})

	return client, s3.NewPresignClient(client), nil
}
