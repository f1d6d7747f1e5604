package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/arcovabio/annex/config"
	"github.com/arcovabio/annex/internal/adapters/awsblob"
	"github.com/arcovabio/annex/internal/adapters/awscold"
	"github.com/arcovabio/annex/internal/adapters/awsqueue"
	"github.com/arcovabio/annex/internal/adapters/awssns"
)

// AWSAdapters groups the managed-infrastructure adapters backing the
// queue, blob store, cold archive, and publisher ports.
type AWSAdapters struct {
	SQS       *sqs.Client
	Publisher *awssns.Publisher
	Blobs     *awsblob.Store
	Cold      *awscold.Vault
}

// ConnectAWS loads the default AWS configuration chain and builds the
// service clients and port adapters. Credentials come from the standard
// environment/instance-profile resolution.
func ConnectAWS(ctx context.Context, cfg config.AWSConfig, logger *slog.Logger) (*AWSAdapters, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	adapters := &AWSAdapters{
		SQS:       sqs.NewFromConfig(awsCfg),
		Publisher: awssns.New(sns.NewFromConfig(awsCfg)),
		Blobs:     awsblob.New(s3.NewFromConfig(awsCfg)),
		Cold: awscold.New(awscold.Options{
			Client:         glacier.NewFromConfig(awsCfg),
			Vault:          cfg.GlacierVault,
			RetrievalTopic: cfg.ThawTopic,
		}),
	}

	if logger != nil {
		logger.Info("aws clients initialised", "region", cfg.Region, "vault", cfg.GlacierVault)
	}

	return adapters, nil
}

// Queue builds a queue adapter for the given queue URL sharing the SQS client.
func (a *AWSAdapters) Queue(queueURL string) *awsqueue.Queue {
	return awsqueue.New(a.SQS, queueURL)
}
