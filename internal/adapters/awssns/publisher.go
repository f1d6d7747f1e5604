// Package awssns adapts Amazon SNS to the core Publisher port.
package awssns

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/arcovabio/annex/internal/core"
)

// Client is the subset of the SNS API the adapter uses.
type Client interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher sends payloads to SNS topics by ARN.
type Publisher struct {
	client Client
}

var _ core.Publisher = (*Publisher)(nil)

func New(client Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topic),
		Message:  aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sns publish %s: %w", topic, err)
	}
	return nil
}
