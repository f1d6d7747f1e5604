// Package awsqueue adapts Amazon SQS to the core Queue port.
package awsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/arcovabio/annex/internal/core"
)

// maxWaitSeconds is the SQS long-poll ceiling.
const maxWaitSeconds = 20

// Client is the subset of the SQS API the adapter uses.
type Client interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Queue is an SQS-backed core.Queue. The receipt handle doubles as the
// acknowledgment token.
type Queue struct {
	client Client
	url    string
}

var _ core.Queue = (*Queue)(nil)

// New creates a Queue for the given queue URL.
func New(client Client, queueURL string) *Queue {
	return &Queue{client: client, url: queueURL}
}

// snsEnvelope is the wrapper SNS adds when a topic fans out into SQS.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// Receive long-polls the queue. Bodies delivered through an SNS topic
// are unwrapped to the inner notification payload.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]core.Message, error) {
	if max < 1 {
		max = 1
	}
	waitSeconds := int32(wait / time.Second)
	if waitSeconds > maxWaitSeconds {
		waitSeconds = maxWaitSeconds
	}
	if waitSeconds < 0 {
		waitSeconds = 0
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     waitSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	msgs := make([]core.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, core.Message{
			Body:  unwrapBody(aws.ToString(m.Body)),
			Token: aws.ToString(m.ReceiptHandle),
		})
	}
	return msgs, nil
}

func unwrapBody(body string) []byte {
	var env snsEnvelope
	if err := json.Unmarshal([]byte(body), &env); err == nil &&
		env.Type == "Notification" && env.Message != "" {
		return []byte(env.Message)
	}
	return []byte(body)
}

// Delete permanently removes the delivery identified by token.
func (q *Queue) Delete(ctx context.Context, token string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(token),
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

// Defer extends the delivery's visibility timeout so it reappears after
// delay without being consumed.
func (q *Queue) Defer(ctx context.Context, token string, delay time.Duration) error {
	seconds := int32(delay / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(q.url),
		ReceiptHandle:     aws.String(token),
		VisibilityTimeout: seconds,
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility: %w", err)
	}
	return nil
}
