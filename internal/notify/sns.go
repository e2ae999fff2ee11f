package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// SNSAPI is the subset of the SNS client used by Publisher
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher announces finished jobs on an SNS topic
type Publisher struct {
	client   SNSAPI
	topicARN string
	logger   *zap.Logger
}

// NewPublisher creates a new Publisher instance
func NewPublisher(client SNSAPI, topicARN string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:   client,
		topicARN: topicARN,
		logger:   logger,
	}
}

// Subject returns the message subject for event
func Subject(event Event) string {
	return fmt.Sprintf("Whisper stitcher: %s %s", event.JobID, event.Status)
}

// Notify publishes event as a JSON message
func (p *Publisher) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode notification for job %s: %w", event.JobID, err)
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(Subject(event)),
		Message:  aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification for job %s: %w", event.JobID, err)
	}

	p.logger.Info("published job notification",
		zap.String("job_id", event.JobID),
		zap.String("status", event.Status),
		zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}
