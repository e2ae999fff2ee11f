package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// DynamoDBAPI is the subset of the DynamoDB client used by StatusUpdater
type DynamoDBAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// StatusUpdater records job status and output locations in a DynamoDB table keyed by job_id
type StatusUpdater struct {
	client DynamoDBAPI
	table  string
	logger *zap.Logger
	now    func() time.Time
}

// NewStatusUpdater creates a new StatusUpdater instance
func NewStatusUpdater(client DynamoDBAPI, table string, logger *zap.Logger) *StatusUpdater {
	return &StatusUpdater{
		client: client,
		table:  table,
		logger: logger,
		now:    time.Now,
	}
}

// UpdateInput builds the UpdateItem request for event
func (u *StatusUpdater) UpdateInput(event Event) *dynamodb.UpdateItemInput {
	outputs := make(map[string]types.AttributeValue, len(event.Outputs))
	for format, uri := range event.Outputs {
		outputs[format] = &types.AttributeValueMemberS{Value: uri}
	}

	return &dynamodb.UpdateItemInput{
		TableName: aws.String(u.table),
		Key: map[string]types.AttributeValue{
			"job_id": &types.AttributeValueMemberS{Value: event.JobID},
		},
		UpdateExpression:         aws.String("SET #s = :s, outputs = :o, updated_at = :t"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: event.Status},
			":o": &types.AttributeValueMemberM{Value: outputs},
			":t": &types.AttributeValueMemberN{Value: strconv.FormatInt(u.now().Unix(), 10)},
		},
	}
}

// Notify writes the job status row
func (u *StatusUpdater) Notify(ctx context.Context, event Event) error {
	if _, err := u.client.UpdateItem(ctx, u.UpdateInput(event)); err != nil {
		return fmt.Errorf("failed to update status of job %s in %s: %w", event.JobID, u.table, err)
	}
	u.logger.Info("updated job status",
		zap.String("job_id", event.JobID),
		zap.String("status", event.Status),
		zap.String("table", u.table))
	return nil
}
