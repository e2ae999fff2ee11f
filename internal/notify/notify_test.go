package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"longscribe/internal/stitch"
)

type fakeDynamoDB struct {
	inputs []*dynamodb.UpdateItemInput
	err    error
}

func (f *fakeDynamoDB) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.inputs = append(f.inputs, in)
	return &dynamodb.UpdateItemOutput{}, f.err
}

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(ctx context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func sampleEvent() Event {
	return Event{
		JobID:  "job-1",
		Status: StatusCompleted,
		Outputs: map[string]string{
			"json": "s3://results/final/job-1/transcript.json",
			"txt":  "s3://results/final/job-1/transcript.txt",
		},
		Meta: stitch.MergeStats{Windows: 3, DroppedOverlap: 2},
	}
}

func TestStatusUpdater_Notify(t *testing.T) {
	t.Run("should set status outputs and timestamp", func(t *testing.T) {
		// Arrange
		fake := &fakeDynamoDB{}
		updater := NewStatusUpdater(fake, "jobs", zaptest.NewLogger(t))
		updater.now = func() time.Time { return time.Unix(1714564800, 0) }

		// Act
		err := updater.Notify(context.Background(), sampleEvent())

		// Assert
		require.NoError(t, err)
		require.Len(t, fake.inputs, 1)
		in := fake.inputs[0]
		assert.Equal(t, "jobs", aws.ToString(in.TableName))
		assert.Equal(t, "SET #s = :s, outputs = :o, updated_at = :t", aws.ToString(in.UpdateExpression))
		assert.Equal(t, map[string]string{"#s": "status"}, in.ExpressionAttributeNames)
		assert.Equal(t, &types.AttributeValueMemberS{Value: "job-1"}, in.Key["job_id"])
		assert.Equal(t, &types.AttributeValueMemberS{Value: "COMPLETED"}, in.ExpressionAttributeValues[":s"])
		assert.Equal(t, &types.AttributeValueMemberN{Value: "1714564800"}, in.ExpressionAttributeValues[":t"])
		outputs, ok := in.ExpressionAttributeValues[":o"].(*types.AttributeValueMemberM)
		require.True(t, ok)
		assert.Equal(t, &types.AttributeValueMemberS{Value: "s3://results/final/job-1/transcript.txt"}, outputs.Value["txt"])
	})

	t.Run("should wrap client errors", func(t *testing.T) {
		updater := NewStatusUpdater(&fakeDynamoDB{err: assert.AnError}, "jobs", zaptest.NewLogger(t))

		err := updater.Notify(context.Background(), sampleEvent())

		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestPublisher_Notify(t *testing.T) {
	t.Run("should publish subject and JSON body", func(t *testing.T) {
		// Arrange
		fake := &fakeSNS{}
		publisher := NewPublisher(fake, "arn:aws:sns:us-east-1:123456789012:done", zaptest.NewLogger(t))

		// Act
		err := publisher.Notify(context.Background(), sampleEvent())

		// Assert
		require.NoError(t, err)
		require.Len(t, fake.inputs, 1)
		in := fake.inputs[0]
		assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:done", aws.ToString(in.TopicArn))
		assert.Equal(t, "Whisper stitcher: job-1 COMPLETED", aws.ToString(in.Subject))

		var body map[string]any
		require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.Message)), &body))
		assert.Equal(t, "job-1", body["job_id"])
		assert.Equal(t, "COMPLETED", body["status"])
		meta := body["meta"].(map[string]any)
		assert.Equal(t, 3.0, meta["chunks"])
		assert.Equal(t, 2.0, meta["dropped_overlap"])
	})

	t.Run("should wrap client errors", func(t *testing.T) {
		publisher := NewPublisher(&fakeSNS{err: assert.AnError}, "arn", zaptest.NewLogger(t))

		assert.ErrorIs(t, publisher.Notify(context.Background(), sampleEvent()), assert.AnError)
	})
}

func TestMulti_Notify(t *testing.T) {
	t.Run("should deliver to every notifier even after a failure", func(t *testing.T) {
		// Arrange
		failing := &recordingNotifier{err: errors.New("boom")}
		ok := &recordingNotifier{}
		multi := Multi{failing, ok}

		// Act
		err := multi.Notify(context.Background(), sampleEvent())

		// Assert
		assert.ErrorContains(t, err, "boom")
		assert.Len(t, failing.events, 1)
		assert.Len(t, ok.events, 1)
	})

	t.Run("should return nil when empty", func(t *testing.T) {
		assert.NoError(t, Multi{}.Notify(context.Background(), sampleEvent()))
	})
}

func TestBestEffort_Notify(t *testing.T) {
	inner := &recordingNotifier{err: assert.AnError}
	notifier := BestEffort{Notifier: inner, Logger: zaptest.NewLogger(t)}

	assert.NoError(t, notifier.Notify(context.Background(), sampleEvent()))
	assert.Len(t, inner.events, 1)
	assert.NoError(t, BestEffort{}.Notify(context.Background(), sampleEvent()))
	assert.NoError(t, Nop{}.Notify(context.Background(), sampleEvent()))
}
