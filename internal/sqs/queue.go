// Package sqs hands due schedules from the poller to dispatch consumers
// through an Amazon SQS queue.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxBatch is the SQS limit for SendMessageBatch entries.
const maxBatch = 10

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// API is the subset of the SQS client used here.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Job asks a consumer to dispatch one schedule.
type Job struct {
	ScheduleID    uuid.UUID `json:"schedule_id"`
	ReminderID    uuid.UUID `json:"reminder_id"`
	UserID        uuid.UUID `json:"user_id"`
	ScheduledTime time.Time `json:"scheduled_time"`
	EnqueuedAt    int64     `json:"enqueued_at"`
}

// Delivery is a received job with the handle needed to acknowledge it.
type Delivery struct {
	Job           Job
	MessageID     string
	ReceiptHandle string
}

// NewClient loads AWS configuration for region and returns an SQS client.
func NewClient(ctx context.Context, region string) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}

// Producer sends dispatch jobs to SQS.
type Producer struct {
	client   API
	queueURL string
	logger   *zap.Logger
	now      func() time.Time
}

// NewProducer creates a producer on an existing client.
func NewProducer(client API, queueURL string, logger *zap.Logger) *Producer {
	logger.Info("sqs producer initialized", zap.String("queue_url", queueURL))
	return &Producer{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *Producer) body(job Job) (string, error) {
	if job.EnqueuedAt == 0 {
		job.EnqueuedAt = p.now().UnixNano()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}
	return string(data), nil
}

// Enqueue sends one job and returns the SQS message id.
func (p *Producer) Enqueue(ctx context.Context, job Job) (string, error) {
	body, err := p.body(job)
	if err != nil {
		return "", err
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		p.logger.Error("failed to send message to sqs",
			zap.Error(err),
			zap.String("schedule_id", job.ScheduleID.String()),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// EnqueueBatch sends jobs in chunks of ten. It returns the schedule ids that
// were accepted; rejected entries are logged.
func (p *Producer) EnqueueBatch(ctx context.Context, jobs []Job) ([]uuid.UUID, error) {
	accepted := make([]uuid.UUID, 0, len(jobs))

	for start := 0; start < len(jobs); start += maxBatch {
		chunk := jobs[start:min(start+maxBatch, len(jobs))]

		entries := make([]types.SendMessageBatchRequestEntry, 0, len(chunk))
		for i, job := range chunk {
			body, err := p.body(job)
			if err != nil {
				return accepted, err
			}
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String(strconv.Itoa(i)),
				MessageBody: aws.String(body),
			})
		}

		out, err := p.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(p.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return accepted, fmt.Errorf("sqs send batch failed: %w", err)
		}

		for _, ok := range out.Successful {
			i, err := strconv.Atoi(aws.ToString(ok.Id))
			if err != nil || i < 0 || i >= len(chunk) {
				continue
			}
			accepted = append(accepted, chunk[i].ScheduleID)
		}
		for _, failed := range out.Failed {
			p.logger.Warn("sqs rejected batch entry",
				zap.String("entry", aws.ToString(failed.Id)),
				zap.String("code", aws.ToString(failed.Code)),
				zap.String("message", aws.ToString(failed.Message)),
			)
		}
	}

	return accepted, nil
}

// Consumer reads dispatch jobs from SQS.
type Consumer struct {
	client            API
	queueURL          string
	logger            *zap.Logger
	waitSeconds       int32
	visibilitySeconds int32
}

// NewConsumer creates a consumer using long polling.
func NewConsumer(client API, queueURL string, logger *zap.Logger) *Consumer {
	logger.Info("sqs consumer initialized", zap.String("queue_url", queueURL))
	return &Consumer{
		client:            client,
		queueURL:          queueURL,
		logger:            logger,
		waitSeconds:       20,
		visibilitySeconds: 60,
	}
}

// Receive long-polls for up to limit jobs. Bodies that do not decode are
// logged and left for the queue's redrive policy.
func (c *Consumer) Receive(ctx context.Context, limit int32) ([]Delivery, error) {
	if limit <= 0 || limit > maxBatch {
		limit = maxBatch
	}

	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: limit,
		WaitTimeSeconds:     c.waitSeconds,
		VisibilityTimeout:   c.visibilitySeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}

	deliveries := make([]Delivery, 0, len(result.Messages))
	for _, m := range result.Messages {
		var job Job
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &job); err != nil {
			c.logger.Error("failed to unmarshal job",
				zap.Error(err),
				zap.String("message_id", aws.ToString(m.MessageId)),
			)
			continue
		}
		if job.ScheduleID == uuid.Nil {
			c.logger.Error("job without schedule id", zap.String("message_id", aws.ToString(m.MessageId)))
			continue
		}
		deliveries = append(deliveries, Delivery{
			Job:           job,
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}

	return deliveries, nil
}

// Delete acknowledges a processed delivery.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return errors.New("sqs delete: empty receipt handle")
	}

	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}

	return nil
}

// Postpone makes a delivery visible again after d so it is retried later.
func (c *Consumer) Postpone(ctx context.Context, receiptHandle string, d time.Duration) error {
	_, err := c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: int32(d / time.Second),
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility failed: %w", err)
	}

	return nil
}
