package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/yuchialin/slotgate/internal/metrics"
	"github.com/yuchialin/slotgate/internal/notify"
)

// Consumer reads confirmation envelopes from SQS.
type Consumer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewConsumer creates an SQS consumer for the confirmation outbox.
func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Consumer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Receive retrieves one envelope with long polling. Returns (nil, "", nil)
// when the poll times out with no messages.
func (c *Consumer) Receive(ctx context.Context) (*Envelope, string, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   60,
	}

	result, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("sqs receive failed: %w", err)
	}

	if len(result.Messages) == 0 {
		return nil, "", nil
	}

	raw := result.Messages[0]

	var env Envelope
	if err := json.Unmarshal([]byte(*raw.Body), &env); err != nil {
		c.logger.Error("failed to unmarshal envelope", zap.Error(err))
		return nil, "", fmt.Errorf("invalid envelope format: %w", err)
	}

	return &env, *raw.ReceiptHandle, nil
}

// Delete removes a message from the queue after successful delivery.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	if _, err := c.client.DeleteMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}

	return nil
}

// Worker drains the confirmation queue and delivers each envelope through
// the notification senders. Delivery failures leave the message on the
// queue; SQS redelivers it once the visibility timeout expires.
type Worker struct {
	consumer *Consumer
	sender   notify.Sender
	logger   *zap.Logger
}

// NewWorker creates a confirmation delivery worker.
func NewWorker(consumer *Consumer, sender notify.Sender, logger *zap.Logger) *Worker {
	return &Worker{
		consumer: consumer,
		sender:   sender,
		logger:   logger,
	}
}

// Start runs the delivery loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("confirmation worker started")

	for {
		if ctx.Err() != nil {
			w.logger.Info("confirmation worker stopping")
			return
		}

		env, handle, err := w.consumer.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Error("failed to receive confirmation", zap.Error(err))
			continue
		}
		if env == nil {
			continue // empty poll
		}

		w.process(ctx, env, handle)
	}
}

func (w *Worker) process(ctx context.Context, env *Envelope, handle string) {
	msg := &notify.Message{
		TenantID:  env.TenantID,
		BookingID: env.BookingID,
		Channel:   env.Channel,
		Recipient: env.Recipient,
		Subject:   env.Subject,
		Body:      env.Body,
	}

	if err := w.sender.Send(ctx, msg); err != nil {
		metrics.RecordNotification(env.Channel, "failed")
		w.logger.Warn("confirmation delivery failed, leaving on queue",
			zap.Int64("booking_id", env.BookingID),
			zap.String("channel", env.Channel),
			zap.Error(err),
		)
		return
	}

	metrics.RecordNotification(env.Channel, "sent")

	if err := w.consumer.Delete(ctx, handle); err != nil {
		// The message will redeliver; senders must tolerate duplicates.
		w.logger.Warn("failed to delete delivered confirmation",
			zap.Int64("booking_id", env.BookingID),
			zap.Error(err),
		)
	}
}
