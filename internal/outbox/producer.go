package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/yuchialin/slotgate/internal/notify"
)

// Config holds SQS outbox configuration.
type Config struct {
	Region   string
	QueueURL string
}

// Envelope is the payload carried through SQS. Booking confirmations ride
// the queue so that a slow or flaky notification provider never adds
// latency to the commit path.
type Envelope struct {
	BookingID  int64  `json:"booking_id"`
	TenantID   int64  `json:"tenant_id"`
	Channel    string `json:"channel"`
	Recipient  string `json:"recipient"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// Producer enqueues confirmation messages to SQS.
type Producer struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewProducer creates an SQS producer for the confirmation outbox.
func NewProducer(ctx context.Context, cfg Config, logger *zap.Logger) (*Producer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("confirmation outbox initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Producer{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// EnqueueConfirmation puts a booking confirmation on the queue.
func (p *Producer) EnqueueConfirmation(ctx context.Context, msg *notify.Message) error {
	env := Envelope{
		BookingID:  msg.BookingID,
		TenantID:   msg.TenantID,
		Channel:    msg.Channel,
		Recipient:  msg.Recipient,
		Subject:    msg.Subject,
		Body:       msg.Body,
		EnqueuedAt: time.Now().UnixNano(),
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	}

	result, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("sqs send failed: %w", err)
	}

	p.logger.Debug("confirmation enqueued",
		zap.Int64("booking_id", msg.BookingID),
		zap.String("message_id", *result.MessageId),
	)

	return nil
}
