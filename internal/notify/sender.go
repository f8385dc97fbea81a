package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Message is a rendered outbound notification. Delivery is best-effort
// from the booking and reminder flows: a failed send is recorded, never
// propagated into the primary operation's result.
type Message struct {
	TenantID  int64  `json:"tenant_id"`
	BookingID int64  `json:"booking_id"`
	Channel   string `json:"channel"`   // line, email, sms
	Recipient string `json:"recipient"` // LINE user id, email address, or phone number
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
}

// Sender is the unified interface for all delivery channels.
// Implementations: LINE push, email (SES), SMS (SNS).
type Sender interface {
	Send(ctx context.Context, msg *Message) error
	SupportsChannel(channel string) bool
}

// MultiSender routes messages to the appropriate channel sender.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over multiple underlying senders.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
		logger:  logger,
	}
}

// Send routes the message to the first sender supporting its channel.
func (m *MultiSender) Send(ctx context.Context, msg *Message) error {
	for _, sender := range m.senders {
		if sender.SupportsChannel(msg.Channel) {
			m.logger.Debug("routing message to sender",
				zap.String("channel", msg.Channel),
				zap.Int64("booking_id", msg.BookingID),
			)
			return sender.Send(ctx, msg)
		}
	}

	return fmt.Errorf("no sender found for channel: %s", msg.Channel)
}

// SupportsChannel checks if any underlying sender supports the channel.
func (m *MultiSender) SupportsChannel(channel string) bool {
	for _, sender := range m.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}

// LogSender logs messages instead of delivering them (development/tests).
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg *Message) error {
	s.logger.Info("logging message (development mode)",
		zap.Int64("booking_id", msg.BookingID),
		zap.String("channel", msg.Channel),
		zap.String("recipient", msg.Recipient),
		zap.String("body", msg.Body),
	)
	return nil
}

func (s *LogSender) SupportsChannel(channel string) bool {
	// LogSender accepts all channels in development/test mode
	return true
}
