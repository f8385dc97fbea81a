package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// LineSender delivers messages through the LINE Messaging API push
// endpoint. The recipient is the customer's LINE user id.
type LineSender struct {
	client       *http.Client
	apiURL       string
	channelToken string
	logger       *zap.Logger
}

type LineConfig struct {
	APIURL       string
	ChannelToken string
	Timeout      time.Duration
}

type linePushRequest struct {
	To       string        `json:"to"`
	Messages []lineMessage `json:"messages"`
}

type lineMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewLineSender creates a LINE push sender.
func NewLineSender(cfg LineConfig, logger *zap.Logger) *LineSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &LineSender{
		client:       &http.Client{Timeout: timeout},
		apiURL:       cfg.APIURL,
		channelToken: cfg.ChannelToken,
		logger:       logger,
	}
}

// Send pushes a text message to the recipient's LINE account.
func (s *LineSender) Send(ctx context.Context, msg *Message) error {
	if msg.Channel != "line" {
		return fmt.Errorf("line sender only supports line, got: %s", msg.Channel)
	}
	if msg.Recipient == "" {
		return fmt.Errorf("line message missing recipient")
	}

	payload := linePushRequest{
		To:       msg.Recipient,
		Messages: []lineMessage{{Type: "text", Text: msg.Body}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal line push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create line push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.channelToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("line push request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("line push returned status %d: %s", resp.StatusCode, string(respBody))
	}

	s.logger.Info("line message delivered",
		zap.Int64("booking_id", msg.BookingID),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}

// SupportsChannel checks if this sender supports the line channel.
func (s *LineSender) SupportsChannel(channel string) bool {
	return channel == "line"
}
