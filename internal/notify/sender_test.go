package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

type stubSender struct {
	channel string
	sent    []*Message
	err     error
}

func (s *stubSender) Send(_ context.Context, msg *Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *stubSender) SupportsChannel(channel string) bool {
	return channel == s.channel
}

func TestMultiSender_RoutesByChannel(t *testing.T) {
	line := &stubSender{channel: "line"}
	email := &stubSender{channel: "email"}
	sms := &stubSender{channel: "sms"}

	multi := NewMultiSender(zap.NewNop(), line, email, sms)

	msgs := []*Message{
		{BookingID: 1, Channel: "sms", Recipient: "+886912345678", Body: "hi"},
		{BookingID: 2, Channel: "line", Recipient: "U123", Body: "hi"},
		{BookingID: 3, Channel: "email", Recipient: "a@b.c", Body: "hi"},
	}
	for _, msg := range msgs {
		if err := multi.Send(context.Background(), msg); err != nil {
			t.Fatalf("send %s: %v", msg.Channel, err)
		}
	}

	if len(line.sent) != 1 || line.sent[0].BookingID != 2 {
		t.Errorf("line sender got %+v", line.sent)
	}
	if len(email.sent) != 1 || email.sent[0].BookingID != 3 {
		t.Errorf("email sender got %+v", email.sent)
	}
	if len(sms.sent) != 1 || sms.sent[0].BookingID != 1 {
		t.Errorf("sms sender got %+v", sms.sent)
	}
}

func TestMultiSender_FirstMatchWins(t *testing.T) {
	first := &stubSender{channel: "line"}
	second := &stubSender{channel: "line"}

	multi := NewMultiSender(zap.NewNop(), first, second)

	if err := multi.Send(context.Background(), &Message{Channel: "line", Recipient: "U1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(first.sent) != 1 || len(second.sent) != 0 {
		t.Error("message should go to the first supporting sender")
	}
}

func TestMultiSender_UnknownChannel(t *testing.T) {
	multi := NewMultiSender(zap.NewNop(), &stubSender{channel: "email"})

	err := multi.Send(context.Background(), &Message{Channel: "carrier-pigeon"})
	if err == nil {
		t.Fatal("expected error for unsupported channel")
	}
	if multi.SupportsChannel("carrier-pigeon") {
		t.Error("SupportsChannel should be false")
	}
}

func TestMultiSender_PropagatesSenderError(t *testing.T) {
	failing := &stubSender{channel: "sms", err: errors.New("throttled")}
	multi := NewMultiSender(zap.NewNop(), failing)

	if err := multi.Send(context.Background(), &Message{Channel: "sms"}); err == nil {
		t.Fatal("expected sender error to propagate")
	}
}

func TestLogSender_AcceptsEverything(t *testing.T) {
	s := NewLogSender(zap.NewNop())

	for _, ch := range []string{"line", "email", "sms", "anything"} {
		if !s.SupportsChannel(ch) {
			t.Errorf("log sender should support %s", ch)
		}
	}
	if err := s.Send(context.Background(), &Message{Channel: "line", Body: "x"}); err != nil {
		t.Fatalf("log sender send: %v", err)
	}
}

func TestLineSender_PushesText(t *testing.T) {
	var gotAuth string
	var gotBody linePushRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode push body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewLineSender(LineConfig{APIURL: srv.URL, ChannelToken: "secret-token"}, zap.NewNop())

	err := sender.Send(context.Background(), &Message{
		BookingID: 7,
		Channel:   "line",
		Recipient: "U123",
		Body:      "your appointment is tomorrow",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if gotAuth != "Bearer secret-token" {
		t.Errorf("authorization header = %q", gotAuth)
	}
	if gotBody.To != "U123" {
		t.Errorf("push to = %q", gotBody.To)
	}
	if len(gotBody.Messages) != 1 || gotBody.Messages[0].Text != "your appointment is tomorrow" {
		t.Errorf("push messages = %+v", gotBody.Messages)
	}
}

func TestLineSender_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid token"}`))
	}))
	defer srv.Close()

	sender := NewLineSender(LineConfig{APIURL: srv.URL, ChannelToken: "bad"}, zap.NewNop())

	err := sender.Send(context.Background(), &Message{Channel: "line", Recipient: "U123", Body: "x"})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestLineSender_RejectsWrongChannel(t *testing.T) {
	sender := NewLineSender(LineConfig{APIURL: "http://unused", ChannelToken: "t"}, zap.NewNop())

	if err := sender.Send(context.Background(), &Message{Channel: "email", Recipient: "a@b.c"}); err == nil {
		t.Fatal("expected error for non-line channel")
	}
	if err := sender.Send(context.Background(), &Message{Channel: "line"}); err == nil {
		t.Fatal("expected error for missing recipient")
	}
}
