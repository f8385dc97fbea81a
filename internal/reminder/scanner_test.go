package reminder

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yuchialin/slotgate/internal/db"
	"github.com/yuchialin/slotgate/internal/notify"
)

type fakeBookingSource struct {
	bookings []*db.BookingWithCustomer
	from, to time.Time
	err      error
}

func (f *fakeBookingSource) ListBookingsInWindow(_ context.Context, from, to time.Time, _ []string) ([]*db.BookingWithCustomer, error) {
	f.from, f.to = from, to
	return f.bookings, f.err
}

type fakeReminderStore struct {
	alreadySent map[int64]bool
	created     []*db.ReminderRecord
	finished    map[int64]string
	finishErr   error // returned once when marking sent
	nextID      int64
}

func newFakeReminderStore() *fakeReminderStore {
	return &fakeReminderStore{
		alreadySent: make(map[int64]bool),
		finished:    make(map[int64]string),
	}
}

func (f *fakeReminderStore) HasSentReminder(_ context.Context, bookingID int64, _ string) (bool, error) {
	return f.alreadySent[bookingID], nil
}

func (f *fakeReminderStore) CreateReminder(_ context.Context, rec *db.ReminderRecord) error {
	f.nextID++
	rec.ID = f.nextID
	rec.Status = db.ReminderPending
	f.created = append(f.created, rec)
	return nil
}

func (f *fakeReminderStore) FinishReminder(_ context.Context, id int64, status string, _ *string) error {
	if status == db.ReminderSent && f.finishErr != nil {
		err := f.finishErr
		f.finishErr = nil
		return err
	}
	f.finished[id] = status
	return nil
}

type fakeSender struct {
	sent    []*notify.Message
	failFor map[int64]error
}

func (f *fakeSender) Send(_ context.Context, msg *notify.Message) error {
	if err, ok := f.failFor[msg.BookingID]; ok {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) SupportsChannel(string) bool { return true }

func booking(id int64, c db.Customer) *db.BookingWithCustomer {
	return &db.BookingWithCustomer{
		Booking: db.Booking{
			ID:       id,
			TenantID: 1,
			Date:     "2026-09-02",
			TimeSlot: "10:00",
			Status:   db.BookingApproved,
		},
		Customer: c,
	}
}

func TestScanner_SendsReminders(t *testing.T) {
	source := &fakeBookingSource{bookings: []*db.BookingWithCustomer{
		booking(1, db.Customer{ID: 10, Name: "Mei", LineUserID: "U123"}),
		booking(2, db.Customer{ID: 11, Name: "Chen", Email: "chen@example.com"}),
	}}
	store := newFakeReminderStore()
	sender := &fakeSender{}

	s := NewScanner(source, store, sender, time.UTC, zap.NewNop())

	stats, err := s.Scan(context.Background(), db.Reminder24h)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if stats.Sent != 2 || stats.Failed != 0 || stats.Skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(sender.sent))
	}
	if sender.sent[0].Channel != db.ChannelLine || sender.sent[0].Recipient != "U123" {
		t.Errorf("booking 1 should go out via LINE push, got %s/%s",
			sender.sent[0].Channel, sender.sent[0].Recipient)
	}
	if sender.sent[1].Channel != db.ChannelEmail {
		t.Errorf("booking 2 should fall back to email, got %s", sender.sent[1].Channel)
	}
	for id, status := range store.finished {
		if status != db.ReminderSent {
			t.Errorf("reminder %d finished as %s, want sent", id, status)
		}
	}
}

func TestScanner_WindowMath(t *testing.T) {
	source := &fakeBookingSource{}
	s := NewScanner(source, newFakeReminderStore(), &fakeSender{}, time.UTC, zap.NewNop())

	before := time.Now()
	if _, err := s.Scan(context.Background(), db.Reminder2h); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if got := source.to.Sub(source.from); got != time.Hour {
		t.Errorf("window width = %v, want 1h", got)
	}

	target := before.Add(2 * time.Hour)
	center := source.from.Add(30 * time.Minute)
	if diff := center.Sub(target); diff < 0 || diff > time.Second {
		t.Errorf("window center off target by %v", diff)
	}
}

func TestScanner_SkipsAlreadySent(t *testing.T) {
	source := &fakeBookingSource{bookings: []*db.BookingWithCustomer{
		booking(1, db.Customer{ID: 10, LineUserID: "U123"}),
	}}
	store := newFakeReminderStore()
	store.alreadySent[1] = true
	sender := &fakeSender{}

	s := NewScanner(source, store, sender, time.UTC, zap.NewNop())

	stats, err := s.Scan(context.Background(), db.Reminder24h)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if stats.Skipped != 1 || stats.Sent != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(sender.sent) != 0 {
		t.Fatal("already-sent booking must not be redelivered")
	}
	if len(store.created) != 0 {
		t.Fatal("no reminder record should be created for a deduped booking")
	}
}

func TestScanner_SkipsUnreachableCustomer(t *testing.T) {
	source := &fakeBookingSource{bookings: []*db.BookingWithCustomer{
		booking(1, db.Customer{ID: 10, Name: "NoChannels"}),
	}}
	store := newFakeReminderStore()
	sender := &fakeSender{}

	s := NewScanner(source, store, sender, time.UTC, zap.NewNop())

	stats, err := s.Scan(context.Background(), db.Reminder2h)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if stats.Skipped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(sender.sent) != 0 {
		t.Fatal("nothing should be delivered without a channel")
	}
	if len(store.created) != 1 || store.finished[1] != db.ReminderSkipped {
		t.Errorf("skip should still leave an audit record, got %+v", store.finished)
	}
}

func TestScanner_FailureIsolation(t *testing.T) {
	source := &fakeBookingSource{bookings: []*db.BookingWithCustomer{
		booking(1, db.Customer{ID: 10, Email: "bounce@example.com"}),
		booking(2, db.Customer{ID: 11, LineUserID: "U456"}),
	}}
	store := newFakeReminderStore()
	sender := &fakeSender{failFor: map[int64]error{1: errors.New("smtp 550")}}

	s := NewScanner(source, store, sender, time.UTC, zap.NewNop())

	stats, err := s.Scan(context.Background(), db.Reminder24h)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if stats.Failed != 1 || stats.Sent != 1 {
		t.Fatalf("one failure must not block the next booking: %+v", stats)
	}
	if store.finished[1] != db.ReminderFailed {
		t.Errorf("failed delivery should be recorded, got %s", store.finished[1])
	}
	if store.finished[2] != db.ReminderSent {
		t.Errorf("second booking should still be sent, got %s", store.finished[2])
	}
}

func TestScanner_ConcurrentSendLosesRace(t *testing.T) {
	source := &fakeBookingSource{bookings: []*db.BookingWithCustomer{
		booking(1, db.Customer{ID: 10, LineUserID: "U123"}),
	}}
	store := newFakeReminderStore()
	store.finishErr = db.ErrReminderAlreadySent
	sender := &fakeSender{}

	s := NewScanner(source, store, sender, time.UTC, zap.NewNop())

	stats, err := s.Scan(context.Background(), db.Reminder24h)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if stats.Skipped != 1 || stats.Sent != 0 {
		t.Fatalf("race loser should be counted skipped: %+v", stats)
	}
	if store.finished[1] != db.ReminderSkipped {
		t.Errorf("record should be downgraded to skipped, got %s", store.finished[1])
	}
}

func TestScanner_UnknownKind(t *testing.T) {
	s := NewScanner(&fakeBookingSource{}, newFakeReminderStore(), &fakeSender{}, time.UTC, zap.NewNop())

	if _, err := s.Scan(context.Background(), "45m"); err == nil {
		t.Fatal("expected error for unknown reminder kind")
	}
}

func TestScanner_SourceErrorAborts(t *testing.T) {
	source := &fakeBookingSource{err: fmt.Errorf("db down")}
	s := NewScanner(source, newFakeReminderStore(), &fakeSender{}, time.UTC, zap.NewNop())

	if _, err := s.Scan(context.Background(), db.Reminder24h); err == nil {
		t.Fatal("expected error when the booking source fails")
	}
}
