package reminder

import (
	"fmt"

	"github.com/yuchialin/slotgate/internal/db"
	"github.com/yuchialin/slotgate/internal/notify"
)

// buildMessage renders the reminder text for a booking. LINE and SMS carry
// the body only; email additionally uses the subject line.
func buildMessage(kind, channel, recipient string, b *db.BookingWithCustomer) *notify.Message {
	name := b.Customer.Name
	if name == "" {
		name = "there"
	}

	var subject, lead string
	switch kind {
	case db.Reminder2h:
		subject = "Your appointment is in 2 hours"
		lead = "in about 2 hours"
	default:
		subject = "Appointment reminder for tomorrow"
		lead = "tomorrow"
	}

	body := fmt.Sprintf("Hi %s, this is a reminder that your appointment is %s: %s at %s. Reply or contact us if you need to reschedule.",
		name, lead, b.Booking.Date, b.Booking.TimeSlot)

	return &notify.Message{
		TenantID:  b.Booking.TenantID,
		BookingID: b.Booking.ID,
		Channel:   channel,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
	}
}

// pickChannel selects the delivery channel for a customer, preferring LINE
// push, then email, then SMS. Empty channel means the customer is
// unreachable and the reminder is recorded as skipped.
func pickChannel(c db.Customer) (channel, recipient string) {
	switch {
	case c.LineUserID != "":
		return db.ChannelLine, c.LineUserID
	case c.Email != "":
		return db.ChannelEmail, c.Email
	case c.Phone != "":
		return db.ChannelSMS, c.Phone
	default:
		return "", ""
	}
}
