package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"gopkg.in/gomail.v2"
)

// EmailSender is the outbound email contract: send one message, report
// success or a classified failure.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return Transient(err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return classifySMTPError(err)
	}
	return nil
}

// classifySMTPError separates credential and policy rejections, which a retry
// cannot fix, from connectivity trouble, which it can.
func classifySMTPError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "535"), // authentication credentials invalid
		strings.Contains(msg, "534"),
		strings.Contains(msg, "530"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "username and password not accepted"):
		return Permanent(err)
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporarily"),
		strings.Contains(msg, "i/o timeout"):
		return Transient(err)
	}

	// Unknown SMTP failures get retried; the attempt cap bounds the damage.
	return Transient(err)
}

// ConfirmationEmail renders the patient-facing booking confirmation.
func ConfirmationEmail(patientName, providerName, day, slot string) (subject, body string) {
	subject = "Your OroShine appointment is booked"
	body = fmt.Sprintf(
		"<p>Hi %s,</p><p>Your appointment with %s on %s at %s has been received and is pending confirmation.</p><p>— OroShine Dental Care</p>",
		patientName, providerName, day, slot,
	)
	return subject, body
}

// CancellationEmail renders the cancellation notice.
func CancellationEmail(patientName, providerName, day, slot string) (subject, body string) {
	subject = "Your OroShine appointment has been cancelled"
	body = fmt.Sprintf(
		"<p>Hi %s,</p><p>Your appointment with %s on %s at %s has been cancelled. The slot is open again if you wish to rebook.</p><p>— OroShine Dental Care</p>",
		patientName, providerName, day, slot,
	)
	return subject, body
}
