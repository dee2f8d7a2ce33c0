// Package smtpnotify implements domain.Notifier over SMTP with STARTTLS.
package smtpnotify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/cirruswatch/stormsentry/internal/domain"
)

const capability = "notifier"

// sendFunc matches smtp.SendMail, injectable for tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Notifier delivers alert messages through an SMTP relay. smtp.SendMail
// upgrades the connection with STARTTLS when the server advertises it.
type Notifier struct {
	host     string
	port     int
	from     string
	password string
	logger   *slog.Logger
	send     sendFunc
}

// New creates an SMTP notifier authenticating as from with the given
// password.
func New(host string, port int, from, password string, logger *slog.Logger) *Notifier {
	return &Notifier{
		host:     host,
		port:     port,
		from:     from,
		password: password,
		logger:   logger,
		send:     smtp.SendMail,
	}
}

// Send delivers the alert to all recipients in a single SMTP transaction.
// Authentication and recipient rejections are terminal; connection and
// transient server failures are retryable.
func (n *Notifier) Send(ctx context.Context, msg domain.AlertMessage) error {
	if err := validateRecipients(msg.Recipients); err != nil {
		return domain.Terminal(capability, err)
	}

	addr := net.JoinHostPort(n.host, strconv.Itoa(n.port))
	auth := smtp.PlainAuth("", n.from, n.password, n.host)
	payload := formatMessage(n.from, msg)

	// smtp.SendMail has no context support; run it on the side so the
	// caller's deadline still bounds the wait.
	errCh := make(chan error, 1)
	go func() {
		errCh <- n.send(addr, auth, n.from, msg.Recipients, payload)
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.Transient(capability, domain.ErrTimeout)
		}
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return classify(err)
		}
	}

	n.logger.Info("alert email sent",
		"recipients", len(msg.Recipients),
		"subject", msg.Subject)
	return nil
}

func validateRecipients(recipients []string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("%w: no recipients", domain.ErrBadRecipient)
	}
	for _, r := range recipients {
		at := strings.Index(r, "@")
		if at < 1 || at == len(r)-1 {
			return fmt.Errorf("%w: %q", domain.ErrBadRecipient, r)
		}
	}
	return nil
}

// classify maps SMTP reply codes to a retry classification. 535/530 mean the
// relay rejected our credentials; 550/551/553 mean it rejected a recipient.
func classify(err error) error {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		switch proto.Code {
		case 530, 534, 535:
			return domain.Terminal(capability, fmt.Errorf("%w: %v", domain.ErrAuthRejected, err))
		case 550, 551, 553:
			return domain.Terminal(capability, fmt.Errorf("%w: %v", domain.ErrBadRecipient, err))
		}
	}
	return domain.Transient(capability, fmt.Errorf("smtp send: %w", err))
}

// formatMessage renders the RFC 5322 payload for the transaction.
func formatMessage(from string, msg domain.AlertMessage) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}
