package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/mylaniakea/unity/internal/model"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel sends events through an SMTP relay
type EmailChannel struct {
	logger   *zap.Logger
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
	sendMail sendMailFunc
}

func NewEmailChannel(logger *zap.Logger, host string, port int, username, password, from string, to []string) *EmailChannel {
	return &EmailChannel{
		logger:   logger.Named("email"),
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		to:       to,
		sendMail: smtp.SendMail,
	}
}

func (c *EmailChannel) Name() string { return "email" }

// Send delivers the message. net/smtp has no context support, so a send
// that outlives ctx is abandoned and reported as the context error.
func (c *EmailChannel) Send(ctx context.Context, event model.AlertEvent) error {
	if len(c.to) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}
	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	msg := c.buildMessage(event)

	done := make(chan error, 1)
	go func() {
		done <- c.sendMail(addr, auth, c.from, c.to, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		c.logger.Debug("Email sent",
			zap.String("alert_id", event.AlertID),
			zap.Int("recipients", len(c.to)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *EmailChannel) buildMessage(event model.AlertEvent) []byte {
	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n"+
		"\r\n"+
		"Alert: %s\r\n"+
		"Rule: %s\r\n"+
		"Resource: %s\r\n"+
		"Observed: %g\r\n"+
		"Threshold: %s %g\r\n"+
		"Time: %s\r\n",
		c.from,
		strings.Join(c.to, ", "),
		Subject(event),
		FormatMessage(event),
		event.AlertID,
		event.RuleID,
		event.ResourceID,
		event.Observed,
		event.Operator.Symbol(), event.Threshold,
		event.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	return []byte(msg)
}
