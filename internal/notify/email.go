package notify

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/danielolaszy/scanglue/internal/config"
)

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel mails a plain text summary. Recipients come from the run
// (config-as-code emails) and fall back to the configured list.
type EmailChannel struct {
	cfg      config.MailConfig
	sendMail SendMailFunc
}

// NewEmailChannel creates an EmailChannel. It returns nil when mail is
// disabled or incomplete.
func NewEmailChannel(cfg config.MailConfig) *EmailChannel {
	if !cfg.Usable() {
		return nil
	}
	return &EmailChannel{cfg: cfg, sendMail: smtp.SendMail}
}

// WithSendMail replaces the SMTP transport.
func (c *EmailChannel) WithSendMail(fn SendMailFunc) *EmailChannel {
	c.sendMail = fn
	return c
}

// Name implements Channel.
func (c *EmailChannel) Name() string {
	return "email"
}

// Recipients returns who receives the summary of o.
func (c *EmailChannel) Recipients(o Outcome) []string {
	if len(o.Request.Emails) > 0 {
		return o.Request.Emails
	}
	return c.cfg.To
}

// Send implements Channel.
func (c *EmailChannel) Send(ctx context.Context, o Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	to := c.Recipients(o)
	if len(to) == 0 {
		return nil
	}

	var auth smtp.Auth
	if c.cfg.Username != "" && c.cfg.Password != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	if err := c.sendMail(addr, auth, c.cfg.From, to, c.message(to, o)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (c *EmailChannel) message(to []string, o Outcome) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", Subject(o))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(Summarize(o), "\n", "\r\n"))
	return buf.Bytes()
}
