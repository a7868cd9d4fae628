package digest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"
)

var ErrNotConfigured = errors.New("smtp is not configured")

// Message is a rendered digest ready for delivery.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sink delivers rendered digests.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.From != ""
}

// SMTPSink sends multipart/alternative mail. net/smtp upgrades the
// connection with STARTTLS when the server advertises it.
type SMTPSink struct {
	config   SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSink(config SMTPConfig) *SMTPSink {
	if config.Port == 0 {
		config.Port = 587
	}
	return &SMTPSink{config: config, sendMail: smtp.SendMail}
}

func (s *SMTPSink) Send(ctx context.Context, msg Message) error {
	if !s.config.Configured() {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := buildMessage(s.config.From, msg, time.Now())
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	if err := s.sendMail(addr, auth, s.config.From, []string{msg.To}, body); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", msg.To, err)
	}
	return nil
}

func buildMessage(from string, msg Message, now time.Time) ([]byte, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", msg.Text},
		{"text/html; charset=UTF-8", msg.HTML},
	}

	for _, p := range parts {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", p.contentType)
		header.Set("Content-Transfer-Encoding", "quoted-printable")

		pw, err := writer.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("failed to create mail part: %w", err)
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("failed to encode mail part: %w", err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode mail part: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish mail body: %w", err)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", from)
	fmt.Fprintf(&out, "To: %s\r\n", msg.To)
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&out, "Date: %s\r\n", now.Format(time.RFC1123Z))
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", writer.Boundary())
	out.Write(body.Bytes())

	return out.Bytes(), nil
}
