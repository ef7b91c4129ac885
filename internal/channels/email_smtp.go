package channels

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/bondsphere/backend/internal/domain"
)

// SMTPTransport delivers through an SMTP relay. Port 465 uses implicit TLS,
// other ports upgrade with STARTTLS when the server offers it.
type SMTPTransport struct {
	host     string
	port     string
	username string
	password string
	timeout  time.Duration
}

func NewSMTPTransport(host, port, username, password string, timeout time.Duration) *SMTPTransport {
	return &SMTPTransport{
		host:     host,
		port:     port,
		username: username,
		password: password,
		timeout:  timeout,
	}
}

func (t *SMTPTransport) Deliver(ctx context.Context, msg *Email) error {
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return domain.Permanent(fmt.Errorf("invalid sender address: %w", err))
	}

	body, err := buildMIME(msg)
	if err != nil {
		return domain.Permanent(err)
	}

	conn, err := t.dial(ctx)
	if err != nil {
		return domain.Transient(fmt.Errorf("smtp dial failed: %w", err))
	}

	client, err := smtp.NewClient(conn, t.host)
	if err != nil {
		conn.Close()
		return classifySMTP(err)
	}
	defer client.Close()

	if t.port != "465" {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: t.host}); err != nil {
				return classifySMTP(err)
			}
		}
	}
	if t.username != "" {
		if err := client.Auth(smtp.PlainAuth("", t.username, t.password, t.host)); err != nil {
			return classifySMTP(err)
		}
	}

	if err := client.Mail(from.Address); err != nil {
		return classifySMTP(err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return classifySMTP(err)
	}
	w, err := client.Data()
	if err != nil {
		return classifySMTP(err)
	}
	if _, err := w.Write(body); err != nil {
		return classifySMTP(err)
	}
	if err := w.Close(); err != nil {
		return classifySMTP(err)
	}
	return classifySMTP(client.Quit())
}

func (t *SMTPTransport) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(t.host, t.port)
	dialer := &net.Dialer{Timeout: t.timeout}

	var (
		conn net.Conn
		err  error
	)
	if t.port == "465" {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: t.host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	return conn, nil
}

// classifySMTP treats 5xx replies as permanent and everything else as transient
func classifySMTP(err error) error {
	if err == nil {
		return nil
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code >= 500 {
		return domain.Permanent(err)
	}
	return domain.Transient(err)
}

func buildMIME(msg *Email) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", msg.Text},
		{"text/html; charset=UTF-8", msg.HTML},
	}
	for _, p := range parts {
		if p.content == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", msg.From)
	fmt.Fprintf(&out, "To: %s\r\n", msg.To)
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&out, "X-Tracking-ID: %s\r\n", msg.ID)
	fmt.Fprintf(&out, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}
