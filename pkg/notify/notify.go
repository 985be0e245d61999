// Package notify sends backup result emails.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/supporttools/GoSQLKeeper/pkg/config"
)

// Sender delivers one message
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Report summarizes one backup attempt
type Report struct {
	Server  string
	Job     string
	Success bool
	Start   time.Time
	End     time.Time
	Size    int64
	Path    string
	Error   string
}

// Compose renders the subject and plain text body of r
func Compose(r Report) (subject, body string) {
	status := "Success"
	if !r.Success {
		status = "Error"
	}
	subject = fmt.Sprintf("Backup %s: %s", r.Server, status)

	var b strings.Builder
	fmt.Fprintf(&b, "Server: %s\n", r.Server)
	if r.Job != "" {
		fmt.Fprintf(&b, "Job: %s\n", r.Job)
	}
	fmt.Fprintf(&b, "Status: %s\n", status)
	fmt.Fprintf(&b, "Started: %s\n", r.Start.Format(time.RFC1123))
	fmt.Fprintf(&b, "Finished: %s\n", r.End.Format(time.RFC1123))
	if r.Success {
		fmt.Fprintf(&b, "Size: %s\n", humanize.Bytes(uint64(r.Size)))
		fmt.Fprintf(&b, "File: %s\n", r.Path)
	} else {
		fmt.Fprintf(&b, "Error: %s\n", r.Error)
	}
	return subject, b.String()
}

// Notifier sends reports best-effort
type Notifier struct {
	sender Sender
}

// NewNotifier creates a notifier. A nil sender disables notifications.
func NewNotifier(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

// Notify sends r to the address. Failures are logged and swallowed.
func (n *Notifier) Notify(ctx context.Context, to string, r Report) {
	if n == nil || n.sender == nil || to == "" {
		return
	}
	subject, body := Compose(r)
	if err := n.sender.Send(ctx, to, subject, body); err != nil {
		log.Printf("notify: sending %q to %s failed: %v", subject, to, err)
		return
	}
	log.Printf("notify: sent %q to %s", subject, to)
}

// SMTPSender sends mail through the configured relay
type SMTPSender struct {
	cfg     config.SMTPConfig
	timeout time.Duration
}

// NewSMTPSender returns nil when no relay is configured
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	if cfg.Host == "" {
		return nil
	}
	return &SMTPSender{cfg: cfg, timeout: 30 * time.Second}
}

// Send implements Sender
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if s.cfg.StartTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	if s.cfg.Username != "" && s.cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open message body: %w", err)
	}
	if _, err := w.Write([]byte(buildMessage(s.cfg.From, to, subject, body))); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}
	return client.Quit()
}

func buildMessage(from, to, subject, body string) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return msg.String()
}
