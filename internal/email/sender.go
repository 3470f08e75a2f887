package email

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"JobMailer/internal/models"
)

// ResumeAttachmentName is the display name every attached resume gets.
const ResumeAttachmentName = "Resume.pdf"

// DefaultTimeout bounds each phase of an SMTP exchange.
const DefaultTimeout = 10 * time.Second

type Transport interface {
	Send(ctx context.Context, msg *Message) error
}

// Factory builds a Transport bound to one snapshot of the settings.
type Factory interface {
	Transport(s models.Settings) Transport
}

type service struct {
	Host string
	Port int
	SSL  bool
}

// Well-known providers addressed by name instead of host and port.
var services = map[string]service{
	"gmail": {Host: "smtp.gmail.com", Port: 465, SSL: true},
}

// Config is the resolved connection target. When Service is set, Host and
// Port are left empty; the two forms are never mixed.
type Config struct {
	Service  string
	Host     string
	Port     int
	Username string
	Password string
	Secure   bool
}

func ConfigFrom(s models.Settings) Config {
	cfg := Config{
		Host:     strings.TrimSpace(s.SMTPHost),
		Port:     s.SMTPPort,
		Username: s.SMTPUser,
		Password: s.SMTPPass,
		Secure:   s.SMTPSecure,
	}
	if cfg.Port == 0 {
		cfg.Port = models.DefaultSMTPPort
	}

	host := strings.ToLower(cfg.Host)
	if strings.Contains(host, "gmail.com") || strings.Contains(host, "googlemail.com") {
		cfg.Service = "gmail"
		cfg.Host = ""
		cfg.Port = 0
	}
	return cfg
}

func (c Config) dialer() *gomail.Dialer {
	host, port, ssl := c.Host, c.Port, c.Secure
	if svc, ok := services[c.Service]; ok {
		host, port, ssl = svc.Host, svc.Port, svc.SSL
	}

	d := gomail.NewDialer(host, port, c.Username, c.Password)
	d.SSL = ssl || port == 465
	return d
}

// SMTPFactory creates gomail-backed transports.
type SMTPFactory struct {
	ResumeDir string
	Timeout   time.Duration
}

func (f SMTPFactory) Transport(s models.Settings) Transport {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SMTPTransport{
		Config:  ConfigFrom(s),
		Resume:  f.resumePath(s),
		Timeout: timeout,
	}
}

// resumePath is empty when no resume is configured or the file is gone;
// a missing file drops the attachment rather than failing the send.
func (f SMTPFactory) resumePath(s models.Settings) string {
	if s.ResumeFilename == "" {
		return ""
	}
	p := filepath.Join(f.ResumeDir, filepath.Base(s.ResumeFilename))
	if info, err := os.Stat(p); err != nil || info.IsDir() {
		return ""
	}
	return p
}

type SMTPTransport struct {
	Config  Config
	Resume  string
	Timeout time.Duration
}

func (t *SMTPTransport) message(msg *Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}

	if msg.Text != "" {
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	} else {
		m.SetBody("text/html", msg.HTML)
	}

	if t.Resume != "" {
		m.Attach(t.Resume, gomail.Rename(ResumeAttachmentName))
	}
	return m
}

// Send dials, sends and hangs up. gomail bounds the TCP connect itself;
// greeting and socket time are bounded here by abandoning the exchange.
func (t *SMTPTransport) Send(ctx context.Context, msg *Message) error {
	m := t.message(msg)
	d := t.Config.dialer()

	ctx, cancel := context.WithTimeout(ctx, 3*t.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.DialAndSend(m)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSendFailed, err)
		}
		return nil
	case <-ctx.Done():
		// DialAndSend keeps running and may still deliver. The engine leaves
		// a contact pending on cancellation, so a send cut off by shutdown can
		// reach the recipient again after restart.
		return fmt.Errorf("%w: smtp exchange with %s: %w", ErrSendFailed, d.Host, ctx.Err())
	}
}
