package email

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	texttemplate "text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"JobMailer/internal/models"
)

const (
	fallbackSubject = "No Subject"
	testSubject     = "Test email"
)

var (
	ErrNoSender     = errors.New("smtp user (sender address) is not configured")
	ErrRenderFailed = errors.New("failed to render email")
	ErrSendFailed   = errors.New("failed to send email")
)

// inline HTML inside a Markdown body is kept
var markdown = goldmark.New(goldmark.WithRendererOptions(html.WithUnsafe()))

// Message is a fully rendered email, ready for a Transport.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
}

// TemplateData is what subject and body templates can reference.
type TemplateData struct {
	Name  string
	Email string
}

// Compose renders the configured subject and body for one contact.
func Compose(s models.Settings, c models.Contact) (*Message, error) {
	if strings.TrimSpace(s.SMTPUser) == "" {
		return nil, ErrNoSender
	}

	data := TemplateData{Name: c.Name, Email: c.Email}

	subject, err := execute("subject", s.EmailSubject, data)
	if err != nil {
		return nil, fmt.Errorf("%w: subject: %w", ErrRenderFailed, err)
	}
	if strings.TrimSpace(subject) == "" {
		subject = fallbackSubject
	}

	text, htmlBody, err := renderBody(s.EmailBody, data)
	if err != nil {
		return nil, err
	}

	return &Message{
		From:    s.SMTPUser,
		To:      c.Email,
		Subject: subject,
		HTML:    htmlBody,
		Text:    text,
	}, nil
}

// TestMessage is the fixed message used to verify SMTP settings.
func TestMessage(s models.Settings, to string) (*Message, error) {
	if strings.TrimSpace(s.SMTPUser) == "" {
		return nil, ErrNoSender
	}

	text, body, err := renderBody(s.EmailBody, TemplateData{Email: to})
	if err != nil {
		return nil, err
	}

	return &Message{
		From:    s.SMTPUser,
		To:      to,
		Subject: testSubject,
		HTML:    "<h3>Test Email</h3>\n<p>Your SMTP configuration is working!</p>\n<hr />\n" + body,
		Text:    "Your SMTP configuration is working!\n\n" + text,
		Headers: map[string]string{
			"X-Priority":        "1",
			"X-MSMail-Priority": "High",
			"Importance":        "high",
		},
	}, nil
}

// renderBody executes the body template. A body that starts with a tag is
// sent as written; anything else is Markdown with a plain-text alternative.
func renderBody(body string, data TemplateData) (text, htmlBody string, err error) {
	out, err := execute("body", body, data)
	if err != nil {
		return "", "", fmt.Errorf("%w: body: %w", ErrRenderFailed, err)
	}
	if isHTML(body) {
		return "", out, nil
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(out), &buf); err != nil {
		return "", "", fmt.Errorf("%w: markdown: %w", ErrRenderFailed, err)
	}
	return out, buf.String(), nil
}

func isHTML(body string) bool {
	return strings.HasPrefix(strings.TrimSpace(body), "<")
}

// CheckTemplates reports whether a subject and body would render.
func CheckTemplates(subject, body string) error {
	if _, err := execute("subject", subject, TemplateData{}); err != nil {
		return fmt.Errorf("%w: subject: %w", ErrRenderFailed, err)
	}
	if _, err := execute("body", body, TemplateData{}); err != nil {
		return fmt.Errorf("%w: body: %w", ErrRenderFailed, err)
	}
	return nil
}

func execute(name, src string, data TemplateData) (string, error) {
	tmpl, err := texttemplate.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
