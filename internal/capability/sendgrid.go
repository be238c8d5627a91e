package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"
)

const (
	sendgridMailSendEndpoint = "https://api.sendgrid.com/v3/mail/send"
	sendgridMaxBodyBytes     = 1 << 20
)

// SendGridEmail sends plain-text mail through the SendGrid v3 API.
type SendGridEmail struct {
	apiKey   string
	from     string
	endpoint string
	client   *http.Client
}

// NewSendGridEmail returns an Email provider, or one that reports
// ErrNotConfigured when the key or sender address is missing.
func NewSendGridEmail(apiKey string, from string) Email {
	apiKey = strings.TrimSpace(apiKey)
	from = strings.TrimSpace(from)
	if apiKey == "" || from == "" {
		return disabledEmail{}
	}
	return &SendGridEmail{
		apiKey:   apiKey,
		from:     from,
		endpoint: sendgridMailSendEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type disabledEmail struct{}

func (disabledEmail) Send(context.Context, EmailMessage) error {
	return ErrNotConfigured
}

type sendgridAddress struct {
	Email string `json:"email"`
}

type sendgridPayload struct {
	Personalizations []struct {
		To []sendgridAddress `json:"to"`
	} `json:"personalizations"`
	From    sendgridAddress `json:"from"`
	Subject string          `json:"subject"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
}

// ValidEmailAddress reports whether addr parses as a bare RFC 5322 address.
func ValidEmailAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	return err == nil && parsed.Address == addr
}

func (s *SendGridEmail) Send(ctx context.Context, msg EmailMessage) error {
	if ctx == nil {
		ctx = context.Background()
	}
	msg.To = strings.TrimSpace(msg.To)
	msg.Subject = strings.TrimSpace(msg.Subject)
	msg.Body = strings.TrimSpace(msg.Body)
	if !ValidEmailAddress(msg.To) {
		return fmt.Errorf("invalid recipient address %q", msg.To)
	}
	if msg.Subject == "" {
		msg.Subject = "(no subject)"
	}
	if msg.Body == "" {
		return errors.New("empty message body")
	}

	var payload sendgridPayload
	payload.Personalizations = append(payload.Personalizations, struct {
		To []sendgridAddress `json:"to"`
	}{To: []sendgridAddress{{Email: msg.To}}})
	payload.From = sendgridAddress{Email: s.from}
	payload.Subject = msg.Subject
	payload.Content = append(payload.Content, struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{Type: "text/plain", Value: msg.Body})

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, sendgridMaxBodyBytes))
		detail := strings.TrimSpace(string(raw))
		if detail == "" {
			detail = "no response body"
		}
		return fmt.Errorf("sendgrid mail send failed (status %d): %s", resp.StatusCode, detail)
	}
	return nil
}
