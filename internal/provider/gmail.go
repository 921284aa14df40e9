package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mailblast/internal/models"
)

// GmailProvider sends mail through the Gmail REST API (OAuth bearer token)
type GmailProvider struct {
	token  string
	apiURL string
	from   string
	client *http.Client
}

// NewGmailProvider creates a new Gmail provider
func NewGmailProvider(token, apiURL, from string) *GmailProvider {
	return &GmailProvider{
		token:  token,
		apiURL: apiURL,
		from:   from,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the provider identifier
func (p *GmailProvider) Name() string { return "gmail" }

// Available reports whether an access token is configured
func (p *GmailProvider) Available() bool { return p.token != "" }

// Send attempts delivery of a single message via the Gmail API.
// Gmail expects the full RFC 822 message, base64url-encoded, in a JSON wrapper.
func (p *GmailProvider) Send(ctx context.Context, msg *models.PersonalizedMessage) *SendResult {
	raw := p.buildMIME(msg)

	payload, err := json.Marshal(map[string]string{
		"raw": base64.URLEncoding.EncodeToString([]byte(raw)),
	})
	if err != nil {
		return &SendResult{
			Provider: p.Name(),
			Err:      &SendError{Kind: KindFatalPayload, Message: fmt.Sprintf("failed to encode request: %v", err)},
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(payload))
	if err != nil {
		return &SendResult{Provider: p.Name(), Err: ClassifyTransport(err)}
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &SendResult{Provider: p.Name(), Err: ClassifyTransport(err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var sent struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(respBody, &sent)
		return &SendResult{Success: true, MessageID: sent.ID, Provider: p.Name()}
	}

	return &SendResult{Provider: p.Name(), Err: ClassifyStatus(resp.StatusCode, string(respBody))}
}

// buildMIME assembles the RFC 822 message body
func (p *GmailProvider) buildMIME(msg *models.PersonalizedMessage) string {
	var b strings.Builder

	if len(msg.Attachments) == 0 {
		b.WriteString("From: " + p.from + "\r\n")
		b.WriteString("To: " + msg.RecipientAddress + "\r\n")
		b.WriteString("Subject: " + msg.Subject + "\r\n")
		b.WriteString("MIME-Version: 1.0\r\n")
		b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
		b.WriteString("\r\n")
		b.WriteString(msg.BodyHTML)
		return b.String()
	}

	const boundary = "mailblast-mixed-boundary"
	b.WriteString("From: " + p.from + "\r\n")
	b.WriteString("To: " + msg.RecipientAddress + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/mixed; boundary=\"" + boundary + "\"\r\n")
	b.WriteString("\r\n")

	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.BodyHTML)
	b.WriteString("\r\n")

	for _, a := range msg.Attachments {
		b.WriteString("--" + boundary + "\r\n")
		b.WriteString("Content-Type: " + a.ContentType + "\r\n")
		b.WriteString("Content-Transfer-Encoding: base64\r\n")
		b.WriteString("Content-Disposition: attachment; filename=\"" + a.Filename + "\"\r\n")
		b.WriteString("\r\n")
		b.WriteString(a.Content)
		b.WriteString("\r\n")
	}
	b.WriteString("--" + boundary + "--")

	return b.String()
}
