package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mailblast/internal/models"
)

// SendGridProvider sends mail through the SendGrid v3 REST API (API key auth)
type SendGridProvider struct {
	apiKey string
	apiURL string
	from   string
	client *http.Client
}

// NewSendGridProvider creates a new SendGrid provider
func NewSendGridProvider(apiKey, apiURL, from string) *SendGridProvider {
	return &SendGridProvider{
		apiKey: apiKey,
		apiURL: apiURL,
		from:   from,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the provider identifier
func (p *SendGridProvider) Name() string { return "sendgrid" }

// Available reports whether an API key is configured
func (p *SendGridProvider) Available() bool { return p.apiKey != "" }

// sendGridRequest is the SendGrid v3 mail/send payload
type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	Attachments      []sendGridAttachment      `json:"attachments,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridAttachment struct {
	Content  string `json:"content"`
	Type     string `json:"type,omitempty"`
	Filename string `json:"filename"`
}

// Send attempts delivery of a single message via SendGrid
func (p *SendGridProvider) Send(ctx context.Context, msg *models.PersonalizedMessage) *SendResult {
	payload := sendGridRequest{
		Personalizations: []sendGridPersonalization{
			{To: []sendGridAddress{{Email: msg.RecipientAddress}}},
		},
		From:    sendGridAddress{Email: p.from},
		Subject: msg.Subject,
		Content: []sendGridContent{{Type: "text/html", Value: msg.BodyHTML}},
	}
	for _, a := range msg.Attachments {
		payload.Attachments = append(payload.Attachments, sendGridAttachment{
			Content:  a.Content,
			Type:     a.ContentType,
			Filename: a.Filename,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return &SendResult{
			Provider: p.Name(),
			Err:      &SendError{Kind: KindFatalPayload, Message: fmt.Sprintf("failed to encode request: %v", err)},
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return &SendResult{Provider: p.Name(), Err: ClassifyTransport(err)}
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &SendResult{Provider: p.Name(), Err: ClassifyTransport(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// SendGrid returns the provider message id in a response header
		return &SendResult{
			Success:   true,
			MessageID: resp.Header.Get("X-Message-Id"),
			Provider:  p.Name(),
		}
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &SendResult{Provider: p.Name(), Err: ClassifyStatus(resp.StatusCode, string(respBody))}
}
