// Package mailer отправляет почтовые уведомления через SendGrid.
package mailer

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const senderName = "TV Service Team"

// Client инкапсулирует отправку писем через SendGrid.
type Client struct {
	sg   *sendgrid.Client
	from string
}

// NewClient создаёт почтовый клиент с указанным ключом API и адресом отправителя.
func NewClient(apiKey, fromAddress string) *Client {
	return &Client{
		sg:   sendgrid.NewSendClient(apiKey),
		from: fromAddress,
	}
}

// Send отправляет письмо с текстовой и HTML-версией содержимого.
func (c *Client) Send(ctx context.Context, to, subject, plainText, htmlContent string) error {
	if c == nil || c.sg == nil {
		return fmt.Errorf("mailer not configured")
	}

	from := mail.NewEmail(senderName, c.from)
	recipient := mail.NewEmail("", to)
	message := mail.NewSingleEmail(from, subject, recipient, plainText, htmlContent)

	resp, err := c.sg.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send email: unexpected status %d", resp.StatusCode)
	}

	return nil
}
