package service

import (
	"context"
	"errors"
	"strings"

	"github.com/resend/resend-go"
)

type ResendEmailSender struct {
	client *resend.Client
	From   string
}

func NewResendEmailSender(apiKey string, from string) *ResendEmailSender {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(from) == "" {
		return &ResendEmailSender{}
	}
	return &ResendEmailSender{
		client: resend.NewClient(apiKey),
		From:   from,
	}
}

// Send gives up as soon as ctx is done. The pinned client has no context
// parameter, so an in-flight API call is left to finish in the background.
func (s *ResendEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.client == nil {
		return errors.New("email sender not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &resend.SendEmailRequest{
		From:    s.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.client.Emails.Send(params)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
