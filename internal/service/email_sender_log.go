package service

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogEmailSender writes messages to the log instead of delivering them. It is
// meant for local development where no mail transport is configured.
type LogEmailSender struct {
	Logger logrus.FieldLogger
}

func (s LogEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.Logger.WithFields(logrus.Fields{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info(msg.Text)
	return nil
}
