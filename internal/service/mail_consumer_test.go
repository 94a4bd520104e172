package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestMailConsumerHandle(t *testing.T) {
	sender := &stubEmailSender{}
	consumer := &MailConsumer{Sender: sender, Logger: quietLogger()}

	body, err := json.Marshal(magicLoginMessage("ada@example.com", "https://dpp.test/magic-login/abc"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := consumer.Handle(context.Background(), body); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if got := sender.last(t); got.To != "ada@example.com" || got.Subject != "Your Magic Login Link" {
		t.Fatalf("delivered %+v", got)
	}
}

func TestMailConsumerHandleRejectsMalformed(t *testing.T) {
	consumer := &MailConsumer{Sender: &stubEmailSender{}, Logger: quietLogger()}

	for _, body := range []string{"not json", `{"to":"","subject":"x"}`, `{"to":"a@b.c"}`} {
		if err := consumer.Handle(context.Background(), []byte(body)); !errors.Is(err, ErrMalformedMail) {
			t.Fatalf("Handle(%q) error = %v, want ErrMalformedMail", body, err)
		}
	}
}

func TestMailConsumerHandleSurfacesSendError(t *testing.T) {
	sendErr := errors.New("smtp down")
	consumer := &MailConsumer{Sender: &stubEmailSender{err: sendErr}, Logger: quietLogger()}

	body, _ := json.Marshal(EmailMessage{To: "a@example.com", Subject: "hi", Text: "x"})
	err := consumer.Handle(context.Background(), body)
	if !errors.Is(err, sendErr) || errors.Is(err, ErrMalformedMail) {
		t.Fatalf("Handle() error = %v, want send error", err)
	}
}
