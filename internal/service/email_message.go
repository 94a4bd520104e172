package service

import (
	"fmt"
	"strings"
)

type EmailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

func magicLoginMessage(to string, link string) EmailMessage {
	return EmailMessage{
		To:      to,
		Subject: "Your Magic Login Link",
		Text:    fmt.Sprintf("Click the link below to log in:\n\n%s\n\nThis link will expire in 15 minutes.", link),
		HTML:    fmt.Sprintf("<p>Click the link below to log in:</p><p><a href=\"%s\">Log in</a></p><p>This link will expire in 15 minutes.</p>", link),
	}
}

func verificationMessage(to string, link string) EmailMessage {
	return EmailMessage{
		To:      to,
		Subject: "Verify Your Email Address",
		Text:    fmt.Sprintf("Welcome to the Digital Product Passport System! Please verify your email by clicking the link below:\n\n%s\n\nThis link will expire in 24 hours.", link),
		HTML:    fmt.Sprintf("<p>Welcome to the Digital Product Passport System!</p><p><a href=\"%s\">Verify Email</a></p><p>This link will expire in 24 hours.</p>", link),
	}
}

func buildLink(base string, path string, token string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		return token
	}
	return fmt.Sprintf("%s%s/%s", base, path, token)
}
