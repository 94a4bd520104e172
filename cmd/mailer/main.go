package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"dpp/config"
	"dpp/internal/service"

	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadMailer()
	if err != nil {
		logger.WithError(err).Fatal("load config")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := &service.MailConsumer{
		Sender: &service.SMTPEmailSender{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.SMTPUsername,
			Password: cfg.Mail.SMTPPassword,
			From:     cfg.Mail.From,
		},
		Logger: logger,
	}

	logger.WithField("queue", cfg.RabbitMQ.MailQueue).Info("mail consumer started")
	if err := consumer.Run(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.MailQueue); err != nil {
		logger.WithError(err).Fatal("mail consumer stopped")
	}
	logger.Info("mail consumer stopped")
}
