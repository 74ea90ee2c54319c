package server

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"helmet-recorder/config"
	"helmet-recorder/dto"
	"helmet-recorder/pkg/rabbitmq"
)

// RunRecover runs the startup scan alone, for use while the server is down.
func RunRecover(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := newCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()
	return c.recover(ctx)
}

// RunRetry recovers and then retries every failed upload once.
func RunRetry(cfg *config.Config) (dto.RetryReport, error) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := newCore(ctx, cfg)
	if err != nil {
		return dto.RetryReport{}, err
	}
	defer c.close()

	if err := c.recover(ctx); err != nil {
		return dto.RetryReport{}, err
	}
	report, err := c.uploads.RetryAllFailed(ctx)
	if err != nil {
		return report, err
	}
	zerolog.Ctx(ctx).Info().
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Msg("retry pass finished")
	return report, nil
}

// SendCommand publishes one command to a device's queue.
func SendCommand(cfg *config.Config, deviceID string, msg dto.CommandMessage) error {
	ctx, cancel := context.WithCancel(setupLogger(cfg))
	defer cancel()

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		return err
	}
	publisher, err := rabbitmq.NewPublisher(conn, cfg.Queue)
	if err != nil {
		return err
	}
	defer publisher.Close()

	if err := publisher.SendCommand(ctx, deviceID, msg); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("device", deviceID).Str("command", string(msg.Command)).Msg("command sent")
	return nil
}
