package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"helmet-recorder/constant"
	"helmet-recorder/dto"
	"helmet-recorder/pkg/capture"
	"helmet-recorder/pkg/rabbitmq"
	"helmet-recorder/repository"
	"helmet-recorder/service"
)

type ServiceDependencies struct {
	Scheduler service.ChunkScheduler
	Uploads   service.UploadManager
	Media     service.MediaLibrary
	Tracker   *service.GpsTracker
	Device    capture.Device
}

// CommandHandler runs one remote command. Commands that can never succeed
// are marked non-retryable so they go straight to the dead letter queue.
func CommandHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var cmd dto.CommandMessage
	if err := json.Unmarshal(msg.Body, &cmd); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal command message")
		return errors.Join(rabbitmq.ErrNonRetryable, err)
	}

	logger := zerolog.Ctx(ctx).With().
		Str("message_id", cmd.MessageId.String()).
		Str("command", string(cmd.Command)).
		Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Msg("received command")

	switch cmd.Command {
	case constant.CommandStartSession:
		_, err := deps.Scheduler.StartSession(ctx)
		if errors.Is(err, service.ErrAlreadyRecording) {
			return nil
		}
		if errors.Is(err, capture.ErrDeviceUnavailable) {
			return errors.Join(rabbitmq.ErrNonRetryable, err)
		}
		return err
	case constant.CommandStopSession:
		_, err := deps.Scheduler.StopSession(ctx)
		return err
	case constant.CommandCapturePhoto:
		_, err := deps.Scheduler.CapturePhoto(ctx)
		return err
	case constant.CommandRetryFailed:
		_, err := deps.Uploads.RetryAllFailed(ctx)
		if errors.Is(err, service.ErrRetryInProgress) {
			return nil
		}
		return err
	case constant.CommandUploadBatch:
		if cmd.Base == "" {
			return errors.Join(rabbitmq.ErrNonRetryable, errors.New("upload_batch needs a base"))
		}
		_, err := deps.Uploads.UploadBatch(ctx, cmd.Base)
		return err
	case constant.CommandUploadArtifact:
		_, err := deps.Uploads.Upload(ctx, cmd.FileName)
		switch {
		case errors.Is(err, service.ErrUploadInProgress):
			return nil
		case errors.Is(err, service.ErrNotUploadable), errors.Is(err, repository.ErrArtifactNotFound):
			return errors.Join(rabbitmq.ErrNonRetryable, err)
		}
		return err
	default:
		return errors.Join(rabbitmq.ErrNonRetryable, fmt.Errorf("unknown command %q", cmd.Command))
	}
}
