package server

import (
	"context"
	"errors"
	"fmt"
	"os"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"helmet-recorder/config"
	"helmet-recorder/constant"
	"helmet-recorder/pkg/rabbitmq"
	"helmet-recorder/pkg/uploader"
	"helmet-recorder/repository"
	"helmet-recorder/service"
)

// core is what every entry point needs: the index, the upload side and the
// optional broker link.
type core struct {
	cfg       *config.Config
	repo      repository.ArtifactRepository
	conn      *amqp.Connection
	publisher *rabbitmq.Publisher
	notifier  service.Notifier
	uploads   service.UploadManager
	recovery  service.RecoveryScan
}

func newCore(ctx context.Context, cfg *config.Config) (*core, error) {
	if err := os.MkdirAll(cfg.Recording.Dir, os.ModePerm); err != nil {
		return nil, err
	}

	db, err := config.NewDatabase(ctx, cfg.Database, cfg.Recording.Dir, cfg.App.Environment)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	repo := repository.NewArtifactRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate index: %w", err)
	}

	up, err := newUploader(cfg)
	if err != nil {
		return nil, err
	}
	shaper, err := service.NewMetadataShaper(cfg.Upload.MetadataFormat)
	if err != nil {
		return nil, err
	}

	c := &core{cfg: cfg, repo: repo, notifier: service.NewNoopNotifier()}
	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	switch {
	case errors.Is(err, config.ErrBrokerDisabled):
	case err != nil:
		// the recorder keeps working offline
		zerolog.Ctx(ctx).Error().Err(err).Msg("NewRabbitMQConn")
	default:
		c.conn = conn
		if c.publisher, err = rabbitmq.NewPublisher(conn, cfg.Queue); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("NewPublisher")
		} else {
			c.notifier = c.publisher
		}
	}

	c.uploads = service.NewUploadManager(service.UploadOptions{
		Dir:          cfg.Recording.Dir,
		DeviceID:     cfg.App.DeviceID,
		RetryDelay:   cfg.Upload.RetryDelay,
		StatusLinger: cfg.Upload.StatusLinger,
	}, repo, up, shaper, c.notifier)
	c.recovery = service.NewRecoveryScan(cfg.Recording.Dir, cfg.App.DeviceID, repo, c.uploads, c.notifier)
	return c, nil
}

// recover runs the startup scan, which also primes the retry queue.
func (c *core) recover(ctx context.Context) error {
	if _, err := c.recovery.Run(ctx); err != nil {
		return fmt.Errorf("recovery scan: %w", err)
	}
	return nil
}

func (c *core) close() {
	if c.publisher != nil {
		_ = c.publisher.Close()
	}
	if sqlDB, err := c.repo.GetDB().DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func newUploader(cfg *config.Config) (uploader.Uploader, error) {
	switch cfg.Upload.Backend {
	case constant.UploadBackendHTTP, "":
		if cfg.Upload.URL == "" {
			return nil, errors.New("upload.url is required for the http backend")
		}
		return uploader.NewHTTP(cfg.Upload.URL, cfg.Upload.APIKey, cfg.Upload.Timeout), nil
	case constant.UploadBackendMinio:
		client, err := config.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return uploader.NewMinio(client, cfg.Minio.Bucket, cfg.Minio.Prefix), nil
	default:
		return nil, fmt.Errorf("unsupported upload backend %q", cfg.Upload.Backend)
	}
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("device", cfg.App.DeviceID).Logger()
	return logger.WithContext(context.Background())
}
