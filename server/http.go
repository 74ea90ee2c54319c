package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"helmet-recorder/config"
	"helmet-recorder/constant"
	"helmet-recorder/entities"
	"helmet-recorder/handler"
	"helmet-recorder/pkg/capture"
	"helmet-recorder/pkg/discovery"
	"helmet-recorder/pkg/rabbitmq"
	"helmet-recorder/pkg/transcoder"
	"helmet-recorder/service"
)

func RunHttp(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	c, err := newCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.recover(ctx); err != nil {
		return err
	}
	go func() {
		if _, err := c.uploads.RetryAllFailed(context.WithoutCancel(ctx)); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("startup retry pass not run")
		}
	}()

	autoUpload := func(ctx context.Context, artifact *entities.Artifact) {
		if !cfg.Upload.Auto {
			return
		}
		if _, err := c.uploads.UploadArtifact(ctx, artifact); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("file", artifact.FileName).Msg("auto upload skipped")
		}
	}

	conversion := service.NewConversionQueue(service.ConversionOptions{
		Dir:           cfg.Recording.Dir,
		DeviceID:      cfg.App.DeviceID,
		SettleDelay:   cfg.Recording.SettleDelay,
		MinAudioBytes: cfg.Recording.MinAudioBytes,
	}, c.repo, transcoder.NewFFmpeg(cfg.Transcoder.FFmpegPath, cfg.Recording.FPS, cfg.Transcoder.Nice), c.notifier, autoUpload)

	device, err := newDevice(cfg)
	if err != nil {
		return err
	}
	tracker := service.NewGpsTracker(cfg.Recording.GpsInterval)
	scheduler := service.NewChunkScheduler(service.SchedulerOptions{
		Dir:                cfg.Recording.Dir,
		ChunkSizeBytes:     cfg.Recording.ChunkSizeBytes(),
		ChunkCheckInterval: cfg.Recording.ChunkCheckInterval,
		GpsInterval:        cfg.Recording.GpsInterval,
		AudioEnabled:       cfg.Recording.AudioEnabled,
	}, service.SchedulerDeps{
		Repo:       c.repo,
		Device:     device,
		Tracker:    tracker,
		Conversion: conversion,
		BeforeSession: func(ctx context.Context) {
			if _, err := c.uploads.RetryAllFailed(ctx); err != nil && !errors.Is(err, service.ErrRetryInProgress) {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("retry pass failed")
			}
		},
		OnPhoto: autoUpload,
	})

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := scheduler.Run(ctx); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("scheduler stopped")
		}
	}()

	serviceDeps := handler.ServiceDependencies{
		Scheduler: scheduler,
		Uploads:   c.uploads,
		Media:     service.NewMediaLibrary(cfg.Recording.Dir, c.repo, c.uploads),
		Tracker:   tracker,
		Device:    device,
	}

	if c.conn != nil {
		commandConsumer := rabbitmq.NewConsumer(c.conn, cfg.Queue, rabbitmq.CommandRoutingKey(cfg.App.DeviceID), cfg.Server.Workers, handler.CommandHandler)
		go func() {
			err := commandConsumer.Consume(ctx, serviceDeps)
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("Command consumer error")
			}
		}()
	}

	if cfg.Discovery.Enabled {
		responder := newResponder(cfg)
		go func() {
			if err := responder.ListenAndServe(ctx); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("discovery stopped")
			}
		}()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	addHealth(r)
	handler.NewHttpHandler(serviceDeps).Register(r)

	srv := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("addr", srv.Addr).Msg("start http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
			cancel()
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	// the scheduler closes the open segment; wait for its conversion too
	<-schedulerDone
	conversion.Wait()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
	return nil
}

func newDevice(cfg *config.Config) (capture.Device, error) {
	switch cfg.Capture.Driver {
	case constant.CaptureDriverRpicam, "":
		return capture.NewRpicam(capture.RpicamOptions{
			Width:       cfg.Capture.Width,
			Height:      cfg.Capture.Height,
			FPS:         cfg.Recording.FPS,
			Bitrate:     cfg.Capture.Bitrate,
			AudioDevice: cfg.Capture.AudioDevice,
		}), nil
	case constant.CaptureDriverMock:
		return capture.NewMock(capture.MockOptions{}), nil
	default:
		return nil, fmt.Errorf("unsupported capture driver %q", cfg.Capture.Driver)
	}
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

// requestLogger writes one zerolog line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		zerolog.Ctx(c.Request.Context()).Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// newResponder announces the hostname, falling back to the device id.
func newResponder(cfg *config.Config) *discovery.Responder {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = cfg.App.DeviceID
	}
	return discovery.NewResponder(discovery.Options{
		Port:        cfg.Discovery.Port,
		MagicWord:   cfg.Discovery.MagicWord,
		ReplyPrefix: cfg.Discovery.ReplyPrefix,
		Name:        name,
	})
}
