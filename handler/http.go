package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"helmet-recorder/dto"
	"helmet-recorder/entities"
	"helmet-recorder/pkg/capture"
	"helmet-recorder/repository"
	"helmet-recorder/service"
)

type HttpHandler struct {
	deps ServiceDependencies
}

func NewHttpHandler(deps ServiceDependencies) *HttpHandler {
	return &HttpHandler{deps: deps}
}

func (h *HttpHandler) Register(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/record/start", h.StartRecording)
	api.POST("/record/stop", h.StopRecording)
	api.POST("/audio", h.ToggleAudio)
	api.POST("/photo", h.CapturePhoto)
	api.GET("/preview", h.Preview)
	api.POST("/gps", h.UpdateGps)
	api.GET("/status", h.Status)

	api.GET("/media", h.ListMedia)
	api.GET("/gps/:filename", h.GpsTrack)
	api.GET("/download/:filename", h.Download)
	api.DELETE("/media/:filename", h.DeleteMedia)
	api.DELETE("/sessions/:base", h.DeleteSession)
	api.POST("/rename_file", h.RenameFile)
	api.POST("/rename_batch", h.RenameSession)

	api.POST("/upload", h.Upload)
	api.POST("/upload/batch", h.UploadBatch)
	api.POST("/upload/retry", h.RetryFailed)
}

// errorStatus maps pipeline errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrArtifactNotFound), errors.Is(err, service.ErrNoGpsData):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidLabel):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrAlreadyRecording),
		errors.Is(err, service.ErrUploadInProgress),
		errors.Is(err, service.ErrNotUploadable),
		errors.Is(err, service.ErrArtifactBusy),
		errors.Is(err, service.ErrRetryInProgress),
		errors.Is(err, capture.ErrDeviceBusy):
		return http.StatusConflict
	case errors.Is(err, capture.ErrDeviceUnavailable), errors.Is(err, service.ErrSchedulerStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func (h *HttpHandler) StartRecording(c *gin.Context) {
	id, err := h.deps.Scheduler.StartSession(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session_id": id})
}

func (h *HttpHandler) StopRecording(c *gin.Context) {
	session, err := h.deps.Scheduler.StopSession(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if session == nil {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": service.ErrNotRecording.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": session})
}

func (h *HttpHandler) ToggleAudio(c *gin.Context) {
	var req dto.AudioToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	h.deps.Scheduler.SetAudio(enabled)
	c.JSON(http.StatusOK, gin.H{"success": true, "audio_enabled": enabled})
}

func (h *HttpHandler) CapturePhoto(c *gin.Context) {
	name, err := h.deps.Scheduler.CapturePhoto(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "filename": name})
}

func (h *HttpHandler) Preview(c *gin.Context) {
	frame, err := h.deps.Device.Preview(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", frame)
}

func (h *HttpHandler) UpdateGps(c *gin.Context) {
	var req dto.GpsUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	h.deps.Tracker.Update(entities.GpsFix{Lat: req.Lat, Lon: req.Lon, Accuracy: req.Accuracy, Speed: req.Speed})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *HttpHandler) Status(c *gin.Context) {
	st, err := h.deps.Scheduler.Status(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *HttpHandler) ListMedia(c *gin.Context) {
	listing, err := h.deps.Media.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *HttpHandler) GpsTrack(c *gin.Context) {
	track, err := h.deps.Media.Track(c.Request.Context(), c.Param("filename"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, track)
}

func (h *HttpHandler) Download(c *gin.Context) {
	name := c.Param("filename")
	path, err := h.deps.Media.Path(c.Request.Context(), name)
	if err != nil {
		fail(c, err)
		return
	}
	c.FileAttachment(path, name)
}

func (h *HttpHandler) DeleteMedia(c *gin.Context) {
	if err := h.deps.Media.Delete(c.Request.Context(), c.Param("filename")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *HttpHandler) DeleteSession(c *gin.Context) {
	n, err := h.deps.Media.DeleteSession(c.Request.Context(), c.Param("base"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": n})
}

func (h *HttpHandler) RenameFile(c *gin.Context) {
	var req dto.RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	label, err := h.deps.Media.Rename(c.Request.Context(), req.FileName, req.Label)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "label": label})
}

// RenameSession labels every chunk of a session in one call.
func (h *HttpHandler) RenameSession(c *gin.Context) {
	var req dto.RenameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	label, n, err := h.deps.Media.RenameSession(c.Request.Context(), req.Base, req.Label)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "label": label, "renamed": n})
}

// Upload claims the artifact and answers 202; progress shows up in the
// media listing's upload_status.
func (h *HttpHandler) Upload(c *gin.Context) {
	var req dto.UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	id, err := h.deps.Uploads.StartUpload(c.Request.Context(), req.FileName)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "artifact_id": id, "message": "Upload started"})
}

func (h *HttpHandler) UploadBatch(c *gin.Context) {
	var req dto.BatchUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	ctx := context.WithoutCancel(c.Request.Context())
	go func() {
		results, err := h.deps.Uploads.UploadBatch(ctx, req.Base)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("session", req.Base).Msg("batch upload failed")
			return
		}
		zerolog.Ctx(ctx).Info().Str("session", req.Base).Int("chunks", len(results)).Msg("batch upload finished")
	}()
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "Batch upload started"})
}

func (h *HttpHandler) RetryFailed(c *gin.Context) {
	pending := h.deps.Uploads.Pending()
	ctx := context.WithoutCancel(c.Request.Context())
	go func() {
		if _, err := h.deps.Uploads.RetryAllFailed(ctx); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("retry pass not run")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"success": true, "pending": pending})
}
