package uploader

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

// object metadata travels in headers; long values are left out
const maxMetadataValue = 1024

type minioUploader struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinio stores each artifact as <prefix>/<ObjectKey> with the form fields
// as user metadata and the GPS log as a .json object beside it.
func NewMinio(client *minio.Client, bucket, prefix string) Uploader {
	return &minioUploader{client: client, bucket: bucket, prefix: prefix}
}

func (u *minioUploader) Upload(ctx context.Context, req Request) (*Response, error) {
	if _, err := os.Stat(req.Path); errors.Is(err, os.ErrNotExist) {
		return nil, ErrFileMissing
	}

	objectName := path.Join(u.prefix, req.ObjectKey)
	meta := make(map[string]string, len(req.Fields))
	for k, v := range req.Fields {
		if len(v) > maxMetadataValue {
			continue
		}
		meta[strings.ReplaceAll(k, "_", "-")] = v
	}

	info, err := u.client.FPutObject(ctx, u.bucket, objectName, req.Path, minio.PutObjectOptions{
		ContentType:  req.ContentType,
		UserMetadata: meta,
	})
	if err != nil {
		return nil, err
	}

	if len(req.Sidecar) > 0 {
		sidecar := strings.TrimSuffix(objectName, path.Ext(objectName)) + ".json"
		_, err := u.client.PutObject(ctx, u.bucket, sidecar, bytes.NewReader(req.Sidecar), int64(len(req.Sidecar)), minio.PutObjectOptions{
			ContentType: "application/json",
		})
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("object", sidecar).Msg("failed to store gps sidecar")
		}
	}

	link := info.Location
	if link == "" {
		link = u.bucket + "/" + objectName
	}
	return &Response{Success: true, Message: "Upload successful", Link: link}, nil
}
