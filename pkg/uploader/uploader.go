// Package uploader ships finished artifacts to the remote side.
package uploader

import (
	"context"
	"errors"
)

var ErrFileMissing = errors.New("upload file not found")

// Request is one file plus its form fields. Sidecar carries the raw GPS log
// for backends that store it as a separate object.
type Request struct {
	Path        string
	FileField   string
	ContentType string
	ObjectKey   string
	Fields      map[string]string
	Sidecar     []byte
}

// Response is the remote verdict. A returned error means the attempt never
// got a verdict (transport failure, timeout).
type Response struct {
	Success bool
	Message string
	Link    string
}

type Uploader interface {
	Upload(ctx context.Context, req Request) (*Response, error)
}
