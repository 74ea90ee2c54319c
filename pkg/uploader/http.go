package uploader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

type httpUploader struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTP(url, apiKey string, timeout time.Duration) Uploader {
	return &httpUploader{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type remoteResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	VideoLink string `json:"video_link"`
}

func (u *httpUploader) Upload(ctx context.Context, req Request) (*Response, error) {
	f, err := os.Open(req.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrFileMissing
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// stream the body; deliverables are tens of megabytes
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, f, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if u.apiKey != "" {
		httpReq.Header.Set("X-API-KEY", u.apiKey)
	}

	resp, err := u.client.Do(httpReq)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("upload %s: %w", filepath.Base(req.Path), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Debug().Int("status", resp.StatusCode).Str("file", filepath.Base(req.Path)).Msg("upload response")
	return interpret(resp.StatusCode, body), nil
}

func writeForm(mw *multipart.Writer, f *os.File, req Request) error {
	keys := make([]string, 0, len(req.Fields))
	for k := range req.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, req.Fields[k]); err != nil {
			return err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, req.FileField, filepath.Base(req.Path)))
	if req.ContentType != "" {
		header.Set("Content-Type", req.ContentType)
	}
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}

// interpret maps the remote reply to a verdict. A 200 that is not JSON is
// taken as success.
func interpret(status int, body []byte) *Response {
	var result remoteResponse
	if err := json.Unmarshal(body, &result); err != nil {
		if status == http.StatusOK {
			return &Response{Success: true, Message: "Upload successful"}
		}
		return &Response{Message: fmt.Sprintf("HTTP %d: %s", status, truncate(string(body), 200))}
	}

	if status != http.StatusOK {
		msg := result.Message
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", status)
		}
		return &Response{Message: msg}
	}
	if !result.Success {
		msg := result.Message
		if msg == "" {
			msg = "Upload failed"
		}
		return &Response{Message: msg}
	}
	msg := result.Message
	if msg == "" {
		msg = "Upload successful"
	}
	return &Response{Success: true, Message: msg, Link: result.VideoLink}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
