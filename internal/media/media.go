package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrNotImage = errors.New("file must be an image")
	ErrTooLarge = errors.New("image is too large")
)

// Upload is an image received from a client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Store persists an image and returns the URL clients should render.
type Store interface {
	Save(ctx context.Context, prefix string, upload Upload) (string, error)
}

// ReadImage buffers an upload, enforcing the size limit and sniffing the
// content type. The declared type is only trusted when sniffing is inconclusive.
func ReadImage(upload Upload, maxBytes int) ([]byte, string, error) {
	if upload.Body == nil {
		return nil, "", ErrNotImage
	}
	if maxBytes > 0 && upload.Size > int64(maxBytes) {
		return nil, "", ErrTooLarge
	}
	body := upload.Body
	if maxBytes > 0 {
		body = io.LimitReader(body, int64(maxBytes)+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, "", ErrTooLarge
	}
	if len(data) == 0 {
		return nil, "", ErrNotImage
	}

	contentType := http.DetectContentType(data)
	if contentType == "application/octet-stream" || strings.HasPrefix(contentType, "text/") {
		contentType = strings.TrimSpace(strings.Split(upload.ContentType, ";")[0])
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", ErrNotImage
	}
	return data, contentType, nil
}

// InlineStore encodes images as data URLs stored alongside the record.
type InlineStore struct {
	maxBytes int
}

func NewInlineStore(maxBytes int) *InlineStore {
	return &InlineStore{maxBytes: maxBytes}
}

func (s *InlineStore) Save(ctx context.Context, _ string, upload Upload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, contentType, err := ReadImage(upload, s.maxBytes)
	if err != nil {
		return "", err
	}
	return DataURL(contentType, data), nil
}

func DataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func newReader(data []byte) *bytes.Reader {
	return bytes.NewReader(data)
}
