package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"tasklane/api/internal/media"
)

// multipartSlack covers the non-file fields of an image upload form.
const multipartSlack = 1 << 20

// formPayload holds the fields of a workspace or project form, sent either
// as multipart (with an optional image file) or as JSON.
type formPayload struct {
	fields map[string]string
	image  *media.Upload
	files  []multipart.File
}

func (f formPayload) value(key string) (string, bool) {
	v, ok := f.fields[key]
	return v, ok
}

func (f formPayload) ptr(key string) *string {
	if v, ok := f.fields[key]; ok {
		return &v
	}
	return nil
}

func (f formPayload) Close() {
	for _, file := range f.files {
		_ = file.Close()
	}
}

func (s *HTTPServer) readForm(w http.ResponseWriter, r *http.Request) (formPayload, error) {
	payload := formPayload{fields: map[string]string{}}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, int64(s.maxImageBytes)+multipartSlack)
		if err := r.ParseMultipartForm(int64(s.maxImageBytes) + multipartSlack); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return payload, validationError("image is too large", map[string]any{"maxBytes": s.maxImageBytes})
			}
			return payload, invalidBodyError("invalid multipart body", err)
		}
		for key, values := range r.MultipartForm.Value {
			if len(values) > 0 {
				payload.fields[key] = values[0]
			}
		}
		if headers := r.MultipartForm.File["image"]; len(headers) > 0 {
			header := headers[0]
			file, err := header.Open()
			if err != nil {
				return payload, fmt.Errorf("open image: %w", err)
			}
			payload.files = append(payload.files, file)
			payload.image = &media.Upload{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
				Body:        file,
			}
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return payload, invalidBodyError("invalid form body", err)
		}
		for key, values := range r.PostForm {
			if len(values) > 0 {
				payload.fields[key] = values[0]
			}
		}
	default:
		var body map[string]any
		if err := decodeBody(r, &body); err != nil {
			return payload, invalidBodyError(err.Error(), nil)
		}
		for key, value := range body {
			switch v := value.(type) {
			case string:
				payload.fields[key] = v
			case nil:
				payload.fields[key] = ""
			}
		}
	}

	// A string "image" is an already stored URL.
	if value, ok := payload.fields["image"]; ok {
		if _, set := payload.fields["imageUrl"]; !set {
			payload.fields["imageUrl"] = value
		}
		delete(payload.fields, "image")
	}
	return payload, nil
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			utc := parsed.UTC()
			return &utc, nil
		}
	}
	return nil, validationError("dueDate must be an ISO-8601 date", map[string]any{"dueDate": value})
}

// optionalDate distinguishes an absent field from an explicit null.
type optionalDate struct {
	set   bool
	value *string
}

func (d *optionalDate) UnmarshalJSON(data []byte) error {
	d.set = true
	if string(data) == "null" {
		d.value = nil
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	d.value = &value
	return nil
}
