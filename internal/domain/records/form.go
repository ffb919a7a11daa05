package records

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinic/internal/platform/apperr"
)

// fields is the body of a JSON, urlencoded or multipart request, read once.
type fields struct {
	json  map[string]json.RawMessage
	form  url.Values
	files map[string][]*multipart.FileHeader
}

func readFields(c echo.Context) (*fields, error) {
	req := c.Request()
	f := &fields{}
	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		if err := json.NewDecoder(req.Body).Decode(&f.json); err != nil && !errors.Is(err, io.EOF) {
			return nil, apperr.Wrap(apperr.KindValidation, "Invalid request body", err)
		}
		return f, nil
	}
	form, err := c.FormParams()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "Invalid form data", err)
	}
	f.form = form
	if req.MultipartForm != nil {
		f.files = req.MultipartForm.File
	}
	return f, nil
}

// payload returns a structured field. Form values are always text.
func (f *fields) payload(key string) Payload {
	if raw, ok := f.json[key]; ok {
		var p Payload
		if err := p.UnmarshalJSON(raw); err != nil {
			return Payload{}
		}
		return p
	}
	if f.form.Has(key) {
		return TextPayload(f.form.Get(key))
	}
	return Payload{}
}

// text returns a scalar field. JSON numbers are returned as written.
func (f *fields) text(key string) (string, bool) {
	if raw, ok := f.json[key]; ok {
		if isNull(raw) {
			return "", false
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, true
		}
		return string(bytes.TrimSpace(raw)), true
	}
	if f.form.Has(key) {
		return f.form.Get(key), true
	}
	return "", false
}

func (f *fields) textPtr(key string) *string {
	s, ok := f.text(key)
	if !ok {
		return nil
	}
	return &s
}

func (f *fields) file(key string) *Attachment {
	if fhs := f.files[key]; len(fhs) > 0 {
		return fileAttachment(fhs[0])
	}
	return nil
}

func (f *fields) fileList(key string) []*Attachment {
	fhs := f.files[key]
	out := make([]*Attachment, 0, len(fhs))
	for _, fh := range fhs {
		out = append(out, fileAttachment(fh))
	}
	return out
}

func fileAttachment(fh *multipart.FileHeader) *Attachment {
	return &Attachment{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// parseAge accepts whole numbers written as integers or floats within
// [0, MaxAge]. An empty value means the age was not supplied.
func parseAge(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f != math.Trunc(f) {
		return nil, apperr.Validation("Age must be a whole number")
	}
	if f < 0 || f > MaxAge {
		return nil, apperr.Validation("Age must be between 0 and %d", MaxAge)
	}
	n := int(f)
	return &n, nil
}

func parseID(c echo.Context, param, label string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		return uuid.Nil, apperr.Validation("Invalid %s format", label)
	}
	return id, nil
}
