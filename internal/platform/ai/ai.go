// Package ai wraps the two model-backed helpers the clinic uses: a chat model
// that titles clinician notes and a vision model that reads prescription
// images into medicine lists.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrUnparseable is returned when a model reply cannot be decoded into the
// expected structure.
var ErrUnparseable = errors.New("model reply is not a JSON medicine list")

// Medicine is one line of a prescription as read by the vision model.
type Medicine struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions"`
}

type medicineWire struct {
	Name         json.RawMessage `json:"name"`
	Dosage       json.RawMessage `json:"dosage"`
	Duration     json.RawMessage `json:"duration"`
	Instructions json.RawMessage `json:"instructions"`
}

// UnmarshalJSON accepts numbers and booleans wherever text is expected, so
// {"dosage":500} reads as dosage "500".
func (m *Medicine) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return nil
	}
	var w medicineWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *string
	}{
		{"name", w.Name, &m.Name},
		{"dosage", w.Dosage, &m.Dosage},
		{"duration", w.Duration, &m.Duration},
		{"instructions", w.Instructions, &m.Instructions},
	}
	for _, f := range fields {
		s, err := ScalarText(f.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = s
	}
	return nil
}

var errNotScalar = errors.New("value must be a string, number or boolean")

// ScalarText renders a JSON string, number or boolean as text. Absent and null
// values give the empty string.
func ScalarText(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	}
	return "", errNotScalar
}

func isNull(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

type TitleGenerator interface {
	GenerateTitle(ctx context.Context, content string) (string, error)
}

type PrescriptionReader interface {
	ReadPrescription(ctx context.Context, image []byte, mimeType string) ([]Medicine, error)
}

var (
	openFence  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	closeFence = regexp.MustCompile("\\s*```$")
)

// ParseMedicines decodes a model reply into medicines. Markdown code fences
// around the JSON are tolerated.
func ParseMedicines(reply string) ([]Medicine, error) {
	text := strings.TrimSpace(reply)
	if strings.HasPrefix(text, "```") {
		text = openFence.ReplaceAllString(text, "")
		text = closeFence.ReplaceAllString(text, "")
		text = strings.TrimSpace(text)
	}

	var meds []Medicine
	if err := json.Unmarshal([]byte(text), &meds); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnparseable, truncate(reply, 200))
	}
	if meds == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnparseable, truncate(reply, 200))
	}
	return meds, nil
}

// ResolveImageMIME substitutes an image type for uploads that arrive as
// application/octet-stream (or with no type) but carry a JPEG or PNG
// extension.
func ResolveImageMIME(fileName, mimeType string) string {
	if mimeType != "" && mimeType != "application/octet-stream" {
		return mimeType
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	}
	return mimeType
}

// CleanTitle trims whitespace and wrapping quotes from a generated title.
func CleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`)
	return strings.TrimSpace(s)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
