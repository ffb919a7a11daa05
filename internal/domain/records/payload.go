package records

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ehr/clinic/internal/platform/ai"
)

// ErrMalformedPayload is returned when a structured field cannot be decoded
// into its value object.
var ErrMalformedPayload = errors.New("malformed payload")

type payloadKind uint8

const (
	payloadAbsent payloadKind = iota
	payloadValue
	payloadText
)

// Payload is a request field that arrives either as a JSON value or as a
// string holding encoded JSON, which is how multipart forms carry it. It is
// decoded once, at the start of a workflow, by DecodeVitals, DecodeDoctorNote
// or DecodeMedicines.
type Payload struct {
	kind payloadKind
	data []byte
}

// ValuePayload wraps an already structured JSON value. Empty input and JSON
// null are treated as absent.
func ValuePayload(raw []byte) Payload {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Payload{}
	}
	return Payload{kind: payloadValue, data: append([]byte(nil), raw...)}
}

// TextPayload wraps encoded JSON text. An empty string is treated as absent.
func TextPayload(s string) Payload {
	if strings.TrimSpace(s) == "" {
		return Payload{}
	}
	return Payload{kind: payloadText, data: []byte(s)}
}

func (p Payload) Present() bool { return p.kind != payloadAbsent }

func (p Payload) IsText() bool { return p.kind == payloadText }

// UnmarshalJSON maps a JSON string to a text payload and any other value to a
// structured one.
func (p *Payload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = TextPayload(s)
		return nil
	}
	*p = ValuePayload(b)
	return nil
}

func firstByte(b []byte) byte {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

type vitalsWire struct {
	HeartRate       json.RawMessage `json:"heartRate"`
	BloodPressure   json.RawMessage `json:"bloodPressure"`
	Temperature     json.RawMessage `json:"temperature"`
	RespirationRate json.RawMessage `json:"respirationRate"`
	Weight          json.RawMessage `json:"weight"`
}

// DecodeVitals decodes a vitals object. Numeric fields accept JSON numbers or
// numeric strings; blood pressure accepts a string or a number. An absent
// payload yields empty Vitals.
func DecodeVitals(p Payload) (Vitals, error) {
	if !p.Present() {
		return Vitals{}, nil
	}
	if firstByte(p.data) != '{' {
		return Vitals{}, fmt.Errorf("%w: vitals must be an object", ErrMalformedPayload)
	}
	var w vitalsWire
	if err := json.Unmarshal(p.data, &w); err != nil {
		return Vitals{}, fmt.Errorf("%w: vitals: %v", ErrMalformedPayload, err)
	}

	var v Vitals
	var err error
	if v.HeartRate, err = decodeNumber("heartRate", w.HeartRate); err != nil {
		return Vitals{}, err
	}
	if v.BloodPressure, err = decodeText("bloodPressure", w.BloodPressure); err != nil {
		return Vitals{}, err
	}
	if v.Temperature, err = decodeNumber("temperature", w.Temperature); err != nil {
		return Vitals{}, err
	}
	if v.RespirationRate, err = decodeNumber("respirationRate", w.RespirationRate); err != nil {
		return Vitals{}, err
	}
	if v.Weight, err = decodeNumber("weight", w.Weight); err != nil {
		return Vitals{}, err
	}
	return v, nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func decodeNumber(field string, raw json.RawMessage) (*float64, error) {
	if isNull(raw) {
		return nil, nil
	}
	if firstByte(raw) == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, field, err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not a number", ErrMalformedPayload, field)
		}
		return &f, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %s is not a number", ErrMalformedPayload, field)
	}
	return &f, nil
}

func decodeText(field string, raw json.RawMessage) (*string, error) {
	s, err := ai.ScalarText(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be text", ErrMalformedPayload, field)
	}
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

// DecodeDoctorNote decodes a {title, content} object. An absent payload yields
// an empty note.
func DecodeDoctorNote(p Payload) (DoctorNote, error) {
	if !p.Present() {
		return DoctorNote{}, nil
	}
	if firstByte(p.data) != '{' {
		return DoctorNote{}, fmt.Errorf("%w: doctorNote must be an object", ErrMalformedPayload)
	}
	var n DoctorNote
	if err := json.Unmarshal(p.data, &n); err != nil {
		return DoctorNote{}, fmt.Errorf("%w: doctorNote: %v", ErrMalformedPayload, err)
	}
	return n, nil
}

// DecodeMedicines decodes a medicine list. The boolean reports whether the
// payload held a list at all; anything that is not a JSON array is ignored.
// A list whose elements are not medicine objects is an error. Numeric and
// boolean fields are kept as text.
func DecodeMedicines(p Payload) ([]Medicine, bool, error) {
	if !p.Present() || firstByte(p.data) != '[' {
		return nil, false, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(p.data, &raw); err != nil {
		if p.IsText() {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: medicines: %v", ErrMalformedPayload, err)
	}
	meds := make([]Medicine, 0, len(raw))
	for i, item := range raw {
		if firstByte(item) != '{' {
			return nil, true, fmt.Errorf("%w: medicines[%d] must be an object", ErrMalformedPayload, i)
		}
		var m ai.Medicine
		if err := json.Unmarshal(item, &m); err != nil {
			return nil, true, fmt.Errorf("%w: medicines[%d]: %v", ErrMalformedPayload, i, err)
		}
		meds = append(meds, Medicine(m))
	}
	return meds, true, nil
}
