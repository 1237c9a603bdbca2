package connection

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Outbound message types.
const (
	TypeError         = "error"
	TypeMessage       = "message"
	TypeUploadSuccess = "upload-success"
	TypeUploadError   = "upload-error"
)

// InboundMessage is a message sent by a client. Fields the relay doesn't know
// about are kept in Extra so that the message can be echoed back unchanged.
type InboundMessage struct {
	Action      string
	Data        json.RawMessage
	FileName    string
	ContentType string
	Extra       map[string]json.RawMessage
}

// ParseInboundMessage parses a request body. Anything that isn't a JSON object
// results in an empty message.
func ParseInboundMessage(body string) (m InboundMessage) {
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return InboundMessage{}
	}
	return m
}

func (m *InboundMessage) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	*m = InboundMessage{}
	for k, v := range fields {
		switch k {
		case "data":
			m.Data = v
			continue
		case "action":
			if s, ok := stringValue(v); ok && s != "" {
				m.Action = s
				continue
			}
		case "fileName":
			if s, ok := stringValue(v); ok && s != "" {
				m.FileName = s
				continue
			}
		case "contentType":
			if s, ok := stringValue(v); ok && s != "" {
				m.ContentType = s
				continue
			}
		}
		// Empty or non-string known fields are kept as they were sent.
		if m.Extra == nil {
			m.Extra = make(map[string]json.RawMessage)
		}
		m.Extra[k] = v
	}
	return nil
}

func (m InboundMessage) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(m.Extra)+4)
	for k, v := range m.Extra {
		fields[k] = v
	}
	if err := setString(fields, "action", m.Action); err != nil {
		return nil, err
	}
	if err := setString(fields, "fileName", m.FileName); err != nil {
		return nil, err
	}
	if err := setString(fields, "contentType", m.ContentType); err != nil {
		return nil, err
	}
	if len(m.Data) > 0 {
		fields["data"] = m.Data
	}
	return json.Marshal(fields)
}

var (
	errDataNotString = errors.New("data must be a base64 encoded string")
	errDataNotBase64 = errors.New("data is not valid base64")
)

// UploadData returns the decoded upload payload. ok is false if the message
// has no data at all.
func (m InboundMessage) UploadData() (payload []byte, ok bool, err error) {
	trimmed := bytes.TrimSpace(m.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, false, nil
	}
	s, isString := stringValue(trimmed)
	if !isString {
		return nil, true, errDataNotString
	}
	if s == "" {
		return nil, false, nil
	}
	payload, err = decodeBase64(s)
	return payload, true, err
}

// UploadFieldsError returns an error if fileName or contentType was sent as
// something other than a string. A null value counts as absent.
func (m InboundMessage) UploadFieldsError() error {
	for _, k := range []string{"fileName", "contentType"} {
		v, ok := m.Extra[k]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		if _, isString := stringValue(v); !isString {
			return fmt.Errorf("%s must be a string", k)
		}
	}
	return nil
}

// decodeBase64 accepts standard and URL-safe alphabets, with or without padding.
func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errDataNotBase64
}

func stringValue(v json.RawMessage) (s string, ok bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || v[0] != '"' {
		return "", false
	}
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

func setString(fields map[string]json.RawMessage, k, v string) error {
	if v == "" {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fields[k] = b
	return nil
}

// OutboundMessage is pushed to clients.
type OutboundMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// UploadedObject is the data of an upload-success message.
type UploadedObject struct {
	ObjectKey string `json:"objectKey"`
	Bucket    string `json:"bucket"`
}
