package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// envelope is the backend's uniform response shape.
type envelope struct {
	Success *bool               `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

func parseEnvelope(body []byte) (envelope, error) {
	var env envelope
	if len(bytes.TrimSpace(body)) == 0 {
		return env, fmt.Errorf("%w: empty body", ErrMalformedEnvelope)
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Success == nil {
		return env, fmt.Errorf("%w: missing success flag", ErrMalformedEnvelope)
	}
	return env, nil
}

func (e envelope) hasData() bool {
	trimmed := bytes.TrimSpace(e.Data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func (e envelope) decodeData(out interface{}) error {
	if !e.hasData() {
		return fmt.Errorf("%w: missing data", ErrMalformedEnvelope)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return nil
}

// decodeList accepts either a bare array or a paginator object whose "data"
// member is the array.
func (e envelope) decodeList(out interface{}) error {
	trimmed := bytes.TrimSpace(e.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, out); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		return nil
	}
	var page struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(page.Data) == 0 {
		return fmt.Errorf("%w: list payload has no data", ErrMalformedEnvelope)
	}
	if err := json.Unmarshal(page.Data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return nil
}
