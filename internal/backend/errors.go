package backend

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

var (
	// ErrNoFile means the user submitted an upload form without a file.
	ErrNoFile = errors.New("no file selected")
	// ErrNoModel means a save was attempted before any successful retrain.
	ErrNoModel = errors.New("no model to save")
	// ErrInvalidFormat means a 2xx response did not have the expected shape.
	ErrInvalidFormat = errors.New("invalid response format from server")
)

// APIError is a non-2xx answer from the prediction API. Message is already
// fit for display.
type APIError struct {
	Op         Op
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// TransportError wraps a failure to reach the API at all.
type TransportError struct {
	Op  Op
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UnsupportedTypeError rejects an upload before it is sent.
type UnsupportedTypeError struct {
	Name     string
	Detected string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("%s looks like %s, expected a CSV file", e.Name, e.Detected)
}

// errorMessage picks the first truthy field among keys from a JSON error
// body. Non-string values are shown as raw JSON. Anything else yields the
// fallback.
func errorMessage(body []byte, fallback string, keys ...string) string {
	if !gjson.ValidBytes(body) {
		return fallback
	}
	for _, k := range keys {
		r := gjson.GetBytes(body, k)
		switch r.Type {
		case gjson.String:
			if r.Str != "" {
				return r.Str
			}
		case gjson.Number:
			if r.Num != 0 {
				return r.Raw
			}
		case gjson.True, gjson.JSON:
			return r.Raw
		}
	}
	return fallback
}
