package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// ReadAllLimit reads at most max bytes from r. Anything beyond max is
// discarded and truncated reports whether that happened.
func ReadAllLimit(r io.Reader, max int64) (b []byte, truncated bool, err error) {
	if max <= 0 {
		b, err = io.ReadAll(r)
		return b, false, err
	}
	buf := &bytes.Buffer{}
	_, err = io.CopyN(buf, r, max+1)
	if err != nil && err != io.EOF {
		return nil, false, err
	}
	b = buf.Bytes()
	if int64(len(b)) > max {
		return b[:max], true, nil
	}
	return b, false, nil
}

// MustJSON renders a value as compact JSON for debug logging.
func MustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<json error: %v>", err)
	}
	return string(b)
}
