package backend

import (
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
)

// Upload is a dataset file on its way to the API.
type Upload struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.Reader
}

// NewUpload sniffs r and accepts it only if the detected type, or one of its
// parents, is in allowed. r is rewound before it is returned. A missing or
// zero-byte file is ErrNoFile.
func NewUpload(name string, r io.ReadSeeker, size int64, allowed []string) (Upload, error) {
	if r == nil || name == "" || size == 0 {
		return Upload{}, ErrNoFile
	}

	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return Upload{}, fmt.Errorf("sniff %s: %w", name, err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Upload{}, fmt.Errorf("rewind %s: %w", name, err)
	}

	if !allowedType(mt, allowed) {
		return Upload{}, &UnsupportedTypeError{Name: name, Detected: mt.String()}
	}

	return Upload{
		Name:        name,
		Size:        size,
		ContentType: mt.String(),
		Body:        r,
	}, nil
}

func allowedType(mt *mimetype.MIME, allowed []string) bool {
	for m := mt; m != nil; m = m.Parent() {
		for _, a := range allowed {
			if m.Is(a) {
				return true
			}
		}
	}
	return false
}
