package client

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
)

// Blob is a remote data handle materialized on local disk. It is released by
// Close, after which the content is gone.
type Blob struct {
	ID   string
	Type string
	path string
}

// NewBlob wraps an existing local file.
func NewBlob(id, dataType, path string) *Blob {
	return &Blob{ID: id, Type: dataType, path: path}
}

func (b *Blob) Path() string {
	return b.path
}

func (b *Blob) Open() (io.ReadCloser, error) {
	return os.Open(b.path)
}

// DecodeJSON reads one JSON document from r into v. Stored artifacts and
// downloaded blobs are read through it.
func DecodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

func (b *Blob) Close() error {
	if b == nil || b.path == "" {
		return nil
	}
	err := os.Remove(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
