package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Get and Head when the key does not exist.
var ErrNotFound = errors.New("storage: object not found")

type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified,omitzero"`
}

// Object is a fetched object. The caller must close Body.
type Object struct {
	ObjectInfo
	Body io.ReadCloser
}

// Bucket is the read side of an object store. Keys never start with "/".
type Bucket interface {
	Get(ctx context.Context, key string) (*Object, error)
	Head(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context) ([]ObjectInfo, error)
}

// IsNotFound reports whether err is a clean miss.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
