package spill

import (
	"context"

	"github.com/objectfs/arraycache/pkg/types"
)

// FileExt is appended to the entry id to form the spill object name.
const FileExt = ".dat"

// Store persists encoded spill objects. Delete of a missing object is not an
// error. Implementations must be safe for concurrent use.
type Store interface {
	// Name returns the object name used for id.
	Name(id types.ID) string
	Write(ctx context.Context, name string, data []byte) error
	Read(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	// Location describes where objects live, e.g. a directory or s3://bucket/prefix.
	Location() string
}
