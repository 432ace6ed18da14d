// Package library hands finished merges to their final destination: a local
// folder or a remote library service.
package library

import "context"

// Library takes ownership of a finished output file. name is a display name
// without extension and may be empty.
//
// Save returns a reference to the stored file. Implementations that keep the
// file on the local disk return its new absolute path; path may no longer
// exist afterwards.
type Library interface {
	Save(ctx context.Context, path, name string) (string, error)
}
