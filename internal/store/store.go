// Package store owns the local artifact tree: deriving artifact paths from
// archive identifiers, answering the existence checks behind incremental
// runs, and committing downloaded archives atomically.
package store

import (
	"context"
	"io"

	"klinesync/internal/domain"
)

// ArchiveStore is the storage surface the sync engine works against.
type ArchiveStore interface {
	// Path returns the artifact path for an archive. Pure: equal archives
	// always yield equal paths.
	Path(a domain.Archive) string

	// Exists reports whether the artifact is present with non-zero size.
	// Side-effect-free.
	Exists(a domain.Archive) bool

	// Store spools the remote archive from r and commits the contained
	// artifact, returning its byte count. The final path only ever holds
	// complete artifacts, so a later Exists never observes a partial write.
	Store(ctx context.Context, a domain.Archive, r io.Reader) (int64, error)
}
