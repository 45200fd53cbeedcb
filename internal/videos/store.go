// Package videos persists finished capture records.
package videos

import (
	"context"
	"errors"

	"github.com/capturekit/server/internal/models"
)

var (
	// ErrNotFound is returned by FindByID for an unknown id.
	ErrNotFound = errors.New("video not found")
	// ErrStoreIO wraps every failure of the underlying storage.
	ErrStoreIO = errors.New("video store io error")
)

// Store is the persistence contract for video records, keyed by video id.
type Store interface {
	// Save inserts or replaces the record with v.ID.
	Save(ctx context.Context, v *models.Video) error
	// FindByID returns ErrNotFound when id is unknown.
	FindByID(ctx context.Context, id string) (*models.Video, error)
	// List returns a summary for every stored record. Order is not significant.
	List(ctx context.Context) ([]models.VideoSummary, error)
	// Delete removes id. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*Repository)(nil)
)
