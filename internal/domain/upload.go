package domain

import (
	"context"
	"time"
)

// Upload represents a file persisted in the local uploads directory
type Upload struct {
	ID               int64
	Filename         string
	Path             string
	OriginalFilename string
	MimeType         string
	Size             int64
	SHA256           string
	CreatedAt        time.Time
	DeletedAt        *time.Time
}

// Deleted reports whether the file behind the record has been removed
func (u *Upload) Deleted() bool {
	return u.DeletedAt != nil
}

// UploadRepository defines the interface for upload record storage operations
type UploadRepository interface {
	// Create inserts a new upload record
	Create(ctx context.Context, upload *Upload) (*Upload, error)

	// GetByFilename retrieves an upload by its stored filename
	GetByFilename(ctx context.Context, filename string) (*Upload, error)

	// List retrieves upload records, newest first
	List(ctx context.Context, includeDeleted bool) ([]*Upload, error)

	// Count returns the number of uploads whose file still exists
	Count(ctx context.Context) (int64, error)

	// MarkDeleted flags an upload as removed from disk
	MarkDeleted(ctx context.Context, filename string) error
}
