package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/DHANNZHOST/imagetohd/internal/domain"
)

const uploadColumns = `id, filename, path, original_filename, mime_type, size, sha256, created_at, deleted_at`

// UploadRepository implements domain.UploadRepository on top of sqlite
type UploadRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewUploadRepository creates a new UploadRepository
func NewUploadRepository(db *sql.DB) *UploadRepository {
	return &UploadRepository{db: db, now: time.Now}
}

// Create inserts a new upload record. CreatedAt defaults to the current time.
func (r *UploadRepository) Create(ctx context.Context, upload *domain.Upload) (*domain.Upload, error) {
	createdAt := upload.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now()
	}
	res, err := r.db.ExecContext(ctx, `
insert into uploads (filename, path, original_filename, mime_type, size, sha256, created_at)
values (?, ?, ?, ?, ?, ?, ?)`,
		upload.Filename,
		upload.Path,
		sql.NullString{String: upload.OriginalFilename, Valid: upload.OriginalFilename != ""},
		upload.MimeType,
		upload.Size,
		upload.SHA256,
		createdAt.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	created := *upload
	created.ID = id
	created.CreatedAt = time.UnixMilli(createdAt.UnixMilli())
	created.DeletedAt = nil
	return &created, nil
}

// GetByFilename retrieves an upload by its stored filename.
// It returns nil without error when no record matches.
func (r *UploadRepository) GetByFilename(ctx context.Context, filename string) (*domain.Upload, error) {
	row := r.db.QueryRowContext(ctx, `select `+uploadColumns+` from uploads where filename = ? limit 1`, filename)
	upload, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return upload, nil
}

// List retrieves upload records, newest first
func (r *UploadRepository) List(ctx context.Context, includeDeleted bool) ([]*domain.Upload, error) {
	query := `select ` + uploadColumns + ` from uploads`
	if !includeDeleted {
		query += ` where deleted_at is null`
	}
	query += ` order by created_at desc, id desc`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []*domain.Upload{}
	for rows.Next() {
		upload, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, upload)
	}
	return result, rows.Err()
}

// Count returns the number of uploads whose file still exists
func (r *UploadRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `select count(*) from uploads where deleted_at is null`).Scan(&n)
	return n, err
}

// MarkDeleted flags an upload as removed. Unknown or already deleted
// filenames are not an error.
func (r *UploadRepository) MarkDeleted(ctx context.Context, filename string) error {
	_, err := r.db.ExecContext(ctx,
		`update uploads set deleted_at = ? where filename = ? and deleted_at is null`,
		r.now().UnixMilli(), filename,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpload(row rowScanner) (*domain.Upload, error) {
	var (
		upload           domain.Upload
		originalFilename sql.NullString
		createdAt        int64
		deletedAt        sql.NullInt64
	)
	err := row.Scan(
		&upload.ID,
		&upload.Filename,
		&upload.Path,
		&originalFilename,
		&upload.MimeType,
		&upload.Size,
		&upload.SHA256,
		&createdAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}
	upload.OriginalFilename = originalFilename.String
	upload.CreatedAt = time.UnixMilli(createdAt)
	if deletedAt.Valid {
		t := time.UnixMilli(deletedAt.Int64)
		upload.DeletedAt = &t
	}
	return &upload, nil
}

// Verify that UploadRepository implements domain.UploadRepository
var _ domain.UploadRepository = (*UploadRepository)(nil)
