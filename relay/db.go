package relay

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DHANNZHOST/imagetohd/internal/repository"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

func GetDatabase(filename string) (*sql.DB, error) {
	return sql.Open("sqlite", filename)
}

// PrepareDatabase applies pending migrations for the upload records.
func PrepareDatabase(ctx context.Context, db *sql.DB) error {
	zerolog.Ctx(ctx).Debug().Msg("PrepareDatabase: applying migrations")
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("while connecting to the database: %w", err)
	}
	if err := repository.Migrate(db); err != nil {
		return fmt.Errorf("while migrating the database: %w", err)
	}
	return nil
}
