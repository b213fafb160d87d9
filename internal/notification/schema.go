package notification

import (
	"context"
	"database/sql"
	"embed"

	"github.com/nao1215/catalog/pkg/database"
	"github.com/nao1215/catalog/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// applySchema は方言に対応するマイグレーションを適用する。
func applySchema(ctx context.Context, db *sql.DB, dialect database.Dialect) error {
	return migration.Run(ctx, db, dialect, "notification", migrationsFS, "migrations/"+string(dialect))
}
