// Package schema はシリーズストアのスキーマ（方言別マイグレーション）を提供する。
package schema

import (
	"context"
	"database/sql"
	"embed"

	"github.com/nao1215/catalog/pkg/database"
	"github.com/nao1215/catalog/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// Apply は方言に対応するマイグレーションを実行してスキーマを適用する。
func Apply(ctx context.Context, db *sql.DB, dialect database.Dialect) error {
	return migration.Run(ctx, db, dialect, "series", migrationsFS, "migrations/"+string(dialect))
}
