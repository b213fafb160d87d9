// Package migration はデータベースのマイグレーションを管理する。
// embed.FSからSQLファイルを読み込み、バージョン管理テーブルで適用状態を追跡する。
package migration

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/nao1215/catalog/pkg/database"
)

// Run はembedされたマイグレーションファイルを順序通りに適用する。
// 未適用のマイグレーションのみ実行し、適用済みのものはスキップする。
// 適用状態はcomponentごとに管理するため、複数のサービスが同じDBを共有してもよい。
// ファイル名形式: 000001_description.up.sql
func Run(ctx context.Context, db *sql.DB, dialect database.Dialect, component string, fsys fs.FS, dir string) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return fmt.Errorf("マイグレーション管理テーブルの作成に失敗: %w", err)
	}

	applied, err := getAppliedVersions(ctx, db, dialect, component)
	if err != nil {
		return fmt.Errorf("適用済みバージョンの取得に失敗: %w", err)
	}

	migrations, err := collectMigrations(fsys, dir)
	if err != nil {
		return fmt.Errorf("マイグレーションファイルの収集に失敗: %w", err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		ok, err := applyMigration(ctx, db, dialect, component, fsys, m)
		if err != nil {
			return fmt.Errorf("マイグレーション %s/%06d の適用に失敗: %w", component, m.version, err)
		}
		if !ok {
			slog.Info("他のプロセスが適用済みのためスキップしました", "component", component, "version", m.version, "name", m.name)
			continue
		}
		slog.Info("マイグレーションを適用しました", "component", component, "version", m.version, "name", m.name)
	}

	return nil
}

// upSuffix は適用用マイグレーションファイルの拡張子。
const upSuffix = ".up.sql"

type migrationFile struct {
	version int
	name    string
	path    string
}

// ensureMigrationsTable はバージョン管理テーブルを作成する。
func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			component TEXT NOT NULL,
			version INTEGER NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (component, version)
		)
	`)
	return err
}

// getAppliedVersions はcomponentの適用済みマイグレーションバージョンを取得する。
func getAppliedVersions(ctx context.Context, db *sql.DB, dialect database.Dialect, component string) (map[int]bool, error) {
	query := "SELECT version FROM schema_migrations WHERE component = " + dialect.Placeholder(1) + " ORDER BY version"
	rows, err := db.QueryContext(ctx, query, component)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// collectMigrations はディレクトリの *.up.sql をバージョン順に返す。
// 同じバージョンのファイルが複数ある場合はエラーにする。
func collectMigrations(fsys fs.FS, dir string) ([]migrationFile, error) {
	paths, err := fs.Glob(fsys, path.Join(dir, "*"+upSuffix))
	if err != nil {
		return nil, err
	}

	seen := make(map[int]string, len(paths))
	migrations := make([]migrationFile, 0, len(paths))
	for _, p := range paths {
		prefix, rest, ok := strings.Cut(path.Base(p), "_")
		if !ok {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("バージョン %06d が重複しています: %s, %s", version, other, p)
		}
		seen[version] = p
		migrations = append(migrations, migrationFile{
			version: version,
			name:    strings.TrimSuffix(rest, upSuffix),
			path:    p,
		})
	}

	slices.SortFunc(migrations, func(a, b migrationFile) int {
		return cmp.Compare(a.version, b.version)
	})
	return migrations, nil
}

// errAppliedElsewhere はバージョンの記録が他のプロセスと競合したことを表す。
var errAppliedElsewhere = errors.New("他のプロセスが適用済み")

// applyMigration は1つのマイグレーションをトランザクション内で適用する。
// 同じDBを共有するプロセスが同時に起動し、先に同じバージョンを記録していた場合は
// トランザクションをロールバックしてfalseを返す。
func applyMigration(ctx context.Context, db *sql.DB, dialect database.Dialect, component string, fsys fs.FS, m migrationFile) (bool, error) {
	content, err := fs.ReadFile(fsys, m.path)
	if err != nil {
		return false, fmt.Errorf("ファイル読み込みに失敗: %w", err)
	}

	err = database.InTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("SQL実行に失敗: %w", err)
		}
		insert := "INSERT INTO schema_migrations (component, version) VALUES (" + dialect.Placeholder(1) + ", " + dialect.Placeholder(2) + ")"
		if _, err := tx.ExecContext(ctx, insert, component, m.version); err != nil {
			if database.IsUniqueViolation(err) {
				return errAppliedElsewhere
			}
			return fmt.Errorf("バージョン記録に失敗: %w", err)
		}
		return nil
	})
	if errors.Is(err, errAppliedElsewhere) {
		return false, nil
	}
	return err == nil, err
}
