package query

import (
	"database/sql"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/catalog/internal/series/schema"
	"github.com/nao1215/catalog/pkg/database"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testDSN は外部キー制約を有効にしたインメモリSQLiteの接続文字列。
const testDSN = "file::memory:?_pragma=foreign_keys(1)"

// setupTestDB はスキーマを適用したインメモリSQLiteを作成する。
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(t.Context(), database.DialectSQLite, testDSN)
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := schema.Apply(t.Context(), db, database.DialectSQLite); err != nil {
		t.Fatalf("スキーマ適用に失敗: %v", err)
	}
	return db
}

// seedSeries はテスト用に挿入するシリーズの値。
type seedSeries struct {
	serial   string
	title    string
	subtitle any
	rating   int
	kind     string
	price    string
	keywords any
	covers   []string
}

// insertSeries はシリーズ・タイトル・カバーをDBに直接挿入し、採番されたIDを返す。
func insertSeries(t *testing.T, db *sql.DB, s seedSeries) int64 {
	t.Helper()

	if s.kind == "" {
		s.kind = "STREAM"
	}
	if s.price == "" {
		s.price = "10.00"
	}

	var id int64
	err := db.QueryRowContext(t.Context(), `
		INSERT INTO series (serial_number, rating, kind, price, discount, has_trailer, keywords)
		VALUES (?, ?, ?, ?, '0.100', 1, ?)
		RETURNING id`,
		s.serial, s.rating, s.kind, s.price, s.keywords,
	).Scan(&id)
	if err != nil {
		t.Fatalf("シリーズの挿入に失敗: %v", err)
	}

	if _, err := db.ExecContext(t.Context(),
		"INSERT INTO title (title, subtitle, series_id) VALUES (?, ?, ?)", s.title, s.subtitle, id); err != nil {
		t.Fatalf("タイトルの挿入に失敗: %v", err)
	}
	for _, caption := range s.covers {
		if _, err := db.ExecContext(t.Context(),
			"INSERT INTO cover (caption, content_type, series_id) VALUES (?, 'image/png', ?)", caption, id); err != nil {
			t.Fatalf("カバーの挿入に失敗: %v", err)
		}
	}
	return id
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
