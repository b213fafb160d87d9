// Package database はシリーズストアのDB接続を提供する。
//
// 組み込み用途のSQLite（modernc.org/sqlite）と本番用途のPostgreSQL（pgx）を
// 同じdatabase/sqlインターフェースで扱い、SQL方言の差異をDialectで吸収する。
package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sqlにpgxドライバを登録する
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect はSQL方言を表す。
type Dialect string

const (
	// DialectSQLite はSQLite方言（プレースホルダは ?）。
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres はPostgreSQL方言（プレースホルダは $n）。
	DialectPostgres Dialect = "postgres"
)

// ParseDialect は設定値から方言を判定する。
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3", "":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("未対応のデータベースドライバです: %s (sqlite, postgres のみ)", name)
}

// Placeholder はn番目（1始まり）のバインドパラメータの表記を返す。
func (d Dialect) Placeholder(n int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// sqliteLowerFunc はUnicodeの大文字小文字を畳み込むSQLite用の関数名。
// SQLite組み込みのLOWERはASCIIしか変換しない。
const sqliteLowerFunc = "unicode_lower"

func init() {
	if err := sqlite.RegisterDeterministicScalarFunction(sqliteLowerFunc, 1, unicodeLower); err != nil {
		panic(fmt.Sprintf("SQLite関数 %s の登録に失敗: %v", sqliteLowerFunc, err))
	}
}

// unicodeLower はstrings.ToLowerで文字列を小文字にする。NULLはNULLのまま返す。
func unicodeLower(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// Lower は式を小文字に畳み込むSQLを返す。
// PostgreSQLのLOWERはUnicodeに対応しているためそのまま使う。
func (d Dialect) Lower(expr string) string {
	if d == DialectPostgres {
		return "LOWER(" + expr + ")"
	}
	return sqliteLowerFunc + "(" + expr + ")"
}

// Decimal は固定小数点の列を数値として比較するためのSQLを返す。
// SQLiteでは金額をTEXTで保存するため、比較時のみNUMERICに変換する。
func (d Dialect) Decimal(expr string) string {
	if d == DialectPostgres {
		return expr
	}
	return "CAST(" + expr + " AS NUMERIC)"
}

// DriverName はdatabase/sqlに登録されたドライバ名を返す。
func (d Dialect) DriverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

// Binder はプレースホルダの連番を管理しながら引数を積み上げる。
// 1つのクエリにつき1つ生成して使う。
type Binder struct {
	dialect Dialect
	args    []any
}

// NewBinder は新しいBinderを生成する。
func NewBinder(d Dialect) *Binder {
	return &Binder{dialect: d}
}

// Bind は値を引数に追加し、対応するプレースホルダを返す。
func (b *Binder) Bind(v any) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

// Dialect はBinderの方言を返す。
func (b *Binder) Dialect() Dialect {
	return b.dialect
}

// Args は積み上げた引数を返す。
func (b *Binder) Args() []any {
	return b.args
}

// Open は方言に応じたドライバでDBに接続し、疎通確認を行う。
func Open(ctx context.Context, d Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	switch d {
	case DialectSQLite:
		// インメモリDBは接続ごとに別のDBになるため、接続を1本に制限する
		if strings.Contains(dsn, ":memory:") {
			db.SetMaxOpenConns(1)
		}
	case DialectPostgres:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースの疎通確認に失敗: %w", err)
	}
	return db, nil
}

// IsUniqueViolation は一意制約違反のエラーかどうかを判定する。
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}
	return false
}

// InTx はトランザクション内でfnを実行する。
// fnがエラーを返した場合はロールバックし、成功した場合はコミットする。
func InTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	committed = true
	return nil
}
