package query

import (
	"strings"

	"github.com/nao1215/catalog/pkg/database"
)

// Filter は検索条件1件分のWHERE句の断片。
// 実装はこのパッケージ内の型に限定される。
type Filter interface {
	clause(b *database.Binder) string
}

// Substring は大文字小文字を区別しない部分一致。
type Substring struct {
	Column string
	Value  string
}

func (f Substring) clause(b *database.Binder) string {
	pattern := "%" + escapeLike(strings.ToLower(f.Value)) + "%"
	return b.Dialect().Lower(f.Column) + " LIKE " + b.Bind(pattern) + ` ESCAPE '\'`
}

// Minimum は下限（以上）の比較。
type Minimum struct {
	Column string
	Value  any
}

func (f Minimum) clause(b *database.Binder) string {
	return f.Column + " >= " + b.Bind(f.Value)
}

// Maximum は上限（以下）の比較。
type Maximum struct {
	Column string
	Value  any
	// Decimal は列が固定小数点であることを表す。
	Decimal bool
}

func (f Maximum) clause(b *database.Binder) string {
	return operand(b, f.Column, f.Decimal) + " <= " + b.Bind(f.Value)
}

// Contains はタグの包含判定。
type Contains struct {
	Column string
	Tag    string
}

func (f Contains) clause(b *database.Binder) string {
	return f.Column + " LIKE " + b.Bind("%"+escapeLike(f.Tag)+"%") + ` ESCAPE '\'`
}

// ContainsExcluding は、Excludeを保存値から取り除いた上でのタグの包含判定。
// Excludeだけを持つレコードがTagの検索で一致しないようにする。
type ContainsExcluding struct {
	Column  string
	Tag     string
	Exclude string
}

func (f ContainsExcluding) clause(b *database.Binder) string {
	stripped := "REPLACE(" + f.Column + ", " + b.Bind(f.Exclude) + ", '')"
	return stripped + " LIKE " + b.Bind("%"+escapeLike(f.Tag)+"%") + ` ESCAPE '\'`
}

// Equals は等価比較。
type Equals struct {
	Column string
	Value  any
	// Decimal は列が固定小数点であることを表す。
	Decimal bool
}

func (f Equals) clause(b *database.Binder) string {
	return operand(b, f.Column, f.Decimal) + " = " + b.Bind(f.Value)
}

// operand は比較の左辺を返す。固定小数点の列は方言に応じて数値に変換する。
func operand(b *database.Binder, column string, decimal bool) string {
	if decimal {
		return b.Dialect().Decimal(column)
	}
	return column
}

// likeEscaper はLIKEのワイルドカードをエスケープする。
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// Predicate はWHERE句とそのバインド引数の組。
type Predicate struct {
	SQL  string
	Args []any
}

// Query は実行可能なSQLとバインド引数の組。
type Query struct {
	SQL  string
	Args []any
}

// selectColumns はシリーズとタイトルの取得列。scanSeriesの順序と一致させること。
const selectColumns = `s.id, s.version, s.serial_number, s.rating, s.kind, s.price, s.discount,
	s.has_trailer, s.release_date, s.homepage, s.keywords, s.created_at, s.updated_at,
	t.id, t.title, t.subtitle`

// fromSeries はシリーズと必須のタイトルの内部結合。
const fromSeries = `FROM series s
	INNER JOIN title t ON t.series_id = s.id`

// where はフィルタを順に畳み込み、ANDで連結したWHERE句を返す。フィルタがなければ空文字列を返す。
func where(b *database.Binder, filters []Filter) string {
	if len(filters) == 0 {
		return ""
	}
	clauses := make([]string, 0, len(filters))
	for _, f := range filters {
		clauses = append(clauses, f.clause(b))
	}
	return "WHERE " + strings.Join(clauses, " AND ")
}

// Where はフィルタ一覧からWHERE句と引数を組み立てる。
func Where(d database.Dialect, filters []Filter) Predicate {
	b := database.NewBinder(d)
	return Predicate{SQL: where(b, filters), Args: b.Args()}
}

// BuildByID はID指定で1件のシリーズを取得するクエリを組み立てる。
// タイトルは常に結合し、カバーはwithCoversがtrueの場合のみ外部結合する。
func BuildByID(d database.Dialect, id int64, withCovers bool) Query {
	b := database.NewBinder(d)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(selectColumns)
	if withCovers {
		sb.WriteString(", c.id, c.caption, c.content_type")
	}
	sb.WriteString("\n")
	sb.WriteString(fromSeries)
	if withCovers {
		sb.WriteString("\n\tLEFT OUTER JOIN cover c ON c.series_id = s.id")
	}
	sb.WriteString("\nWHERE s.id = ")
	sb.WriteString(b.Bind(id))
	if withCovers {
		sb.WriteString("\nORDER BY c.id")
	}
	return Query{SQL: sb.String(), Args: b.Args()}
}

// Build は検索条件に一致するシリーズの1ページ分を取得するクエリを組み立てる。
// pageableのSizeが0の場合はページングしない。
func Build(d database.Dialect, filters []Filter, pageable Pageable) Query {
	b := database.NewBinder(d)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(selectColumns)
	sb.WriteString("\n")
	sb.WriteString(fromSeries)
	if w := where(b, filters); w != "" {
		sb.WriteString("\n")
		sb.WriteString(w)
	}
	sb.WriteString("\nORDER BY s.id")
	if pageable.Paged() {
		sb.WriteString("\nLIMIT ")
		sb.WriteString(b.Bind(pageable.Size))
		sb.WriteString(" OFFSET ")
		sb.WriteString(b.Bind(pageable.Offset()))
	}
	return Query{SQL: sb.String(), Args: b.Args()}
}

// BuildCount はBuildと同じ条件に一致する件数を数えるクエリを組み立てる。
func BuildCount(d database.Dialect, filters []Filter) Query {
	b := database.NewBinder(d)

	var sb strings.Builder
	sb.WriteString("SELECT COUNT(*)\n")
	sb.WriteString(fromSeries)
	if w := where(b, filters); w != "" {
		sb.WriteString("\n")
		sb.WriteString(w)
	}
	return Query{SQL: sb.String(), Args: b.Args()}
}
