package query

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/catalog/pkg/series"
	"github.com/shopspring/decimal"
)

// 検索キー。title・rating・priceは専用のフィルタに、それ以外の属性は等価比較になる。
const (
	KeyTitle        = "title"
	KeyRating       = "rating"
	KeyPrice        = "price"
	KeyKind         = "kind"
	KeyID           = "id"
	KeyVersion      = "version"
	KeySerialNumber = "serialNumber"
	KeyDiscount     = "discount"
	KeyHasTrailer   = "hasTrailer"
	KeyReleaseDate  = "releaseDate"
	KeyHomepage     = "homepage"
	KeyKeywords     = "keywords"
	KeyCreatedAt    = "createdAt"
	KeyUpdatedAt    = "updatedAt"
)

// keywordShortcut はキーワードの包含検索に変換される真偽値の疑似キー。
type keywordShortcut struct {
	// key は検索条件のキー名。
	key string
	// tag は包含を判定するタグ。
	tag string
	// exclude はtagを部分文字列として含む長いタグ。判定前に保存値から取り除く。
	exclude string
}

// keywordShortcuts は評価順に並べたキーワードショートカット。
// DRAMAはMELODRAMAの部分文字列なので、MELODRAMAだけを持つシリーズがdramaで一致しないよう除外する。
var keywordShortcuts = []keywordShortcut{
	{key: "action", tag: "ACTION"},
	{key: "comedy", tag: "COMEDY"},
	{key: "melodrama", tag: "MELODRAMA"},
	{key: "drama", tag: "DRAMA", exclude: "MELODRAMA"},
}

// equalityColumn は等価比較するキーの列名と値の変換関数。
type equalityColumn struct {
	column  string
	convert func(string) (any, bool)
	decimal bool
}

var equalityColumns = map[string]equalityColumn{
	KeyID:           {column: "s.id", convert: toInt64},
	KeyVersion:      {column: "s.version", convert: toInt},
	KeySerialNumber: {column: "s.serial_number", convert: toString},
	KeyKind:         {column: "s.kind", convert: toString},
	KeyDiscount:     {column: "s.discount", convert: toDecimal, decimal: true},
	KeyHasTrailer:   {column: "s.has_trailer", convert: toBool},
	KeyReleaseDate:  {column: "s.release_date", convert: toDate},
	KeyHomepage:     {column: "s.homepage", convert: toString},
	KeyKeywords:     {column: "s.keywords", convert: toKeywords},
	KeyCreatedAt:    {column: "s.created_at", convert: toTimestamp},
	KeyUpdatedAt:    {column: "s.updated_at", convert: toTimestamp},
}

// recognizedKeys は検索条件として受け付けるキーの集合。
var recognizedKeys = func() map[string]struct{} {
	keys := map[string]struct{}{
		KeyTitle:  {},
		KeyRating: {},
		KeyPrice:  {},
	}
	for k := range equalityColumns {
		keys[k] = struct{}{}
	}
	for _, sc := range keywordShortcuts {
		keys[sc.key] = struct{}{}
	}
	return keys
}()

// RecognizedKeys は検索条件として受け付けるキーをソートして返す。
func RecognizedKeys() []string {
	keys := make([]string, 0, len(recognizedKeys))
	for k := range recognizedKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsRecognizedKey はキーが検索条件として有効かどうかを判定する。
func IsRecognizedKey(key string) bool {
	_, ok := recognizedKeys[key]
	return ok
}

// Validate は検索条件のキーとkindの値を検証する。
// 問題がある場合は*series.InvalidCriteriaErrorを返す。
func Validate(criteria map[string]string) error {
	var unknown []string
	for k := range criteria {
		if !IsRecognizedKey(k) {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)

	var badKind string
	if v, ok := criteria[KeyKind]; ok && !series.Kind(v).Valid() {
		badKind = v
		if badKind == "" {
			badKind = `""`
		}
	}

	if len(unknown) > 0 || badKind != "" {
		return &series.InvalidCriteriaError{UnknownKeys: unknown, Kind: badKind}
	}
	return nil
}

// ParseCriteria は検索条件を検証し、評価順に並べたフィルタの一覧に変換する。
// 空の検索条件は全件一致（フィルタなし）になる。
func ParseCriteria(criteria map[string]string) ([]Filter, error) {
	if len(criteria) == 0 {
		return nil, nil
	}
	if err := Validate(criteria); err != nil {
		return nil, err
	}

	var filters []Filter

	if v, ok := criteria[KeyTitle]; ok {
		filters = append(filters, Substring{Column: "t.title", Value: v})
	}
	if v, ok := criteria[KeyRating]; ok {
		// 数値でない評価は無視する
		if rating, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			filters = append(filters, Minimum{Column: "s.rating", Value: rating})
		}
	}
	if v, ok := criteria[KeyPrice]; ok {
		if price, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			filters = append(filters, Maximum{Column: "s.price", Value: price, Decimal: true})
		}
	}
	for _, sc := range keywordShortcuts {
		if v, ok := criteria[sc.key]; !ok || v != "true" {
			continue
		}
		if sc.exclude == "" {
			filters = append(filters, Contains{Column: "s.keywords", Tag: sc.tag})
		} else {
			filters = append(filters, ContainsExcluding{Column: "s.keywords", Tag: sc.tag, Exclude: sc.exclude})
		}
	}

	keys := make([]string, 0, len(criteria))
	for k := range equalityColumns {
		if _, ok := criteria[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		col := equalityColumns[k]
		value, ok := col.convert(criteria[k])
		if !ok {
			continue
		}
		filters = append(filters, Equals{Column: col.column, Value: value, Decimal: col.decimal})
	}

	return filters, nil
}

func toString(v string) (any, bool) { return v, true }

func toKeywords(v string) (any, bool) {
	joined, ok := series.JoinKeywords(strings.Split(v, ","))
	return joined, ok
}

func toInt(v string) (any, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	return n, err == nil
}

func toInt64(v string) (any, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	return n, err == nil
}

func toBool(v string) (any, bool) {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return b, err == nil
}

func toDecimal(v string) (any, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	return d, err == nil
}

func toDate(v string) (any, bool) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(v))
	return t, err == nil
}

func toTimestamp(v string) (any, bool) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(v))
	return t, err == nil
}

// Pageable はページ番号（0始まり）とページサイズ。
// Sizeが0の場合はページングしない（件数取得用の内部表現）。
type Pageable struct {
	Number int
	Size   int
}

const (
	// DefaultPageSize はページサイズ未指定時の既定値。
	DefaultPageSize = 5
	// MaxPageSize は利用者が指定できるページサイズの上限。
	MaxPageSize = 100
)

// Unpaged はページングしないことを表す。
var Unpaged = Pageable{}

// NewPageable は利用者の入力からPageableを生成する。
// 未指定や不正な値は既定値に置き換える。
func NewPageable(number, size string) Pageable {
	p := Pageable{Number: 0, Size: DefaultPageSize}
	if n, err := strconv.Atoi(number); err == nil && n >= 0 {
		p.Number = n
	}
	if s, err := strconv.Atoi(size); err == nil && s > 0 {
		p.Size = min(s, MaxPageSize)
	}
	return p
}

// Paged はページングが必要かどうかを返す。
func (p Pageable) Paged() bool { return p.Size > 0 }

// Offset は読み飛ばす件数を返す。
func (p Pageable) Offset() int { return p.Number * p.Size }
