package series

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind はシリーズの提供形態を表す。
type Kind string

const (
	// KindStream は配信で提供されるシリーズを表す。
	KindStream Kind = "STREAM"
	// KindTV はテレビ放送で提供されるシリーズを表す。
	KindTV Kind = "TV"
	// KindDVD はDVDで提供されるシリーズを表す。
	KindDVD Kind = "DVD"
)

// Valid はKindが定義済みの値かどうかを判定する。
func (k Kind) Valid() bool {
	switch k {
	case KindStream, KindTV, KindDVD:
		return true
	}
	return false
}

// Series はカタログの主エンティティ（メディアシリーズ）を表す。
type Series struct {
	// ID はシリーズの一意識別子。DBが採番する。
	ID int64 `json:"id"`
	// Version は楽観的排他制御に使用するバージョン番号。作成時は0。
	Version int `json:"version"`
	// SerialNumber はシリーズの自然キー（通し番号）。
	SerialNumber string `json:"serialNumber"`
	// Rating は0〜5の評価。
	Rating int `json:"rating"`
	// Kind は提供形態。
	Kind Kind `json:"kind"`
	// Price は価格（8桁、小数2桁）。
	Price decimal.Decimal `json:"price"`
	// Discount は割引率（4桁、小数3桁）。
	Discount decimal.Decimal `json:"discount"`
	// HasTrailer は予告編の有無。
	HasTrailer bool `json:"hasTrailer"`
	// ReleaseDate は公開日。未定の場合はnil。
	ReleaseDate *time.Time `json:"releaseDate,omitempty"`
	// Homepage は公式サイトのURL。未設定の場合はnil。
	Homepage *string `json:"homepage,omitempty"`
	// Keywords は大文字のタグ一覧。nilにはならない。
	Keywords []string `json:"keywords"`
	// Title はシリーズのタイトル。必ず1件存在する。
	Title Title `json:"title"`
	// Covers はカバー画像の一覧。明示的に要求された場合のみ読み込まれる。
	Covers []Cover `json:"covers,omitempty"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt は更新日時。
	UpdatedAt time.Time `json:"updatedAt"`
}

// Title はシリーズのタイトル（1対1、必須）。
type Title struct {
	// ID はタイトルの一意識別子。
	ID int64 `json:"id,omitempty"`
	// Title はタイトル本体。
	Title string `json:"title"`
	// Subtitle はサブタイトル。未設定の場合はnil。
	Subtitle *string `json:"subtitle,omitempty"`
}

// Cover はシリーズのカバー画像（1対多）。
type Cover struct {
	// ID はカバーの一意識別子。
	ID int64 `json:"id,omitempty"`
	// Caption はカバーの説明文。
	Caption string `json:"caption"`
	// ContentType はカバー画像のMIMEタイプ。
	ContentType string `json:"contentType"`
}

// File はシリーズに紐づくバイナリファイル（1対1、任意）。
type File struct {
	// ID はファイルの一意識別子。
	ID int64 `json:"id"`
	// SeriesID は所有するシリーズのID。
	SeriesID int64 `json:"seriesId"`
	// Data はファイルの中身。
	Data []byte `json:"-"`
	// Filename は元のファイル名。
	Filename string `json:"filename"`
	// MimeType はファイルのMIMEタイプ。
	MimeType string `json:"mimeType"`
}

// FileRecord はファイル登録結果のメタデータ。
type FileRecord struct {
	// ID はファイルの一意識別子。
	ID int64 `json:"id"`
	// SeriesID は所有するシリーズのID。
	SeriesID int64 `json:"seriesId"`
	// Filename は元のファイル名。
	Filename string `json:"filename"`
	// MimeType はファイルのMIMEタイプ。
	MimeType string `json:"mimeType"`
	// Size はファイルサイズ（バイト）。
	Size int `json:"size"`
}

// Patch は更新時に上書きするフィールドの集合。
// nilのフィールドは保存済みの値を維持する。タイトルとバージョンは含まない。
type Patch struct {
	SerialNumber *string          `json:"serialNumber,omitempty"`
	Rating       *int             `json:"rating,omitempty"`
	Kind         *Kind            `json:"kind,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Discount     *decimal.Decimal `json:"discount,omitempty"`
	HasTrailer   *bool            `json:"hasTrailer,omitempty"`
	ReleaseDate  *time.Time       `json:"releaseDate,omitempty"`
	Homepage     *string          `json:"homepage,omitempty"`
	Keywords     *[]string        `json:"keywords,omitempty"`
}

// Apply はパッチの値をシリーズに上書きする。
func (p Patch) Apply(s *Series) {
	if p.SerialNumber != nil {
		s.SerialNumber = *p.SerialNumber
	}
	if p.Rating != nil {
		s.Rating = *p.Rating
	}
	if p.Kind != nil {
		s.Kind = *p.Kind
	}
	if p.Price != nil {
		s.Price = *p.Price
	}
	if p.Discount != nil {
		s.Discount = *p.Discount
	}
	if p.HasTrailer != nil {
		s.HasTrailer = *p.HasTrailer
	}
	if p.ReleaseDate != nil {
		d := *p.ReleaseDate
		s.ReleaseDate = &d
	}
	if p.Homepage != nil {
		h := *p.Homepage
		s.Homepage = &h
	}
	if p.Keywords != nil {
		s.Keywords = NormalizeKeywords(*p.Keywords)
	}
}

// keywordSeparator はDB上でキーワードを連結する区切り文字。
const keywordSeparator = ","

// NormalizeKeywords はキーワードを大文字化し、空要素と重複を取り除く。
// 入力順は維持する。戻り値はnilにならない。
func NormalizeKeywords(keywords []string) []string {
	normalized := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		normalized = append(normalized, k)
	}
	return normalized
}

// JoinKeywords はキーワードをDB保存用の文字列に変換する。
// 空の場合はfalseを返し、呼び出し側でNULLとして保存する。
func JoinKeywords(keywords []string) (string, bool) {
	normalized := NormalizeKeywords(keywords)
	if len(normalized) == 0 {
		return "", false
	}
	return strings.Join(normalized, keywordSeparator), true
}

// SplitKeywords はDBに保存された文字列をキーワード一覧に戻す。
// 空文字列の場合も空スライスを返す。
func SplitKeywords(stored string) []string {
	if stored == "" {
		return []string{}
	}
	return NormalizeKeywords(strings.Split(stored, keywordSeparator))
}
