package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/nao1215/catalog/pkg/database"
	"github.com/nao1215/catalog/pkg/logging"
	"github.com/nao1215/catalog/pkg/series"
)

// Service はシリーズの読み取りサービス。
// ID検索と検索条件による検索を、クエリビルダーを介して実行する。
type Service struct {
	// db はシリーズストアのデータベース接続。
	db *sql.DB
	// dialect はSQL方言。
	dialect database.Dialect
	// logger はリクエストにロガーが紐づいていない場合に使うロガー。
	logger *slog.Logger
}

// NewService は新しい読み取りサービスを生成する。
func NewService(db *sql.DB, dialect database.Dialect, logger *slog.Logger) *Service {
	return &Service{db: db, dialect: dialect, logger: logger}
}

// FindOptions はID検索時の読み込みオプション。
type FindOptions struct {
	// WithCovers がtrueの場合はカバー画像も読み込む。
	WithCovers bool
}

// Page は検索結果の1ページ分。
type Page struct {
	// Content はページに含まれるシリーズ。
	Content []series.Series `json:"content"`
	// TotalElements は検索条件に一致する全件数。
	TotalElements int `json:"totalElements"`
	// Number はページ番号（0始まり）。
	Number int `json:"number"`
	// Size はページサイズ。
	Size int `json:"size"`
}

// FindByID は指定されたIDのシリーズを取得する。
// 存在しない場合は*series.NotFoundErrorを返す。
func (s *Service) FindByID(ctx context.Context, id int64, opts FindOptions) (*series.Series, error) {
	log := logging.FromContext(ctx, s.logger)
	q := BuildByID(s.dialect, id, opts.WithCovers)

	rows, err := s.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("シリーズの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var found *series.Series
	for rows.Next() {
		if found == nil {
			found = &series.Series{}
		}
		if err := scanSeriesRow(rows, found, opts.WithCovers); err != nil {
			return nil, fmt.Errorf("シリーズの読み込みに失敗: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("シリーズの読み込みに失敗: %w", err)
	}

	if found == nil {
		log.Debug("シリーズが見つかりません", "id", id)
		return nil, &series.NotFoundError{ID: id}
	}
	log.Debug("シリーズを取得しました", "id", id, "version", found.Version)
	return found, nil
}

// Find は検索条件に一致するシリーズを1ページ分取得する。
// 検索条件が不正な場合はクエリを実行せずに*series.InvalidCriteriaErrorを返す。
// 1件も一致しない場合は検索条件とページを含む*series.NotFoundErrorを返す。
func (s *Service) Find(ctx context.Context, criteria map[string]string, pageable Pageable) (*Page, error) {
	log := logging.FromContext(ctx, s.logger)

	filters, err := ParseCriteria(criteria)
	if err != nil {
		log.Debug("検索条件が不正です", "criteria", criteria, "error", err)
		return nil, err
	}

	q := Build(s.dialect, filters, pageable)
	content, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}

	if len(content) == 0 {
		c := maps.Clone(criteria)
		if c == nil {
			c = map[string]string{}
		}
		log.Debug("検索条件に一致するシリーズがありません", "criteria", criteria, "page", pageable.Number, "size", pageable.Size)
		return nil, &series.NotFoundError{Criteria: c, PageNumber: pageable.Number, PageSize: pageable.Size}
	}

	total, err := s.count(ctx, BuildCount(s.dialect, filters))
	if err != nil {
		return nil, err
	}

	log.Debug("シリーズを検索しました", "criteria", criteria, "count", len(content), "total", total)
	return &Page{
		Content:       content,
		TotalElements: total,
		Number:        pageable.Number,
		Size:          pageable.Size,
	}, nil
}

// FindFile は指定されたシリーズのファイルを取得する。
// ファイルが登録されていない場合は*series.NotFoundErrorを返す。
func (s *Service) FindFile(ctx context.Context, seriesID int64) (*series.File, error) {
	b := database.NewBinder(s.dialect)
	stmt := "SELECT id, series_id, data, filename, mime_type FROM series_file WHERE series_id = " + b.Bind(seriesID)

	var f series.File
	err := s.db.QueryRowContext(ctx, stmt, b.Args()...).Scan(&f.ID, &f.SeriesID, &f.Data, &f.Filename, &f.MimeType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &series.NotFoundError{ID: seriesID}
	}
	if err != nil {
		return nil, fmt.Errorf("ファイルの取得に失敗: %w", err)
	}
	return &f, nil
}

// query はシリーズ一覧のクエリを実行する。
func (s *Service) query(ctx context.Context, q Query) ([]series.Series, error) {
	rows, err := s.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("シリーズの検索に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []series.Series
	for rows.Next() {
		var item series.Series
		if err := scanSeriesRow(rows, &item, false); err != nil {
			return nil, fmt.Errorf("シリーズの読み込みに失敗: %w", err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("シリーズの読み込みに失敗: %w", err)
	}
	return result, nil
}

// count は件数取得のクエリを実行する。
func (s *Service) count(ctx context.Context, q Query) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, q.SQL, q.Args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("件数の取得に失敗: %w", err)
	}
	return total, nil
}

// scanSeriesRow は1行をシリーズに読み込む。
// withCoversがtrueの場合は末尾のカバー列も読み込み、Coversに追加する。
// カバーの外部結合で同じシリーズが複数行になるため、同じdstに繰り返し読み込んでよい。
func scanSeriesRow(rows *sql.Rows, dst *series.Series, withCovers bool) error {
	var (
		releaseDate sql.NullTime
		homepage    sql.NullString
		keywords    sql.NullString
		subtitle    sql.NullString
		coverID     sql.NullInt64
		caption     sql.NullString
		contentType sql.NullString
	)

	targets := []any{
		&dst.ID, &dst.Version, &dst.SerialNumber, &dst.Rating, &dst.Kind, &dst.Price, &dst.Discount,
		&dst.HasTrailer, &releaseDate, &homepage, &keywords, &dst.CreatedAt, &dst.UpdatedAt,
		&dst.Title.ID, &dst.Title.Title, &subtitle,
	}
	if withCovers {
		targets = append(targets, &coverID, &caption, &contentType)
	}
	if err := rows.Scan(targets...); err != nil {
		return err
	}

	dst.ReleaseDate = nil
	if releaseDate.Valid {
		d := releaseDate.Time
		dst.ReleaseDate = &d
	}
	dst.Homepage = nil
	if homepage.Valid {
		h := homepage.String
		dst.Homepage = &h
	}
	dst.Title.Subtitle = nil
	if subtitle.Valid {
		st := subtitle.String
		dst.Title.Subtitle = &st
	}
	// NULLのキーワードも空スライスとして扱う
	dst.Keywords = series.SplitKeywords(keywords.String)

	if withCovers && coverID.Valid {
		dst.Covers = append(dst.Covers, series.Cover{
			ID:          coverID.Int64,
			Caption:     caption.String,
			ContentType: contentType.String,
		})
	}
	return nil
}
