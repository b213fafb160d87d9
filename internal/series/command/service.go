package command

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/catalog/internal/series/query"
	"github.com/nao1215/catalog/pkg/database"
	"github.com/nao1215/catalog/pkg/logging"
	"github.com/nao1215/catalog/pkg/series"
)

// notifyTimeout は作成通知1件あたりの送信タイムアウト。
const notifyTimeout = 10 * time.Second

// Notifier はシリーズ作成時の通知を送信する。
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// Reader は書き込み前の存在確認に使う読み取り操作。
// *query.Serviceが実装する。
type Reader interface {
	FindByID(ctx context.Context, id int64, opts query.FindOptions) (*series.Series, error)
	Find(ctx context.Context, criteria map[string]string, pageable query.Pageable) (*query.Page, error)
}

// Service はシリーズの書き込みサービス。
type Service struct {
	db       *sql.DB
	dialect  database.Dialect
	reader   Reader
	notifier Notifier
	logger   *slog.Logger
	// now は作成日時・更新日時の取得に使う。テストで差し替える。
	now func() time.Time
	// notifications は送信中の作成通知。
	notifications sync.WaitGroup
}

// NewService は新しい書き込みサービスを生成する。
// notifierがnilの場合は作成通知を送信しない。
func NewService(db *sql.DB, dialect database.Dialect, reader Reader, notifier Notifier, logger *slog.Logger) *Service {
	return &Service{
		db:       db,
		dialect:  dialect,
		reader:   reader,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// timestamp は秒単位に丸めたUTCの現在時刻を返す。
// 等価検索で保存値と一致させるため、秒未満は保存しない。
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// Create はシリーズをタイトル・カバーとともに登録し、採番されたIDを返す。
// 通し番号が登録済みの場合は*series.AlreadyExistsErrorを返す。
// 登録後に作成通知を非同期で送信する。通知の失敗はログに記録するのみ。
func (s *Service) Create(ctx context.Context, in series.Series) (int64, error) {
	log := logging.FromContext(ctx, s.logger)

	_, err := s.reader.Find(ctx, map[string]string{query.KeySerialNumber: in.SerialNumber}, query.Pageable{Number: 0, Size: 1})
	switch {
	case err == nil:
		return 0, &series.AlreadyExistsError{SerialNumber: in.SerialNumber}
	case !errors.Is(err, series.ErrNotFound):
		return 0, fmt.Errorf("通し番号の重複確認に失敗: %w", err)
	}

	now := s.timestamp()
	var id int64
	err = database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		b := database.NewBinder(s.dialect)
		stmt := "INSERT INTO series (version, serial_number, rating, kind, price, discount, has_trailer, release_date, homepage, keywords, created_at, updated_at) VALUES (0, " +
			b.Bind(in.SerialNumber) + ", " +
			b.Bind(in.Rating) + ", " +
			b.Bind(string(in.Kind)) + ", " +
			b.Bind(in.Price) + ", " +
			b.Bind(in.Discount) + ", " +
			b.Bind(in.HasTrailer) + ", " +
			b.Bind(nullDate(in.ReleaseDate)) + ", " +
			b.Bind(nullString(in.Homepage)) + ", " +
			b.Bind(nullKeywords(in.Keywords)) + ", " +
			b.Bind(now) + ", " +
			b.Bind(now) + ") RETURNING id"
		if err := tx.QueryRowContext(ctx, stmt, b.Args()...).Scan(&id); err != nil {
			if database.IsUniqueViolation(err) {
				return &series.AlreadyExistsError{SerialNumber: in.SerialNumber}
			}
			return fmt.Errorf("シリーズの挿入に失敗: %w", err)
		}

		b = database.NewBinder(s.dialect)
		stmt = "INSERT INTO title (title, subtitle, series_id) VALUES (" +
			b.Bind(in.Title.Title) + ", " + b.Bind(nullString(in.Title.Subtitle)) + ", " + b.Bind(id) + ")"
		if _, err := tx.ExecContext(ctx, stmt, b.Args()...); err != nil {
			return fmt.Errorf("タイトルの挿入に失敗: %w", err)
		}

		for _, cover := range in.Covers {
			b = database.NewBinder(s.dialect)
			stmt = "INSERT INTO cover (caption, content_type, series_id) VALUES (" +
				b.Bind(cover.Caption) + ", " + b.Bind(cover.ContentType) + ", " + b.Bind(id) + ")"
			if _, err := tx.ExecContext(ctx, stmt, b.Args()...); err != nil {
				return fmt.Errorf("カバーの挿入に失敗: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info("シリーズを登録しました", "id", id, "serial_number", in.SerialNumber)
	s.notifyCreated(ctx, id, in)
	return id, nil
}

// notifyCreated は作成通知を非同期で送信する。
// リクエストのキャンセルに巻き込まれないよう、呼び出し元のコンテキストの値のみ引き継ぐ。
func (s *Service) notifyCreated(ctx context.Context, id int64, in series.Series) {
	if s.notifier == nil {
		return
	}
	log := logging.FromContext(ctx, s.logger)
	subject := fmt.Sprintf("シリーズを登録しました: %s", in.Title.Title)
	body := fmt.Sprintf("ID: %d\n通し番号: %s\n種別: %s\n評価: %d\n価格: %s",
		id, in.SerialNumber, in.Kind, in.Rating, in.Price.StringFixed(2))

	detached := context.WithoutCancel(ctx)
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		sendCtx, cancel := context.WithTimeout(detached, notifyTimeout)
		defer cancel()
		if err := s.notifier.Send(sendCtx, subject, body); err != nil {
			log.Warn("作成通知の送信に失敗", "id", id, "error", err)
		}
	}()
}

// Wait は送信中の作成通知がすべて完了するまで待つ。
func (s *Service) Wait() {
	s.notifications.Wait()
}

// Update はバージョントークンを検証した上でパッチを適用し、新しいバージョンを返す。
// トークンの形式が不正な場合は*series.InvalidVersionError、
// シリーズが存在しない場合は*series.NotFoundError、
// トークンが保存済みのバージョンより古い場合は*series.OutdatedVersionErrorを返す。
// 保存済みのバージョンより新しいトークンは受け付ける。
func (s *Service) Update(ctx context.Context, id int64, patch series.Patch, token string) (int, error) {
	log := logging.FromContext(ctx, s.logger)

	supplied, err := series.ParseVersion(token)
	if err != nil {
		return 0, err
	}

	current, err := s.reader.FindByID(ctx, id, query.FindOptions{})
	if err != nil {
		return 0, err
	}
	if supplied < current.Version {
		return 0, &series.OutdatedVersionError{Supplied: supplied, Current: current.Version}
	}

	patch.Apply(current)

	// 読み取り後に他の更新が先行した場合はWHERE句に一致せず0行になる
	b := database.NewBinder(s.dialect)
	stmt := "UPDATE series SET " +
		"serial_number = " + b.Bind(current.SerialNumber) +
		", rating = " + b.Bind(current.Rating) +
		", kind = " + b.Bind(string(current.Kind)) +
		", price = " + b.Bind(current.Price) +
		", discount = " + b.Bind(current.Discount) +
		", has_trailer = " + b.Bind(current.HasTrailer) +
		", release_date = " + b.Bind(nullDate(current.ReleaseDate)) +
		", homepage = " + b.Bind(nullString(current.Homepage)) +
		", keywords = " + b.Bind(nullKeywords(current.Keywords)) +
		", updated_at = " + b.Bind(s.timestamp()) +
		", version = version + 1" +
		" WHERE id = " + b.Bind(id) + " AND version <= " + b.Bind(supplied) +
		" RETURNING version"

	var version int
	err = s.db.QueryRowContext(ctx, stmt, b.Args()...).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, s.conflict(ctx, id, supplied)
	case database.IsUniqueViolation(err):
		return 0, &series.AlreadyExistsError{SerialNumber: current.SerialNumber}
	case err != nil:
		return 0, fmt.Errorf("シリーズの更新に失敗: %w", err)
	}

	log.Info("シリーズを更新しました", "id", id, "version", version)
	return version, nil
}

// conflict は条件付き更新が0行だった原因を判定する。
// 並行して削除された場合は*series.NotFoundError、それ以外は*series.OutdatedVersionErrorを返す。
func (s *Service) conflict(ctx context.Context, id int64, supplied int) error {
	current, err := s.reader.FindByID(ctx, id, query.FindOptions{})
	if errors.Is(err, series.ErrNotFound) {
		return err
	}
	if err != nil {
		return &series.OutdatedVersionError{Supplied: supplied, Current: -1}
	}
	return &series.OutdatedVersionError{Supplied: supplied, Current: current.Version}
}

// Delete はシリーズをタイトル・カバー・ファイルとともに削除する。
// シリーズが存在しない場合はfalseを返す（エラーにはしない）。
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	log := logging.FromContext(ctx, s.logger)

	if _, err := s.reader.FindByID(ctx, id, query.FindOptions{}); err != nil {
		if errors.Is(err, series.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	var removed bool
	err := database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		// シリーズを参照する子テーブルから順に削除する
		for _, table := range []string{"title", "cover", "series_file"} {
			stmt := "DELETE FROM " + table + " WHERE series_id = " + s.dialect.Placeholder(1)
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("%sの削除に失敗: %w", table, err)
			}
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM series WHERE id = "+s.dialect.Placeholder(1), id)
		if err != nil {
			return fmt.Errorf("シリーズの削除に失敗: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("削除件数の取得に失敗: %w", err)
		}
		removed = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}

	log.Info("シリーズを削除しました", "id", id, "removed", removed)
	return removed, nil
}

// AddFile はシリーズのファイルを登録する。既存のファイルは置き換える。
// シリーズが存在しない場合は*series.NotFoundErrorを返す。
func (s *Service) AddFile(ctx context.Context, id int64, data []byte, filename, mimeType string) (*series.FileRecord, error) {
	log := logging.FromContext(ctx, s.logger)

	if _, err := s.reader.FindByID(ctx, id, query.FindOptions{}); err != nil {
		return nil, err
	}

	record := &series.FileRecord{SeriesID: id, Filename: filename, MimeType: mimeType, Size: len(data)}
	err := database.InTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM series_file WHERE series_id = "+s.dialect.Placeholder(1), id); err != nil {
			return fmt.Errorf("既存ファイルの削除に失敗: %w", err)
		}

		b := database.NewBinder(s.dialect)
		stmt := "INSERT INTO series_file (data, filename, mime_type, series_id) VALUES (" +
			b.Bind(data) + ", " + b.Bind(filename) + ", " + b.Bind(mimeType) + ", " + b.Bind(id) + ") RETURNING id"
		if err := tx.QueryRowContext(ctx, stmt, b.Args()...).Scan(&record.ID); err != nil {
			return fmt.Errorf("ファイルの挿入に失敗: %w", err)
		}

		b = database.NewBinder(s.dialect)
		stmt = "UPDATE series SET file_id = " + b.Bind(record.ID) + " WHERE id = " + b.Bind(id)
		if _, err := tx.ExecContext(ctx, stmt, b.Args()...); err != nil {
			return fmt.Errorf("シリーズのファイル参照の更新に失敗: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("ファイルを登録しました", "id", id, "file_id", record.ID, "filename", filename, "size", record.Size)
	return record, nil
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullDate(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func nullKeywords(keywords []string) sql.NullString {
	joined, ok := series.JoinKeywords(keywords)
	return sql.NullString{String: joined, Valid: ok}
}
