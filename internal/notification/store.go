package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/catalog/pkg/database"
)

// errNotFound は通知が存在しないことを表す。
var errNotFound = errors.New("通知が見つかりません")

// Notification は保存された通知。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string
	// Recipient は通知先。
	Recipient string
	// Subject は件名。
	Subject string
	// Body は本文。
	Body string
	// IsRead は既読状態。
	IsRead bool
	// CreatedAt は作成日時。
	CreatedAt time.Time
}

// Store は通知の永続化を行う。
type Store struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB, dialect database.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

const notificationColumns = "id, recipient, subject, body, is_read, created_at"

// Create は通知を保存する。
func (s *Store) Create(ctx context.Context, n Notification) error {
	b := database.NewBinder(s.dialect)
	stmt := "INSERT INTO notifications (" + notificationColumns + ") VALUES (" +
		b.Bind(n.ID) + ", " + b.Bind(n.Recipient) + ", " + b.Bind(n.Subject) + ", " +
		b.Bind(n.Body) + ", " + b.Bind(n.IsRead) + ", " + b.Bind(n.CreatedAt) + ")"
	if _, err := s.db.ExecContext(ctx, stmt, b.Args()...); err != nil {
		return fmt.Errorf("通知の保存に失敗: %w", err)
	}
	return nil
}

// Get はIDで通知を取得する。存在しない場合はerrNotFoundを返す。
func (s *Store) Get(ctx context.Context, id string) (*Notification, error) {
	b := database.NewBinder(s.dialect)
	stmt := "SELECT " + notificationColumns + " FROM notifications WHERE id = " + b.Bind(id)

	var n Notification
	err := s.db.QueryRowContext(ctx, stmt, b.Args()...).Scan(&n.ID, &n.Recipient, &n.Subject, &n.Body, &n.IsRead, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return &n, nil
}

// ListByRecipient は宛先の通知を新しい順に返す。
func (s *Store) ListByRecipient(ctx context.Context, recipient string) ([]Notification, error) {
	b := database.NewBinder(s.dialect)
	return s.list(ctx, b, "recipient = "+b.Bind(recipient))
}

// ListUnread は宛先の未読通知を新しい順に返す。
func (s *Store) ListUnread(ctx context.Context, recipient string) ([]Notification, error) {
	b := database.NewBinder(s.dialect)
	return s.list(ctx, b, "recipient = "+b.Bind(recipient)+" AND is_read = "+b.Bind(false))
}

func (s *Store) list(ctx context.Context, b *database.Binder, where string) ([]Notification, error) {
	stmt := "SELECT " + notificationColumns + " FROM notifications WHERE " + where + " ORDER BY created_at DESC, id"
	rows, err := s.db.QueryContext(ctx, stmt, b.Args()...)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	notifications := []Notification{}
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Subject, &n.Body, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("通知の読み込みに失敗: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkAsRead は通知を既読にする。
func (s *Store) MarkAsRead(ctx context.Context, id string) error {
	b := database.NewBinder(s.dialect)
	stmt := "UPDATE notifications SET is_read = " + b.Bind(true) + " WHERE id = " + b.Bind(id)
	if _, err := s.db.ExecContext(ctx, stmt, b.Args()...); err != nil {
		return fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	return nil
}

// MarkAllAsRead は宛先の全通知を既読にする。
func (s *Store) MarkAllAsRead(ctx context.Context, recipient string) error {
	b := database.NewBinder(s.dialect)
	stmt := "UPDATE notifications SET is_read = " + b.Bind(true) + " WHERE recipient = " + b.Bind(recipient)
	if _, err := s.db.ExecContext(ctx, stmt, b.Args()...); err != nil {
		return fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	return nil
}
