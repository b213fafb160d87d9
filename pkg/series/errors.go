package series

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound はIDまたは検索条件に一致するシリーズが存在しないことを表す。
	ErrNotFound = errors.New("シリーズが見つかりません")
	// ErrInvalidCriteria は未知の検索キー、または不正な列挙値が指定されたことを表す。
	ErrInvalidCriteria = errors.New("検索条件が不正です")
	// ErrAlreadyExists は通し番号が既に登録済みであることを表す。
	ErrAlreadyExists = errors.New("通し番号が既に存在します")
	// ErrInvalidVersion はバージョントークンの形式が不正であることを表す。
	ErrInvalidVersion = errors.New("バージョンの形式が不正です")
	// ErrOutdatedVersion はバージョントークンが保存済みのバージョンより古いことを表す。
	ErrOutdatedVersion = errors.New("バージョンが古くなっています")
)

// NotFoundError はシリーズが見つからなかった際の詳細を保持する。
// ID検索の場合はIDが、条件検索の場合はCriteriaとページ情報が設定される。
type NotFoundError struct {
	ID         int64
	Criteria   map[string]string
	PageNumber int
	PageSize   int
}

func (e *NotFoundError) Error() string {
	if e.Criteria == nil {
		return fmt.Sprintf("ID %d のシリーズが見つかりません", e.ID)
	}
	return fmt.Sprintf("条件 %v (page=%d, size=%d) に一致するシリーズが見つかりません", e.Criteria, e.PageNumber, e.PageSize)
}

// Is はerrors.IsでErrNotFoundと一致させる。
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidCriteriaError は不正な検索条件の詳細を保持する。
type InvalidCriteriaError struct {
	// UnknownKeys は認識できなかったキー。
	UnknownKeys []string
	// Kind は不正なkindの値。問題がない場合は空。
	Kind string
}

func (e *InvalidCriteriaError) Error() string {
	var parts []string
	if len(e.UnknownKeys) > 0 {
		parts = append(parts, "未知のキー: "+strings.Join(e.UnknownKeys, ", "))
	}
	if e.Kind != "" {
		parts = append(parts, "不正なkind: "+e.Kind)
	}
	return "検索条件が不正です (" + strings.Join(parts, "; ") + ")"
}

// Is はerrors.IsでErrInvalidCriteriaと一致させる。
func (e *InvalidCriteriaError) Is(target error) bool { return target == ErrInvalidCriteria }

// AlreadyExistsError は重複した通し番号を保持する。
type AlreadyExistsError struct {
	SerialNumber string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("通し番号 %s は既に存在します", e.SerialNumber)
}

// Is はerrors.IsでErrAlreadyExistsと一致させる。
func (e *AlreadyExistsError) Is(target error) bool { return target == ErrAlreadyExists }

// InvalidVersionError は不正なバージョントークンを保持する。
type InvalidVersionError struct {
	Token string
}

func (e *InvalidVersionError) Error() string {
	return fmt.Sprintf("バージョン %q の形式が不正です", e.Token)
}

// Is はerrors.IsでErrInvalidVersionと一致させる。
func (e *InvalidVersionError) Is(target error) bool { return target == ErrInvalidVersion }

// OutdatedVersionError は古いバージョンでの更新要求を表す。
type OutdatedVersionError struct {
	// Supplied は呼び出し側が指定したバージョン。
	Supplied int
	// Current は保存済みのバージョン。競合を書き込み時に検出した場合は不明なので-1。
	Current int
}

func (e *OutdatedVersionError) Error() string {
	if e.Current < 0 {
		return fmt.Sprintf("バージョン %d は古くなっています", e.Supplied)
	}
	return fmt.Sprintf("バージョン %d は古くなっています（現在: %d）", e.Supplied, e.Current)
}

// Is はerrors.IsでErrOutdatedVersionと一致させる。
func (e *OutdatedVersionError) Is(target error) bool { return target == ErrOutdatedVersion }
