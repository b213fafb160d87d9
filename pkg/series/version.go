package series

import (
	"regexp"
	"strconv"
)

// versionPattern はバージョントークンの形式（ダブルクォートで囲んだ10進数）。
var versionPattern = regexp.MustCompile(`^"(\d+)"$`)

// ParseVersion はバージョントークン（例: "3"）をバージョン番号に変換する。
// 形式が不正な場合やintに収まらない場合は*InvalidVersionErrorを返す。
func ParseVersion(token string) (int, error) {
	m := versionPattern.FindStringSubmatch(token)
	if m == nil {
		return 0, &InvalidVersionError{Token: token}
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, &InvalidVersionError{Token: token}
	}
	return v, nil
}

// FormatVersion はバージョン番号をトークン形式（ETagの値）に変換する。
func FormatVersion(version int) string {
	return `"` + strconv.Itoa(version) + `"`
}
