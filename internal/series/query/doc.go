// Package query はシリーズカタログの読み取り側を提供する。
//
// 緩く型付けされた検索条件（キーと文字列値の組）を検証してフィルタに変換し、
// パラメータ化されたSQLを組み立てて実行する。HTTPサーバーはID検索、条件検索、
// ファイル取得のREST APIを公開する。
package query
