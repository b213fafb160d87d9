// Package gateway はカタログのAPI Gatewayを提供する。
//
// 外部から見える唯一の入口として、シリーズの読み取りをクエリサービスへ、
// 書き込みをコマンドサービスへ、通知の参照を通知サービスへ転送する。
// 認証はJWTを転送先で検証し、開発環境に限り編集者ロールのトークンを発行する。
package gateway
