// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWTによる編集者認証、リクエストIDを持つロガーの伝播、パニックリカバリ、
// CORS設定など、カタログの各サービスで共通して使用するミドルウェアを含む。
package middleware
