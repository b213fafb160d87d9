// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// シリーズコマンドサービスから通知サービスへの送信など、サービス間の
// JSON通信のパターンを統一する。リクエストIDの伝播とBearerトークンの付与を行う。
package httpclient
