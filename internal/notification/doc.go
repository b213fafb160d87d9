// Package notification は通知サービスの内部実装を提供する。
//
// シリーズの登録などを宛先ごとに通知として保存し、一覧取得や既読管理を行う。
// Clientはシリーズコマンドサービスから通知を送信するためのクライアント。
package notification
