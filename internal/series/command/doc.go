// Package command はシリーズカタログの書き込み側を提供する。
//
// 作成・更新・削除・ファイル登録を行う。更新はバージョントークンによる
// 楽観的排他制御で保護し、複数テーブルにまたがる変更は1トランザクションで実行する。
// 作成後の通知はベストエフォートで送信し、失敗しても書き込みは取り消さない。
package command
