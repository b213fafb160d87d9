// Package series はシリーズカタログのドメインモデルとエラー分類を提供する。
//
// Series（主エンティティ）と、それが排他的に所有するTitle・Cover・Fileを定義する。
// 読み取り側（query）と書き込み側（command）の両サービスがこのパッケージの型を共有する。
package series
