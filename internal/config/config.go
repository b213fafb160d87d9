// Package config は各サービスの設定を読み込む。
//
// 設定はviperで管理し、既定値・設定ファイル・環境変数の順に上書きする。
// 環境変数は CATALOG_ を接頭辞とし、キーの "." を "_" に置き換えた名前で指定する
// （例: db.dsn → CATALOG_DB_DSN）。
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// 設定キー。
const (
	KeyPort                  = "port"
	KeyEnv                   = "env"
	KeyLogLevel              = "log.level"
	KeyDBDriver              = "db.driver"
	KeyDBDSN                 = "db.dsn"
	KeyJWTSecret             = "jwt.secret"
	KeyNotificationURL       = "notification.url"
	KeyNotificationRecipient = "notification.recipient"
	KeyAllowedOrigins        = "cors.allowed_origins"
	KeyQueryURL              = "gateway.query_url"
	KeyCommandURL            = "gateway.command_url"
)

// envPrefix は環境変数の接頭辞。
const envPrefix = "CATALOG"

// configFileEnv は設定ファイルのパスを指定する環境変数。
const configFileEnv = "CATALOG_CONFIG"

// Config はサービスの設定値。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// Env は実行環境（development, production）。
	Env string
	// LogLevel はログの出力レベル。
	LogLevel string
	// DBDriver はデータベースドライバ（sqlite, postgres）。
	DBDriver string
	// DBDSN はデータベースの接続文字列。
	DBDSN string
	// JWTSecret はJWTの署名検証に使用する秘密鍵。
	JWTSecret string
	// NotificationURL は通知サービスのベースURL。
	NotificationURL string
	// NotificationRecipient はシリーズ作成通知の宛先。
	NotificationRecipient string
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string
	// QueryURL はゲートウェイから転送するシリーズクエリサービスのベースURL。
	QueryURL string
	// CommandURL はゲートウェイから転送するシリーズコマンドサービスのベースURL。
	CommandURL string
}

// IsDevelopment は開発環境かどうかを返す。
func (c *Config) IsDevelopment() bool { return c.Env == "development" }

// Defaults はサービスごとに異なる既定値。
type Defaults struct {
	Port  string
	DBDSN string
	// NoDB はデータベースを持たないサービス（ゲートウェイ）の場合にtrueにする。
	NoDB bool
}

// Load は既定値・設定ファイル・環境変数から設定を読み込む。
func Load(d Defaults) (*Config, error) {
	return load(viper.New(), d)
}

func load(v *viper.Viper, d Defaults) (*Config, error) {
	v.SetDefault(KeyPort, d.Port)
	v.SetDefault(KeyEnv, "production")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyDBDriver, "sqlite")
	v.SetDefault(KeyDBDSN, d.DBDSN)
	v.SetDefault(KeyJWTSecret, "dev-secret-key")
	v.SetDefault(KeyNotificationURL, "http://localhost:8083")
	v.SetDefault(KeyNotificationRecipient, "catalog-admin")
	v.SetDefault(KeyAllowedOrigins, []string{"http://localhost:3000"})
	v.SetDefault(KeyQueryURL, "http://localhost:8081")
	v.SetDefault(KeyCommandURL, "http://localhost:8082")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 既存のデプロイ設定との互換のため、PORTも受け付ける
	if err := v.BindEnv(KeyPort, envPrefix+"_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("環境変数のバインドに失敗: %w", err)
	}

	if err := v.BindEnv("config", configFileEnv); err != nil {
		return nil, fmt.Errorf("環境変数のバインドに失敗: %w", err)
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
		}
	}

	cfg := &Config{
		Port:                  v.GetString(KeyPort),
		Env:                   v.GetString(KeyEnv),
		LogLevel:              v.GetString(KeyLogLevel),
		DBDriver:              v.GetString(KeyDBDriver),
		DBDSN:                 v.GetString(KeyDBDSN),
		JWTSecret:             v.GetString(KeyJWTSecret),
		NotificationURL:       v.GetString(KeyNotificationURL),
		NotificationRecipient: v.GetString(KeyNotificationRecipient),
		AllowedOrigins:        splitOrigins(v.GetStringSlice(KeyAllowedOrigins)),
		QueryURL:              v.GetString(KeyQueryURL),
		CommandURL:            v.GetString(KeyCommandURL),
	}
	if cfg.DBDSN == "" && !d.NoDB {
		return nil, fmt.Errorf("データベースの接続文字列が必要です (%s_DB_DSN)", envPrefix)
	}
	return cfg, nil
}

// splitOrigins は環境変数でカンマ区切りに指定されたオリジンを分割する。
func splitOrigins(values []string) []string {
	var origins []string
	for _, v := range values {
		for o := range strings.SplitSeq(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}
	return origins
}
