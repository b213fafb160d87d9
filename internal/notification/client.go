package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/catalog/pkg/httpclient"
	"github.com/nao1215/catalog/pkg/middleware"
)

// clientTokenTTL はサービス間トークンの有効期間。
const clientTokenTTL = 5 * time.Minute

// clientTimeout は通知送信1件あたりのタイムアウト。
const clientTimeout = 5 * time.Second

// Client は通知サービスへ通知を送信するクライアント。
// 送信先は生成時に指定した宛先に固定される。
type Client struct {
	http      *httpclient.Client
	recipient string
}

// NewClient は新しい通知クライアントを生成する。
// jwtSecretで署名したサービスロールのトークンを送信ごとに発行する。
func NewClient(baseURL, recipient, jwtSecret, caller string) *Client {
	tokenSource := func() (string, error) {
		return middleware.GenerateJWT(jwtSecret, caller, middleware.RoleService, clientTokenTTL)
	}
	return &Client{
		http:      httpclient.New(baseURL, httpclient.WithTimeout(clientTimeout), httpclient.WithTokenSource(tokenSource)),
		recipient: recipient,
	}
}

// Send は件名と本文を宛先に送信する。
func (c *Client) Send(ctx context.Context, subject, body string) error {
	req := sendRequest{Recipient: c.recipient, Subject: subject, Body: body}
	var resp sendResponse
	if err := c.http.PostJSON(ctx, "/api/v1/internal/send", req, &resp); err != nil {
		return fmt.Errorf("通知の送信に失敗: %w", err)
	}
	return nil
}
