package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testSecret はテスト用のJWTシークレット。
const testSecret = "test-secret-key-for-unit-tests"

// newAuthRouter はJWTAuthとRequireRoleを適用したテスト用ルーターを生成する。
func newAuthRouter() *gin.Engine {
	router := gin.New()
	router.Use(JWTAuth(testSecret))
	router.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "role": GetRole(c)})
	})
	router.DELETE("/series/1", RequireRole(RoleEditor), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func doAuthRequest(router *gin.Engine, method, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGenerateJWT(t *testing.T) {
	t.Parallel()

	t.Run("クレームに発行者・ユーザー・ロールが設定されること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := GenerateJWT(testSecret, "user-123", RoleEditor, time.Hour)
		if err != nil {
			t.Fatalf("GenerateJWT()でエラーが発生: %v", err)
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
			return []byte(testSecret), nil
		})
		if err != nil || !token.Valid {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}
		if claims.UserID != "user-123" || claims.Subject != "user-123" {
			t.Errorf("UserID = %q, Subject = %q, want %q", claims.UserID, claims.Subject, "user-123")
		}
		if claims.Role != RoleEditor {
			t.Errorf("Role = %q, want %q", claims.Role, RoleEditor)
		}
		if claims.Issuer != "catalog" {
			t.Errorf("Issuer = %q, want %q", claims.Issuer, "catalog")
		}
		remaining := time.Until(claims.ExpiresAt.Time)
		if remaining < 59*time.Minute || remaining > time.Hour {
			t.Errorf("有効期限までの時間 = %v, want 約1時間", remaining)
		}
	})
}

func TestJWTAuth(t *testing.T) {
	t.Parallel()

	t.Run("有効なトークンでユーザーIDとロールが取得できること", func(t *testing.T) {
		t.Parallel()

		token, err := GenerateJWT(testSecret, "user-1", "viewer", time.Hour)
		if err != nil {
			t.Fatalf("トークン生成に失敗: %v", err)
		}
		w := doAuthRequest(newAuthRouter(), http.MethodGet, "/me", "Bearer "+token)

		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		if body := w.Body.String(); body != `{"role":"viewer","user_id":"user-1"}` {
			t.Errorf("body = %s", body)
		}
	})

	expired, err := GenerateJWT(testSecret, "user-1", RoleEditor, -time.Minute)
	if err != nil {
		t.Fatalf("トークン生成に失敗: %v", err)
	}
	otherSecret, err := GenerateJWT("another-secret", "user-1", RoleEditor, time.Hour)
	if err != nil {
		t.Fatalf("トークン生成に失敗: %v", err)
	}
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			Issuer:    "someone-else",
		},
		UserID: "user-1",
		Role:   RoleEditor,
	})
	foreignToken, err := foreign.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("トークン生成に失敗: %v", err)
	}

	tests := []struct {
		name          string
		authorization string
	}{
		{name: "Authorizationヘッダーが無い場合401が返ること", authorization: ""},
		{name: "Bearer接頭辞が無い場合401が返ること", authorization: "Token abc"},
		{name: "不正な形式のトークンで401が返ること", authorization: "Bearer not-a-jwt"},
		{name: "期限切れトークンで401が返ること", authorization: "Bearer " + expired},
		{name: "異なるシークレットで署名されたトークンで401が返ること", authorization: "Bearer " + otherSecret},
		{name: "発行者が異なるトークンで401が返ること", authorization: "Bearer " + foreignToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := doAuthRequest(newAuthRouter(), http.MethodGet, "/me", tt.authorization)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	t.Run("editorロールは許可されること", func(t *testing.T) {
		t.Parallel()

		token, err := GenerateJWT(testSecret, "user-1", RoleEditor, time.Hour)
		if err != nil {
			t.Fatalf("トークン生成に失敗: %v", err)
		}
		w := doAuthRequest(newAuthRouter(), http.MethodDelete, "/series/1", "Bearer "+token)
		if w.Code != http.StatusNoContent {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNoContent)
		}
	})

	t.Run("editor以外のロールは403が返ること", func(t *testing.T) {
		t.Parallel()

		token, err := GenerateJWT(testSecret, "user-1", "viewer", time.Hour)
		if err != nil {
			t.Fatalf("トークン生成に失敗: %v", err)
		}
		w := doAuthRequest(newAuthRouter(), http.MethodDelete, "/series/1", "Bearer "+token)
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}
