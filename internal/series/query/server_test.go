package query

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nao1215/catalog/internal/config"
	"github.com/nao1215/catalog/pkg/database"
	"github.com/nao1215/catalog/pkg/logging"
)

// setupTestServer はインメモリSQLiteを使うテスト用のクエリサーバーを構築する。
func setupTestServer(t *testing.T) (*gin.Engine, func(seedSeries) int64) {
	t.Helper()

	db := setupTestDB(t)
	cfg := &config.Config{Port: "0", AllowedOrigins: []string{"http://localhost:3000"}}
	s := newServer(cfg, db, database.DialectSQLite, logging.Discard())
	return s.router, func(seed seedSeries) int64 { return insertSeries(t, db, seed) }
}

// doRequest はテスト用のHTTPリクエストを実行する。
func doRequest(router *gin.Engine, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// parseJSON はレスポンスボディをmapにデコードする。
func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return result
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	router, _ := setupTestServer(t)
	w := doRequest(router, http.MethodGet, "/health", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	if body := parseJSON(t, w); body["service"] != "series-query" {
		t.Errorf("service = %v, want series-query", body["service"])
	}
}

func TestHandleFindByID(t *testing.T) {
	t.Parallel()

	t.Run("シリーズをETag付きで返すこと", func(t *testing.T) {
		t.Parallel()

		router, insert := setupTestServer(t)
		id := insert(seedSeries{serial: "S-1", title: "Alpha", rating: 4, price: "12.50", keywords: "ACTION"})

		w := doRequest(router, http.MethodGet, "/api/v1/series/"+itoa(id), nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		if got := w.Header().Get("ETag"); got != `"0"` {
			t.Errorf("ETag = %s, want %q", got, `"0"`)
		}
		body := parseJSON(t, w)
		if body["serialNumber"] != "S-1" || body["price"] != "12.5" {
			t.Errorf("body = %v", body)
		}
		title, _ := body["title"].(map[string]any)
		if title["title"] != "Alpha" {
			t.Errorf("title = %v", body["title"])
		}
		if _, ok := body["covers"]; ok {
			t.Error("covers=trueなしでカバーが含まれています")
		}
	})

	t.Run("covers=trueでカバーを含めること", func(t *testing.T) {
		t.Parallel()

		router, insert := setupTestServer(t)
		id := insert(seedSeries{serial: "S-1", title: "Alpha", rating: 4, covers: []string{"front"}})

		w := doRequest(router, http.MethodGet, "/api/v1/series/"+itoa(id)+"?covers=true", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
		}
		covers, _ := parseJSON(t, w)["covers"].([]any)
		if len(covers) != 1 {
			t.Errorf("covers = %v", covers)
		}
	})

	t.Run("If-None-Matchが一致する場合は304を返すこと", func(t *testing.T) {
		t.Parallel()

		router, insert := setupTestServer(t)
		id := insert(seedSeries{serial: "S-1", title: "Alpha", rating: 4})

		w := doRequest(router, http.MethodGet, "/api/v1/series/"+itoa(id), map[string]string{"If-None-Match": `"0"`})
		if w.Code != http.StatusNotModified {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotModified)
		}
	})

	t.Run("存在しないIDは404を返すこと", func(t *testing.T) {
		t.Parallel()

		router, _ := setupTestServer(t)
		w := doRequest(router, http.MethodGet, "/api/v1/series/42", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("数値でないIDは400を返すこと", func(t *testing.T) {
		t.Parallel()

		router, _ := setupTestServer(t)
		w := doRequest(router, http.MethodGet, "/api/v1/series/abc", nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

func TestHandleFind(t *testing.T) {
	t.Parallel()

	t.Run("検索条件に一致するページを返すこと", func(t *testing.T) {
		t.Parallel()

		router, insert := setupTestServer(t)
		insert(seedSeries{serial: "S-1", title: "Alpha", rating: 5})
		insert(seedSeries{serial: "S-2", title: "Zeta", rating: 1})

		w := doRequest(router, http.MethodGet, "/api/v1/series?title=a&rating=3&page=0&size=10", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
		body := parseJSON(t, w)
		if body["totalElements"] != float64(1) || body["size"] != float64(10) {
			t.Errorf("body = %v", body)
		}
	})

	t.Run("未知のキーは422と有効なキー一覧を返すこと", func(t *testing.T) {
		t.Parallel()

		router, _ := setupTestServer(t)
		w := doRequest(router, http.MethodGet, "/api/v1/series?javascript=true", nil)
		if w.Code != http.StatusUnprocessableEntity {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusUnprocessableEntity)
		}
		body := parseJSON(t, w)
		unknown, _ := body["unknownKeys"].([]any)
		if len(unknown) != 1 || unknown[0] != "javascript" {
			t.Errorf("unknownKeys = %v", body["unknownKeys"])
		}
		if valid, _ := body["validKeys"].([]any); len(valid) != len(RecognizedKeys()) {
			t.Errorf("validKeys = %v", body["validKeys"])
		}
	})

	t.Run("一致しない場合は404を返すこと", func(t *testing.T) {
		t.Parallel()

		router, _ := setupTestServer(t)
		w := doRequest(router, http.MethodGet, "/api/v1/series?title=nothing", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

func TestHandleFindFile(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	s := newServer(&config.Config{Port: "0"}, db, database.DialectSQLite, logging.Discard())
	id := insertSeries(t, db, seedSeries{serial: "S-1", title: "Alpha", rating: 1})
	if _, err := db.ExecContext(t.Context(),
		"INSERT INTO series_file (data, filename, mime_type, series_id) VALUES (?, ?, ?, ?)",
		[]byte("%PDF-1.7"), "guide.pdf", "application/pdf", id); err != nil {
		t.Fatalf("ファイルの挿入に失敗: %v", err)
	}

	w := doRequest(s.router, http.MethodGet, "/api/v1/series/"+itoa(id)+"/file", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Content-Type"); got != "application/pdf" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := w.Header().Get("Content-Disposition"); !strings.Contains(got, "guide.pdf") {
		t.Errorf("Content-Disposition = %q", got)
	}
	if w.Body.String() != "%PDF-1.7" {
		t.Errorf("body = %q", w.Body.String())
	}

	w = doRequest(s.router, http.MethodGet, "/api/v1/series/999/file", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
	}
}
