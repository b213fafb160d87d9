package command

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"testing"
	"time"

	"github.com/nao1215/catalog/internal/config"
	"github.com/nao1215/catalog/internal/series/query"
	"github.com/nao1215/catalog/pkg/database"
	"github.com/nao1215/catalog/pkg/logging"
	"github.com/nao1215/catalog/pkg/middleware"
)

const testSecret = "test-secret"

// testServer はテスト用のコマンドサーバーと検証用の読み取りサービス。
type testServer struct {
	server   *Server
	reader   *query.Service
	notifier *fakeNotifier
	auth     string
}

// setupTestServer はインメモリSQLiteを使うテスト用のコマンドサーバーを構築する。
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	db := setupTestDB(t)
	notifier := &fakeNotifier{}
	cfg := &config.Config{Port: "0", JWTSecret: testSecret, AllowedOrigins: []string{"http://localhost:3000"}}
	s := newServer(cfg, db, database.DialectSQLite, notifier, logging.Discard())
	t.Cleanup(s.service.Wait)

	return &testServer{
		server:   s,
		reader:   query.NewService(db, database.DialectSQLite, logging.Discard()),
		notifier: notifier,
		auth:     bearer(t, "editor-1", middleware.RoleEditor),
	}
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

// bearer は指定ユーザー・ロールのAuthorizationヘッダー値を返す。
func bearer(t *testing.T, userID, role string) string {
	t.Helper()

	token, err := middleware.GenerateJWT(testSecret, userID, role, time.Hour)
	if err != nil {
		t.Fatalf("トークンの生成に失敗: %v", err)
	}
	return "Bearer " + token
}

// doJSON はJSONボディ付きのリクエストを実行する。
func (ts *testServer) doJSON(method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", ts.auth)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.server.router.ServeHTTP(w, req)
	return w
}

// create はシリーズを登録してIDを返す。
func (ts *testServer) create(t *testing.T, serial, title string) int64 {
	t.Helper()

	w := ts.doJSON(http.MethodPost, "/api/v1/series", map[string]any{
		"serialNumber": serial,
		"rating":       3,
		"kind":         "TV",
		"price":        "12.50",
		"discount":     "0.1",
		"releaseDate":  "2024-04-01",
		"keywords":     []string{"drama", "Mystery"},
		"title":        title,
		"covers":       []map[string]string{{"caption": "表紙", "contentType": "image/png"}},
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("登録のステータスコード = %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}
	var resp createResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v", err)
	}
	return resp.ID
}

func TestHandleCreate(t *testing.T) {
	t.Parallel()

	t.Run("登録するとLocationを返し読み取りサービスから取得できる", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServer(t)
		id := ts.create(t, "SN-001", "Alpha")

		got, err := ts.reader.FindByID(t.Context(), id, query.FindOptions{WithCovers: true})
		if err != nil {
			t.Fatalf("登録したシリーズの取得に失敗: %v", err)
		}
		if got.Version != 0 || got.Title.Title != "Alpha" || got.Price.StringFixed(2) != "12.50" {
			t.Errorf("シリーズ = %+v", got)
		}
		if got.ReleaseDate == nil || got.ReleaseDate.Format(dateLayout) != "2024-04-01" {
			t.Errorf("ReleaseDate = %v, want 2024-04-01", got.ReleaseDate)
		}
		if len(got.Keywords) != 2 || got.Keywords[0] != "DRAMA" {
			t.Errorf("Keywords = %v, want [DRAMA MYSTERY]", got.Keywords)
		}
		if len(got.Covers) != 1 {
			t.Errorf("カバー件数 = %d, want 1", len(got.Covers))
		}
	})

	t.Run("通し番号が重複する場合は409を返す", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServer(t)
		ts.create(t, "SN-001", "Alpha")

		w := ts.doJSON(http.MethodPost, "/api/v1/series", map[string]any{
			"serialNumber": "SN-001", "rating": 1, "kind": "DVD", "title": "Beta",
		}, nil)
		if w.Code != http.StatusConflict {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusConflict)
		}
	})

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "評価が範囲外", body: map[string]any{"serialNumber": "SN-1", "rating": 6, "kind": "TV", "title": "A"}},
		{name: "評価がない", body: map[string]any{"serialNumber": "SN-1", "kind": "TV", "title": "A"}},
		{name: "未定義のkind", body: map[string]any{"serialNumber": "SN-1", "rating": 1, "kind": "VHS", "title": "A"}},
		{name: "タイトルがない", body: map[string]any{"serialNumber": "SN-1", "rating": 1, "kind": "TV"}},
		{name: "公開日の形式が不正", body: map[string]any{"serialNumber": "SN-1", "rating": 1, "kind": "TV", "title": "A", "releaseDate": "2024/04/01"}},
		{name: "価格が負", body: map[string]any{"serialNumber": "SN-1", "rating": 1, "kind": "TV", "title": "A", "price": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name+"の場合は400を返す", func(t *testing.T) {
			t.Parallel()

			ts := setupTestServer(t)
			w := ts.doJSON(http.MethodPost, "/api/v1/series", tt.body, nil)
			if w.Code != http.StatusBadRequest {
				t.Errorf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusBadRequest, w.Body.String())
			}
		})
	}
}

func TestAuthorization(t *testing.T) {
	t.Parallel()

	ts := setupTestServer(t)

	t.Run("トークンがない場合は401を返す", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodDelete, "/api/v1/series/1", nil)
		w := httptest.NewRecorder()
		ts.server.router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("編集者以外のロールは403を返す", func(t *testing.T) {
		t.Parallel()

		req := httptest.NewRequest(http.MethodDelete, "/api/v1/series/1", nil)
		req.Header.Set("Authorization", bearer(t, "viewer-1", "viewer"))
		w := httptest.NewRecorder()
		ts.server.router.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

func TestHandleUpdate(t *testing.T) {
	t.Parallel()

	t.Run("一致するバージョンで更新すると新しいETagを返す", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServer(t)
		id := ts.create(t, "SN-001", "Alpha")
		path := "/api/v1/series/" + itoa(id)

		w := ts.doJSON(http.MethodPut, path, map[string]any{"rating": 5}, map[string]string{"If-Match": `"0"`})
		if w.Code != http.StatusNoContent {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusNoContent, w.Body.String())
		}
		if etag := w.Header().Get("ETag"); etag != `"1"` {
			t.Errorf("ETag = %q, want %q", etag, `"1"`)
		}

		got, err := ts.reader.FindByID(t.Context(), id, query.FindOptions{})
		if err != nil {
			t.Fatalf("取得に失敗: %v", err)
		}
		if got.Rating != 5 || got.Kind != "TV" {
			t.Errorf("Rating = %d, Kind = %s, want 5, TV", got.Rating, got.Kind)
		}
	})

	t.Run("古いバージョンは412と現在のETagを返す", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServer(t)
		id := ts.create(t, "SN-001", "Alpha")
		path := "/api/v1/series/" + itoa(id)
		ts.doJSON(http.MethodPut, path, map[string]any{"rating": 4}, map[string]string{"If-Match": `"0"`})
		ts.doJSON(http.MethodPut, path, map[string]any{"rating": 5}, map[string]string{"If-Match": `"1"`})

		w := ts.doJSON(http.MethodPut, path, map[string]any{"rating": 1}, map[string]string{"If-Match": `"1"`})
		if w.Code != http.StatusPreconditionFailed {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusPreconditionFailed)
		}
		if etag := w.Header().Get("ETag"); etag != `"2"` {
			t.Errorf("ETag = %q, want %q", etag, `"2"`)
		}
	})

	t.Run("If-Matchがない場合は428を返す", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServer(t)
		id := ts.create(t, "SN-001", "Alpha")
		w := ts.doJSON(http.MethodPut, "/api/v1/series/"+itoa(id), map[string]any{"rating": 1}, nil)
		if w.Code != http.StatusPreconditionRequired {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusPreconditionRequired)
		}
	})

	t.Run("バージョンの形式が不正な場合は412を返す", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServer(t)
		id := ts.create(t, "SN-001", "Alpha")
		w := ts.doJSON(http.MethodPut, "/api/v1/series/"+itoa(id), map[string]any{"rating": 1}, map[string]string{"If-Match": "W/abc"})
		if w.Code != http.StatusPreconditionFailed {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusPreconditionFailed)
		}
	})

	t.Run("存在しないシリーズは404を返す", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServer(t)
		w := ts.doJSON(http.MethodPut, "/api/v1/series/999", map[string]any{"rating": 1}, map[string]string{"If-Match": `"0"`})
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})

	t.Run("他のシリーズの通し番号に変更すると409を返す", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServer(t)
		ts.create(t, "SN-001", "Alpha")
		id := ts.create(t, "SN-002", "Beta")
		w := ts.doJSON(http.MethodPut, "/api/v1/series/"+itoa(id), map[string]any{"serialNumber": "SN-001"}, map[string]string{"If-Match": `"0"`})
		if w.Code != http.StatusConflict {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusConflict)
		}
	})
}

func TestHandleDelete(t *testing.T) {
	t.Parallel()

	ts := setupTestServer(t)
	id := ts.create(t, "SN-001", "Alpha")
	path := "/api/v1/series/" + itoa(id)

	if w := ts.doJSON(http.MethodDelete, path, nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("1回目のステータスコード = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w := ts.doJSON(http.MethodDelete, path, nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("2回目のステータスコード = %d, want %d", w.Code, http.StatusNotFound)
	}
	if w := ts.doJSON(http.MethodDelete, "/api/v1/series/abc", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("不正なIDのステータスコード = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// uploadFile はmultipartでファイルを登録する。
func (ts *testServer) uploadFile(t *testing.T, path, filename, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("multipartの作成に失敗: %v", err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", ts.auth)
	w := httptest.NewRecorder()
	ts.server.router.ServeHTTP(w, req)
	return w
}

func TestHandleAddFile(t *testing.T) {
	t.Parallel()

	t.Run("ファイルを登録すると読み取りサービスから取得できる", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServer(t)
		id := ts.create(t, "SN-001", "Alpha")
		path := "/api/v1/series/" + itoa(id) + "/file"

		w := ts.uploadFile(t, path, "trailer.txt", "text/plain", []byte("first"))
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}
		if loc := w.Header().Get("Location"); loc != path {
			t.Errorf("Location = %q, want %q", loc, path)
		}

		ts.uploadFile(t, path, "trailer2.txt", "text/plain", []byte("second"))
		f, err := ts.reader.FindFile(t.Context(), id)
		if err != nil {
			t.Fatalf("ファイルの取得に失敗: %v", err)
		}
		if string(f.Data) != "second" || f.Filename != "trailer2.txt" {
			t.Errorf("ファイル = %s (%s), want second (trailer2.txt)", f.Data, f.Filename)
		}
	})

	t.Run("Content-Typeがない場合は内容から判定する", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServer(t)
		id := ts.create(t, "SN-001", "Alpha")
		png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

		w := ts.uploadFile(t, "/api/v1/series/"+itoa(id)+"/file", "cover", "", png)
		if w.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, want %d", w.Code, http.StatusCreated)
		}
		var record struct {
			MimeType string `json:"mimeType"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &record); err != nil {
			t.Fatalf("JSONのデコードに失敗: %v", err)
		}
		if record.MimeType != "image/png" {
			t.Errorf("MimeType = %q, want image/png", record.MimeType)
		}
	})

	t.Run("存在しないシリーズは404を返す", func(t *testing.T) {
		t.Parallel()

		ts := setupTestServer(t)
		w := ts.uploadFile(t, "/api/v1/series/999/file", "a.txt", "text/plain", []byte("x"))
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}
