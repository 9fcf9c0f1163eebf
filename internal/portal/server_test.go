package portal

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/nao1215/smsportal/pkg/event"
	"github.com/nao1215/smsportal/pkg/middleware"
	"github.com/nao1215/smsportal/pkg/routegate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testJWTSecret はテスト用のJWT署名秘密鍵。
const testJWTSecret = "test-secret-key"

// sentMessage はfakeNotifierが受け取ったメッセージ。
type sentMessage struct {
	phone   string
	message string
}

// fakeNotifier は送信内容を記録するNotifier。errが設定されていれば送信に失敗する。
type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, phone, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{phone: phone, message: message})
	return nil
}

func (f *fakeNotifier) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

// newTestDB はマイグレーション済みのインメモリSQLiteを生成する。
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDB接続に失敗: %v", err)
	}
	// インメモリDBは接続ごとに別物になるため1本に固定する
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := Migrate(context.Background(), db, zap.NewNop()); err != nil {
		t.Fatalf("マイグレーションに失敗: %v", err)
	}
	return db
}

// newTestServer はテスト用のポータルサーバーを生成する。
// modifyで設定を変更できる。
func newTestServer(t *testing.T, modify ...func(*Config)) (*Server, *fakeNotifier) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.JWTSecret = testJWTSecret
	cfg.PublicURL = "http://portal.test"
	cfg.FrontendURL = "http://localhost:19000"
	cfg.BackendURL = "http://localhost:19001"
	for _, m := range modify {
		m(&cfg)
	}

	notifier := &fakeNotifier{}
	s, err := newServer(cfg, newTestDB(t), zap.NewNop(), notifier)
	if err != nil {
		t.Fatalf("サーバーの生成に失敗: %v", err)
	}
	s.bcryptCost = bcrypt.MinCost
	return s, notifier
}

// testUser はcreateTestUserに渡すユーザー定義。
type testUser struct {
	email    string
	password string
	phone    string
	role     string
	otp      bool
	disabled bool
}

// createTestUser はユーザーを直接ストアに登録する。
func createTestUser(t *testing.T, s *Server, u testUser) *User {
	t.Helper()

	if u.password == "" {
		u.password = "password123"
	}
	if u.role == "" {
		u.role = "viewer"
	}
	hash, err := hashSecret(u.password, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("パスワードのハッシュ化に失敗: %v", err)
	}
	user := User{
		ID:           "user-" + strings.SplitN(u.email, "@", 2)[0],
		Email:        u.email,
		PasswordHash: hash,
		DisplayName:  "テストユーザー",
		Phone:        u.phone,
		Role:         u.role,
		OTPEnabled:   u.otp,
		Disabled:     u.disabled,
		CreatedAt:    time.Now(),
	}
	if err := s.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("ユーザーの登録に失敗: %v", err)
	}
	return &user
}

// authCookie はユーザーの認証Cookieを生成する。
func authCookie(t *testing.T, user *User) *http.Cookie {
	t.Helper()

	token, err := middleware.GenerateJWT(testJWTSecret, middleware.Identity{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	}, time.Hour)
	if err != nil {
		t.Fatalf("トークン生成に失敗: %v", err)
	}
	return &http.Cookie{Name: routegate.CookieAuthToken, Value: token}
}

// doRequest はサーバーにリクエストを送る。bodyがnilでなければJSONとして送信する。
func doRequest(t *testing.T, s *Server, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, newJSONRequest(t, method, path, body, cookies...))
	return rec
}

// newJSONRequest はbodyをJSONにしたリクエストを生成する。
func newJSONRequest(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *http.Request {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("リクエストボディのシリアライズに失敗: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

// decodeBody はレスポンスボディをJSONとしてデコードする。
func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("レスポンスのデコードに失敗: %v, body=%s", err, rec.Body.String())
	}
	return v
}

// responseCookie はレスポンスで設定されたCookieを名前で探す。
func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// auditTypes は記録された監査イベントの種類を古い順に返す。
func auditTypes(t *testing.T, s *Server) []event.Type {
	t.Helper()

	events, err := s.store.ListEvents(context.Background(), maxAuditLimit)
	if err != nil {
		t.Fatalf("監査イベントの取得に失敗: %v", err)
	}
	types := make([]event.Type, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		types = append(types, events[i].EventType)
	}
	return types
}

// TestHealthCheck はヘルスチェックエンドポイントを検証する。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", rec.Code, http.StatusOK)
	}
	got := decodeBody[map[string]string](t, rec)
	want := map[string]string{"status": "ok", "service": "portal"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("レスポンスが一致しない (-want +got):\n%s", diff)
	}
}

// TestMetricsEndpoint はゲートの判定がメトリクスに記録されることを検証する。
func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	doRequest(t, s, http.MethodGet, "/dashboard", nil)

	rec := doRequest(t, s, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコード = %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	want := `portal_gate_decisions_total{action="redirect",rule="unauthenticated-protected"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("メトリクスに %q が含まれていない", want)
	}
}

// TestGetCurrentUser は認証済みユーザー情報の取得を検証する。
func TestGetCurrentUser(t *testing.T) {
	t.Parallel()

	t.Run("トークンがなければ401を返すこと", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServer(t)
		rec := doRequest(t, s, http.MethodGet, "/api/v1/me", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("ロールと権限を返すこと", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServer(t)
		user := createTestUser(t, s, testUser{email: "op@example.com", role: "operator", phone: "+819012345678"})

		rec := doRequest(t, s, http.MethodGet, "/api/v1/me", nil, authCookie(t, user))
		if rec.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
		}

		got := decodeBody[struct {
			ID          string   `json:"id"`
			Email       string   `json:"email"`
			Role        string   `json:"role"`
			Permissions []string `json:"permissions"`
		}](t, rec)
		if got.ID != user.ID || got.Email != "op@example.com" || got.Role != "operator" {
			t.Errorf("ユーザー情報が一致しない: %+v", got)
		}
		wantPerms := []string{"clients:read", "messages:read", "messages:write", "topups:read", "topups:write"}
		if diff := cmp.Diff(wantPerms, got.Permissions); diff != "" {
			t.Errorf("権限が一致しない (-want +got):\n%s", diff)
		}
	})

	t.Run("無効化されたユーザーは403を返すこと", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServer(t)
		user := createTestUser(t, s, testUser{email: "gone@example.com", disabled: true})

		rec := doRequest(t, s, http.MethodGet, "/api/v1/me", nil, authCookie(t, user))
		if rec.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", rec.Code, http.StatusForbidden)
		}
	})
}

// TestNavigationEndpoint はロールに応じたメニューの絞り込みを検証する。
func TestNavigationEndpoint(t *testing.T) {
	t.Parallel()

	type navItem struct {
		Title    string    `json:"title"`
		Children []navItem `json:"children"`
	}
	titles := func(items []navItem) []string {
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, item.Title)
		}
		return out
	}

	tests := []struct {
		name string
		role string
		want []string
	}{
		{name: "viewerはダッシュボードのみ", role: "viewer", want: []string{"ダッシュボード"}},
		{name: "operatorは運用メニューまで", role: "operator", want: []string{"ダッシュボード", "クライアント", "メッセージ", "チャージ申請"}},
		{name: "superadminはすべて", role: "superadmin", want: []string{"ダッシュボード", "クライアント", "ドキュメント", "メッセージ", "チャージ申請", "管理"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, _ := newTestServer(t)
			user := createTestUser(t, s, testUser{email: tt.role + "@example.com", role: tt.role})

			rec := doRequest(t, s, http.MethodGet, "/api/v1/navigation", nil, authCookie(t, user))
			if rec.Code != http.StatusOK {
				t.Fatalf("ステータスコード = %d, want %d", rec.Code, http.StatusOK)
			}
			got := decodeBody[struct {
				Items []navItem `json:"items"`
			}](t, rec)
			if diff := cmp.Diff(tt.want, titles(got.Items)); diff != "" {
				t.Errorf("メニューが一致しない (-want +got):\n%s", diff)
			}
		})
	}
}

// TestListRoles はロール一覧の取得と権限チェックを検証する。
func TestListRoles(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	viewer := createTestUser(t, s, testUser{email: "viewer@example.com"})
	admin := createTestUser(t, s, testUser{email: "admin@example.com", role: "admin"})

	t.Run("roles:readがなければ403を返すこと", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/v1/roles", nil, authCookie(t, viewer))
		if rec.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", rec.Code, http.StatusForbidden)
		}
	})

	t.Run("adminはロール一覧を取得できること", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/v1/roles", nil, authCookie(t, admin))
		if rec.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", rec.Code, http.StatusOK)
		}
		got := decodeBody[struct {
			Roles []Role `json:"roles"`
		}](t, rec)
		names := make([]string, 0, len(got.Roles))
		for _, r := range got.Roles {
			names = append(names, r.Name)
		}
		want := []string{"admin", "operator", "superadmin", "viewer"}
		if diff := cmp.Diff(want, names); diff != "" {
			t.Errorf("ロール名が一致しない (-want +got):\n%s", diff)
		}
	})
}

// TestSetUserRole はロール変更と監査ログを検証する。
func TestSetUserRole(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	target := createTestUser(t, s, testUser{email: "target@example.com"})
	admin := createTestUser(t, s, testUser{email: "admin@example.com", role: "admin"})
	root := createTestUser(t, s, testUser{email: "root@example.com", role: "superadmin"})

	t.Run("roles:writeを持たないadminは403になること", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPut, "/api/v1/users/"+target.ID+"/role",
			map[string]string{"role": "operator"}, authCookie(t, admin))
		if rec.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", rec.Code, http.StatusForbidden)
		}
	})

	t.Run("存在しないロールは400になること", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPut, "/api/v1/users/"+target.ID+"/role",
			map[string]string{"role": "owner"}, authCookie(t, root))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("存在しないユーザーは404になること", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPut, "/api/v1/users/nobody/role",
			map[string]string{"role": "operator"}, authCookie(t, root))
		if rec.Code != http.StatusNotFound {
			t.Errorf("ステータスコード = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("superadminはロールを変更できること", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodPut, "/api/v1/users/"+target.ID+"/role",
			map[string]string{"role": "operator"}, authCookie(t, root))
		if rec.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
		}

		got, err := s.store.GetUserByID(context.Background(), target.ID)
		if err != nil {
			t.Fatalf("ユーザーの取得に失敗: %v", err)
		}
		if got.Role != "operator" {
			t.Errorf("Role = %q, want %q", got.Role, "operator")
		}

		events, err := s.store.ListEvents(context.Background(), 1)
		if err != nil || len(events) != 1 {
			t.Fatalf("監査イベントの取得に失敗: %v", err)
		}
		data, err := event.DecodeData[event.RoleAssignedData](&events[0])
		if err != nil {
			t.Fatalf("イベントデータのデコードに失敗: %v", err)
		}
		want := event.RoleAssignedData{PreviousRole: "viewer", Role: "operator", AssignedBy: root.ID}
		if diff := cmp.Diff(want, *data); diff != "" {
			t.Errorf("イベントデータが一致しない (-want +got):\n%s", diff)
		}
	})
}

// TestListAuditEvents は監査ログ一覧を検証する。
func TestListAuditEvents(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	root := createTestUser(t, s, testUser{email: "root@example.com", role: "superadmin"})
	operator := createTestUser(t, s, testUser{email: "op@example.com", role: "operator"})
	for range 3 {
		s.audit(context.Background(), operator.ID, event.AggregateTypeUser, event.TypeUserSignedOut, struct{}{})
	}

	t.Run("audit:readがなければ403を返すこと", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/v1/audit", nil, authCookie(t, operator))
		if rec.Code != http.StatusForbidden {
			t.Errorf("ステータスコード = %d, want %d", rec.Code, http.StatusForbidden)
		}
	})

	t.Run("limitで件数を絞れること", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/v1/audit?limit=2", nil, authCookie(t, root))
		if rec.Code != http.StatusOK {
			t.Fatalf("ステータスコード = %d, want %d", rec.Code, http.StatusOK)
		}
		got := decodeBody[struct {
			Events []event.Event `json:"events"`
		}](t, rec)
		if len(got.Events) != 2 {
			t.Fatalf("イベント件数 = %d, want 2", len(got.Events))
		}
		if got.Events[0].Version != 3 {
			t.Errorf("先頭のVersion = %d, want 3", got.Events[0].Version)
		}
	})

	t.Run("不正なlimitは400を返すこと", func(t *testing.T) {
		rec := doRequest(t, s, http.MethodGet, "/api/v1/audit?limit=abc", nil, authCookie(t, root))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

// TestPlatformProxy はプラットフォームAPIへの転送を検証する。
func TestPlatformProxy(t *testing.T) {
	t.Parallel()

	t.Run("トークンをBearerヘッダーに載せ替えて転送すること", func(t *testing.T) {
		t.Parallel()

		var gotPath, gotQuery, gotAuth, gotUserID, gotCookie, gotBody string
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			gotAuth = r.Header.Get("Authorization")
			gotUserID = r.Header.Get("X-User-ID")
			gotCookie = r.Header.Get("Cookie")
			body, _ := io.ReadAll(r.Body)
			gotBody = string(body)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"client-1"}`))
		}))
		t.Cleanup(backend.Close)

		s, _ := newTestServer(t, func(c *Config) { c.BackendURL = backend.URL })
		user := createTestUser(t, s, testUser{email: "op@example.com", role: "operator"})
		cookie := authCookie(t, user)

		rec := doRequest(t, s, http.MethodPost, "/api/v1/platform/clients?dry_run=1",
			map[string]string{"name": "ACME"}, cookie)
		if rec.Code != http.StatusCreated {
			t.Fatalf("ステータスコード = %d, want %d, body=%s", rec.Code, http.StatusCreated, rec.Body.String())
		}
		if rec.Body.String() != `{"id":"client-1"}` {
			t.Errorf("ボディ = %q", rec.Body.String())
		}
		if gotPath != "/api/v1/clients" {
			t.Errorf("転送先パス = %q, want %q", gotPath, "/api/v1/clients")
		}
		if gotQuery != "dry_run=1" {
			t.Errorf("転送先クエリ = %q, want %q", gotQuery, "dry_run=1")
		}
		if gotAuth != "Bearer "+cookie.Value {
			t.Errorf("Authorization = %q", gotAuth)
		}
		if gotUserID != user.ID {
			t.Errorf("X-User-ID = %q, want %q", gotUserID, user.ID)
		}
		if gotCookie != "" {
			t.Errorf("Cookieが転送されている: %q", gotCookie)
		}
		if gotBody != `{"name":"ACME"}` {
			t.Errorf("転送されたボディ = %q", gotBody)
		}
	})

	t.Run("未認証では転送しないこと", func(t *testing.T) {
		t.Parallel()

		s, _ := newTestServer(t)
		rec := doRequest(t, s, http.MethodGet, "/api/v1/platform/clients", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("バックエンドに接続できなければ502を返すこと", func(t *testing.T) {
		t.Parallel()

		backend := httptest.NewServer(http.NotFoundHandler())
		backendURL := backend.URL
		backend.Close()

		s, _ := newTestServer(t, func(c *Config) { c.BackendURL = backendURL })
		user := createTestUser(t, s, testUser{email: "op@example.com", role: "operator"})

		rec := doRequest(t, s, http.MethodGet, "/api/v1/platform/clients", nil, authCookie(t, user))
		if rec.Code != http.StatusBadGateway {
			t.Errorf("ステータスコード = %d, want %d", rec.Code, http.StatusBadGateway)
		}
	})
}

// TestFrontendProxy はルートゲートとフロントエンドへの転送を検証する。
func TestFrontendProxy(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		requested []string
	)
	frontend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requested = append(requested, r.URL.RequestURI())
		mu.Unlock()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Seen-Forwarded-Host", r.Header.Get("X-Forwarded-Host"))
		_, _ = w.Write([]byte("<html>" + r.URL.Path + "</html>"))
	}))
	t.Cleanup(frontend.Close)

	s, _ := newTestServer(t, func(c *Config) { c.FrontendURL = frontend.URL })
	user := createTestUser(t, s, testUser{email: "viewer@example.com"})

	tests := []struct {
		name         string
		path         string
		cookies      []*http.Cookie
		wantStatus   int
		wantLocation string
		wantBody     string
	}{
		{
			name:         "未認証で保護ページはサインインへ送られること",
			path:         "/admin/clients",
			wantStatus:   http.StatusTemporaryRedirect,
			wantLocation: "http://portal.test/signin?redirect=%2Fadmin%2Fclients",
		},
		{
			name:       "未認証でも公開ページは転送されること",
			path:       "/signin",
			wantStatus: http.StatusOK,
			wantBody:   "<html>/signin</html>",
		},
		{
			name:         "認証済みでサインインページはダッシュボードへ送られること",
			path:         "/signin",
			cookies:      []*http.Cookie{authCookie(t, user)},
			wantStatus:   http.StatusTemporaryRedirect,
			wantLocation: "http://portal.test/dashboard",
		},
		{
			name:       "認証済みで保護ページは転送されること",
			path:       "/dashboard?tab=usage",
			cookies:    []*http.Cookie{authCookie(t, user)},
			wantStatus: http.StatusOK,
			wantBody:   "<html>/dashboard</html>",
		},
		{
			name:       "静的ファイルはゲートを通らずに転送されること",
			path:       "/_next/static/chunks/app.js",
			wantStatus: http.StatusOK,
			wantBody:   "<html>/_next/static/chunks/app.js</html>",
		},
		{
			name:       "未定義のAPIパスは404を返すこと",
			path:       "/api/v1/unknown",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodGet, tt.path, nil, tt.cookies...)
			if rec.Code != tt.wantStatus {
				t.Fatalf("ステータスコード = %d, want %d, body=%s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := rec.Header().Get("Location"); got != tt.wantLocation {
				t.Errorf("Location = %q, want %q", got, tt.wantLocation)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("ボディ = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if tt.wantStatus == http.StatusOK && rec.Header().Get("X-Seen-Forwarded-Host") != "portal.test" {
				t.Errorf("X-Forwarded-Hostが転送されていない")
			}
		})
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"/signin", "/dashboard?tab=usage", "/_next/static/chunks/app.js"}
	if diff := cmp.Diff(want, requested); diff != "" {
		t.Errorf("フロントエンドへの転送が一致しない (-want +got):\n%s", diff)
	}
}

// TestRemoveHopByHopHeaders はホップバイホップヘッダーの除去を検証する。
func TestRemoveHopByHopHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Set("Connection", "keep-alive, X-Internal")
	h.Set("X-Internal", "1")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Content-Type", "text/plain")

	removeHopByHopHeaders(h)

	want := http.Header{"Content-Type": {"text/plain"}}
	if diff := cmp.Diff(want, h); diff != "" {
		t.Errorf("ヘッダーが一致しない (-want +got):\n%s", diff)
	}
}
