package portal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/smsportal/pkg/event"
	"github.com/nao1215/smsportal/pkg/metrics"
	"github.com/nao1215/smsportal/pkg/middleware"
	"github.com/nao1215/smsportal/pkg/navigation"
	"github.com/nao1215/smsportal/pkg/routegate"
)

// 監査ログ一覧の件数。
const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// hopByHopHeaders はプロキシで転送してはならないヘッダー。
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Server はポータルのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はサーバー設定。
	cfg Config
	// store はSQLiteに対するクエリ実行オブジェクト。
	store *Store
	// db はSQLiteデータベース接続。
	db *sql.DB
	// gate はページ要求に適用するルートゲート。
	gate *routegate.Gate
	// logger は構造化ロガー。
	logger *zap.Logger
	// metrics はPrometheusメトリクス。
	metrics *metrics.Metrics
	// notifier はOTPや再設定トークンを届ける。
	notifier Notifier
	// proxyClient はフロントエンドとバックエンドへの転送に使うHTTPクライアント。
	proxyClient *http.Client
	// frontendURL はページを配信するフロントエンドのURL。
	frontendURL *url.URL
	// backendURL はプラットフォームAPIのURL。
	backendURL *url.URL
	// publicURL は利用者から見たポータルのオリジン。
	publicURL *url.URL
	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
	// bcryptCost はパスワードとOTPコードのハッシュコスト。
	bcryptCost int
}

// NewServer は設定からデータベースと通知手段を準備してサーバーを生成する。
func NewServer(ctx context.Context, cfg Config, logger *zap.Logger) (*Server, error) {
	db, err := OpenDB(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	var notifier Notifier
	if cfg.SMSGatewayURL != "" {
		notifier = NewSMSNotifier(cfg.SMSGatewayURL, cfg.SMSGatewayAPIKey)
	} else {
		logger.Warn("SMS gateway is not configured; notifications are only logged")
		notifier = NewLogNotifier(logger)
	}

	s, err := newServer(cfg, db, logger, notifier)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// newServer は準備済みの依存からサーバーを組み立てる。
func newServer(cfg Config, db *sql.DB, logger *zap.Logger, notifier Notifier) (*Server, error) {
	frontendURL, err := url.Parse(cfg.FrontendURL)
	if err != nil {
		return nil, fmt.Errorf("フロントエンドURLの解析に失敗: %w", err)
	}
	backendURL, err := url.Parse(cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("バックエンドURLの解析に失敗: %w", err)
	}
	publicURL, err := url.Parse(cfg.PublicURL)
	if err != nil || publicURL.Scheme == "" || publicURL.Host == "" {
		return nil, fmt.Errorf("公開URLが絶対URLではありません: %q", cfg.PublicURL)
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS([]string{cfg.FrontendURL}))

	s := &Server{
		router:   router,
		cfg:      cfg,
		store:    NewStore(db),
		db:       db,
		gate:     routegate.Default(),
		logger:   logger,
		metrics:  metrics.New(),
		notifier: notifier,
		proxyClient: &http.Client{
			Timeout: 30 * time.Second,
			// リダイレクトはブラウザにそのまま返す
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		frontendURL: frontendURL,
		backendURL:  backendURL,
		publicURL:   &url.URL{Scheme: publicURL.Scheme, Host: publicURL.Host},
		now:         time.Now,
		bcryptCost:  bcrypt.DefaultCost,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はサーバーのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("portal server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("サーバーの停止に失敗: %w", err)
	}
	return nil
}

// Close はデータベース接続を閉じる。
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "portal"})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// 認証フロー（認証不要）
	auth := s.router.Group("/api/v1/auth")
	{
		auth.POST("/signup", s.handleSignUp())
		auth.POST("/signin", s.handleSignIn())
		auth.POST("/verify-otp", s.handleVerifyOTP())
		auth.POST("/signout", s.handleSignOut())
		auth.POST("/forgot-password", s.handleForgotPassword())
		auth.POST("/reset-password", s.handleResetPassword())
	}

	// 認証必須のAPIエンドポイント
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.cfg.JWTSecret))
	{
		api.GET("/me", s.handleGetCurrentUser())
		api.GET("/navigation", s.handleNavigation())

		// 管理
		api.GET("/roles", s.requirePermission("roles:read"), s.handleListRoles())
		api.PUT("/users/:id/role", s.requirePermission("roles:write"), s.handleSetUserRole())
		api.GET("/audit", s.requirePermission("audit:read"), s.handleListAuditEvents())

		// プラットフォームAPI（プロキシ）
		api.Any("/platform/*path", s.handlePlatformProxy())
	}

	// ページ要求はルートゲートを通してフロントエンドへ転送する
	s.router.NoRoute(middleware.RouteGate(s.gate, s.publicURL, s.logger, s.metrics), s.handleFrontendProxy())
}

// userPermissions は認証済みユーザーと、そのロールに付与された権限を取得する。
// ロールはトークンではなくデータベースから読むため、変更は即座に反映される。
func (s *Server) userPermissions(c *gin.Context) (*User, []string, bool) {
	userID := middleware.GetUserID(c)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
		return nil, nil, false
	}

	user, err := s.store.GetUserByID(c.Request.Context(), userID)
	if errors.Is(err, ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "ユーザーが見つかりません"})
		return nil, nil, false
	}
	if err != nil {
		s.logger.Error("failed to load user", zap.String("user_id", userID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ユーザー取得に失敗しました"})
		return nil, nil, false
	}
	if user.Disabled {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "アカウントが無効化されています"})
		return nil, nil, false
	}

	perms, err := s.store.PermissionsForRole(c.Request.Context(), user.Role)
	if err != nil {
		s.logger.Error("failed to load permissions", zap.String("role", user.Role), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "権限の取得に失敗しました"})
		return nil, nil, false
	}
	return user, perms, true
}

// requirePermission は指定された権限を持たないユーザーを403で拒否するミドルウェアを返す。
func (s *Server) requirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, perms, ok := s.userPermissions(c)
		if !ok {
			return
		}
		if !navigation.NewPermissionSet(perms...).Has(permission) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "この操作を行う権限がありません"})
			return
		}
		c.Next()
	}
}

// handleGetCurrentUser は認証済みユーザーの情報を返すハンドラを返す。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, perms, ok := s.userPermissions(c)
		if !ok {
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":           user.ID,
			"email":        user.Email,
			"display_name": user.DisplayName,
			"phone":        user.Phone,
			"role":         user.Role,
			"otp_enabled":  user.OTPEnabled,
			"permissions":  perms,
		})
	}
}

// handleNavigation はユーザーの権限で絞り込んだメニューを返すハンドラを返す。
func (s *Server) handleNavigation() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, perms, ok := s.userPermissions(c)
		if !ok {
			return
		}

		items := navigation.Build(navigation.DefaultItems(), navigation.NewPermissionSet(perms...))
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

// handleListRoles はロール一覧を返すハンドラを返す。
func (s *Server) handleListRoles() gin.HandlerFunc {
	return func(c *gin.Context) {
		roles, err := s.store.ListRoles(c.Request.Context())
		if err != nil {
			s.logger.Error("failed to list roles", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ロール一覧の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"roles": roles})
	}
}

// setRoleRequest はロール変更リクエスト。
type setRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// handleSetUserRole はユーザーのロールを変更するハンドラを返す。
func (s *Server) handleSetUserRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req setRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ロールを指定してください"})
			return
		}

		userID := c.Param("id")
		previous, err := s.store.SetUserRole(c.Request.Context(), userID, req.Role)
		switch {
		case errors.Is(err, ErrUnknownRole):
			c.JSON(http.StatusBadRequest, gin.H{"error": "ロールが存在しません"})
			return
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
			return
		case err != nil:
			s.logger.Error("failed to set role", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ロールの変更に失敗しました"})
			return
		}

		s.audit(c.Request.Context(), userID, event.AggregateTypeUser, event.TypeRoleAssigned, event.RoleAssignedData{
			PreviousRole: previous,
			Role:         req.Role,
			AssignedBy:   middleware.GetUserID(c),
		})

		c.JSON(http.StatusOK, gin.H{
			"id":            userID,
			"previous_role": previous,
			"role":          req.Role,
		})
	}
}

// handleListAuditEvents は新しい順に監査イベントを返すハンドラを返す。
func (s *Server) handleListAuditEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultAuditLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limitは正の整数で指定してください"})
				return
			}
			limit = min(n, maxAuditLimit)
		}

		events, err := s.store.ListEvents(c.Request.Context(), limit)
		if err != nil {
			s.logger.Error("failed to list audit events", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "監査ログの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}

// handlePlatformProxy はプラットフォームAPIへリクエストを転送するハンドラを返す。
// ブラウザのCookieは転送せず、トークンをAuthorizationヘッダーで付与する。
func (s *Server) handlePlatformProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		target := joinURL(s.backendURL, "/api/v1"+c.Param("path"), c.Request.URL.RawQuery)
		s.forward(c, target, func(h http.Header) {
			h.Del("Cookie")
			h.Set("Authorization", "Bearer "+middleware.GetToken(c))
			h.Set("X-User-ID", middleware.GetUserID(c))
		})
	}
}

// handleFrontendProxy はページ要求をフロントエンドへ転送するハンドラを返す。
// 未定義のAPIパスはフロントエンドへ渡さず404を返す。
func (s *Server) handleFrontendProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/api" || strings.HasPrefix(path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "エンドポイントが見つかりません"})
			return
		}

		target := joinURL(s.frontendURL, path, c.Request.URL.RawQuery)
		s.forward(c, target, func(h http.Header) {
			h.Set("X-Forwarded-Host", s.publicURL.Host)
			h.Set("X-Forwarded-Proto", s.publicURL.Scheme)
		})
	}
}

// forward はリクエストをtargetへ転送し、応答をそのまま返す共通処理。
// prepareで転送ヘッダーを調整できる。
func (s *Server) forward(c *gin.Context, target *url.URL, prepare func(http.Header)) {
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, target.String(), c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
		return
	}
	req.ContentLength = c.Request.ContentLength

	req.Header = c.Request.Header.Clone()
	removeHopByHopHeaders(req.Header)
	if prepare != nil {
		prepare(req.Header)
	}

	resp, err := s.proxyClient.Do(req)
	if err != nil {
		s.logger.Error("proxy request failed", zap.String("url", target.String()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "上流サービスとの通信に失敗しました"})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	removeHopByHopHeaders(resp.Header)
	for key, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		s.logger.Warn("failed to copy proxy response", zap.String("url", target.String()), zap.Error(err))
	}
}

// removeHopByHopHeaders はhopByHopHeadersとConnectionヘッダーで指定されたヘッダーを削除する。
func removeHopByHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for name := range strings.SplitSeq(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// joinURL はbaseのパスにpathを連結したURLを返す。
func joinURL(base *url.URL, path, rawQuery string) *url.URL {
	u := *base
	u.Path = strings.TrimSuffix(base.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = rawQuery
	return &u
}

// audit は監査イベントを記録する。記録に失敗してもリクエストは失敗させない。
func (s *Server) audit(ctx context.Context, aggregateID string, aggregateType event.AggregateType, eventType event.Type, data any) {
	e, err := event.New(aggregateID, aggregateType, eventType, data)
	if err != nil {
		s.logger.Error("failed to build audit event", zap.String("event_type", string(eventType)), zap.Error(err))
		return
	}
	e.CreatedAt = s.now().UTC()
	if err := s.store.AppendEvent(ctx, e); err != nil {
		s.logger.Error("failed to append audit event",
			zap.String("event_type", string(eventType)),
			zap.String("aggregate_id", aggregateID),
			zap.Error(err),
		)
	}
}
