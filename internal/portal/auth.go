package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/smsportal/pkg/event"
	"github.com/nao1215/smsportal/pkg/middleware"
	"github.com/nao1215/smsportal/pkg/routegate"
)

// cookieOTPChallenge は検証待ちのOTPチャレンジIDを保持するCookie名。
const cookieOTPChallenge = "otp-challenge"

// maxOTPAttempts はOTPチャレンジ1件あたりの検証試行回数の上限。
const maxOTPAttempts = 5

// defaultRole は新規登録ユーザーのロール。
const defaultRole = "viewer"

// 認証メトリクスのフロー名。
const (
	flowSignUp         = "signup"
	flowSignIn         = "signin"
	flowVerifyOTP      = "verify_otp"
	flowSignOut        = "signout"
	flowForgotPassword = "forgot_password"
	flowResetPassword  = "reset_password"
)

// 認証メトリクスの結果。
const (
	outcomeSuccess     = "success"
	outcomeFailure     = "failure"
	outcomeOTPRequired = "otp_required"
	outcomeExpired     = "expired"
	outcomeLocked      = "locked"
	outcomeError       = "error"
)

// errInvalidCredentials はサインイン失敗時の共通メッセージ。
// 登録の有無を推測されないよう理由を区別しない。
const errInvalidCredentials = "メールアドレスまたはパスワードが正しくありません"

// signUpRequest はアカウント登録リクエスト。
type signUpRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
}

// signInRequest はサインインリクエスト。
type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	// Redirect はサインイン後に戻るパス。ルートゲートが付与したものを渡す。
	Redirect string `json:"redirect"`
}

// verifyOTPRequest はOTP検証リクエスト。
type verifyOTPRequest struct {
	Code string `json:"code" binding:"required"`
}

// forgotPasswordRequest はパスワード再設定の申請リクエスト。
type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

// resetPasswordRequest はパスワード再設定リクエスト。
type resetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleSignUp はアカウントを登録するハンドラを返す。
func (s *Server) handleSignUp() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signUpRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "メールアドレスとパスワードを正しく入力してください"})
			return
		}
		if err := validatePassword(req.Password); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		hash, err := hashSecret(req.Password, s.bcryptCost)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		user := User{
			ID:           uuid.New().String(),
			Email:        req.Email,
			PasswordHash: hash,
			DisplayName:  req.DisplayName,
			Phone:        req.Phone,
			Role:         defaultRole,
			CreatedAt:    s.now(),
		}
		ctx := c.Request.Context()
		if err := s.store.CreateUser(ctx, user); err != nil {
			if errors.Is(err, ErrDuplicateEmail) {
				s.metrics.ObserveAuth(flowSignUp, outcomeFailure)
				c.JSON(http.StatusConflict, gin.H{"error": ErrDuplicateEmail.Error()})
				return
			}
			s.metrics.ObserveAuth(flowSignUp, outcomeError)
			s.logger.Error("failed to create user", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "アカウントの登録に失敗しました"})
			return
		}

		s.audit(ctx, user.ID, event.AggregateTypeUser, event.TypeUserSignedUp, event.SignUpData{
			Email: normalizeEmail(user.Email),
			Role:  user.Role,
		})
		s.metrics.ObserveAuth(flowSignUp, outcomeSuccess)

		c.JSON(http.StatusCreated, gin.H{"id": user.ID})
	}
}

// handleSignIn はパスワードを検証し、OTPが必要ならチャレンジを発行するハンドラを返す。
func (s *Server) handleSignIn() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req signInRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "メールアドレスとパスワードを入力してください"})
			return
		}

		ctx := c.Request.Context()
		user, err := s.store.GetUserByEmail(ctx, req.Email)
		if err != nil && !errors.Is(err, ErrNotFound) {
			s.metrics.ObserveAuth(flowSignIn, outcomeError)
			s.logger.Error("failed to load user", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "サインインに失敗しました"})
			return
		}
		if user == nil || !verifySecret(req.Password, user.PasswordHash) {
			s.metrics.ObserveAuth(flowSignIn, outcomeFailure)
			c.JSON(http.StatusUnauthorized, gin.H{"error": errInvalidCredentials})
			return
		}
		if user.Disabled {
			s.metrics.ObserveAuth(flowSignIn, outcomeFailure)
			c.JSON(http.StatusForbidden, gin.H{"error": "アカウントが無効化されています"})
			return
		}

		if user.OTPEnabled {
			s.startOTPChallenge(c, user)
			return
		}

		if err := s.completeSignIn(c, user, false); err != nil {
			return
		}
		s.metrics.ObserveAuth(flowSignIn, outcomeSuccess)
		c.JSON(http.StatusOK, gin.H{"otp_required": false, "next": safeRedirect(req.Redirect)})
	}
}

// startOTPChallenge はOTPチャレンジを発行してユーザーの電話番号へコードを送る。
func (s *Server) startOTPChallenge(c *gin.Context, user *User) {
	ctx := c.Request.Context()

	code, err := newOTPCode()
	if err != nil {
		s.otpIssueFailed(c, err)
		return
	}
	codeHash, err := hashSecret(code, s.bcryptCost)
	if err != nil {
		s.otpIssueFailed(c, err)
		return
	}

	now := s.now()
	challenge := OTPChallenge{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		CodeHash:  codeHash,
		ExpiresAt: now.Add(s.cfg.OTPTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateOTPChallenge(ctx, challenge); err != nil {
		s.otpIssueFailed(c, err)
		return
	}

	message := fmt.Sprintf("認証コード: %s (%d分間有効)", code, int(s.cfg.OTPTTL.Minutes()))
	if err := s.notifier.Send(ctx, user.Phone, message); err != nil {
		s.logger.Error("failed to send otp", zap.String("user_id", user.ID), zap.Error(err))
		if delErr := s.store.DeleteOTPChallenge(ctx, challenge.ID); delErr != nil {
			s.logger.Error("failed to delete otp challenge", zap.Error(delErr))
		}
		s.metrics.ObserveAuth(flowSignIn, outcomeError)
		c.JSON(http.StatusBadGateway, gin.H{"error": "認証コードを送信できませんでした"})
		return
	}

	maxAge := int(s.cfg.OTPTTL.Seconds())
	s.setCookie(c, routegate.CookieNeedsOTP, "true", maxAge, false)
	s.setCookie(c, cookieOTPChallenge, challenge.ID, maxAge, true)

	s.audit(ctx, user.ID, event.AggregateTypeUser, event.TypeOTPChallengeIssued, event.OTPChallengeData{
		ChallengeID: challenge.ID,
	})
	s.metrics.ObserveAuth(flowSignIn, outcomeOTPRequired)

	c.JSON(http.StatusOK, gin.H{"otp_required": true, "next": routegate.PathVerifyOTP})
}

func (s *Server) otpIssueFailed(c *gin.Context, err error) {
	s.logger.Error("failed to issue otp challenge", zap.Error(err))
	s.metrics.ObserveAuth(flowSignIn, outcomeError)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "認証コードの発行に失敗しました"})
}

// handleVerifyOTP はOTPコードを検証し、成功すれば認証トークンを発行するハンドラを返す。
func (s *Server) handleVerifyOTP() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req verifyOTPRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "認証コードを入力してください"})
			return
		}

		challengeID, err := c.Cookie(cookieOTPChallenge)
		if err != nil || challengeID == "" {
			s.metrics.ObserveAuth(flowVerifyOTP, outcomeFailure)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "検証待ちの認証コードがありません"})
			return
		}

		ctx := c.Request.Context()
		challenge, err := s.store.GetOTPChallenge(ctx, challengeID)
		if errors.Is(err, ErrNotFound) {
			s.metrics.ObserveAuth(flowVerifyOTP, outcomeFailure)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "検証待ちの認証コードがありません"})
			return
		}
		if err != nil {
			s.metrics.ObserveAuth(flowVerifyOTP, outcomeError)
			s.logger.Error("failed to load otp challenge", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "認証コードの検証に失敗しました"})
			return
		}

		if challenge.Expired(s.now()) {
			s.discardChallenge(c, challenge, "expired")
			s.metrics.ObserveAuth(flowVerifyOTP, outcomeExpired)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "認証コードの有効期限が切れています"})
			return
		}

		// 照合の前に試行枠を確保する。同時に届いた推測も上限を超えて照合されない。
		attempts, err := s.store.ClaimOTPAttempt(ctx, challenge.ID, maxOTPAttempts)
		switch {
		case errors.Is(err, ErrOTPAttemptsExhausted):
			s.discardChallenge(c, challenge, "too_many_attempts")
			s.metrics.ObserveAuth(flowVerifyOTP, outcomeLocked)
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "試行回数の上限に達しました。再度サインインしてください"})
			return
		case errors.Is(err, ErrNotFound):
			s.metrics.ObserveAuth(flowVerifyOTP, outcomeFailure)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "検証待ちの認証コードがありません"})
			return
		case err != nil:
			s.metrics.ObserveAuth(flowVerifyOTP, outcomeError)
			s.logger.Error("failed to claim otp attempt", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "認証コードの検証に失敗しました"})
			return
		}

		if !verifySecret(strings.TrimSpace(req.Code), challenge.CodeHash) {
			s.audit(ctx, challenge.UserID, event.AggregateTypeUser, event.TypeOTPFailed, event.OTPChallengeData{
				ChallengeID: challenge.ID,
				Attempts:    attempts,
				Reason:      "mismatch",
			})
			s.metrics.ObserveAuth(flowVerifyOTP, outcomeFailure)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":     "認証コードが正しくありません",
				"remaining": maxOTPAttempts - attempts,
			})
			return
		}

		// チャレンジを消費できたリクエストだけがサインインを完了する
		err = s.store.ConsumeOTPChallenge(ctx, challenge.ID)
		if errors.Is(err, ErrNotFound) {
			s.metrics.ObserveAuth(flowVerifyOTP, outcomeFailure)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "検証待ちの認証コードがありません"})
			return
		}
		if err != nil {
			s.metrics.ObserveAuth(flowVerifyOTP, outcomeError)
			s.logger.Error("failed to consume otp challenge", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "認証コードの検証に失敗しました"})
			return
		}
		user, err := s.store.GetUserByID(ctx, challenge.UserID)
		if err != nil {
			s.metrics.ObserveAuth(flowVerifyOTP, outcomeError)
			s.logger.Error("failed to load user", zap.String("user_id", challenge.UserID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "認証コードの検証に失敗しました"})
			return
		}
		if user.Disabled {
			s.clearOTPCookies(c)
			s.metrics.ObserveAuth(flowVerifyOTP, outcomeFailure)
			c.JSON(http.StatusForbidden, gin.H{"error": "アカウントが無効化されています"})
			return
		}

		s.audit(ctx, user.ID, event.AggregateTypeUser, event.TypeOTPVerified, event.OTPChallengeData{
			ChallengeID: challenge.ID,
			Attempts:    attempts,
		})
		if err := s.completeSignIn(c, user, true); err != nil {
			return
		}
		s.metrics.ObserveAuth(flowVerifyOTP, outcomeSuccess)
		c.JSON(http.StatusOK, gin.H{"next": routegate.PathDashboard})
	}
}

// discardChallenge は使えなくなったチャレンジを削除し、失敗を監査ログに残す。
func (s *Server) discardChallenge(c *gin.Context, challenge *OTPChallenge, reason string) {
	ctx := c.Request.Context()
	if err := s.store.DeleteOTPChallenge(ctx, challenge.ID); err != nil {
		s.logger.Error("failed to delete otp challenge", zap.Error(err))
	}
	s.clearOTPCookies(c)
	s.audit(ctx, challenge.UserID, event.AggregateTypeUser, event.TypeOTPFailed, event.OTPChallengeData{
		ChallengeID: challenge.ID,
		Attempts:    challenge.Attempts,
		Reason:      reason,
	})
}

// completeSignIn は認証トークンを発行してCookieに設定する。
// 失敗した場合は応答を書き込んだうえでエラーを返す。
func (s *Server) completeSignIn(c *gin.Context, user *User, withOTP bool) error {
	ctx := c.Request.Context()
	token, err := middleware.GenerateJWT(s.cfg.JWTSecret, middleware.Identity{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	}, s.cfg.TokenTTL)
	if err != nil {
		s.logger.Error("failed to generate token", zap.String("user_id", user.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
		return err
	}

	if err := s.store.UpdateLastLogin(ctx, user.ID, s.now()); err != nil {
		s.logger.Warn("failed to update last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	s.setCookie(c, routegate.CookieAuthToken, token, int(s.cfg.TokenTTL.Seconds()), true)
	s.clearOTPCookies(c)

	s.audit(ctx, user.ID, event.AggregateTypeUser, event.TypeUserSignedIn, event.SignInData{
		Email:    user.Email,
		ClientIP: c.ClientIP(),
		WithOTP:  withOTP,
	})
	return nil
}

// handleSignOut はセッションCookieを削除するハンドラを返す。
func (s *Server) handleSignOut() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, err := c.Cookie(routegate.CookieAuthToken); err == nil && token != "" {
			if claims, err := middleware.ParseJWT(s.cfg.JWTSecret, token); err == nil {
				s.audit(c.Request.Context(), claims.UserID, event.AggregateTypeUser, event.TypeUserSignedOut, struct{}{})
			}
		}

		s.clearCookie(c, routegate.CookieAuthToken, true)
		s.clearOTPCookies(c)
		s.metrics.ObserveAuth(flowSignOut, outcomeSuccess)

		c.JSON(http.StatusOK, gin.H{"next": routegate.PathSignIn})
	}
}

// handleForgotPassword は再設定トークンを発行してSMSで送るハンドラを返す。
// 登録の有無を推測されないよう、常に202を返す。
func (s *Server) handleForgotPassword() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req forgotPasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "メールアドレスを入力してください"})
			return
		}

		accepted := gin.H{"message": "登録されている場合は再設定の案内を送信しました"}
		ctx := c.Request.Context()

		user, err := s.store.GetUserByEmail(ctx, req.Email)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.logger.Error("failed to load user", zap.Error(err))
			}
			s.metrics.ObserveAuth(flowForgotPassword, outcomeFailure)
			c.JSON(http.StatusAccepted, accepted)
			return
		}
		if user.Disabled {
			s.metrics.ObserveAuth(flowForgotPassword, outcomeFailure)
			c.JSON(http.StatusAccepted, accepted)
			return
		}

		if err := s.issuePasswordReset(ctx, user); err != nil {
			s.logger.Error("failed to issue password reset", zap.String("user_id", user.ID), zap.Error(err))
			s.metrics.ObserveAuth(flowForgotPassword, outcomeError)
			c.JSON(http.StatusAccepted, accepted)
			return
		}

		s.metrics.ObserveAuth(flowForgotPassword, outcomeSuccess)
		c.JSON(http.StatusAccepted, accepted)
	}
}

// issuePasswordReset は再設定トークンを保存し、再設定ページのURLを通知する。
// URLは設定された公開オリジンから組み立て、リクエストのヘッダーには依存しない。
func (s *Server) issuePasswordReset(ctx context.Context, user *User) error {
	token, err := newResetToken()
	if err != nil {
		return err
	}

	now := s.now()
	if err := s.store.CreatePasswordReset(ctx, PasswordReset{
		TokenHash: hashResetToken(token),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.cfg.ResetTokenTTL),
		CreatedAt: now,
	}); err != nil {
		return err
	}

	s.audit(ctx, user.ID, event.AggregateTypeUser, event.TypePasswordResetRequested, event.PasswordResetData{
		Email: user.Email,
	})

	link := *s.publicURL
	link.Path = routegate.PathForgotPassword
	link.RawQuery = url.Values{"token": {token}}.Encode()
	message := fmt.Sprintf("パスワード再設定用URL (%d分間有効): %s", int(s.cfg.ResetTokenTTL/time.Minute), link.String())
	return s.notifier.Send(ctx, user.Phone, message)
}

// handleResetPassword は再設定トークンを消費してパスワードを更新するハンドラを返す。
func (s *Server) handleResetPassword() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req resetPasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "トークンと新しいパスワードを入力してください"})
			return
		}
		if err := validatePassword(req.Password); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		hash, err := hashSecret(req.Password, s.bcryptCost)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		userID, err := s.store.ResetPassword(ctx, hashResetToken(req.Token), hash, s.now())
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrResetTokenInvalid) {
			s.metrics.ObserveAuth(flowResetPassword, outcomeFailure)
			c.JSON(http.StatusBadRequest, gin.H{"error": "再設定トークンが無効か、有効期限が切れています"})
			return
		}
		if err != nil {
			s.metrics.ObserveAuth(flowResetPassword, outcomeError)
			s.logger.Error("failed to reset password", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "パスワードの再設定に失敗しました"})
			return
		}

		var email string
		if user, err := s.store.GetUserByID(ctx, userID); err == nil {
			email = user.Email
		}
		s.audit(ctx, userID, event.AggregateTypeUser, event.TypePasswordReset, event.PasswordResetData{Email: email})
		s.metrics.ObserveAuth(flowResetPassword, outcomeSuccess)

		c.JSON(http.StatusOK, gin.H{"next": routegate.PathSignIn})
	}
}

// setCookie はポータル共通の属性でCookieを設定する。
func (s *Server) setCookie(c *gin.Context, name, value string, maxAge int, httpOnly bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", s.cfg.SecureCookies, httpOnly)
}

// clearCookie はCookieを削除する。
func (s *Server) clearCookie(c *gin.Context, name string, httpOnly bool) {
	s.setCookie(c, name, "", -1, httpOnly)
}

// clearOTPCookies はOTP検証待ちを表すCookieを削除する。
func (s *Server) clearOTPCookies(c *gin.Context) {
	s.clearCookie(c, routegate.CookieNeedsOTP, false)
	s.clearCookie(c, cookieOTPChallenge, true)
}

// safeRedirect はサインイン後の遷移先を返す。
// 同一オリジンの絶対パス以外はダッシュボードに置き換える。
// ブラウザは制御文字を除去しバックスラッシュをスラッシュとして扱うため、どちらも含めば拒否する。
func safeRedirect(redirect string) string {
	if !strings.HasPrefix(redirect, "/") || strings.HasPrefix(redirect, "//") {
		return routegate.PathDashboard
	}
	if strings.ContainsFunc(redirect, func(r rune) bool {
		return r < 0x20 || r == 0x7f || r == '\\'
	}) {
		return routegate.PathDashboard
	}
	u, err := url.Parse(redirect)
	if err != nil || u.Scheme != "" || u.Host != "" || u.Opaque != "" {
		return routegate.PathDashboard
	}
	return redirect
}
